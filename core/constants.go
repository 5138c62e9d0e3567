package core

import "time"

// Detection window defaults. Both are overridable via config.
const (
	// DefaultBruteForceWindow is the sliding window used for failed-login counting
	DefaultBruteForceWindow = 5 * time.Minute
	// DefaultBruteForceThreshold is the failed-login count that flags brute force
	DefaultBruteForceThreshold = 5
)

// Window store resource limits
const (
	// MaxWindowIdentities bounds the number of source identities tracked in memory
	MaxWindowIdentities = 10000
	// MaxEntriesPerIdentity bounds retained events per identity to prevent
	// memory exhaustion from a single noisy source
	MaxEntriesPerIdentity = 1000
)

// Notification delivery limits
const (
	// MaxDeliveryAttempts is the cumulative attempt count after which a
	// notification with no successful attempt becomes failed
	MaxDeliveryAttempts = 3
)

// Risk scoring tiers. Scores are percentages in [0,100].
const (
	FlaggedConfidence  = 80
	FlaggedRiskScore   = 75
	BaselineConfidence = 50
	BaselineRiskScore  = 50
)

// SignatureMatchTimeout bounds a single signature evaluation against one
// payload. Signatures are operator-maintained, so runaway patterns must not
// stall the detection path.
const SignatureMatchTimeout = 100 * time.Millisecond

// HTTPClientTimeout is the timeout for outbound channel sends (webhook, slack, sms)
const HTTPClientTimeout = 10 * time.Second
