package detect

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bastion/core"
	"bastion/metrics"
)

// Detection is the classification result for one event: the set of matched
// type tags plus the signature names that produced them. An event may match
// multiple categories at once.
type Detection struct {
	Types    []core.ThreatType
	Patterns []string
}

// Empty reports whether nothing matched.
func (d Detection) Empty() bool {
	return len(d.Types) == 0
}

// Has reports whether a specific type tag was detected.
func (d Detection) Has(t core.ThreatType) bool {
	for _, dt := range d.Types {
		if dt == t {
			return true
		}
	}
	return false
}

// Detector combines the window store (temporal analysis) and the signature
// set (content analysis) into per-event threat classification.
type Detector struct {
	windows             WindowStore
	signatures          *SignatureSet
	bruteForceWindow    time.Duration
	bruteForceThreshold int
	logger              *zap.SugaredLogger
}

// NewDetector creates a detector. Zero window or threshold values fall back
// to the defaults.
func NewDetector(windows WindowStore, signatures *SignatureSet, window time.Duration, threshold int, logger *zap.SugaredLogger) *Detector {
	if window <= 0 {
		window = core.DefaultBruteForceWindow
	}
	if threshold <= 0 {
		threshold = core.DefaultBruteForceThreshold
	}
	return &Detector{
		windows:             windows,
		signatures:          signatures,
		bruteForceWindow:    window,
		bruteForceThreshold: threshold,
		logger:              logger,
	}
}

// Detect classifies one event. It records the event into the window first,
// then evaluates the aggregate recent count, so the signal fires exactly at
// the event that crosses the threshold and keeps firing until the window
// ages out. Detection never errors on well-formed input: infrastructure
// failures are logged and degrade to a weaker signal, and an event that
// matches nothing yields an empty detection.
func (d *Detector) Detect(ctx context.Context, event *core.SecurityEvent) Detection {
	start := time.Now()
	defer func() {
		metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.EventsAnalyzed.Inc()

	var det Detection

	if err := d.windows.Record(ctx, event.SourceIdentity, event.EventType, event.Timestamp); err != nil {
		d.logger.Errorw("Failed to record event in window store",
			"identity", event.SourceIdentity,
			"error", err)
	}

	if event.EventType == core.EventLoginFailed {
		count, err := d.windows.CountRecentFor(ctx, event.SourceIdentity, core.EventLoginFailed, d.bruteForceWindow)
		if err != nil {
			d.logger.Errorw("Failed to query window store",
				"identity", event.SourceIdentity,
				"error", err)
		} else if count >= d.bruteForceThreshold {
			det.Types = append(det.Types, core.ThreatBruteForce)
			det.Patterns = append(det.Patterns, "brute_force")
		}
	}

	if event.Payload != "" {
		for _, m := range d.signatures.Match(event.Payload) {
			det.Types = append(det.Types, m.Category)
			det.Patterns = append(det.Patterns, m.Rule)
		}
	}

	for _, t := range det.Types {
		metrics.ThreatsDetected.WithLabelValues(string(t)).Inc()
	}

	if !det.Empty() {
		d.logger.Infow("Event classified as threat",
			"identity", event.SourceIdentity,
			"event_type", event.EventType,
			"types", det.Types)
	}
	return det
}
