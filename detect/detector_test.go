package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bastion/core"
)

func newDetector(t *testing.T) (*Detector, *MemoryWindowStore) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	windows := newMemoryStore(t, 10*time.Minute)
	signatures, err := NewSignatureSet(DefaultSignatureRules(), logger)
	require.NoError(t, err)
	return NewDetector(windows, signatures, 5*time.Minute, 5, logger), windows
}

func loginFailedEvent(identity string, ts time.Time) *core.SecurityEvent {
	return &core.SecurityEvent{
		SourceIdentity: identity,
		EventType:      core.EventLoginFailed,
		Timestamp:      ts,
	}
}

func TestDetect_BruteForceFiresAtThreshold(t *testing.T) {
	d, windows := newDetector(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windows.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		det := d.Detect(ctx, loginFailedEvent("10.0.0.9", base.Add(time.Duration(i)*time.Second)))
		assert.False(t, det.Has(core.ThreatBruteForce), "event %d is below the threshold", i+1)
	}

	det := d.Detect(ctx, loginFailedEvent("10.0.0.9", base.Add(5*time.Second)))
	assert.True(t, det.Has(core.ThreatBruteForce), "the fifth event crosses the threshold")

	// The signal keeps firing on subsequent events while the window holds
	det = d.Detect(ctx, loginFailedEvent("10.0.0.9", base.Add(6*time.Second)))
	assert.True(t, det.Has(core.ThreatBruteForce))
}

func TestDetect_BruteForceAgesOut(t *testing.T) {
	d, windows := newDetector(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	windows.SetNowFunc(func() time.Time { return now })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Detect(ctx, loginFailedEvent("10.0.0.9", base))
	}

	// Past the window the old burst no longer counts: a fresh single
	// failure is not brute force
	now = base.Add(6 * time.Minute)
	det := d.Detect(ctx, loginFailedEvent("10.0.0.9", now))
	assert.False(t, det.Has(core.ThreatBruteForce))
}

func TestDetect_IdentitiesAreIndependent(t *testing.T) {
	d, windows := newDetector(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windows.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Detect(ctx, loginFailedEvent("10.0.0.1", base))
	}
	det := d.Detect(ctx, loginFailedEvent("10.0.0.2", base))
	assert.False(t, det.Has(core.ThreatBruteForce), "another identity's burst must not leak")
}

func TestDetect_ContentSignatures(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	det := d.Detect(ctx, &core.SecurityEvent{
		SourceIdentity: "10.0.0.3",
		EventType:      core.EventHTTPRequest,
		Timestamp:      time.Now().UTC(),
		Payload:        `' OR 1=1 --`,
	})
	assert.True(t, det.Has(core.ThreatSQLInjection))
	assert.NotEmpty(t, det.Patterns)

	det = d.Detect(ctx, &core.SecurityEvent{
		SourceIdentity: "10.0.0.3",
		EventType:      core.EventHTTPRequest,
		Timestamp:      time.Now().UTC(),
		Payload:        `<script>alert(1)</script>`,
	})
	assert.True(t, det.Has(core.ThreatXSS))

	det = d.Detect(ctx, &core.SecurityEvent{
		SourceIdentity: "10.0.0.3",
		EventType:      core.EventHTTPRequest,
		Timestamp:      time.Now().UTC(),
		Payload:        "hello world",
	})
	assert.True(t, det.Empty(), "benign payloads produce an empty detection set, not an error")
}

func TestDetect_EmptyPayloadSkipsSignatures(t *testing.T) {
	d, _ := newDetector(t)
	det := d.Detect(context.Background(), loginFailedEvent("10.0.0.4", time.Now().UTC()))
	assert.True(t, det.Empty())
}

func TestDetect_MultipleCategoriesInOneEvent(t *testing.T) {
	d, windows := newDetector(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windows.SetNowFunc(func() time.Time { return base })

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		d.Detect(ctx, loginFailedEvent("10.0.0.5", base))
	}

	// Fifth failed login carrying an injection payload matches both
	det := d.Detect(ctx, &core.SecurityEvent{
		SourceIdentity: "10.0.0.5",
		EventType:      core.EventLoginFailed,
		Timestamp:      base,
		Payload:        `' OR 1=1 --`,
	})
	assert.True(t, det.Has(core.ThreatBruteForce))
	assert.True(t, det.Has(core.ThreatSQLInjection))
}
