package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bastion/core"
	"bastion/detect"
	"bastion/ingest"
	"bastion/notify"
	"bastion/service"
	"bastion/storage"
)

type e2ePipeline struct {
	server        *httptest.Server
	threats       *storage.SQLiteThreatStorage
	notifications *storage.SQLiteNotificationStorage
	emailSender   *notify.MockSender
}

// startPipeline wires the full intake to dispatch path against an in-memory
// database and returns the running test server.
func startPipeline(t *testing.T) *e2ePipeline {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	db, err := storage.NewSQLite(":memory:", sugar)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	threats, err := storage.NewSQLiteThreatStorage(db, sugar)
	require.NoError(t, err)
	notifications, err := storage.NewSQLiteNotificationStorage(db, sugar)
	require.NoError(t, err)

	windows, err := detect.NewMemoryWindowStore(10*time.Minute, sugar)
	require.NoError(t, err)
	signatures, err := detect.NewSignatureSet(detect.DefaultSignatureRules(), sugar)
	require.NoError(t, err)
	detector := detect.NewDetector(windows, signatures, 5*time.Minute, 5, sugar)

	bus := core.NewEventBus(sugar)
	emailSender := notify.NewMockSender(core.ChannelEmail, 0)
	inAppSender := notify.NewMockSender(core.ChannelInApp, 0)
	dispatcher := notify.NewDispatcher([]notify.ChannelSender{emailSender, inAppSender}, 1000, sugar)

	notificationService := service.NewNotificationService(notifications, dispatcher, bus, sugar)
	threatService := service.NewThreatService(detector, threats, notificationService, bus,
		[]string{"secops"}, sugar)

	eventCh := make(chan *core.SecurityEvent, 64)
	listener := ingest.NewHTTPListener("127.0.0.1", 0, 1000, eventCh, sugar)
	workers := ingest.NewWorkerPool(eventCh, threatService, sugar)

	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx, 2)
	server := httptest.NewServer(listener.Handler())

	t.Cleanup(func() {
		server.Close()
		cancel()
		close(eventCh)
		workers.Wait()
	})

	return &e2ePipeline{
		server:        server,
		threats:       threats,
		notifications: notifications,
		emailSender:   emailSender,
	}
}

func (p *e2ePipeline) post(t *testing.T, event *core.SecurityEvent) {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	resp, err := http.Post(p.server.URL+"/api/v1/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestEndToEnd_SignatureThreat(t *testing.T) {
	p := startPipeline(t)

	event := core.NewSecurityEvent("203.0.113.7", core.EventHTTPRequest)
	event.Payload = "username=' OR 1=1 --"
	event.TargetEndpoint = "/login"
	p.post(t, event)

	ctx := context.Background()
	var record core.ThreatRecord
	require.Eventually(t, func() bool {
		records, err := p.threats.GetThreats(ctx, storage.ThreatFilter{}, 10, 0)
		if err != nil || len(records) == 0 {
			return false
		}
		record = records[0]
		return true
	}, 5*time.Second, 20*time.Millisecond, "threat record never appeared")

	assert.Equal(t, core.ThreatSQLInjection, record.Type)
	assert.Equal(t, core.SeverityCritical, record.Severity)
	assert.Equal(t, "203.0.113.7", record.SourceIdentity)
	assert.Equal(t, "/login", record.TargetEndpoint)
	assert.Equal(t, core.ThreatStatusNew, record.Status)

	// Critical threats auto-notify the admin recipients
	require.Eventually(t, func() bool {
		list, err := p.notifications.GetNotifications(ctx, 10, 0)
		return err == nil && len(list) == 1 && list[0].Status == core.NotificationDelivered
	}, 5*time.Second, 20*time.Millisecond, "notification never delivered")

	list, err := p.notifications.GetNotifications(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, record.ThreatID, list[0].RelatedThreatID)
	assert.GreaterOrEqual(t, p.emailSender.Calls(), 1)
}

func TestEndToEnd_BruteForceThreshold(t *testing.T) {
	p := startPipeline(t)

	for i := 0; i < 5; i++ {
		event := core.NewSecurityEvent("198.51.100.4", core.EventLoginFailed)
		event.TargetEndpoint = fmt.Sprintf("/login?attempt=%d", i)
		p.post(t, event)
	}

	ctx := context.Background()
	require.Eventually(t, func() bool {
		records, err := p.threats.GetThreats(ctx, storage.ThreatFilter{Type: core.ThreatBruteForce}, 10, 0)
		return err == nil && len(records) == 1
	}, 5*time.Second, 20*time.Millisecond, "brute force record never appeared")

	records, err := p.threats.GetThreats(ctx, storage.ThreatFilter{Type: core.ThreatBruteForce}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.4", records[0].SourceIdentity)
}

func TestEndToEnd_BenignEventCreatesNothing(t *testing.T) {
	p := startPipeline(t)

	event := core.NewSecurityEvent("192.0.2.9", core.EventLoginOK)
	p.post(t, event)

	// Give the workers time to process before asserting absence
	time.Sleep(200 * time.Millisecond)

	count, err := p.threats.GetThreatCount(context.Background(), storage.ThreatFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}
