// Package ingest provides the HTTP intake boundary: it accepts raw security
// events and hands them to the detection pipeline through a buffered
// channel, shedding load instead of blocking when the pipeline lags.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bastion/core"
	"bastion/metrics"
	"bastion/util/goroutine"
)

const maxBodySize = 1 << 20 // 1MB limit for event payloads

// HTTPListener accepts security events over HTTP POST and serves the
// Prometheus metrics endpoint.
type HTTPListener struct {
	host    string
	port    int
	limiter *rate.Limiter
	eventCh chan<- *core.SecurityEvent
	server  *http.Server
	logger  *zap.SugaredLogger
}

// NewHTTPListener creates a listener publishing accepted events to eventCh.
func NewHTTPListener(host string, port int, rateLimit int, eventCh chan<- *core.SecurityEvent, logger *zap.SugaredLogger) *HTTPListener {
	if rateLimit <= 0 {
		rateLimit = 1000
	}
	return &HTTPListener{
		host:    host,
		port:    port,
		limiter: rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		eventCh: eventCh,
		logger:  logger,
	}
}

// Start begins serving. It returns once the server goroutine is launched;
// serve errors other than a clean shutdown are logged.
func (l *HTTPListener) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/events", l.handlePost).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", l.host, l.port)
	l.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.logger.Infof("Event listener started on %s", addr)
	go func() {
		defer goroutine.Recover("ingest-http-server", l.logger)
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.logger.Errorf("Event listener error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (l *HTTPListener) Stop(ctx context.Context) error {
	if l.server == nil {
		return nil
	}
	return l.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (l *HTTPListener) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/events", l.handlePost).Methods(http.MethodPost)
	return r
}

func (l *HTTPListener) handlePost(w http.ResponseWriter, r *http.Request) {
	if !l.limiter.Allow() {
		metrics.EventsDropped.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if len(body) >= maxBodySize {
		metrics.EventsDropped.WithLabelValues("too_large").Inc()
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var event core.SecurityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		l.logger.Debugw("Rejected malformed event", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if event.SourceIdentity == "" || event.EventType == "" {
		metrics.EventsDropped.WithLabelValues("invalid").Inc()
		http.Error(w, "source_identity and event_type are required", http.StatusBadRequest)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.eventCh <- &event:
		metrics.EventsIngested.Inc()
		w.WriteHeader(http.StatusAccepted)
	default:
		// The pipeline is saturated: shed load rather than block intake
		metrics.EventsDropped.WithLabelValues("backpressure").Inc()
		http.Error(w, "Pipeline busy", http.StatusServiceUnavailable)
	}
}
