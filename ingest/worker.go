package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bastion/core"
	"bastion/util/goroutine"
)

// Submitter is the pipeline entry the workers feed. Satisfied by the threat
// service.
type Submitter interface {
	SubmitEvent(ctx context.Context, event *core.SecurityEvent) (*core.ThreatRecord, error)
}

// WorkerPool drains the ingest channel into the detection pipeline.
type WorkerPool struct {
	eventCh   <-chan *core.SecurityEvent
	submitter Submitter
	logger    *zap.SugaredLogger
	wg        sync.WaitGroup
}

// NewWorkerPool creates a pool over the given event channel.
func NewWorkerPool(eventCh <-chan *core.SecurityEvent, submitter Submitter, logger *zap.SugaredLogger) *WorkerPool {
	return &WorkerPool{
		eventCh:   eventCh,
		submitter: submitter,
		logger:    logger,
	}
}

// Start launches numWorkers goroutines. Workers exit when the context is
// cancelled or the event channel is closed.
func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer goroutine.Recover("ingest-worker", p.logger)
			p.run(ctx)
		}()
	}
}

// Wait blocks until all workers have exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.eventCh:
			if !ok {
				return
			}
			record, err := p.submitter.SubmitEvent(ctx, event)
			if err != nil {
				p.logger.Warnw("Failed to process event",
					"identity", event.SourceIdentity,
					"event_type", event.EventType,
					"error", err)
				continue
			}
			if record != nil {
				p.logger.Infow("Threat record created from ingested event",
					"threat_id", record.ThreatID,
					"type", record.Type,
					"severity", record.Severity)
			}
		}
	}
}
