package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clearstake/clearstake/internal/domain"
	"github.com/clearstake/clearstake/internal/fairness"
	"github.com/clearstake/clearstake/internal/ports"
)

// Pool manages the anchor worker goroutines. Workers consume anchor jobs
// from the event bus and record session commitments on chain. Anchoring is
// best-effort: a failed job is logged and counted, never retried into the
// session path.
type Pool struct {
	size     int
	eventBus ports.EventBus
	sessions ports.AnchorTxRecorder
	anchor   ports.Anchor
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	jobs    chan domain.Event
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new anchor worker pool
func NewPool(
	size int,
	eventBus ports.EventBus,
	sessions ports.AnchorTxRecorder,
	anchor ports.Anchor,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		eventBus: eventBus,
		sessions: sessions,
		anchor:   anchor,
		metrics:  metrics,
		logger:   logger,
		jobs:     make(chan domain.Event, size*4),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start subscribes to the anchor job topic and starts the workers.
func (p *Pool) Start() error {
	p.logger.Info("starting anchor worker pool", zap.Int("size", p.size))

	err := p.eventBus.Subscribe(p.ctx, domain.TopicAnchorJobs,
		func(ctx context.Context, event domain.Event) error {
			select {
			case p.jobs <- event:
				return nil
			case <-p.ctx.Done():
				return p.ctx.Err()
			}
		})
	if err != nil {
		return fmt.Errorf("failed to subscribe to anchor jobs: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("anchor-worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("anchor worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down anchor worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("anchor worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	w.pool.logger.Info("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.pool.jobs:
			w.setStatus(WorkerStatusBusy)
			w.handleJob(ctx, job)
			w.setStatus(WorkerStatusIdle)
		}
	}
}

// handleJob executes a single anchor job.
func (w *worker) handleJob(ctx context.Context, job domain.Event) {
	var (
		txRef string
		op    string
		err   error
	)

	switch job.Type {
	case domain.EventTypeAnchorCommit:
		op = ports.AnchorOpCommit
		txRef, err = w.commit(ctx, job)
	case domain.EventTypeAnchorReveal:
		op = ports.AnchorOpReveal
		txRef, err = w.reveal(ctx, job)
	default:
		w.pool.logger.Warn("unexpected job type",
			zap.String("worker_id", w.id),
			zap.String("type", string(job.Type)))
		return
	}

	if err != nil {
		w.pool.metrics.RecordAnchor(op, "failed")
		w.pool.logger.Warn("anchor operation failed",
			zap.String("worker_id", w.id),
			zap.String("op", op),
			zap.String("session_id", job.SessionID),
			zap.Error(err))
		return
	}

	w.pool.metrics.RecordAnchor(op, "ok")
	w.pool.logger.Info("anchor operation complete",
		zap.String("worker_id", w.id),
		zap.String("op", op),
		zap.String("session_id", job.SessionID),
		zap.String("tx", txRef))

	w.recordTx(ctx, job.SessionID, op, txRef)
}

func (w *worker) commit(ctx context.Context, job domain.Event) (string, error) {
	player, _ := job.Data["player"].(string)
	hashHex, _ := job.Data["session_hash"].(string)
	hash, err := fairness.ParseDigest(hashHex)
	if err != nil {
		return "", fmt.Errorf("malformed session hash: %w", err)
	}
	return w.pool.anchor.Commit(ctx, hash, player)
}

func (w *worker) reveal(ctx context.Context, job domain.Event) (string, error) {
	player, _ := job.Data["player"].(string)
	seedHex, _ := job.Data["seed"].(string)
	seed, err := fairness.ParseSeed(seedHex)
	if err != nil {
		return "", fmt.Errorf("malformed seed: %w", err)
	}
	return w.pool.anchor.Reveal(ctx, [32]byte(seed), player)
}

// recordTx hands the anchor transaction reference back to the session
// owner, which serializes the write against the session state machine.
func (w *worker) recordTx(ctx context.Context, sessionID, op, txRef string) {
	if err := w.pool.sessions.RecordAnchorTx(ctx, sessionID, op, txRef); err != nil {
		w.pool.logger.Warn("failed to record anchor tx",
			zap.String("session_id", sessionID),
			zap.String("op", op),
			zap.Error(err))
	}
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	if s == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}
