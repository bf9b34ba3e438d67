package verifiers

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

const (
	// DefaultCallTimeout bounds one sandboxed verifier execution.
	DefaultCallTimeout = 2 * time.Second

	// queueCap bounds calls waiting for an idle worker. At the cap, calls
	// resolve immediately to their role-mapped outcome.
	queueCap = 200
)

type execResult struct {
	outcome models.Outcome
	message string
}

type poolCall struct {
	id      int64
	role    Role
	exePath string
	payload []byte
	done    chan execResult
}

// WorkerPool runs custom verifier executables on a fixed set of workers.
// Each call runs as a subprocess under a 2 s deadline; a deadline kill
// replaces the stuck process and resolves the call to its role-mapped
// outcome. The pool is shared across requests; per-call state lives in the
// pending map keyed by a monotonic call id.
type WorkerPool struct {
	queue   chan *poolCall
	pending sync.Map // int64 -> *poolCall
	nextID  atomic.Int64
	timeout time.Duration
	logger  *slog.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts size workers. size <= 0 means min(4, NumCPU).
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
		if size > 4 {
			size = 4
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		queue:   make(chan *poolCall, queueCap),
		timeout: DefaultCallTimeout,
		logger:  logger,
		rootCtx: ctx,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Execute dispatches one verifier call and waits for its resolution. Every
// failure mode (queue full, timeout, crash, shutdown) resolves to the
// role-mapped outcome rather than an error.
func (p *WorkerPool) Execute(ctx context.Context, role Role, exePath string, payload []byte) (models.Outcome, string) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return roleOutcome(role), "shutting down"
	}
	call := &poolCall{
		id:      p.nextID.Add(1),
		role:    role,
		exePath: exePath,
		payload: payload,
		done:    make(chan execResult, 1),
	}
	select {
	case p.queue <- call:
		p.mu.RUnlock()
	default:
		p.mu.RUnlock()
		return roleOutcome(role), "queue full — dropped"
	}

	select {
	case res := <-call.done:
		return res.outcome, res.message
	case <-ctx.Done():
		// Caller gave up; the worker still resolves and discards the call.
		return roleOutcome(role), "verifier cancelled: " + ctx.Err().Error()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for call := range p.queue {
		if p.rootCtx.Err() != nil {
			call.done <- execResult{roleOutcome(call.role), "shutting down"}
			continue
		}
		p.pending.Store(call.id, call)
		res := p.run(call)
		p.pending.Delete(call.id)
		call.done <- res
	}
}

func (p *WorkerPool) run(call *poolCall) execResult {
	ctx, cancel := context.WithTimeout(p.rootCtx, p.timeout)
	defer cancel()

	outcome, message, err := runVerifierProcess(ctx, call.exePath, call.payload)
	if err == nil {
		return execResult{outcome, message}
	}
	if p.rootCtx.Err() != nil {
		return execResult{roleOutcome(call.role), "shutting down"}
	}
	if ctx.Err() == context.DeadlineExceeded {
		p.logger.Warn("custom verifier timed out", "path", call.exePath)
		return execResult{roleOutcome(call.role), "verifier timed out"}
	}
	p.logger.Warn("custom verifier failed", "path", call.exePath, "error", err)
	return execResult{roleOutcome(call.role), err.Error()}
}

// Destroy stops accepting calls, kills in-flight subprocesses and resolves
// every outstanding call to its role-mapped outcome before returning.
func (p *WorkerPool) Destroy() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
