package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"argus/core"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// ErrEngineStopped is returned by Ingest after shutdown has begun
var ErrEngineStopped = errors.New("engine is stopped")

// EngineConfig carries the tunables the engine needs from the config layer
type EngineConfig struct {
	Workers           int
	QueueSize         int
	IngressBufferSize int
}

// Engine is the event-processing front door: a buffered ingress channel
// feeding a bounded worker pool that runs the dispatch pipeline. Shutdown
// is a drain, not an abort; events accepted before Stop are fully
// processed, events offered after are rejected.
type Engine struct {
	dispatcher *Dispatcher
	pool       *core.WorkerPool
	windows    *WindowManager
	evaluator  *Evaluator
	logger     *zap.SugaredLogger

	events chan *core.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// EngineStats is the engine's operational snapshot for the stats API
type EngineStats struct {
	Pool          core.WorkerPoolStats `json:"pool"`
	ActiveWindows int64                `json:"active_windows"`
	DegradedRules []string             `json:"degraded_rules"`
	QueuedEvents  int                  `json:"queued_events"`
}

// NewEngine assembles an engine around an already-wired dispatcher
func NewEngine(cfg EngineConfig, dispatcher *Dispatcher, windows *WindowManager, evaluator *Evaluator, logger *zap.SugaredLogger) *Engine {
	if cfg.IngressBufferSize < 1 {
		cfg.IngressBufferSize = 1024
	}
	return &Engine{
		dispatcher: dispatcher,
		pool:       core.NewWorkerPool(context.Background(), cfg.Workers, cfg.QueueSize, "detect", logger),
		windows:    windows,
		evaluator:  evaluator,
		logger:     logger,
		events:     make(chan *core.Event, cfg.IngressBufferSize),
	}
}

// Start launches the worker pool, the window sweep, and the ingress loop
func (eng *Engine) Start() {
	eng.pool.Start()
	eng.windows.Start()

	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()
		defer goroutine.Recover("engine-ingress", eng.logger)
		eng.ingressLoop()
	}()
	eng.logger.Infow("Detection engine started",
		"ingress_buffer", cap(eng.events))
}

// ingressLoop pulls from the ingress channel and hands each event to the
// pool. SubmitWait is the backpressure mechanism: a saturated pool slows
// this loop, which fills the ingress buffer, which blocks Ingest callers.
func (eng *Engine) ingressLoop() {
	for e := range eng.events {
		ev := e
		err := eng.pool.SubmitWait(context.Background(), func() {
			eng.dispatcher.Dispatch(context.Background(), ev)
		})
		if err != nil {
			eng.logger.Errorw("Dropping event, worker pool unavailable",
				"event_id", ev.EventID,
				"error", err)
		}
	}
}

// Ingest offers one event to the engine. Blocks when the ingress buffer is
// full until space frees up or ctx is done.
func (eng *Engine) Ingest(ctx context.Context, e *core.Event) error {
	eng.mu.RLock()
	defer eng.mu.RUnlock()

	if eng.closed {
		return ErrEngineStopped
	}
	select {
	case eng.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the engine: no new events are accepted, buffered and queued
// events are processed to completion, then background loops shut down.
func (eng *Engine) Stop() {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return
	}
	eng.closed = true
	close(eng.events)
	eng.mu.Unlock()

	eng.wg.Wait()
	eng.pool.Stop()
	eng.windows.Stop()
	eng.windows.Sweep(time.Now())
	eng.logger.Infow("Detection engine stopped")
}

// Stats returns the engine's current operational snapshot
func (eng *Engine) Stats() EngineStats {
	eng.mu.RLock()
	queued := len(eng.events)
	eng.mu.RUnlock()
	return EngineStats{
		Pool:          eng.pool.GetStats(),
		ActiveWindows: eng.windows.ActiveWindows(),
		DegradedRules: eng.evaluator.DegradedRules(),
		QueuedEvents:  queued,
	}
}
