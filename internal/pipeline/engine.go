package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/dispatch"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/logging"
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/metrics"
	"wyckoff-signal-engine/internal/risk"
	"wyckoff-signal-engine/internal/validation"
)

// ErrEngineStopped is returned by Ingest after Stop has been called.
var ErrEngineStopped = errors.New("pipeline engine stopped")

// EngineConfig carries the shared pipeline settings plus the per-symbol
// worker tunables.
type EngineConfig struct {
	Worker        WorkerConfig
	BarBufferSize int // per-symbol ingest channel depth
	ReturnsWindow int // closes retained per symbol for correlations
}

type symbolLane struct {
	bars   chan market.Bar
	done   chan struct{}
	worker *Worker
}

// Engine owns one worker goroutine per symbol and the state shared between
// them. Bars for different symbols process concurrently; bars for one symbol
// process strictly in order, one at a time.
type Engine struct {
	cfg        EngineConfig
	validators *validation.Set
	scorer     *confidence.Scorer
	campaigns  *campaign.Manager
	gate       *risk.Gate
	queue      *dispatch.Queue
	bus        *events.Bus
	metrics    *metrics.Recorder
	sink       OutcomeSink
	logger     *logging.Logger

	mu      sync.Mutex
	lanes   map[string]*symbolLane
	closes  map[string][]float64
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine assembles the pipeline around already-constructed shared
// services. The gate's returns provider should be the engine itself.
func NewEngine(cfg EngineConfig, validators *validation.Set, scorer *confidence.Scorer,
	campaigns *campaign.Manager, gate *risk.Gate, queue *dispatch.Queue,
	bus *events.Bus, recorder *metrics.Recorder, sink OutcomeSink) *Engine {
	if cfg.BarBufferSize <= 0 {
		cfg.BarBufferSize = 64
	}
	if cfg.ReturnsWindow <= 0 {
		cfg.ReturnsWindow = 50
	}
	if sink == nil {
		sink = NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		validators: validators,
		scorer:     scorer,
		campaigns:  campaigns,
		gate:       gate,
		queue:      queue,
		bus:        bus,
		metrics:    recorder,
		sink:       sink,
		logger:     logging.Default().WithComponent("pipeline"),
		lanes:      make(map[string]*symbolLane),
		closes:     make(map[string][]float64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Ingest hands a bar to its symbol's worker, creating the worker on first
// sight of the symbol. Blocks when the symbol's lane is full.
func (e *Engine) Ingest(bar market.Bar) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	lane, ok := e.lanes[bar.Symbol]
	if !ok {
		lane = &symbolLane{
			bars: make(chan market.Bar, e.cfg.BarBufferSize),
			done: make(chan struct{}),
			worker: NewWorker(bar.Symbol, e.cfg.Worker, e.validators, e.scorer,
				e.campaigns, e.gate, e.queue, e.bus, e.metrics),
		}
		e.lanes[bar.Symbol] = lane
		e.wg.Add(1)
		go e.run(lane)
		e.logger.Info("worker started", "symbol", bar.Symbol)
	}
	e.mu.Unlock()

	select {
	case lane.bars <- bar:
		return nil
	case <-lane.done:
		return errors.New("worker stopped: " + bar.Symbol)
	case <-e.ctx.Done():
		return ErrEngineStopped
	}
}

// run drains one symbol's lane. Shutdown checks happen between bars so an
// in-flight bar always completes every stage.
func (e *Engine) run(lane *symbolLane) {
	defer e.wg.Done()
	defer close(lane.done)
	for {
		select {
		case bar, ok := <-lane.bars:
			if !ok {
				return
			}
			e.processOne(lane.worker, bar)
			if lane.worker.Failed() != nil {
				return
			}
		case <-e.ctx.Done():
			// Drain what was accepted before shutdown.
			for {
				select {
				case bar, ok := <-lane.bars:
					if !ok {
						return
					}
					e.processOne(lane.worker, bar)
					if lane.worker.Failed() != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) processOne(w *Worker, bar market.Bar) {
	start := time.Now()
	outcome, err := w.ProcessBar(e.ctx, bar)
	e.metrics.ObserveBarDuration(bar.Symbol, time.Since(start).Seconds())
	if err != nil {
		return // worker published and recorded the failure
	}
	if outcome == nil {
		return // bar was dropped at validation
	}
	e.recordClose(bar.Symbol, bar.Close)
	e.metrics.SetQueueDepth(e.queue.Depth())
	if err := e.sink.Record(e.ctx, outcome); err != nil {
		e.logger.Warn("outcome sink failed", "symbol", bar.Symbol, "error", err)
	}
}

func (e *Engine) recordClose(symbol string, px float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := append(e.closes[symbol], px)
	if over := len(cs) - (e.cfg.ReturnsWindow + 1); over > 0 {
		cs = cs[over:]
	}
	e.closes[symbol] = cs
}

// Returns implements risk.ReturnsProvider over the engine's own close
// tracker. The per-symbol structure stores are worker-confined; this copy
// exists so the gate never races a worker.
func (e *Engine) Returns(symbol string, window int) []float64 {
	e.mu.Lock()
	cs := e.closes[symbol]
	if len(cs) > window+1 {
		cs = cs[len(cs)-(window+1):]
	}
	buf := make([]float64, len(cs))
	copy(buf, cs)
	e.mu.Unlock()

	if len(buf) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(buf)-1)
	for i := 1; i < len(buf); i++ {
		if buf[i-1] == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, buf[i]/buf[i-1]-1)
	}
	return rets
}

// Symbols lists every symbol with an active worker.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.lanes))
	for s := range e.lanes {
		out = append(out, s)
	}
	return out
}

// WorkerFailure reports the invariant violation that stopped a symbol's
// worker, or nil.
func (e *Engine) WorkerFailure(symbol string) error {
	e.mu.Lock()
	lane, ok := e.lanes[symbol]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return lane.worker.Failed()
}

// Stop finishes in-flight bars, stops every worker, and closes the dispatch
// queue. Safe to call once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	lanes := make([]*symbolLane, 0, len(e.lanes))
	for _, lane := range e.lanes {
		lanes = append(lanes, lane)
	}
	e.mu.Unlock()

	for _, lane := range lanes {
		close(lane.bars)
	}
	e.wg.Wait()
	e.cancel()
	e.queue.Close()
	e.logger.Info("pipeline stopped", "symbols", len(lanes))
}
