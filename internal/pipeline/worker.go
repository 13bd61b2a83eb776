package pipeline

import (
	"context"
	"fmt"

	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/dispatch"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/logging"
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/metrics"
	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/risk"
	"wyckoff-signal-engine/internal/signals"
	"wyckoff-signal-engine/internal/structure"
	"wyckoff-signal-engine/internal/validation"
)

// WorkerConfig holds the per-symbol pipeline tunables.
type WorkerConfig struct {
	PivotWindow         int
	ClusterTolerancePct float64
	MinPivotsPerSide    int
	CreekTolerancePct   float64
	IceTolerancePct     float64

	EventDetector phase.EventDetectorConfig
	Classifier    phase.ClassifierConfig
	Patterns      patterns.Config
	StopBufferPct float64
}

// Worker runs the full detection-and-validation pipeline for one symbol.
// Bars must arrive strictly in timestamp order; all state is confined to
// the worker's goroutine except the shared campaign manager, gate, and
// dispatch queue.
type Worker struct {
	symbol string
	cfg    WorkerConfig

	store      *structure.Store
	pivots     *structure.PivotExtractor
	ranges     *structure.RangeBuilder
	detector   *phase.EventDetector
	classifier *phase.Classifier
	recognizer *patterns.Detector
	validators *validation.Set
	scorer     *confidence.Scorer
	extractor  *signals.Extractor

	campaigns *campaign.Manager
	gate      *risk.Gate
	queue     *dispatch.Queue
	bus       *events.Bus
	metrics   *metrics.Recorder
	logger    *logging.Logger

	cycleEvents *phase.Events
	lastSOS     *patterns.Detection
	lastBar     market.Bar
	failed      error
}

// NewWorker wires a pipeline worker for one symbol from already-validated
// shared services.
func NewWorker(symbol string, cfg WorkerConfig, validators *validation.Set, scorer *confidence.Scorer,
	campaigns *campaign.Manager, gate *risk.Gate, queue *dispatch.Queue,
	bus *events.Bus, recorder *metrics.Recorder) *Worker {
	return &Worker{
		symbol: symbol,
		cfg:    cfg,
		store:  structure.NewStore(symbol),
		pivots: structure.NewPivotExtractor(cfg.PivotWindow),
		ranges: structure.NewRangeBuilder(structure.RangeBuilderConfig{
			ClusterTolerancePct: cfg.ClusterTolerancePct,
			MinPivotsPerSide:    cfg.MinPivotsPerSide,
		}),
		detector:    phase.NewEventDetector(cfg.EventDetector),
		classifier:  phase.NewClassifier(cfg.Classifier),
		recognizer:  patterns.NewDetector(cfg.Patterns),
		validators:  validators,
		scorer:      scorer,
		extractor:   signals.NewExtractor(signals.ExtractorConfig{StopBufferPct: cfg.StopBufferPct}),
		campaigns:   campaigns,
		gate:        gate,
		queue:       queue,
		bus:         bus,
		metrics:     recorder,
		logger:      logging.WorkerContext(symbol),
		cycleEvents: &phase.Events{},
	}
}

// Failed returns the invariant violation that stopped this worker, if any.
func (w *Worker) Failed() error {
	return w.failed
}

// ProcessBar runs one bar through every pipeline stage. It is never called
// concurrently for the same worker and never interrupted mid-bar. A non-nil
// error is a state-invariant violation: fatal for this symbol only.
func (w *Worker) ProcessBar(ctx context.Context, bar market.Bar) (*BarOutcome, error) {
	if w.failed != nil {
		return nil, w.failed
	}
	if err := market.ValidateSequence(w.lastBar, bar); err != nil {
		// DataError: dropped and logged; processing continues on the next bar.
		w.logger.Warn("bar dropped at ingestion", "reason", err)
		w.metrics.BarRejected(w.symbol, err.Error())
		w.bus.Publish(events.Event{
			Type:   events.EventBarRejected,
			Symbol: w.symbol,
			Data:   map[string]interface{}{"reason": err.Error(), "bar_time": bar.OpenTime},
		})
		return nil, nil
	}
	w.lastBar = bar

	idx := w.store.AppendBar(bar)
	outcome := &BarOutcome{
		Symbol:   w.symbol,
		BarIndex: idx,
		BarTime:  bar.OpenTime,
		Cycle:    w.store.Cycle(),
	}

	w.updateStructure(idx)
	w.checkInvalidation(bar, idx, outcome)
	w.detectEvents(idx, outcome)

	if err := w.stepPhase(bar, idx, outcome); err != nil {
		return nil, w.fail(err)
	}
	if err := w.detectPatterns(ctx, bar, idx, outcome); err != nil {
		return nil, w.fail(err)
	}

	if c, ok := w.campaigns.Active(w.symbol); ok {
		id := c.ID
		outcome.CampaignID = &id
	}
	outcome.Phase = w.classifier.Current()
	w.metrics.BarProcessed(w.symbol)
	return outcome, nil
}

// updateStructure extracts newly confirmed pivots and builds or tightens the
// trading range. No range yet is the normal early state, not an error.
func (w *Worker) updateStructure(idx int) {
	newPivots := w.pivots.Extract(w.store.Bars())
	if len(newPivots) > 0 {
		w.store.AddPivots(newPivots)
	}

	tr := w.store.Range()
	if tr == nil {
		built, ok := w.ranges.Build(w.store.Pivots(), w.store.Cycle(), idx)
		if !ok {
			return
		}
		w.store.SetRange(built)
		logging.RangeContext(w.symbol, built.Support(), built.Resistance()).
			Info("trading range formed", "start_bar", built.StartBar)
		w.bus.Publish(events.Event{
			Type:   events.EventRangeFormed,
			Symbol: w.symbol,
			Data: map[string]interface{}{
				"support":    built.Support(),
				"resistance": built.Resistance(),
				"cycle":      built.Cycle,
			},
		})
		return
	}
	if len(newPivots) > 0 || tr.EndBar < idx {
		w.store.SetRange(w.ranges.Refresh(tr, w.store.Pivots(), idx))
	}
}

// checkInvalidation destroys the range when a close breaches the ice level,
// resetting phase and cycle state. Signals already dispatched stay dispatched;
// their campaign closes through the status machine.
func (w *Worker) checkInvalidation(bar market.Bar, idx int, outcome *BarOutcome) {
	tr := w.store.Range()
	if tr == nil {
		return
	}
	side := tr.Invalidated(bar.Close, w.cfg.IceTolerancePct)
	if side == structure.BreakNone {
		return
	}

	logging.RangeContext(w.symbol, tr.Support(), tr.Resistance()).
		Info("range invalidated", "side", string(side), "bar_index", idx)
	w.store.InvalidateRange()
	w.pivots.Reset()
	w.classifier.Reset(w.store.Cycle())
	w.cycleEvents = &phase.Events{Cycle: w.store.Cycle()}
	w.lastSOS = nil

	outcome.RangeInvalidated = true
	outcome.Cycle = w.store.Cycle()
	w.bus.Publish(events.Event{
		Type:   events.EventRangeInvalidated,
		Symbol: w.symbol,
		Data:   map[string]interface{}{"side": string(side), "cycle": w.store.Cycle()},
	})
}

// detectEvents records at most one new phase event for the bar.
func (w *Worker) detectEvents(idx int, outcome *BarOutcome) {
	e := w.detector.Step(w.store, w.cycleEvents, idx)
	if e == nil {
		return
	}
	outcome.Events = append(outcome.Events,
		patterns.FromEvent(w.symbol, w.store.Cycle(), w.classifier.Current(), e))
	logging.PhaseContext(w.symbol, string(w.classifier.Current()), w.store.Cycle()).
		Info("phase event recorded", "kind", string(e.Kind), "bar_index", e.BarIndex,
			"volume_ratio", e.VolumeRatio)
}

// stepPhase advances the classifier and freezes range boundaries when
// markup/markdown begins.
func (w *Worker) stepPhase(bar market.Bar, idx int, outcome *BarOutcome) error {
	t, err := w.classifier.Step(w.store.Range(), w.cycleEvents, bar, idx)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	w.notePhaseTransition(t, outcome)
	return nil
}

func (w *Worker) notePhaseTransition(t *phase.Transition, outcome *BarOutcome) {
	outcome.PhaseTransition = t
	if t.To == phase.PhaseD {
		if tr := w.store.Range(); tr != nil {
			tr.Frozen = true
		}
	}
	logging.PhaseContext(w.symbol, string(t.To), t.Cycle).
		Info("phase transition", "from", string(t.From), "bar_index", t.BarIndex)
	w.metrics.PhaseTransition(w.symbol, string(t.To))
	w.bus.Publish(events.Event{
		Type:   events.EventPhaseTransition,
		Symbol: w.symbol,
		Data: map[string]interface{}{
			"from": string(t.From), "to": string(t.To),
			"bar_index": t.BarIndex, "cycle": t.Cycle,
		},
	})
}

// detectPatterns runs the phase-appropriate detectors and drives the C -> D
// hand-off: a validated shakeout arms the classifier, and the subsequent
// breakout both completes the transition and becomes the first Phase D
// candidate.
func (w *Worker) detectPatterns(ctx context.Context, bar market.Bar, idx int, outcome *BarOutcome) error {
	tr := w.store.Range()
	if tr == nil {
		return nil
	}
	ev := w.cycleEvents

	switch w.classifier.Current() {
	case phase.PhaseC:
		var det *patterns.Detection
		if ev.Accumulation() {
			det = w.recognizer.DetectSpring(w.store, tr, ev, idx, phase.PhaseC)
		} else {
			det = w.recognizer.DetectUTAD(w.store, tr, ev, idx, phase.PhaseC)
		}
		if det != nil {
			validated, err := w.processCandidate(ctx, det, tr, outcome)
			if err != nil {
				return err
			}
			if validated {
				w.classifier.NoteShakeout(idx)
			}
		}

		// After the shakeout, a boundary break on volume completes C -> D on
		// the bar it happens.
		if sos := w.recognizer.DetectSOS(w.store, tr, ev, idx, phase.PhaseD); sos != nil {
			w.classifier.NoteBreakout(idx)
			t, err := w.classifier.Step(tr, ev, bar, idx)
			if err != nil {
				return err
			}
			if t == nil {
				return nil // no prior validated shakeout; not a breakout yet
			}
			w.notePhaseTransition(t, outcome)
			validated, err := w.processCandidate(ctx, sos, tr, outcome)
			if err != nil {
				return err
			}
			if validated {
				w.lastSOS = sos
			}
		}

	case phase.PhaseD:
		if w.lastSOS == nil {
			if sos := w.recognizer.DetectSOS(w.store, tr, ev, idx, phase.PhaseD); sos != nil {
				validated, err := w.processCandidate(ctx, sos, tr, outcome)
				if err != nil {
					return err
				}
				if validated {
					w.lastSOS = sos
				}
			}
			return nil
		}
		if lps := w.recognizer.DetectLPS(w.store, tr, ev, idx, phase.PhaseD, w.lastSOS); lps != nil {
			if _, err := w.processCandidate(ctx, lps, tr, outcome); err != nil {
				return err
			}
		}
	}
	return nil
}

// processCandidate runs a detection through validation, scoring, extraction,
// the correlation gate, campaign attachment, and dispatch. Every rejection
// is recorded on the outcome; only invariant violations return an error.
// The boolean reports whether the detection passed validation (used for
// phase evidence even when later stages reject).
func (w *Worker) processCandidate(ctx context.Context, det *patterns.Detection, tr *structure.TradingRange, outcome *BarOutcome) (bool, error) {
	w.metrics.Detection(w.symbol, string(det.Kind))
	outcome.Detections = append(outcome.Detections, *det)
	logging.PatternContext(w.symbol, string(det.Kind), det.BarIndex).
		Info("pattern detected", "volume_ratio", det.VolumeRatio, "level", det.Level)

	rej, err := w.validators.Validate(det)
	if err != nil {
		return false, err
	}
	if rej != nil {
		w.reject(outcome, CandidateRejection{
			Stage:   StageValidation,
			Pattern: det.Kind,
			Code:    string(rej.Code),
			Reason:  rej.Detail,
		})
		return false, nil
	}

	comps, crej := w.scorer.Score(det)
	if crej != nil {
		w.reject(outcome, CandidateRejection{
			Stage:   StageConfidence,
			Pattern: det.Kind,
			Code:    "BELOW_FLOOR",
			Reason:  crej.String(),
			Score:   crej.Score,
			Floor:   crej.Floor,
		})
		return true, nil
	}

	sig, err := w.extractor.Extract(det, tr, *comps, w.cycleEvents.Accumulation())
	if err != nil {
		// Degenerate field mapping: treated as no detection, recorded anyway.
		w.reject(outcome, CandidateRejection{
			Stage:   StageValidation,
			Pattern: det.Kind,
			Code:    "EXTRACTION_FAILED",
			Reason:  err.Error(),
		})
		return true, nil
	}

	if grej := w.gate.Check(w.symbol); grej != nil {
		if terr := sig.Transition(signals.StatusRejected); terr != nil {
			return true, terr
		}
		w.reject(outcome, CandidateRejection{
			Stage:            StageCorrelation,
			Pattern:          det.Kind,
			Code:             "HEAT_EXCEEDED",
			Reason:           grej.String(),
			Correlation:      grej.Correlation,
			ConflictSymbol:   grej.ConflictSymbol,
			ConflictCampaign: grej.ConflictCampaign,
		})
		return true, nil
	}

	if err := sig.Transition(signals.StatusApproved); err != nil {
		return true, err
	}
	hadCampaign := false
	if _, ok := w.campaigns.Active(w.symbol); ok {
		hadCampaign = true
	}
	c, err := w.campaigns.Attach(sig, w.store.Cycle(), det.BarIndex)
	if err != nil {
		return true, err
	}
	if !hadCampaign {
		w.bus.Publish(events.Event{
			Type:   events.EventCampaignOpened,
			Symbol: w.symbol,
			Data:   map[string]interface{}{"campaign_id": c.ID.String(), "cycle": c.Cycle},
		})
	}

	msg, err := w.queue.Push(ctx, sig)
	if err != nil {
		return true, fmt.Errorf("dispatch push: %w", err)
	}
	outcome.Signals = append(outcome.Signals, sig)
	w.metrics.SignalApproved(w.symbol, string(det.Kind))
	logging.DispatchContext(w.symbol, msg.Sequence).
		Info("signal approved", "pattern", string(det.Kind),
			"entry", sig.EntryPrice, "stop", sig.StopLoss, "target", sig.TargetPrice,
			"confidence", sig.ConfidenceScore)
	w.bus.Publish(events.Event{
		Type:   events.EventSignalApproved,
		Symbol: w.symbol,
		Data: map[string]interface{}{
			"sequence":    msg.Sequence,
			"signal_id":   sig.ID.String(),
			"campaign_id": c.ID.String(),
			"pattern":     string(det.Kind),
		},
	})
	return true, nil
}

func (w *Worker) reject(outcome *BarOutcome, rej CandidateRejection) {
	outcome.Rejections = append(outcome.Rejections, rej)
	w.metrics.Rejection(w.symbol, string(rej.Stage), rej.Code)
	logging.PatternContext(w.symbol, string(rej.Pattern), outcome.BarIndex).
		Info("candidate rejected", "stage", string(rej.Stage), "code", rej.Code, "reason", rej.Reason)
	w.bus.Publish(events.Event{
		Type:   events.EventSignalRejected,
		Symbol: w.symbol,
		Data: map[string]interface{}{
			"stage":   string(rej.Stage),
			"pattern": string(rej.Pattern),
			"code":    rej.Code,
			"reason":  rej.Reason,
		},
	})
}

func (w *Worker) fail(err error) error {
	w.failed = err
	w.logger.Error("worker stopped by invariant violation", "error", err)
	w.bus.Publish(events.Event{
		Type:   events.EventWorkerFailed,
		Symbol: w.symbol,
		Data:   map[string]interface{}{"error": err.Error()},
	})
	return err
}
