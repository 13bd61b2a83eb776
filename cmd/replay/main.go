package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"wyckoff-signal-engine/config"
	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/dispatch"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/logging"
	"wyckoff-signal-engine/internal/market"
	"wyckoff-signal-engine/internal/metrics"
	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/pipeline"
	"wyckoff-signal-engine/internal/risk"
	"wyckoff-signal-engine/internal/validation"
)

// summarySink tallies pipeline outcomes per symbol for the final report.
type summarySink struct {
	mu          sync.Mutex
	transitions map[string]int
	detections  map[string]int
	rejections  map[string]int
	signals     map[string]int
}

func newSummarySink() *summarySink {
	return &summarySink{
		transitions: make(map[string]int),
		detections:  make(map[string]int),
		rejections:  make(map[string]int),
		signals:     make(map[string]int),
	}
}

func (s *summarySink) Record(_ context.Context, outcome *pipeline.BarOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if outcome.PhaseTransition != nil {
		s.transitions[outcome.Symbol]++
	}
	s.detections[outcome.Symbol] += len(outcome.Detections)
	s.rejections[outcome.Symbol] += len(outcome.Rejections)
	s.signals[outcome.Symbol] += len(outcome.Signals)
	return nil
}

func main() {
	csvPath := flag.String("file", "", "CSV file of bars: symbol,timeframe,open_time_ms,open,high,low,close,volume")
	symbol := flag.String("symbol", "", "symbol override when the CSV has no symbol column")
	timeframe := flag.String("timeframe", "1h", "timeframe label for bars without one")
	flag.Parse()

	godotenv.Load()

	if *csvPath == "" {
		fmt.Println("usage: replay -file bars.csv [-symbol BTCUSDT] [-timeframe 1h]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Keep replay output readable: only warnings from the pipeline itself
	logging.SetDefault(logging.New(&logging.Config{Level: "WARN", Output: "stderr"}))

	bars, err := readBars(*csvPath, *symbol, *timeframe)
	if err != nil {
		fmt.Printf("failed to read bars: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Replaying %d bars from %s\n", len(bars), *csvPath)

	validators, err := validation.NewSet(validation.Config{
		SpringMinVolumeRatio: cfg.ValidationConfig.SpringMinVolumeRatio,
		UTADMinVolumeRatio:   cfg.ValidationConfig.UTADMinVolumeRatio,
		SOSMinVolumeRatio:    cfg.ValidationConfig.SOSMinVolumeRatio,
		LPSMinVolumeRatio:    cfg.ValidationConfig.LPSMinVolumeRatio,
		StoppingSpreadBound:  cfg.ValidationConfig.StoppingSpreadBound,
	})
	if err != nil {
		fmt.Printf("failed to build validator set: %v\n", err)
		os.Exit(1)
	}

	scorer, err := confidence.NewScorer(confidence.Weights{
		Pattern: cfg.ConfidenceConfig.PatternWeight,
		Phase:   cfg.ConfidenceConfig.PhaseWeight,
		Volume:  cfg.ConfidenceConfig.VolumeWeight,
	}, cfg.ConfidenceConfig.MinConfidence, nil)
	if err != nil {
		fmt.Printf("failed to build scorer: %v\n", err)
		os.Exit(1)
	}

	campaigns := campaign.NewManager(zerolog.New(io.Discard))
	queue := dispatch.NewQueue(cfg.DispatchConfig.QueueSize)
	bus := events.NewBus()
	recorder := metrics.New()
	sink := newSummarySink()

	type proxy struct{ engine *pipeline.Engine }
	p := &proxy{}
	gate := risk.NewGate(risk.GateConfig{
		HeatThreshold: cfg.RiskConfig.HeatThreshold,
		Window:        cfg.RiskConfig.CorrelationWindow,
	}, campaigns, risk.ReturnsFunc(func(sym string, window int) []float64 {
		if p.engine == nil {
			return nil
		}
		return p.engine.Returns(sym, window)
	}))

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Worker: pipeline.WorkerConfig{
			PivotWindow:         cfg.StructureConfig.PivotWindow,
			ClusterTolerancePct: cfg.StructureConfig.ClusterTolerancePct,
			MinPivotsPerSide:    cfg.StructureConfig.MinPivotsPerSide,
			CreekTolerancePct:   cfg.StructureConfig.CreekTolerancePct,
			IceTolerancePct:     cfg.StructureConfig.IceTolerancePct,
			EventDetector: phase.EventDetectorConfig{
				ClimaxVolumeRatio:  cfg.EventConfig.ClimaxVolumeRatio,
				ClimaxLookback:     cfg.EventConfig.ClimaxLookback,
				ReactionWindowBars: cfg.EventConfig.ReactionWindowBars,
				TestTolerancePct:   cfg.EventConfig.TestTolerancePct,
				VolumeAvgPeriod:    cfg.EventConfig.VolumeAvgPeriod,
			},
			Classifier: phase.ClassifierConfig{
				ClimaxVolumeRatio: cfg.EventConfig.ClimaxVolumeRatio,
				CreekTolerancePct: cfg.StructureConfig.CreekTolerancePct,
			},
			Patterns: patterns.Config{
				StoppingVolumeRatio: cfg.PatternConfig.StoppingVolumeRatio,
				BreakoutVolumeRatio: cfg.PatternConfig.BreakoutVolumeRatio,
				RecoveryWindowBars:  cfg.PatternConfig.RecoveryWindowBars,
				CreekTolerancePct:   cfg.StructureConfig.CreekTolerancePct,
				VolumeAvgPeriod:     cfg.EventConfig.VolumeAvgPeriod,
			},
			StopBufferPct: cfg.SignalConfig.StopBufferPct,
		},
		ReturnsWindow: cfg.RiskConfig.CorrelationWindow,
	}, validators, scorer, campaigns, gate, queue, bus, recorder, sink)
	p.engine = engine

	// Drain dispatched signals so workers never block on a full queue
	var dispatched []dispatch.Message
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for msg := range queue.Messages() {
			dispatched = append(dispatched, msg)
		}
	}()

	start := time.Now()
	for _, bar := range bars {
		if err := engine.Ingest(bar); err != nil {
			fmt.Printf("ingest stopped: %v\n", err)
			break
		}
	}
	engine.Stop()
	<-drained

	printSummary(engine, sink, campaigns, dispatched, time.Since(start))
}

func readBars(path, symbolOverride, timeframe string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var bars []market.Bar
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && !isNumeric(rec[len(rec)-1]) {
			continue // header row
		}

		bar, err := parseBar(rec, symbolOverride, timeframe)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseBar accepts either 8 fields (with symbol and timeframe) or 6 fields
// (open_time through volume, symbol from the -symbol flag).
func parseBar(rec []string, symbolOverride, timeframe string) (market.Bar, error) {
	var bar market.Bar
	var numeric []string

	switch len(rec) {
	case 8:
		bar.Symbol = rec[0]
		bar.Timeframe = rec[1]
		numeric = rec[2:]
	case 6:
		if symbolOverride == "" {
			return bar, fmt.Errorf("6-column row needs -symbol")
		}
		bar.Symbol = symbolOverride
		bar.Timeframe = timeframe
		numeric = rec
	default:
		return bar, fmt.Errorf("expected 6 or 8 columns, got %d", len(rec))
	}

	openTime, err := strconv.ParseInt(numeric[0], 10, 64)
	if err != nil {
		return bar, fmt.Errorf("open_time: %w", err)
	}
	bar.OpenTime = openTime

	fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		v, err := strconv.ParseFloat(numeric[i+1], 64)
		if err != nil {
			return bar, fmt.Errorf("column %d: %w", i+1, err)
		}
		*dst = v
	}
	return bar, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func printSummary(engine *pipeline.Engine, sink *summarySink, campaigns *campaign.Manager,
	dispatched []dispatch.Message, elapsed time.Duration) {
	symbols := engine.Symbols()
	sort.Strings(symbols)

	fmt.Printf("\nProcessed %d symbols in %s\n\n", len(symbols), elapsed.Round(time.Millisecond))
	fmt.Printf("%-12s %12s %12s %12s %12s\n", "SYMBOL", "TRANSITIONS", "DETECTIONS", "REJECTIONS", "SIGNALS")

	sink.mu.Lock()
	for _, sym := range symbols {
		fmt.Printf("%-12s %12d %12d %12d %12d\n", sym,
			sink.transitions[sym], sink.detections[sym], sink.rejections[sym], sink.signals[sym])
	}
	sink.mu.Unlock()

	fmt.Printf("\nDispatched signals: %d\n", len(dispatched))
	for _, msg := range dispatched {
		sig := msg.Signal
		fmt.Printf("  #%d %s %s %s entry=%.4f stop=%.4f target=%.4f conf=%.3f\n",
			msg.Sequence, msg.Symbol, sig.Detection.Kind, sig.Direction,
			sig.EntryPrice, sig.StopLoss, sig.TargetPrice, sig.ConfidenceScore)
	}

	open := 0
	for _, c := range campaigns.All() {
		if c.Status != campaign.StatusClosed {
			open++
		}
	}
	fmt.Printf("Campaigns: %d total, %d open\n", len(campaigns.All()), open)

	for _, sym := range symbols {
		if err := engine.WorkerFailure(sym); err != nil {
			fmt.Printf("WORKER FAILED %s: %v\n", sym, err)
		}
	}
}
