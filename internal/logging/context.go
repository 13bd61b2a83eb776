package logging

// Domain log contexts mirror the pipeline stages so every stage logs with
// a consistent component and field set.

// WorkerContext creates a logger for a symbol worker.
func WorkerContext(symbol string) *Logger {
	return Default().WithField("symbol", symbol).WithComponent("worker")
}

// PivotContext creates a logger for pivot extraction.
func PivotContext(symbol string, window int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"window": window,
	}).WithComponent("pivots")
}

// RangeContext creates a logger for range construction.
func RangeContext(symbol string, support, resistance float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"support":    support,
		"resistance": resistance,
	}).WithComponent("range")
}

// PhaseContext creates a logger for phase classification.
func PhaseContext(symbol, phase string, cycle int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"phase":  phase,
		"cycle":  cycle,
	}).WithComponent("phase")
}

// PatternContext creates a logger for pattern detection.
func PatternContext(symbol, pattern string, barIndex int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":    symbol,
		"pattern":   pattern,
		"bar_index": barIndex,
	}).WithComponent("pattern")
}

// SignalContext creates a logger for signal extraction and scoring.
func SignalContext(symbol, pattern string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"pattern":    pattern,
		"confidence": confidence,
	}).WithComponent("signal")
}

// GateContext creates a logger for correlation gate decisions.
func GateContext(symbol string, threshold float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":         symbol,
		"heat_threshold": threshold,
	}).WithComponent("gate")
}

// DispatchContext creates a logger for dispatch queue operations.
func DispatchContext(symbol string, sequence uint64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":   symbol,
		"sequence": sequence,
	}).WithComponent("dispatch")
}

// StoreContext creates a logger for audit persistence.
func StoreContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("store")
}
