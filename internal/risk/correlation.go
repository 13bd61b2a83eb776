package risk

import (
	"math"
	"sync"
)

// ReturnsProvider supplies recent return series for symbols with open
// campaigns. It is the risk boundary: the gate never fetches market data
// itself.
type ReturnsProvider interface {
	Returns(symbol string, n int) []float64
}

// ReturnsFunc adapts a function to the ReturnsProvider interface.
type ReturnsFunc func(symbol string, n int) []float64

func (f ReturnsFunc) Returns(symbol string, n int) []float64 {
	return f(symbol, n)
}

// Matrix is the rolling return-correlation matrix over campaign symbols.
// It is recomputed on a fixed cadence by a single writer; gate checks are
// readers. Readers block briefly during a recompute rather than reading a
// stale snapshot.
type Matrix struct {
	mu   sync.RWMutex
	corr map[string]map[string]float64
}

// NewMatrix creates an empty correlation matrix.
func NewMatrix() *Matrix {
	return &Matrix{corr: make(map[string]map[string]float64)}
}

// Recompute rebuilds the matrix for the given symbols from the provider's
// return series. Pairs without enough overlapping data get correlation 0.
func (m *Matrix) Recompute(provider ReturnsProvider, symbols []string, window int) {
	series := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		series[sym] = provider.Returns(sym, window)
	}

	next := make(map[string]map[string]float64, len(symbols))
	for _, a := range symbols {
		next[a] = make(map[string]float64, len(symbols))
		for _, b := range symbols {
			if a == b {
				next[a][b] = 1
				continue
			}
			next[a][b] = pearson(series[a], series[b])
		}
	}

	m.mu.Lock()
	m.corr = next
	m.mu.Unlock()
}

// Correlation returns the correlation between two symbols, and whether both
// are present in the matrix.
func (m *Matrix) Correlation(a, b string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.corr[a]
	if !ok {
		return 0, false
	}
	v, ok := row[b]
	return v, ok
}

// Symbols returns the symbols currently in the matrix.
func (m *Matrix) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.corr))
	for sym := range m.corr {
		out = append(out, sym)
	}
	return out
}

// pearson computes the Pearson correlation of two return series, truncated
// to their common length from the most recent end.
func pearson(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}
	x = x[len(x)-n:]
	y = y[len(y)-n:]

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
