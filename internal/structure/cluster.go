package structure

import "sort"

// PriceCluster groups same-side pivots whose prices sit within a percentage
// tolerance of one another. It holds pivot indices into the owning Store's
// pivot arena, never pivot pointers.
type PriceCluster struct {
	Side         PivotType
	PivotIndexes []int
	prices       []float64
}

// Level returns the cluster's representative price (median of member prices).
func (pc *PriceCluster) Level() float64 {
	n := len(pc.prices)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, pc.prices)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Size returns the number of pivots in the cluster.
func (pc *PriceCluster) Size() int {
	return len(pc.PivotIndexes)
}

// add appends a pivot to the cluster.
func (pc *PriceCluster) add(pivotIdx int, price float64) {
	pc.PivotIndexes = append(pc.PivotIndexes, pivotIdx)
	pc.prices = append(pc.prices, price)
}

// within reports whether price lies within tolerancePct of the cluster level.
func (pc *PriceCluster) within(price, tolerancePct float64) bool {
	level := pc.Level()
	if level == 0 {
		return false
	}
	diff := price - level
	if diff < 0 {
		diff = -diff
	}
	return diff/level*100 <= tolerancePct
}

// clusterPivots partitions pivots of one side into tolerance clusters.
// Pivots are assigned to the first existing cluster they fit; otherwise they
// seed a new one.
func clusterPivots(pivots []Pivot, side PivotType, tolerancePct float64) []*PriceCluster {
	var clusters []*PriceCluster
	for i, p := range pivots {
		if p.Type != side {
			continue
		}
		placed := false
		for _, c := range clusters {
			if c.within(p.Price, tolerancePct) {
				c.add(i, p.Price)
				placed = true
				break
			}
		}
		if !placed {
			c := &PriceCluster{Side: side}
			c.add(i, p.Price)
			clusters = append(clusters, c)
		}
	}
	return clusters
}
