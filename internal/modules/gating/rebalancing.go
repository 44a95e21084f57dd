package gating

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/rounding"
)

// RebalancingResult is the outcome of the minimum rebalancing amount gate
type RebalancingResult struct {
	Amounts          layers.Amounts   `json:"amounts"`
	SkippedLayers    []domain.LayerID `json:"skipped_layers"`
	SuppressedCount  int              `json:"suppressed_count"`
	SuppressedAmount float64          `json:"suppressed_amount"`
	// Residual is sum(Amounts) minus the expected total. Non-zero only when the
	// iteration cap was reached or nothing could absorb the difference.
	Residual   float64  `json:"residual"`
	Iterations int      `json:"iterations"`
	Notes      []string `json:"notes"`
}

type rebalancingGate struct {
	minimum    float64
	current    layers.Amounts
	amounts    layers.Amounts
	expected   float64
	skipped    layerSet
	suppressed int
	amount     float64
	iterations int
	notes      []string
}

// ApplyRebalancingMinimum reverts layer changes smaller than minimum and then
// restores sum(proposed) by shifting the residual onto layers that still change.
//
// A positive residual first trims positive deltas, a negative one first trims
// negative deltas, smallest |delta| first. Trimming a delta below the minimum
// reverts it completely. When nothing can be trimmed a positive residual
// deepens existing decreases and a negative residual is spread over existing
// increases in proportion to their size. A minimum below 1 disables the gate.
func ApplyRebalancingMinimum(current, proposed layers.Amounts, minimum float64) RebalancingResult {
	g := &rebalancingGate{
		minimum:  minimum,
		current:  current,
		amounts:  proposed,
		expected: proposed.Sum(),
		skipped:  layerSet{},
	}
	run(g)

	residual := g.amounts.Sum() - g.expected
	if math.Abs(residual) < epsilon {
		residual = 0
	}
	if residual != 0 {
		g.notes = append(g.notes, fmt.Sprintf("Residual of %s EUR left after %d iterations", FormatEUR(residual), g.iterations))
	}

	return RebalancingResult{
		Amounts:          g.amounts,
		SkippedLayers:    g.skipped.sorted(),
		SuppressedCount:  g.suppressed,
		SuppressedAmount: g.amount,
		Residual:         residual,
		Iterations:       g.iterations,
		Notes:            g.notes,
	}
}

func (g *rebalancingGate) evaluate() state {
	if g.minimum < 1 {
		return stateDone
	}
	return stateAdjust
}

func (g *rebalancingGate) adjust() state {
	var suppressed []domain.LayerID
	for i := range g.amounts {
		delta := g.amounts[i] - g.current[i]
		if d := math.Abs(delta); d > epsilon && d < g.minimum {
			g.amounts[i] = g.current[i]
			g.suppressed++
			g.amount += d
			id := domain.LayerFromIndex(i)
			g.skipped.add(id)
			suppressed = append(suppressed, id)
		}
	}
	if len(suppressed) == 0 {
		return stateDone
	}
	g.notes = append(g.notes, "Suppressed layer deltas below minimum: "+FormatLayers(suppressed))
	return stateReconverge
}

func (g *rebalancingGate) reconverge() state {
	residual := g.amounts.Sum() - g.expected
	if math.Abs(residual) < epsilon || g.iterations >= MaxIterations {
		return stateDone
	}
	g.iterations++

	if g.trim(residual) {
		return stateReconverge
	}
	if residual > 0 && g.deepenDecreases(residual) {
		return stateReconverge
	}
	if residual < 0 && g.spreadOverIncreases(-residual) {
		return stateReconverge
	}
	return stateDone
}

func (g *rebalancingGate) delta(i int) float64 {
	return g.amounts[i] - g.current[i]
}

// trim moves deltas with the same sign as residual back towards current
func (g *rebalancingGate) trim(residual float64) bool {
	sign := 1.0
	if residual < 0 {
		sign = -1
	}
	var candidates []int
	for i := range g.amounts {
		if g.delta(i)*sign > epsilon {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return math.Abs(g.delta(candidates[a])) < math.Abs(g.delta(candidates[b]))
	})

	remaining := math.Abs(residual)
	moved := 0.0
	var touched, reverted []domain.LayerID
	for _, i := range candidates {
		if remaining <= epsilon {
			break
		}
		size := math.Abs(g.delta(i))
		step := math.Min(size, remaining)
		left := size - step
		if left > epsilon && left < g.minimum {
			step = size
			left = 0
		}
		g.amounts[i] -= sign * step
		remaining -= step
		moved += step
		id := domain.LayerFromIndex(i)
		touched = append(touched, id)
		if left <= epsilon {
			g.skipped.add(id)
			reverted = append(reverted, id)
		}
	}
	if len(touched) == 0 {
		return false
	}

	kind := "increases"
	if sign < 0 {
		kind = "decreases"
	}
	g.notes = append(g.notes, fmt.Sprintf("Reduced %s by %s EUR in layers %s", kind, FormatEUR(moved), FormatLayers(touched)))
	if len(reverted) > 0 {
		g.notes = append(g.notes, "Reverted layers below minimum after adjustment: "+FormatLayers(reverted))
	}
	return true
}

// deepenDecreases lowers layers that are already decreasing, never below zero
func (g *rebalancingGate) deepenDecreases(residual float64) bool {
	remaining := residual
	var touched []domain.LayerID
	moved := 0.0
	for i := range g.amounts {
		if remaining <= epsilon {
			break
		}
		if g.delta(i) >= -epsilon || g.amounts[i] <= epsilon {
			continue
		}
		step := math.Min(g.amounts[i], remaining)
		g.amounts[i] -= step
		remaining -= step
		moved += step
		touched = append(touched, domain.LayerFromIndex(i))
	}
	if len(touched) == 0 {
		return false
	}
	g.notes = append(g.notes, fmt.Sprintf("Decreased layers %s by %s EUR to restore the total", FormatLayers(touched), FormatEUR(moved)))
	return true
}

// spreadOverIncreases adds amount to increasing layers in proportion to their delta
func (g *rebalancingGate) spreadOverIncreases(amount float64) bool {
	var idx []int
	var weights []float64
	total := 0.0
	for i := range g.amounts {
		if d := g.delta(i); d > epsilon {
			idx = append(idx, i)
			weights = append(weights, d)
			total += d
		}
	}
	if len(idx) == 0 || total <= 0 {
		return false
	}

	shares := make([]float64, len(idx))
	for k, w := range weights {
		shares[k] = amount * w / total
	}
	if whole := math.Abs(amount-math.Round(amount)) < epsilon; whole {
		shares = rounding.FloorDistribute(shares, amount, rounding.ByIndex)
	}

	touched := make([]domain.LayerID, 0, len(idx))
	for k, i := range idx {
		g.amounts[i] += shares[k]
		touched = append(touched, domain.LayerFromIndex(i))
	}
	g.notes = append(g.notes, fmt.Sprintf("Increased layers %s by %s EUR to restore the total", FormatLayers(touched), FormatEUR(amount)))
	return true
}
