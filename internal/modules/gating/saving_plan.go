package gating

import (
	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
)

// SavingPlanResult is the outcome of the minimum saving plan size gate
type SavingPlanResult struct {
	Amounts layers.Amounts `json:"amounts"`
	// Rebalanced is true when any layer changed
	Rebalanced   bool             `json:"rebalanced"`
	ZeroedLayers []domain.LayerID `json:"zeroed_layers"`
	// RaisedLayerOne marks the one case where the total grows: layer 1 was the
	// only funded layer and sat below the minimum.
	RaisedLayerOne bool `json:"raised_layer_one"`
}

type savingPlanGate struct {
	minimum float64
	amounts layers.Amounts
	zeroed  layerSet
	raised  bool
}

// ApplySavingPlanMinimum folds layers below minimum into the layer above them.
//
// Layers 5 down to 2 are scanned in order; a layer with 0 < amount < minimum
// is zeroed and its amount added to layer-1, so amounts cascade towards layer 1.
// A minimum below 1 disables the gate.
func ApplySavingPlanMinimum(amounts layers.Amounts, minimum float64) SavingPlanResult {
	g := &savingPlanGate{minimum: minimum, amounts: amounts, zeroed: layerSet{}}
	run(g)

	return SavingPlanResult{
		Amounts:        g.amounts,
		Rebalanced:     !g.amounts.Equal(amounts, epsilon),
		ZeroedLayers:   g.zeroed.sorted(),
		RaisedLayerOne: g.raised,
	}
}

func (g *savingPlanGate) evaluate() state {
	if g.minimum < 1 {
		return stateDone
	}
	return stateAdjust
}

func (g *savingPlanGate) adjust() state {
	for i := domain.LayerCount - 1; i >= 1; i-- {
		v := g.amounts[i]
		if v > 0 && v < g.minimum {
			g.amounts[i-1] += v
			g.amounts[i] = 0
			g.zeroed.add(domain.LayerFromIndex(i))
		}
	}
	return stateReconverge
}

func (g *savingPlanGate) reconverge() state {
	first := g.amounts[0]
	if first <= 0 || first >= g.minimum {
		return stateDone
	}
	for _, v := range g.amounts[1:] {
		if v > 0 {
			return stateDone
		}
	}
	g.amounts[0] = g.minimum
	g.raised = true
	return stateDone
}
