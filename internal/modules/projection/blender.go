// Package projection derives per-layer contribution targets by projecting the
// portfolio forward and blending "close the gap" with the current saving plan.
package projection

import (
	"math"

	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/rounding"
)

// Horizon bounds in months
const (
	MinHorizonMonths     = 1
	MaxHorizonMonths     = 120
	DefaultHorizonMonths = 12

	DefaultBlendMin = 0.15
	DefaultBlendMax = 0.45
)

// Params are the resolved projection settings
type Params struct {
	HorizonMonths int
	VariancePct   float64
	BlendMin      float64
	BlendMax      float64
}

// Input is what the blender needs from the current portfolio
type Input struct {
	// Holdings are current market values per layer
	Holdings layers.Amounts
	// CurrentMonthly is the current saving plan per layer
	CurrentMonthly layers.Amounts
	// MonthlyTotal is the amount to distribute each month
	MonthlyTotal float64
	// TargetWeights must already be normalized
	TargetWeights layers.Amounts
}

// Result carries the desired per-layer amounts and how they were derived
type Result struct {
	Desired                layers.Amounts `json:"desired"`
	FinalWeights           layers.Amounts `json:"final_weights"`
	GapWeights             layers.Amounts `json:"gap_weights"`
	BlendFactor            float64        `json:"blend_factor"`
	HorizonMonths          int            `json:"horizon_months"`
	ProjectedTotal         float64        `json:"projected_total"`
	ProjectedTargetTotals  layers.Amounts `json:"projected_target_totals"`
	ProjectedTargetWeights layers.Amounts `json:"projected_target_weights"`
	// Fallback is true when the target weights were applied directly
	Fallback bool `json:"fallback"`
}

// Blender computes desired layer amounts
type Blender struct {
	params Params
}

// NewBlender creates a blender. Horizon is clamped to [1,120] and a zero
// horizon uses the 12 month default.
func NewBlender(p Params) *Blender {
	if p.HorizonMonths == 0 {
		p.HorizonMonths = DefaultHorizonMonths
	}
	p.HorizonMonths = min(MaxHorizonMonths, max(MinHorizonMonths, p.HorizonMonths))
	if p.VariancePct <= 0 {
		p.VariancePct = layers.DefaultVariancePct
	}
	return &Blender{params: p}
}

// Horizon returns the clamped projection horizon in months
func (b *Blender) Horizon() int {
	return b.params.HorizonMonths
}

// BlendFactor interpolates linearly between BlendMin at a 1 month horizon and
// BlendMax at 120 months
func (b *Blender) BlendFactor() float64 {
	span := float64(b.params.HorizonMonths-MinHorizonMonths) / float64(MaxHorizonMonths-MinHorizonMonths)
	f := b.params.BlendMin + (b.params.BlendMax-b.params.BlendMin)*span
	return math.Max(0, math.Min(1, f))
}

// Blend returns desired per-layer amounts summing to round(MonthlyTotal)
func (b *Blender) Blend(in Input) Result {
	horizon := b.params.HorizonMonths
	holdingsTotal := in.Holdings.Sum()
	result := Result{HorizonMonths: horizon}

	if in.MonthlyTotal <= 0 || holdingsTotal <= 0 {
		result.Fallback = true
		result.FinalWeights = in.TargetWeights
		result.Desired = ceil(in.TargetWeights.Scale(math.Max(0, in.MonthlyTotal)), in.MonthlyTotal)
		b.project(&result, in, holdingsTotal)
		return result
	}

	projectedTotal := holdingsTotal + in.MonthlyTotal*float64(horizon)
	holdingWeights := layers.Distribution(in.Holdings, holdingsTotal)
	variance := b.params.VariancePct / 100

	var gaps layers.Amounts
	for i := range gaps {
		if holdingWeights[i] > in.TargetWeights[i]+variance {
			continue
		}
		if gap := projectedTotal*in.TargetWeights[i] - in.Holdings[i]; gap > 0 {
			gaps[i] = gap
		}
	}

	current := layers.Distribution(in.CurrentMonthly, in.CurrentMonthly.Sum())
	gapWeights := current
	if gaps.Sum() > 0 {
		gapWeights = layers.NormalizeWeights(gaps)
	}

	factor := b.BlendFactor()
	blended := gapWeights.Scale(1 - factor).Add(current.Scale(factor))
	final := layers.NormalizeWeights(blended)
	if final.Sum() <= 0 {
		final = in.TargetWeights
	}

	result.GapWeights = gapWeights
	result.BlendFactor = factor
	result.FinalWeights = final
	result.Desired = ceil(final.Scale(in.MonthlyTotal), in.MonthlyTotal)
	b.project(&result, in, holdingsTotal)
	return result
}

// project fills the projected totals assuming Desired is contributed for the
// whole horizon
func (b *Blender) project(result *Result, in Input, holdingsTotal float64) {
	horizon := float64(result.HorizonMonths)
	result.ProjectedTotal = holdingsTotal + math.Max(0, in.MonthlyTotal)*horizon
	result.ProjectedTargetTotals = in.TargetWeights.Scale(result.ProjectedTotal)
	reached := in.Holdings.Add(result.Desired.Scale(horizon))
	result.ProjectedTargetWeights = layers.Distribution(reached, reached.Sum())
}

func ceil(values layers.Amounts, total float64) layers.Amounts {
	var out layers.Amounts
	copy(out[:], rounding.CeilingTrim(values[:], math.Max(0, total)))
	return out
}
