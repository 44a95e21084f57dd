package rebalancing

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/gating"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/rounding"
)

// oneTimeLayers is the number of layers a lump sum may go to; layer 5 is never funded
const oneTimeLayers = domain.LayerCount - 1

// weightScale matches the precision weights are compared at
const weightScale = 8

// AllocateOneTime splits a lump sum across layers 1-4.
//
// The amount follows the gaps between target weights and the holdings
// distribution. Without holdings or without any gap it follows the target
// weights. Layers below the minimum rebalancing amount are folded into the
// first funded layer; layers below the minimum instrument amount cascade into
// the layer before them.
func (s *Service) AllocateOneTime(ctx context.Context, req OneTimeRequest) (*OneTimeAllocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount < s.settings.MinimumInstrument || req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s < %s", domain.ErrOneTimeBelowMinimum,
			gating.FormatEUR(req.Amount), gating.FormatEUR(s.settings.MinimumInstrument))
	}

	total := float64(rounding.IntegerTotal(req.Amount))
	result := &OneTimeAllocation{Amount: total, Merged: []domain.LayerID{}}

	weights, gap := s.oneTimeWeights(req.Holdings)
	result.Gap = gap
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if sum.Sign() <= 0 {
		result.Layers[0] = total
		return result, nil
	}

	values := make([]float64, oneTimeLayers)
	for i, w := range weights {
		values[i] = decimal.NewFromFloat(total).Mul(w).Div(sum).InexactFloat64()
	}
	rounded := rounding.FloorDistribute(values, total, rounding.ByIndex)
	copy(result.Layers[:], rounded)

	result.Merged = append(result.Merged, foldBelowRebalancing(&result.Layers, s.settings.MinimumRebalancing)...)
	result.Merged = append(result.Merged, cascadeBelowInstrument(&result.Layers, s.settings.MinimumInstrument)...)

	s.log.Debug().
		Float64("amount", total).
		Bool("gap_based", result.Gap).
		Str("merged", gating.FormatLayers(result.Merged)).
		Msg("One-time amount allocated")
	return result, nil
}

// oneTimeWeights returns the positive gaps target-minus-distribution for
// layers 1-4, or the target weights of those layers when there is no gap
func (s *Service) oneTimeWeights(holdings layers.Amounts) ([]decimal.Decimal, bool) {
	targets := normalizeDecimal(s.settings.TargetWeights())
	weights := make([]decimal.Decimal, oneTimeLayers)

	var positive layers.Amounts
	for i := range holdings {
		positive[i] = math.Max(0, holdings[i])
	}
	if dist := normalizeDecimal(positive); positive.Sum() > 0 {
		found := false
		for i := range weights {
			weights[i] = decimal.Zero
			if gap := targets[i].Sub(dist[i]); gap.Sign() > 0 {
				weights[i] = gap
				found = true
			}
		}
		if found {
			return weights, true
		}
	}

	copy(weights, targets[:oneTimeLayers])
	return weights, false
}

func normalizeDecimal(values layers.Amounts) [domain.LayerCount]decimal.Decimal {
	var out [domain.LayerCount]decimal.Decimal
	sum := decimal.Zero
	for i, v := range values {
		out[i] = decimal.NewFromFloat(math.Max(0, v))
		sum = sum.Add(out[i])
	}
	for i := range out {
		if sum.Sign() <= 0 {
			out[i] = decimal.Zero
			continue
		}
		out[i] = out[i].DivRound(sum, weightScale)
	}
	return out
}

// foldBelowRebalancing zeroes layers below minimum and adds their sum to the
// first layer that still holds money, layer 1 when none does
func foldBelowRebalancing(buckets *layers.Amounts, minimum float64) []domain.LayerID {
	merged := []domain.LayerID{}
	if minimum <= 0 {
		return merged
	}
	var suppressed float64
	for i := 0; i < oneTimeLayers; i++ {
		if v := buckets[i]; v > 0 && v < minimum {
			suppressed += v
			buckets[i] = 0
			merged = append(merged, domain.LayerFromIndex(i))
		}
	}
	if suppressed == 0 {
		return merged
	}
	for i := 0; i < oneTimeLayers; i++ {
		if buckets[i] > 0 {
			buckets[i] += suppressed
			return merged
		}
	}
	buckets[0] += suppressed
	return merged
}

// cascadeBelowInstrument walks layers 4 to 2 and moves any amount below
// minimum into the layer before it
func cascadeBelowInstrument(buckets *layers.Amounts, minimum float64) []domain.LayerID {
	merged := []domain.LayerID{}
	if minimum <= 0 {
		return merged
	}
	for i := oneTimeLayers - 1; i > 0; i-- {
		if v := buckets[i]; v > 0 && v < minimum {
			buckets[i-1] += v
			buckets[i] = 0
			merged = append(merged, domain.LayerFromIndex(i))
		}
	}
	return merged
}
