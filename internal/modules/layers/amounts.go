// Package layers provides the fixed five-slot amount and weight container used
// throughout the allocation engine, together with distribution and tolerance math.
package layers

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/layerwise/internal/domain"
)

// DefaultVariancePct is the tolerance applied when a profile gives none
const DefaultVariancePct = 3.0

// weightScale is the number of decimals kept for weights and distributions
const weightScale = 6

// Amounts is an immutable per-layer value container. Slot i belongs to layer i+1.
// Every operation returns a new value.
type Amounts [domain.LayerCount]float64

// FromMap builds Amounts from a layer-keyed map. Unknown layers fold into layer 5.
func FromMap(m map[domain.LayerID]float64) Amounts {
	var a Amounts
	for id, v := range m {
		a[domain.ClassifyLayer(int(id)).Index()] += v
	}
	return a
}

// Get returns the value for a layer
func (a Amounts) Get(id domain.LayerID) float64 {
	if !id.Valid() {
		return 0
	}
	return a[id.Index()]
}

// With returns a copy with the layer set to v
func (a Amounts) With(id domain.LayerID, v float64) Amounts {
	if id.Valid() {
		a[id.Index()] = v
	}
	return a
}

// Sum returns the total over all layers
func (a Amounts) Sum() float64 {
	return floats.Sum(a[:])
}

// Add returns the element-wise sum
func (a Amounts) Add(b Amounts) Amounts {
	floats.Add(a[:], b[:])
	return a
}

// Sub returns the element-wise difference a-b
func (a Amounts) Sub(b Amounts) Amounts {
	floats.Sub(a[:], b[:])
	return a
}

// Scale multiplies every slot by f
func (a Amounts) Scale(f float64) Amounts {
	floats.Scale(f, a[:])
	return a
}

// Round rounds every slot half-up to whole euros
func (a Amounts) Round() Amounts {
	for i, v := range a {
		a[i] = RoundHalfUp(v, 0)
	}
	return a
}

// Equal reports whether both containers hold the same values within eps
func (a Amounts) Equal(b Amounts, eps float64) bool {
	return floats.EqualApprox(a[:], b[:], eps)
}

// IsZero reports whether every slot is zero
func (a Amounts) IsZero() bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

// Slice returns a copy of the slots as a slice
func (a Amounts) Slice() []float64 {
	out := make([]float64, domain.LayerCount)
	copy(out, a[:])
	return out
}

// Distribution returns amount/total per layer rounded half-up to 6 decimals.
// A non-positive total yields all zeros.
func Distribution(amounts Amounts, total float64) Amounts {
	var out Amounts
	if total <= 0 {
		return out
	}
	for i, v := range amounts {
		out[i] = RoundHalfUp(v/total, weightScale)
	}
	return out
}

// Deviations returns |actual-target| per layer
func Deviations(actual, target Amounts) Amounts {
	var out Amounts
	for i := range out {
		out[i] = math.Abs(actual[i] - target[i])
	}
	return out
}

// WithinTolerance reports whether every layer deviates from target by at most
// variancePct percentage points. A non-positive variance uses DefaultVariancePct.
func WithinTolerance(actual, target Amounts, variancePct float64) bool {
	if variancePct <= 0 {
		variancePct = DefaultVariancePct
	}
	tolerance := variancePct / 100
	for _, d := range Deviations(actual, target) {
		if d > tolerance+1e-12 {
			return false
		}
	}
	return true
}

// NormalizeWeights scales weights to sum to 1, rounded half-up to 6 decimals.
// Negative weights count as 0. A zero total is returned unchanged.
func NormalizeWeights(weights Amounts) Amounts {
	var clean Amounts
	for i, w := range weights {
		clean[i] = math.Max(0, w)
	}
	total := decimal.Zero
	for _, w := range clean {
		total = total.Add(decimal.NewFromFloat(w))
	}
	if total.Sign() <= 0 || total.Equal(decimal.NewFromInt(1)) {
		return clean
	}
	var out Amounts
	for i, w := range clean {
		out[i] = decimal.NewFromFloat(w).DivRound(total, weightScale+2).Round(weightScale).InexactFloat64()
	}
	return out
}

// RoundHalfUp rounds v to the given number of decimals, halves away from zero
func RoundHalfUp(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
