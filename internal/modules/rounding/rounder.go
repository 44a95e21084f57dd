// Package rounding converts fractional euro amounts into whole euros while
// conserving an exact integer total.
package rounding

import (
	"sort"

	"github.com/shopspring/decimal"
)

// precision guards floor/ceil against float noise such as 700.0000000000001
const precision = 8

// TieBreak orders two buckets whose fractional remainders are equal.
// It returns true when bucket i should be adjusted before bucket j.
type TieBreak func(i, j int) bool

// ByIndex breaks ties by ascending bucket position
func ByIndex(i, j int) bool {
	return i < j
}

// ByKey breaks ties by ascending key, e.g. ISIN
func ByKey(keys []string) TieBreak {
	return func(i, j int) bool {
		return keys[i] < keys[j]
	}
}

type bucket struct {
	index    int
	value    decimal.Decimal
	fraction decimal.Decimal
}

func prepare(values []float64) []bucket {
	buckets := make([]bucket, len(values))
	for i, v := range values {
		d := decimal.NewFromFloat(v).Round(precision)
		if d.Sign() < 0 {
			d = decimal.Zero
		}
		buckets[i] = bucket{
			index:    i,
			value:    d,
			fraction: d.Sub(d.Floor()),
		}
	}
	return buckets
}

// IntegerTotal rounds total half-up to whole euros; negatives become 0
func IntegerTotal(total float64) int64 {
	t := decimal.NewFromFloat(total).Round(0).IntPart()
	if t < 0 {
		return 0
	}
	return t
}

// CeilingTrim rounds every value up, then trims or tops up one euro at a time
// until the result sums to round(total).
//
// Overshoot is removed cycling through buckets by ascending fractional remainder,
// never taking a bucket below zero. Buckets that were already whole are trimmed
// last. Shortfall is added cycling by descending remainder. Ties go by position.
func CeilingTrim(values []float64, total float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	buckets := prepare(values)
	rounded := make([]int64, len(values))
	var sum int64
	for _, b := range buckets {
		rounded[b.index] = b.value.Ceil().IntPart()
		sum += rounded[b.index]
	}

	diff := sum - IntegerTotal(total)
	switch {
	case diff > 0:
		order := sortByFraction(buckets, true)
		// a full pass without a removal means every bucket is at zero
		idle := 0
		for i := 0; diff > 0 && idle < len(order); i++ {
			idx := order[i%len(order)]
			if rounded[idx] > 0 {
				rounded[idx]--
				diff--
				idle = 0
			} else {
				idle++
			}
		}
	case diff < 0:
		order := sortByFraction(buckets, false)
		for i := 0; diff < 0; i++ {
			idx := order[i%len(order)]
			rounded[idx]++
			diff++
		}
	}

	for i, v := range rounded {
		out[i] = float64(v)
	}
	return out
}

// sortByFraction returns bucket positions ordered by fractional remainder,
// ties by ascending position. In ascending mode whole buckets sort last.
func sortByFraction(buckets []bucket, ascending bool) []int {
	sorted := make([]bucket, len(buckets))
	copy(sorted, buckets)
	one := decimal.NewFromInt(1)
	sort.SliceStable(sorted, func(a, b int) bool {
		fa, fb := sorted[a].fraction, sorted[b].fraction
		if ascending {
			if fa.IsZero() {
				fa = one
			}
			if fb.IsZero() {
				fb = one
			}
		}
		cmp := fa.Cmp(fb)
		if cmp == 0 {
			return sorted[a].index < sorted[b].index
		}
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})
	order := make([]int, len(sorted))
	for i, b := range sorted {
		order[i] = b.index
	}
	return order
}

// FloorDistribute rounds every value down and hands the shortfall to
// round(total) out one euro at a time, cycling through buckets by descending
// fractional remainder. Equal remainders are ordered by tie.
//
// When the floored sum already exceeds the total the surplus is removed from
// the buckets with the smallest remainders first.
func FloorDistribute(values []float64, total float64, tie TieBreak) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if tie == nil {
		tie = ByIndex
	}

	buckets := prepare(values)
	rounded := make([]int64, len(values))
	var sum int64
	for _, b := range buckets {
		rounded[b.index] = b.value.Floor().IntPart()
		sum += rounded[b.index]
	}

	sorted := make([]bucket, len(buckets))
	copy(sorted, buckets)
	sort.SliceStable(sorted, func(a, b int) bool {
		if cmp := sorted[a].fraction.Cmp(sorted[b].fraction); cmp != 0 {
			return cmp > 0
		}
		return tie(sorted[a].index, sorted[b].index)
	})

	steps := IntegerTotal(total) - sum
	for i := 0; steps > 0; i++ {
		idx := sorted[i%len(sorted)].index
		rounded[idx]++
		steps--
	}

	idle := 0
	for i := len(sorted) - 1; steps < 0 && idle < len(sorted); i-- {
		if i < 0 {
			i = len(sorted) - 1
		}
		idx := sorted[i].index
		if rounded[idx] > 0 {
			rounded[idx]--
			steps++
			idle = 0
		} else {
			idle++
		}
	}

	for i, v := range rounded {
		out[i] = float64(v)
	}
	return out
}
