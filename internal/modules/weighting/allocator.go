package weighting

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rounding"
	"github.com/aristath/layerwise/internal/modules/scoring"
)

// Instrument is one saving plan position inside a layer
type Instrument struct {
	ISIN          string
	Name          string
	CurrentAmount float64
}

// Minimums are the per-instrument floors applied while splitting a budget
type Minimums struct {
	// SavingPlan is the smallest positive monthly amount an instrument may receive
	SavingPlan float64
	// Rebalancing is the smallest change worth proposing; smaller ones are tagged
	Rebalancing float64
}

// Request describes one layer split
type Request struct {
	Layer       domain.LayerID
	Budget      float64
	Reserved    float64
	Instruments []Instrument
	Facts       domain.FactsIndex
	Scores      map[string]scoring.Score
	Cutoff      float64
	Minimums    Minimums
}

// Allocation is the proposed amount for one instrument
type Allocation struct {
	ISIN           string             `json:"isin" msgpack:"isin"`
	Name           string             `json:"name" msgpack:"name"`
	Layer          domain.LayerID     `json:"layer" msgpack:"layer"`
	CurrentAmount  float64            `json:"current_amount" msgpack:"current_amount"`
	ProposedAmount float64            `json:"proposed_amount" msgpack:"proposed_amount"`
	Delta          float64            `json:"delta" msgpack:"delta"`
	Weight         float64            `json:"weight" msgpack:"weight"`
	Reasons        domain.ReasonCodes `json:"reason_codes" msgpack:"reason_codes"`
}

// Result is the outcome of splitting one layer budget
type Result struct {
	Layer       domain.LayerID
	Budget      float64
	Allocations []Allocation
	Summary     *Summary
}

// Total returns the sum of proposed amounts
func (r Result) Total() float64 {
	var total float64
	for _, a := range r.Allocations {
		total += a.ProposedAmount
	}
	return total
}

// Allocator splits layer budgets across instruments
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates a new allocator
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{
		log: log.With().Str("component", "instrument_allocator").Logger(),
	}
}

// Allocate splits req.Budget minus req.Reserved across the layer's instruments.
//
// Instruments scored at or above the cutoff receive nothing. Instruments that
// were never scored are treated as eligible. Amounts are whole euros and sum
// exactly to the net budget whenever at least one instrument is eligible.
func (a *Allocator) Allocate(req Request) Result {
	instruments := aggregate(req.Instruments)
	budget := float64(rounding.IntegerTotal(math.Max(0, req.Budget-req.Reserved)))
	result := Result{Layer: req.Layer, Budget: budget}

	byISIN := make(map[string]*Allocation, len(instruments))
	for _, inst := range instruments {
		result.Allocations = append(result.Allocations, Allocation{
			ISIN:          inst.ISIN,
			Name:          inst.Name,
			Layer:         req.Layer,
			CurrentAmount: inst.CurrentAmount,
			Reasons:       domain.ReasonCodes{},
		})
	}
	for i := range result.Allocations {
		byISIN[result.Allocations[i].ISIN] = &result.Allocations[i]
	}

	if budget <= 0 {
		for i := range result.Allocations {
			result.Allocations[i].Reasons = result.Allocations[i].Reasons.Add(domain.ReasonLayerBudgetZero)
		}
		finish(&result, req.Minimums)
		return result
	}

	var eligible []Instrument
	for _, inst := range instruments {
		if sc, ok := req.Scores[inst.ISIN]; ok && !sc.Eligible(req.Cutoff) {
			alloc := byISIN[inst.ISIN]
			alloc.Reasons = alloc.Reasons.Add(domain.ReasonRiskNotAcceptable)
			a.log.Debug().
				Str("isin", inst.ISIN).
				Int("score", sc.Score).
				Float64("cutoff", req.Cutoff).
				Msg("Instrument above risk cutoff")
			continue
		}
		eligible = append(eligible, inst)
	}

	if len(eligible) == 0 {
		for i := range result.Allocations {
			result.Allocations[i].Reasons = result.Allocations[i].Reasons.Add(domain.ReasonLayerBudgetZero)
		}
		finish(&result, req.Minimums)
		return result
	}

	active := eligible
	var dropped []Instrument
	var summary Summary
	var amounts map[string]float64
	for {
		summary = ComputeWeights(req.Layer, isinsOf(active), req.Facts, req.Scores, req.Cutoff)
		amounts = split(budget, active, summary.Weights, req.Scores)
		if len(active) <= 1 || !belowMinimum(amounts, req.Minimums.SavingPlan) {
			break
		}
		victim := lowestWeight(active, summary.Weights)
		dropped = append(dropped, active[victim])
		active = append(append([]Instrument{}, active[:victim]...), active[victim+1:]...)
		a.log.Debug().
			Str("isin", dropped[len(dropped)-1].ISIN).
			Int("layer", int(req.Layer)).
			Msg("Dropped instrument below minimum saving plan size")
	}

	weightCode := summary.ReasonCode()
	for _, inst := range active {
		alloc := byISIN[inst.ISIN]
		alloc.ProposedAmount = amounts[inst.ISIN]
		alloc.Weight = summary.Weights[inst.ISIN]
		alloc.Reasons = alloc.Reasons.Add(weightCode)
		if summary.ScoreWeighted {
			alloc.Reasons = alloc.Reasons.Add(domain.ReasonScoreWeighted)
		}
	}
	for _, inst := range dropped {
		alloc := byISIN[inst.ISIN]
		alloc.Reasons = alloc.Reasons.Add(weightCode).Add(domain.ReasonMinAmountDropped)
	}

	result.Summary = &summary
	finish(&result, req.Minimums)
	return result
}

// finish fills deltas and tags changes smaller than the rebalancing minimum
func finish(result *Result, minimums Minimums) {
	for i := range result.Allocations {
		alloc := &result.Allocations[i]
		alloc.Delta = alloc.ProposedAmount - alloc.CurrentAmount
		if d := math.Abs(alloc.Delta); minimums.Rebalancing > 0 && d > 0 && d < minimums.Rebalancing {
			alloc.Reasons = alloc.Reasons.Add(domain.ReasonMinRebalanceAmount)
		}
	}
}

// aggregate merges items for the same ISIN and orders them by ISIN
func aggregate(items []Instrument) []Instrument {
	merged := make(map[string]*Instrument)
	var order []string
	for _, item := range items {
		isin := domain.NormalizeISIN(item.ISIN)
		if isin == "" {
			continue
		}
		if existing, ok := merged[isin]; ok {
			existing.CurrentAmount += math.Max(0, item.CurrentAmount)
			if existing.Name == "" {
				existing.Name = item.Name
			}
			continue
		}
		merged[isin] = &Instrument{ISIN: isin, Name: item.Name, CurrentAmount: math.Max(0, item.CurrentAmount)}
		order = append(order, isin)
	}
	sort.Strings(order)
	out := make([]Instrument, len(order))
	for i, isin := range order {
		out[i] = *merged[isin]
	}
	return out
}

func isinsOf(instruments []Instrument) []string {
	out := make([]string, len(instruments))
	for i, inst := range instruments {
		out[i] = inst.ISIN
	}
	return out
}

// split converts weight x budget into whole euros.
// Remainder ties go to the lower score, then the lower ISIN.
func split(budget float64, instruments []Instrument, weights map[string]float64, scores map[string]scoring.Score) map[string]float64 {
	values := make([]float64, len(instruments))
	for i, inst := range instruments {
		values[i] = weights[inst.ISIN] * budget
	}
	tie := func(i, j int) bool {
		si, sj := scores[instruments[i].ISIN].Score, scores[instruments[j].ISIN].Score
		if si != sj {
			return si < sj
		}
		return instruments[i].ISIN < instruments[j].ISIN
	}
	rounded := rounding.FloorDistribute(values, budget, tie)
	out := make(map[string]float64, len(instruments))
	for i, inst := range instruments {
		out[inst.ISIN] = rounded[i]
	}
	return out
}

func belowMinimum(amounts map[string]float64, minimum float64) bool {
	if minimum <= 0 {
		return false
	}
	for _, v := range amounts {
		if v > 0 && v < minimum {
			return true
		}
	}
	return false
}

// lowestWeight picks the drop candidate: lowest weight, then lower current
// amount, then ISIN
func lowestWeight(instruments []Instrument, weights map[string]float64) int {
	best := 0
	for i := 1; i < len(instruments); i++ {
		a, b := instruments[i], instruments[best]
		wa, wb := weights[a.ISIN], weights[b.ISIN]
		switch {
		case wa != wb:
			if wa < wb {
				best = i
			}
		case a.CurrentAmount != b.CurrentAmount:
			if a.CurrentAmount < b.CurrentAmount {
				best = i
			}
		case a.ISIN < b.ISIN:
			best = i
		}
	}
	return best
}
