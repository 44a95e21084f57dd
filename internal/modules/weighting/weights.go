// Package weighting splits a layer budget across the instruments of that layer.
//
// Weights combine cost, redundancy and valuation signals. Each of those signals
// is all-or-nothing across the group: if one instrument lacks it, nobody gets it.
// A per-instrument data-quality discount and an optional score factor apply on top.
package weighting

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/scoring"
)

const (
	weightPlaces = 8

	valuationFloor = 0.7
	valuationSpan  = 0.3

	maxDataQualityPenalty = 0.25
	missingFieldWeight    = 0.01
	warningWeight         = 0.05

	minScoreFactor = 0.2
)

// Summary describes how the weights for one layer were derived
type Summary struct {
	Layer           domain.LayerID     `json:"layer" msgpack:"layer"`
	InstrumentCount int                `json:"instrument_count" msgpack:"instrument_count"`
	Weighted        bool               `json:"weighted" msgpack:"weighted"`
	ScoreWeighted   bool               `json:"score_weighted" msgpack:"score_weighted"`
	CostUsed        bool               `json:"cost_used" msgpack:"cost_used"`
	BenchmarkUsed   bool               `json:"benchmark_used" msgpack:"benchmark_used"`
	RegionsUsed     bool               `json:"regions_used" msgpack:"regions_used"`
	SectorsUsed     bool               `json:"sectors_used" msgpack:"sectors_used"`
	HoldingsUsed    bool               `json:"holdings_used" msgpack:"holdings_used"`
	ValuationUsed   bool               `json:"valuation_used" msgpack:"valuation_used"`
	Weights         map[string]float64 `json:"weights" msgpack:"weights"`
}

// ReasonCode returns KB_WEIGHTED or EQUAL_WEIGHT depending on the signals used
func (s Summary) ReasonCode() domain.ReasonCode {
	if s.Weighted {
		return domain.ReasonKBWeighted
	}
	return domain.ReasonEqualWeight
}

// exposure is a normalized label set plus its weights, when present
type exposure struct {
	names   map[string]struct{}
	weights map[string]float64
}

func newExposure(items []domain.Exposure) exposure {
	e := exposure{names: map[string]struct{}{}, weights: map[string]float64{}}
	for _, item := range items {
		name := domain.NormalizeLabel(item.Name)
		if name == "" {
			continue
		}
		e.names[name] = struct{}{}
		if w, ok := domain.NormalizeWeightPct(item.Weight); ok {
			e.weights[name] = w
		}
	}
	return e
}

func (e exposure) empty() bool {
	return len(e.names) == 0
}

// signals is the per-instrument view of the facts used for weighting
type signals struct {
	ter          float64
	hasTER       bool
	benchmark    string
	regions      exposure
	holdings     exposure
	sectors      exposure
	valuation    float64
	hasValuation bool
	dataPenalty  float64
}

func newSignals(facts *domain.InstrumentFacts) signals {
	if facts == nil {
		return signals{
			regions:  newExposure(nil),
			holdings: newExposure(nil),
			sectors:  newExposure(nil),
		}
	}
	s := signals{
		benchmark:   domain.NormalizeLabel(facts.BenchmarkIndex),
		regions:     newExposure(facts.Regions),
		holdings:    newExposure(facts.TopHoldings),
		sectors:     newExposure(facts.Sectors),
		dataPenalty: dataQualityPenalty(facts),
	}
	if facts.TERPct != nil {
		s.ter, s.hasTER = *facts.TERPct, true
	}
	s.valuation, s.hasValuation = scoring.ValuationScore(facts)
	return s
}

func dataQualityPenalty(facts *domain.InstrumentFacts) float64 {
	penalty := float64(facts.MissingFields)*missingFieldWeight + float64(facts.Warnings)*warningWeight
	return math.Min(maxDataQualityPenalty, math.Max(0, penalty))
}

// sectorWeightFactor damps sector overlap on the core layer and ignores it for
// unclassified instruments
func sectorWeightFactor(layer domain.LayerID) float64 {
	switch layer {
	case domain.LayerGlobalCore:
		return 0.5
	case domain.LayerUnclassified:
		return 0
	default:
		return 1
	}
}

// ComputeWeights derives normalized weights for the given ISINs.
// scores may be nil; cutoff is the layer's high-risk boundary.
func ComputeWeights(layer domain.LayerID, isins []string, facts domain.FactsIndex, scores map[string]scoring.Score, cutoff float64) Summary {
	summary := Summary{
		Layer:           layer,
		InstrumentCount: len(isins),
		Weights:         make(map[string]float64, len(isins)),
	}
	if len(isins) == 0 {
		return summary
	}
	if len(isins) == 1 {
		summary.Weights[isins[0]] = 1
		return summary
	}

	factors := scoreFactors(isins, scores, cutoff)

	group := make([]signals, len(isins))
	useCost, useBenchmark, useRegions, useHoldings, useValuation := true, true, true, true, true
	useSectors := layer != domain.LayerUnclassified
	for i, isin := range isins {
		s := newSignals(facts.Lookup(isin))
		group[i] = s
		useCost = useCost && s.hasTER
		useBenchmark = useBenchmark && s.benchmark != ""
		useRegions = useRegions && !s.regions.empty()
		useHoldings = useHoldings && !s.holdings.empty()
		useSectors = useSectors && !s.sectors.empty()
		useValuation = useValuation && s.hasValuation
	}
	useRedundancy := useBenchmark || useRegions || useHoldings || useSectors

	if !useCost && !useRedundancy && !useValuation {
		return fallbackWeights(summary, isins, factors)
	}

	benchmarkCounts := make(map[string]int)
	if useBenchmark {
		for _, s := range group {
			benchmarkCounts[s.benchmark]++
		}
	}
	r := redundancy{
		group:        group,
		counts:       benchmarkCounts,
		useBenchmark: useBenchmark,
		useRegions:   useRegions,
		useHoldings:  useHoldings,
		useSectors:   useSectors,
		sectorFactor: sectorWeightFactor(layer),
	}

	raw := make([]float64, len(isins))
	for i, s := range group {
		score := 1.0
		if useCost {
			score *= decimal.NewFromFloat(1 / (1 + math.Max(0, s.ter))).Round(weightPlaces).InexactFloat64()
		}
		if useRedundancy {
			score *= math.Max(0, 1-r.of(i))
		}
		if useValuation {
			score *= valuationFloor + valuationSpan*s.valuation
		}
		score *= 1 - s.dataPenalty
		if factors != nil {
			score *= factors[i]
		}
		raw[i] = score
	}

	if floats.Sum(raw) <= 0 {
		return fallbackWeights(summary, isins, factors)
	}

	normalize(summary.Weights, isins, raw)
	summary.Weighted = true
	summary.ScoreWeighted = factors != nil
	summary.CostUsed = useCost
	summary.BenchmarkUsed = useBenchmark
	summary.RegionsUsed = useRegions
	summary.HoldingsUsed = useHoldings
	summary.SectorsUsed = useSectors
	summary.ValuationUsed = useValuation
	return summary
}

// scoreFactors maps each score to clamp((cutoff-score+1)/cutoff, 0.2, 1).
// Unscored instruments get 1. Returns nil unless at least two instruments are scored.
func scoreFactors(isins []string, scores map[string]scoring.Score, cutoff float64) []float64 {
	if len(scores) == 0 || cutoff <= 0 {
		return nil
	}
	factors := make([]float64, len(isins))
	scored := 0
	for i, isin := range isins {
		sc, ok := scores[domain.NormalizeISIN(isin)]
		if !ok {
			factors[i] = 1
			continue
		}
		scored++
		f := (cutoff - float64(sc.Score) + 1) / cutoff
		factors[i] = math.Max(minScoreFactor, math.Min(1, f))
	}
	if scored < 2 {
		return nil
	}
	return factors
}

func fallbackWeights(summary Summary, isins []string, factors []float64) Summary {
	if factors != nil && floats.Sum(factors) > 0 {
		normalize(summary.Weights, isins, factors)
		summary.ScoreWeighted = true
		return summary
	}
	equal := make([]float64, len(isins))
	for i := range equal {
		equal[i] = 1
	}
	normalize(summary.Weights, isins, equal)
	return summary
}

// normalize writes raw/total rounded half-up to 8 decimals
func normalize(out map[string]float64, isins []string, raw []float64) {
	total := decimal.Zero
	for _, v := range raw {
		total = total.Add(decimal.NewFromFloat(v))
	}
	for i, isin := range isins {
		out[isin] = decimal.NewFromFloat(raw[i]).DivRound(total, weightPlaces+2).Round(weightPlaces).InexactFloat64()
	}
}

// redundancy measures how much an instrument overlaps the rest of its group
type redundancy struct {
	group        []signals
	counts       map[string]int
	useBenchmark bool
	useRegions   bool
	useHoldings  bool
	useSectors   bool
	sectorFactor float64
}

func (r redundancy) of(i int) float64 {
	n := len(r.group)
	if n <= 1 {
		return 0
	}
	var sum, weightSum float64
	if r.useBenchmark {
		count := max(r.counts[r.group[i].benchmark], 1)
		sum += float64(count-1) / float64(n-1)
		weightSum++
	}
	if r.useRegions {
		sum += r.overlap(i, func(s signals) exposure { return s.regions })
		weightSum++
	}
	if r.useHoldings {
		sum += r.overlap(i, func(s signals) exposure { return s.holdings })
		weightSum++
	}
	if r.useSectors {
		if w := math.Max(0, math.Min(1, r.sectorFactor)); w > 0 {
			sum += r.overlap(i, func(s signals) exposure { return s.sectors }) * w
			weightSum += w
		}
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// overlap prefers weighted overlap and falls back to name overlap
func (r redundancy) overlap(i int, pick func(signals) exposure) float64 {
	if v, ok := r.weightedOverlap(i, pick); ok {
		return v
	}
	return r.nameOverlap(i, pick)
}

// weightedOverlap averages sum(min(a,b))/max(totalA,totalB) over the other
// instruments that carry weights
func (r redundancy) weightedOverlap(i int, pick func(signals) exposure) (float64, bool) {
	base := pick(r.group[i]).weights
	baseTotal := sumWeights(base)
	if baseTotal <= 0 {
		return 0, false
	}
	var sum float64
	count := 0
	for j, other := range r.group {
		if j == i {
			continue
		}
		ow := pick(other).weights
		otherTotal := sumWeights(ow)
		if otherTotal <= 0 {
			continue
		}
		var shared float64
		for name, w := range base {
			if v, ok := ow[name]; ok {
				shared += math.Min(w, v)
			}
		}
		sum += shared / math.Max(baseTotal, otherTotal)
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// nameOverlap averages |common|/max(|a|,|b|) over the n-1 other instruments
func (r redundancy) nameOverlap(i int, pick func(signals) exposure) float64 {
	base := pick(r.group[i]).names
	if len(base) == 0 {
		return 0
	}
	var sum float64
	for j, other := range r.group {
		if j == i {
			continue
		}
		names := pick(other).names
		if len(names) == 0 {
			continue
		}
		common := 0
		for name := range base {
			if _, ok := names[name]; ok {
				common++
			}
		}
		sum += float64(common) / float64(max(len(base), len(names)))
	}
	return sum / float64(len(r.group)-1)
}

func sumWeights(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}
