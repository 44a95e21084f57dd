package scoring

import (
	"math"
	"strings"

	"github.com/aristath/layerwise/internal/domain"
)

// Sub-score weights per instrument kind
var (
	fundValuationWeights  = valuationWeights{holdingsYield: 0.65, currentYield: 0.20, priceToBook: 0.10, dividend: 0.05}
	reitValuationWeights  = valuationWeights{longTermYield: 0.4, currentYield: 0.2, evToEBITDA: 0.2, priceToBook: 0.1, ebitda: 0.1}
	stockValuationWeights = valuationWeights{longTermYield: 0.5, currentYield: 0.2, evToEBITDA: 0.2, dividend: 0.05, priceToBook: 0.05}
)

const (
	earningsYieldCap  = 0.20
	dividendYieldCap  = 0.08
	evToEBITDATarget  = 12.0
	priceToBookTarget = 2.0
	ebitdaCapEur      = 10_000_000_000.0

	minQualityMultiplier = 0.7
)

type valuationWeights struct {
	longTermYield float64
	holdingsYield float64
	currentYield  float64
	evToEBITDA    float64
	priceToBook   float64
	dividend      float64
	ebitda        float64
}

// ValuationScore rates how cheap an instrument looks on a 0..1 scale.
// The second return value is false when no valuation signal is usable.
func ValuationScore(facts *domain.InstrumentFacts) (float64, bool) {
	if facts == nil || facts.Valuation == nil {
		return 0, false
	}
	v := facts.Valuation

	sub := valuationWeights{
		longTermYield: scoreEarningsYield(longTermEarningsYield(v)),
		holdingsYield: scoreEarningsYield(holdingsEarningsYield(v)),
		currentYield:  scoreEarningsYield(inverse(v.PECurrent)),
		evToEBITDA:    scoreInverseTarget(v.EVToEBITDA, evToEBITDATarget),
		priceToBook:   scoreInverseTarget(v.PriceToBook, priceToBookTarget),
		dividend:      scoreCapped(v.DividendYield, dividendYieldCap),
		ebitda:        scoreEBITDA(v.EBITDAEur),
	}

	weights := stockValuationWeights
	switch {
	case facts.IsFund():
		weights = fundValuationWeights
	case facts.IsREIT():
		weights = reitValuationWeights
	}

	pairs := [][2]float64{
		{sub.longTermYield, weights.longTermYield},
		{sub.holdingsYield, weights.holdingsYield},
		{sub.currentYield, weights.currentYield},
		{sub.evToEBITDA, weights.evToEBITDA},
		{sub.priceToBook, weights.priceToBook},
		{sub.dividend, weights.dividend},
		{sub.ebitda, weights.ebitda},
	}
	var scoreSum, weightSum float64
	for _, p := range pairs {
		if p[0] > 0 && p[1] > 0 {
			scoreSum += p[0] * p[1]
			weightSum += p[1]
		}
	}
	if weightSum <= 0 {
		return 0, false
	}

	return scoreSum / weightSum * qualityMultiplier(v), true
}

func longTermEarningsYield(v *domain.Valuation) *float64 {
	if v.EarningsYieldLongTerm != nil {
		return v.EarningsYieldLongTerm
	}
	return inverse(v.PELongTerm)
}

func holdingsEarningsYield(v *domain.Valuation) *float64 {
	if v.EarningsYieldHoldings != nil {
		return v.EarningsYieldHoldings
	}
	return inverse(v.PEHoldings)
}

func inverse(pe *float64) *float64 {
	if pe == nil || *pe <= 0 {
		return nil
	}
	y := 1 / *pe
	return &y
}

func scoreEarningsYield(y *float64) float64 {
	return scoreCapped(y, earningsYieldCap)
}

func scoreCapped(v *float64, limit float64) float64 {
	if v == nil || *v <= 0 {
		return 0
	}
	return math.Min(*v/limit, 1)
}

func scoreInverseTarget(v *float64, target float64) float64 {
	if v == nil || *v <= 0 {
		return 0
	}
	return math.Min(target / *v, 1)
}

// scoreEBITDA is log-scaled against a 10bn EUR cap
func scoreEBITDA(v *float64) float64 {
	if v == nil || *v <= 0 {
		return 0
	}
	scaled := math.Log10(1+math.Min(*v, ebitdaCapEur)) / math.Log10(1+ebitdaCapEur)
	return math.Max(0, math.Min(scaled, 1))
}

// qualityMultiplier discounts valuations derived from weaker P/E methodology
func qualityMultiplier(v *domain.Valuation) float64 {
	m := 1.0

	switch domain.NormalizeLabel(v.PEMethod) {
	case "":
		m *= 0.95
	case "ttm":
	case "forward":
		m *= 0.90
	case "provider_weighted_avg":
		m *= 0.95
	case "provider_aggregate":
		m *= 0.90
	default:
		m *= 0.92
	}

	horizon := domain.NormalizeLabel(v.PEHorizon)
	switch {
	case horizon == "":
		m *= 0.95
	case strings.Contains(horizon, "normalized"):
	case strings.Contains(horizon, "ttm"):
		m *= 0.95
	default:
		m *= 0.92
	}

	switch domain.NormalizeLabel(v.NegativeEarningsPolicy) {
	case "":
		m *= 0.97
	case "exclude":
	case "set_null":
		m *= 0.95
	case "aggregate_allows_negative":
		m *= 0.90
	default:
		m *= 0.92
	}

	return math.Min(1, math.Max(minQualityMultiplier, m))
}
