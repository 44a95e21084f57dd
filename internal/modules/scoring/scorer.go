// Package scoring rates instruments on a 0-100 risk/cost scale from the facts
// extracted for them. Higher scores mean more risk; an instrument is eligible
// for new money only while its score stays below the profile's high-risk cutoff.
package scoring

import (
	"math"
	"sort"

	"github.com/aristath/layerwise/internal/domain"
)

// Component labels
const (
	CriterionTER                  = "TER"
	CriterionRiskIndicator        = "Risk indicator"
	CriterionPE                   = "P/E"
	CriterionPEGAdjusted          = "P/E (PEG-adjusted)"
	CriterionEVToEBITDA           = "EV/EBITDA"
	CriterionPriceToBook          = "P/B"
	CriterionEarningsYield        = "Earnings yield"
	CriterionHoldingsConcentrated = "Top holdings concentration"
	CriterionRegionConcentrated   = "Region concentration"
	CriterionDataQuality          = "Data quality"
	CriterionBadFinancialsFloor   = "Bad financials floor"
)

const (
	maxScore            = 100.0
	maxValuationPenalty = 35.0
	maxDataPenalty      = 20.0
	missingFieldPenalty = 3.0
	warningPenalty      = 5.0
)

// Component is one additive penalty contributing to a score
type Component struct {
	Criterion string  `json:"criterion" msgpack:"criterion"`
	Points    float64 `json:"points" msgpack:"points"`
}

// Score is the result of scoring one instrument
type Score struct {
	ISIN          string      `json:"isin" msgpack:"isin"`
	Score         int         `json:"score" msgpack:"score"`
	BadFinancials bool        `json:"bad_financials" msgpack:"bad_financials"`
	Components    []Component `json:"components" msgpack:"components"`
}

// Eligible reports whether the score is below the high-risk cutoff
func (s Score) Eligible(cutoff float64) bool {
	return float64(s.Score) < cutoff
}

// InstrumentScorer computes per-instrument risk/cost scores
type InstrumentScorer struct {
	cutoff float64
}

// NewInstrumentScorer creates a scorer that floors bad-financial instruments at cutoff
func NewInstrumentScorer(cutoff float64) *InstrumentScorer {
	return &InstrumentScorer{cutoff: cutoff}
}

// Cutoff returns the high-risk boundary used by the scorer
func (s *InstrumentScorer) Cutoff() float64 {
	return s.cutoff
}

// Calculate scores a single instrument.
// Nil facts are treated as unknown and scored exactly at the cutoff.
func (s *InstrumentScorer) Calculate(facts *domain.InstrumentFacts) Score {
	if facts == nil {
		return Score{
			Score:         clampInt(int(math.Ceil(s.cutoff))),
			BadFinancials: true,
			Components:    []Component{},
		}
	}

	var components []Component
	components = append(components, costPenalty(facts)...)
	components = append(components, riskPenalty(facts)...)
	components = append(components, valuationPenalty(facts.Valuation)...)
	components = append(components, concentrationPenalty(facts)...)
	components = append(components, dataQualityPenalty(facts)...)

	components = scaleToCap(components, maxScore)
	adjusted := sumPoints(components)
	rounded := clampInt(int(roundHalfUp(math.Max(0, math.Min(maxScore, adjusted)))))

	bad := HasBadFinancials(facts)
	if bad && float64(rounded) < s.cutoff {
		if floor := s.cutoff - adjusted; floor > 0 {
			components = append(components, Component{Criterion: CriterionBadFinancialsFloor, Points: floor})
		}
		rounded = clampInt(int(math.Ceil(s.cutoff)))
	}

	if components == nil {
		components = []Component{}
	}
	return Score{
		ISIN:          domain.NormalizeISIN(facts.ISIN),
		Score:         rounded,
		BadFinancials: bad,
		Components:    components,
	}
}

// CalculateAll scores every instrument in the index, keyed by normalized ISIN.
// ISINs without facts are scored as unknown.
func (s *InstrumentScorer) CalculateAll(isins []string, facts domain.FactsIndex) map[string]Score {
	out := make(map[string]Score, len(isins))
	for _, isin := range isins {
		key := domain.NormalizeISIN(isin)
		score := s.Calculate(facts.Lookup(key))
		score.ISIN = key
		out[key] = score
	}
	return out
}

// HasBadFinancials reports negative EBITDA, non-positive current P/E or
// long-term earnings yield, negative net income or negative revenue.
func HasBadFinancials(facts *domain.InstrumentFacts) bool {
	if facts == nil {
		return true
	}
	if v := facts.Valuation; v != nil {
		if v.EBITDAEur != nil && *v.EBITDAEur < 0 {
			return true
		}
		if v.PECurrent != nil && *v.PECurrent <= 0 {
			return true
		}
		if v.EarningsYieldLongTerm != nil && *v.EarningsYieldLongTerm <= 0 {
			return true
		}
	}
	if f := facts.Financials; f != nil {
		if f.NetIncomeEur != nil && *f.NetIncomeEur < 0 {
			return true
		}
		if f.RevenueEur != nil && *f.RevenueEur < 0 {
			return true
		}
	}
	return false
}

func costPenalty(facts *domain.InstrumentFacts) []Component {
	if facts.TERPct == nil {
		return nil
	}
	ter := *facts.TERPct
	var points float64
	switch {
	case ter <= 0.2:
		points = 0
	case ter <= 0.5:
		points = 10
	case ter <= 1.0:
		points = 20
	default:
		points = 30
	}
	return []Component{{Criterion: CriterionTER, Points: points}}
}

func riskPenalty(facts *domain.InstrumentFacts) []Component {
	if facts.RiskIndicator == nil || *facts.RiskIndicator <= 0 {
		return nil
	}
	v := *facts.RiskIndicator
	if v <= 3 {
		return []Component{{Criterion: CriterionRiskIndicator, Points: 0}}
	}
	return []Component{{Criterion: CriterionRiskIndicator, Points: float64(v-3) * 8}}
}

func valuationPenalty(v *domain.Valuation) []Component {
	if v == nil {
		return nil
	}

	var parts []Component
	if v.PECurrent != nil {
		pe := *v.PECurrent
		var points float64
		switch {
		case pe > 60:
			points = 30
		case pe > 40:
			points = 20
		case pe > 30:
			points = 10
		}
		adjusted := applyPEG(points, pegRatio(pe, epsCAGRPercent(v.EPSHistory)))
		label := CriterionPE
		if adjusted != points {
			label = CriterionPEGAdjusted
		}
		parts = append(parts, Component{Criterion: label, Points: adjusted})
	}
	if v.EVToEBITDA != nil {
		ev := *v.EVToEBITDA
		var points float64
		switch {
		case ev > 30:
			points = 25
		case ev > 20:
			points = 15
		}
		parts = append(parts, Component{Criterion: CriterionEVToEBITDA, Points: points})
	}
	if v.PriceToBook != nil {
		pb := *v.PriceToBook
		var points float64
		switch {
		case pb > 8:
			points = 20
		case pb > 4:
			points = 10
		}
		parts = append(parts, Component{Criterion: CriterionPriceToBook, Points: points})
	}
	if v.EarningsYieldLongTerm != nil {
		y := *v.EarningsYieldLongTerm
		var points float64
		switch {
		case y > 0 && y < 0.02:
			points = 20
		case y > 0 && y < 0.03:
			points = 10
		}
		parts = append(parts, Component{Criterion: CriterionEarningsYield, Points: points})
	}

	return scaleToCap(parts, maxValuationPenalty)
}

// epsCAGRPercent returns the compound EPS growth in percent between the first
// and last positive EPS years, or nil when fewer than two usable years span
// less than two years or growth is not positive.
func epsCAGRPercent(history []domain.EPSPoint) *float64 {
	byYear := make(map[int]float64)
	for _, p := range history {
		if p.EPS > 0 {
			byYear[p.Year] = p.EPS
		}
	}
	if len(byYear) < 2 {
		return nil
	}
	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	first, last := years[0], years[len(years)-1]
	span := last - first
	if span < 2 {
		return nil
	}
	ratio := byYear[last] / byYear[first]
	if math.IsInf(ratio, 0) || math.IsNaN(ratio) || ratio <= 0 {
		return nil
	}
	cagr := math.Pow(ratio, 1/float64(span)) - 1
	if math.IsInf(cagr, 0) || math.IsNaN(cagr) || cagr <= 0 {
		return nil
	}
	pct := cagr * 100
	return &pct
}

func pegRatio(pe float64, cagrPct *float64) *float64 {
	if cagrPct == nil || pe <= 0 || *cagrPct <= 0 {
		return nil
	}
	peg := pe / *cagrPct
	if math.IsInf(peg, 0) || math.IsNaN(peg) || peg <= 0 {
		return nil
	}
	return &peg
}

func applyPEG(points float64, peg *float64) float64 {
	if points <= 0 || peg == nil {
		return points
	}
	switch {
	case *peg <= 1.0:
		return points * 0.25
	case *peg <= 1.5:
		return points * 0.5
	case *peg <= 2.0:
		return points * 0.75
	default:
		return points
	}
}

func concentrationPenalty(facts *domain.InstrumentFacts) []Component {
	var parts []Component

	if len(facts.TopHoldings) > 0 {
		weights := make([]float64, 0, len(facts.TopHoldings))
		for _, h := range facts.TopHoldings {
			if w, ok := domain.NormalizeWeightPct(h.Weight); ok {
				weights = append(weights, w)
			}
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

		var points float64
		if len(weights) > 0 {
			switch {
			case weights[0] >= 0.15:
				points += 15
			case weights[0] >= 0.10:
				points += 10
			}
		}
		if len(weights) >= 3 {
			top3 := weights[0] + weights[1] + weights[2]
			switch {
			case top3 >= 0.35:
				points += 15
			case top3 >= 0.25:
				points += 10
			}
		}
		parts = append(parts, Component{Criterion: CriterionHoldingsConcentrated, Points: points})
	}

	if len(facts.Regions) > 0 {
		maxRegion := 0.0
		for _, r := range facts.Regions {
			if w, ok := domain.NormalizeWeightPct(r.Weight); ok {
				maxRegion = math.Max(maxRegion, w)
			}
		}
		var points float64
		switch {
		case maxRegion >= 0.75:
			points = 15
		case maxRegion >= 0.60:
			points = 10
		}
		parts = append(parts, Component{Criterion: CriterionRegionConcentrated, Points: points})
	}

	return parts
}

func dataQualityPenalty(facts *domain.InstrumentFacts) []Component {
	if facts.MissingFields <= 0 && facts.Warnings <= 0 {
		return nil
	}
	points := float64(max(facts.MissingFields, 0))*missingFieldPenalty + float64(max(facts.Warnings, 0))*warningPenalty
	return []Component{{Criterion: CriterionDataQuality, Points: math.Min(maxDataPenalty, points)}}
}

// scaleToCap scales every component by limit/total when the total exceeds limit
func scaleToCap(components []Component, limit float64) []Component {
	total := sumPoints(components)
	if total <= 0 || total <= limit {
		return components
	}
	ratio := limit / total
	scaled := make([]Component, len(components))
	for i, c := range components {
		scaled[i] = Component{Criterion: c.Criterion, Points: c.Points * ratio}
	}
	return scaled
}

func sumPoints(components []Component) float64 {
	total := 0.0
	for _, c := range components {
		total += c.Points
	}
	return total
}

func roundHalfUp(v float64) float64 {
	return math.Floor(v + 0.5)
}

func clampInt(v int) int {
	return min(int(maxScore), max(0, v))
}
