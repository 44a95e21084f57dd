// Package suggestions proposes brand-new instruments for layers that receive a
// budget but have nothing (or nothing suitable) to invest it in.
package suggestions

import (
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rounding"
	"github.com/aristath/layerwise/internal/modules/scoring"
)

// MaxPerLayer caps the number of new instruments suggested for one layer
const MaxPerLayer = 3

const (
	costWeight       = 0.35
	uniquenessWeight = 0.35
	valuationWeight  = 0.15

	fundBonus          = 0.3
	heldBonus          = 0.2
	gapBonusPerMatch   = 0.1
	maxGapBonus        = 0.4
	singleStockPenalty = 0.4

	unknownCostScore     = 0.5
	diversifyingOverlap  = 0.4
	maxRationaleSegments = 2
)

// GapPolicy decides which instruments define a layer's existing coverage
type GapPolicy string

const (
	// SavingPlanGaps compares candidates against the saving plan only
	SavingPlanGaps GapPolicy = "SAVING_PLAN_GAPS"
	// PortfolioGaps compares candidates against saving plan and held instruments
	PortfolioGaps GapPolicy = "PORTFOLIO_GAPS"
)

// ParseGapPolicy is lenient: anything mentioning "portfolio" selects
// PortfolioGaps, everything else (including blank) SavingPlanGaps.
func ParseGapPolicy(raw string) GapPolicy {
	if strings.Contains(domain.NormalizeLabel(raw), "portfolio") {
		return PortfolioGaps
	}
	return SavingPlanGaps
}

// Suggestion is a proposed new saving plan position
type Suggestion struct {
	ISIN      string             `json:"isin" msgpack:"isin"`
	Name      string             `json:"name" msgpack:"name"`
	Layer     domain.LayerID     `json:"layer" msgpack:"layer"`
	Amount    float64            `json:"amount" msgpack:"amount"`
	Score     float64            `json:"score" msgpack:"score"`
	Rationale string             `json:"rationale" msgpack:"rationale"`
	Reasons   domain.ReasonCodes `json:"reason_codes" msgpack:"reason_codes"`
}

// LayerRequest is everything needed to suggest instruments for one layer
type LayerRequest struct {
	Layer  domain.LayerID
	Budget float64
	// SavingPlan lists the ISINs with a contribution item in this layer
	SavingPlan []string
	// Held lists ISINs held in this layer, with or without a saving plan
	Held []string
	// Candidates is the universe of instruments that could be suggested
	Candidates []*domain.InstrumentFacts
	Facts      domain.FactsIndex
	Policy     GapPolicy
	// MinimumAmount is the smallest amount a new position may receive
	MinimumAmount float64
	// MaxInstruments caps saving plan positions per layer; 0 means MaxPerLayer
	MaxInstruments int
	// RequireGap only suggests when candidates cover something the layer lacks
	RequireGap bool
}

// Skip reasons reported when a layer receives no suggestion
const (
	SkipNoCandidates    = "no candidates"
	SkipIncompleteFacts = "incomplete facts"
	SkipNoSlots         = "no free slots"
	SkipBudget          = "budget below minimum"
	SkipNoGap           = "no coverage gap"
)

// LayerResult carries the suggestions for one layer
type LayerResult struct {
	Layer       domain.LayerID `json:"layer" msgpack:"layer"`
	Suggestions []Suggestion   `json:"suggestions" msgpack:"suggestions"`
	Skipped     string         `json:"skipped,omitempty" msgpack:"skipped,omitempty"`
}

// Reserved returns the sum of suggested amounts
func (r LayerResult) Reserved() float64 {
	var total float64
	for _, s := range r.Suggestions {
		total += s.Amount
	}
	return total
}

// Suggester picks new instruments from a candidate universe
type Suggester struct {
	log zerolog.Logger
}

// NewSuggester creates a new suggester
func NewSuggester(log zerolog.Logger) *Suggester {
	return &Suggester{
		log: log.With().Str("component", "gap_suggester").Logger(),
	}
}

// SuggestLayer selects up to min(3, free slots, budget/minimum) candidates
// for req.Layer and splits the budget across them.
//
// No suggestion is made unless every candidate of the layer has complete facts.
func (s *Suggester) SuggestLayer(req LayerRequest) LayerResult {
	result := LayerResult{Layer: req.Layer, Suggestions: []Suggestion{}}

	planned := isinSet(req.SavingPlan)
	held := isinSet(req.Held)

	var pool []*domain.InstrumentFacts
	for _, c := range req.Candidates {
		if c == nil || domain.ClassifyLayer(int(c.Layer)) != req.Layer {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) == 0 {
		return s.skip(result, SkipNoCandidates)
	}
	for _, c := range pool {
		if !c.Complete {
			return s.skip(result, SkipIncompleteFacts)
		}
	}

	var candidates []*domain.InstrumentFacts
	for _, c := range pool {
		if _, ok := planned[domain.NormalizeISIN(c.ISIN)]; !ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return s.skip(result, SkipNoCandidates)
	}

	limit := req.MaxInstruments
	if limit <= 0 {
		limit = MaxPerLayer
	}
	slots := min(MaxPerLayer, limit-len(planned))
	if slots <= 0 {
		return s.skip(result, SkipNoSlots)
	}
	total := float64(rounding.IntegerTotal(math.Max(0, req.Budget)))
	if req.MinimumAmount > 0 {
		slots = min(slots, int(total/req.MinimumAmount))
	}
	if slots <= 0 || total <= 0 {
		return s.skip(result, SkipBudget)
	}

	existing := factsFor(req.Facts, unionKeys(planned, held))
	reference := factsFor(req.Facts, planned)
	if req.Policy == PortfolioGaps {
		reference = existing
	}
	missing := missingCoverage(newCoverage(reference), newCoverage(pool))
	if req.RequireGap && len(planned) > 0 && missing.empty() {
		return s.skip(result, SkipNoGap)
	}

	type ranked struct {
		facts      *domain.InstrumentFacts
		score      float64
		redundancy float64
	}
	scoredCandidates := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		red := redundancy(c, existing)
		sc := candidateScore(c, req.Layer, red, missing)
		if _, ok := held[domain.NormalizeISIN(c.ISIN)]; ok {
			sc += heldBonus
		}
		scoredCandidates = append(scoredCandidates, ranked{facts: c, score: sc, redundancy: red})
	}
	sort.Slice(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].score != scoredCandidates[j].score {
			return scoredCandidates[i].score > scoredCandidates[j].score
		}
		return domain.NormalizeISIN(scoredCandidates[i].facts.ISIN) < domain.NormalizeISIN(scoredCandidates[j].facts.ISIN)
	})
	if len(scoredCandidates) > slots {
		scoredCandidates = scoredCandidates[:slots]
	}

	isins := make([]string, len(scoredCandidates))
	for i, rc := range scoredCandidates {
		isins[i] = domain.NormalizeISIN(rc.facts.ISIN)
	}
	amounts := splitBudget(isins, total, req.MinimumAmount)
	for i, rc := range scoredCandidates {
		if amounts[i] <= 0 {
			continue
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			ISIN:      isins[i],
			Name:      rc.facts.Name,
			Layer:     req.Layer,
			Amount:    amounts[i],
			Score:     roundScore(rc.score),
			Rationale: rationale(rc.facts, req.Layer, missing, rc.redundancy, len(existing) > 0),
			Reasons:   domain.ReasonCodes{domain.ReasonKBGapSuggestion},
		})
	}

	s.log.Debug().
		Int("layer", int(req.Layer)).
		Int("suggestions", len(result.Suggestions)).
		Float64("reserved", result.Reserved()).
		Msg("Suggested new instruments")
	return result
}

func (s *Suggester) skip(result LayerResult, reason string) LayerResult {
	result.Skipped = reason
	s.log.Debug().Int("layer", int(result.Layer)).Str("reason", reason).Msg("No instrument suggestion for layer")
	return result
}

// candidateScore blends cost, uniqueness and valuation with type and gap bonuses
func candidateScore(c *domain.InstrumentFacts, layer domain.LayerID, redundancy float64, missing coverage) float64 {
	cost := unknownCostScore
	if c.TERPct != nil {
		cost = 1 / (1 + math.Max(0, *c.TERPct))
	}
	valuation, _ := scoring.ValuationScore(c)

	score := cost*costWeight + (1-redundancy)*uniquenessWeight + valuation*valuationWeight
	if c.IsFund() {
		score += fundBonus
	}
	score += math.Min(maxGapBonus, float64(missing.matches(c))*gapBonusPerMatch)
	if c.IsSingleStock() && layer <= domain.LayerThemes {
		score -= singleStockPenalty
	}
	return score
}

// splitBudget gives every ISIN min + floor(extra/count); the leftover euros go
// one at a time in ISIN order
func splitBudget(isins []string, total, minimum float64) []float64 {
	out := make([]float64, len(isins))
	count := float64(len(isins))
	if count == 0 || total <= 0 {
		return out
	}
	minimum = math.Max(0, math.Floor(minimum))
	if total < minimum*count {
		return out
	}
	base := minimum + math.Floor((total-minimum*count)/count)
	for i := range out {
		out[i] = base
	}
	order := make([]int, len(isins))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return isins[order[a]] < isins[order[b]] })
	for k, left := 0, int(total-base*count); left > 0; k, left = k+1, left-1 {
		out[order[k%len(order)]]++
	}
	return out
}

// redundancy averages benchmark, region and top-holding overlap with the
// layer's existing instruments
func redundancy(c *domain.InstrumentFacts, existing []*domain.InstrumentFacts) float64 {
	if len(existing) == 0 {
		return 0
	}
	var sum float64
	components := 0

	if bench := domain.NormalizeLabel(c.BenchmarkIndex); bench != "" {
		matches := 0
		for _, e := range existing {
			if domain.NormalizeLabel(e.BenchmarkIndex) == bench {
				matches++
			}
		}
		sum += float64(matches) / float64(len(existing))
		components++
	}
	if v, ok := averageOverlap(names(c.Regions), existing, func(f *domain.InstrumentFacts) []domain.Exposure { return f.Regions }); ok {
		sum += v
		components++
	}
	if v, ok := averageOverlap(names(c.TopHoldings), existing, func(f *domain.InstrumentFacts) []domain.Exposure { return f.TopHoldings }); ok {
		sum += v
		components++
	}
	if components == 0 {
		return 0
	}
	return sum / float64(components)
}

func averageOverlap(base map[string]struct{}, existing []*domain.InstrumentFacts, pick func(*domain.InstrumentFacts) []domain.Exposure) (float64, bool) {
	if len(base) == 0 {
		return 0, false
	}
	var sum float64
	count := 0
	for _, e := range existing {
		other := names(pick(e))
		if len(other) == 0 {
			continue
		}
		common := 0
		for name := range base {
			if _, ok := other[name]; ok {
				common++
			}
		}
		sum += float64(common) / float64(max(len(base), len(other)))
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// coverage is the set of categories a group of instruments spans
type coverage struct {
	subClasses map[string]struct{}
	regions    map[string]struct{}
	sectors    map[string]struct{}
}

func newCoverage(group []*domain.InstrumentFacts) coverage {
	c := coverage{subClasses: map[string]struct{}{}, regions: map[string]struct{}{}, sectors: map[string]struct{}{}}
	for _, f := range group {
		if sub := domain.NormalizeLabel(f.SubClass); sub != "" {
			c.subClasses[sub] = struct{}{}
		}
		for name := range names(f.Regions) {
			c.regions[name] = struct{}{}
		}
		for name := range names(f.Sectors) {
			c.sectors[name] = struct{}{}
		}
	}
	return c
}

func missingCoverage(existing, available coverage) coverage {
	return coverage{
		subClasses: diff(available.subClasses, existing.subClasses),
		regions:    diff(available.regions, existing.regions),
		sectors:    diff(available.sectors, existing.sectors),
	}
}

func (c coverage) empty() bool {
	return len(c.subClasses) == 0 && len(c.regions) == 0 && len(c.sectors) == 0
}

// matches counts the missing categories f fills, at most one per kind
func (c coverage) matches(f *domain.InstrumentFacts) int {
	count := 0
	if _, ok := c.subClasses[domain.NormalizeLabel(f.SubClass)]; ok {
		count++
	}
	if len(sortedOverlap(c.regions, names(f.Regions))) > 0 {
		count++
	}
	if len(sortedOverlap(c.sectors, names(f.Sectors))) > 0 {
		count++
	}
	return count
}

func rationale(f *domain.InstrumentFacts, layer domain.LayerID, missing coverage, redundancy float64, hasExisting bool) string {
	var gaps []string
	if sub := domain.NormalizeLabel(f.SubClass); sub != "" {
		if _, ok := missing.subClasses[sub]; ok {
			gaps = append(gaps, "Fills missing sub-class: "+strings.TrimSpace(f.SubClass)+".")
		}
	}
	if regions := sortedOverlap(missing.regions, names(f.Regions)); len(regions) > 0 {
		gaps = append(gaps, "Adds regional exposure to "+regions[0]+".")
	}
	if sectors := sortedOverlap(missing.sectors, names(f.Sectors)); len(sectors) > 0 {
		gaps = append(gaps, "Adds missing theme exposure: "+sectors[0]+".")
	}
	if len(gaps) > maxRationaleSegments {
		gaps = gaps[:maxRationaleSegments]
	}

	text := "Adds exposure to build a baseline allocation in this layer."
	if len(gaps) > 0 {
		text = strings.Join(gaps, " ")
	}
	if selection := selectionReason(f, layer, redundancy, hasExisting); selection != "" {
		text += " Selected because " + selection + "."
	}
	return text
}

func selectionReason(f *domain.InstrumentFacts, layer domain.LayerID, redundancy float64, hasExisting bool) string {
	var reasons []string
	if f.TERPct != nil {
		reasons = append(reasons, "low ongoing charges ("+decimal.NewFromFloat(*f.TERPct).StringFixed(2)+"%)")
	}
	if bench := strings.TrimSpace(f.BenchmarkIndex); bench != "" {
		reasons = append(reasons, "tracks "+bench)
	}
	assessable := strings.TrimSpace(f.BenchmarkIndex) != "" || len(f.Regions) > 0 || len(f.TopHoldings) > 0
	if hasExisting && assessable && redundancy < diversifyingOverlap {
		reasons = append(reasons, "diversifies existing holdings")
	}
	if layer <= domain.LayerThemes && f.IsFund() {
		reasons = append(reasons, "suited to core allocation style")
	}
	if len(reasons) > maxRationaleSegments {
		reasons = reasons[:maxRationaleSegments]
	}
	return strings.Join(reasons, "; ")
}

func names(items []domain.Exposure) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		if name := domain.NormalizeLabel(item.Name); name != "" {
			out[name] = struct{}{}
		}
	}
	return out
}

func diff(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func sortedOverlap(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func isinSet(isins []string) map[string]struct{} {
	out := make(map[string]struct{}, len(isins))
	for _, isin := range isins {
		if n := domain.NormalizeISIN(isin); n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func unionKeys(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// factsFor resolves facts for a set of ISINs in ISIN order, skipping unknowns
func factsFor(idx domain.FactsIndex, isins map[string]struct{}) []*domain.InstrumentFacts {
	keys := make([]string, 0, len(isins))
	for k := range isins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []*domain.InstrumentFacts
	for _, k := range keys {
		if f := idx.Lookup(k); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func roundScore(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
