package suggestions

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/layerwise/internal/domain"
)

func newTestSuggester() *Suggester {
	return NewSuggester(zerolog.New(nil).Level(zerolog.Disabled))
}

func etf(isin string, layer domain.LayerID, ter float64, region string) *domain.InstrumentFacts {
	return &domain.InstrumentFacts{
		ISIN:           isin,
		Name:           "Fund " + isin,
		Layer:          layer,
		InstrumentType: domain.InstrumentTypeETF,
		TERPct:         domain.Float(ter),
		Regions:        []domain.Exposure{{Name: region, Weight: domain.Float(100)}},
		Complete:       true,
	}
}

func TestParseGapPolicy(t *testing.T) {
	tests := []struct {
		raw  string
		want GapPolicy
	}{
		{"", SavingPlanGaps},
		{"saving_plan_gaps", SavingPlanGaps},
		{"savingplan", SavingPlanGaps},
		{"PORTFOLIO_GAPS", PortfolioGaps},
		{" portfolio ", PortfolioGaps},
		{"whole-portfolio-view", PortfolioGaps},
		{"nonsense", SavingPlanGaps},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseGapPolicy(tt.raw), "raw %q", tt.raw)
	}
}

func TestSuggestLayer_EmptyLayerGetsBaselineSuggestion(t *testing.T) {
	candidates := []*domain.InstrumentFacts{
		etf("IE000000000B", domain.LayerThemes, 0.4, "Asia"),
		etf("IE000000000A", domain.LayerThemes, 0.2, "Europe"),
	}

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:         domain.LayerThemes,
		Budget:        80,
		Candidates:    candidates,
		MinimumAmount: 25,
	})

	require.Empty(t, got.Skipped)
	require.Len(t, got.Suggestions, 2)
	// lower TER ranks first
	assert.Equal(t, "IE000000000A", got.Suggestions[0].ISIN)
	assert.Equal(t, 40.0, got.Suggestions[0].Amount)
	assert.Equal(t, 40.0, got.Suggestions[1].Amount)
	assert.Equal(t, 80.0, got.Reserved())
	for _, s := range got.Suggestions {
		assert.Equal(t, domain.ReasonCodes{domain.ReasonKBGapSuggestion}, s.Reasons)
		assert.Equal(t, domain.LayerThemes, s.Layer)
	}
}

func TestSuggestLayer_IncompleteFactsSuppressSuggestions(t *testing.T) {
	incomplete := etf("IE000000000C", domain.LayerThemes, 0.3, "Asia")
	incomplete.Complete = false

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:         domain.LayerThemes,
		Budget:        80,
		Candidates:    []*domain.InstrumentFacts{etf("IE000000000A", domain.LayerThemes, 0.2, "Europe"), incomplete},
		MinimumAmount: 25,
	})

	assert.Empty(t, got.Suggestions)
	assert.Equal(t, SkipIncompleteFacts, got.Skipped)
	assert.Zero(t, got.Reserved())
}

func TestSuggestLayer_BudgetLimitsCount(t *testing.T) {
	candidates := []*domain.InstrumentFacts{
		etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe"),
		etf("IE000000000B", domain.LayerCorePlus, 0.3, "Asia"),
		etf("IE000000000C", domain.LayerCorePlus, 0.4, "Americas"),
		etf("IE000000000D", domain.LayerCorePlus, 0.5, "Africa"),
	}

	tests := []struct {
		name    string
		budget  float64
		want    []float64
		skipped string
	}{
		{name: "three slots", budget: 101, want: []float64{34, 34, 33}},
		{name: "budget for two", budget: 74, want: []float64{37, 37}},
		{name: "budget for one", budget: 49.4, want: []float64{49}},
		{name: "below minimum", budget: 20, skipped: SkipBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestSuggester().SuggestLayer(LayerRequest{
				Layer:         domain.LayerCorePlus,
				Budget:        tt.budget,
				Candidates:    candidates,
				MinimumAmount: 25,
			})
			assert.Equal(t, tt.skipped, got.Skipped)
			var amounts []float64
			for _, s := range got.Suggestions {
				amounts = append(amounts, s.Amount)
			}
			assert.Equal(t, tt.want, amounts)
		})
	}
}

func TestSuggestLayer_RespectsFreeSlots(t *testing.T) {
	candidates := []*domain.InstrumentFacts{
		etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe"),
		etf("IE000000000B", domain.LayerCorePlus, 0.3, "Asia"),
		etf("IE000000000C", domain.LayerCorePlus, 0.4, "Americas"),
	}
	facts := domain.FactsIndex{"IE000000000A": candidates[0]}

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:          domain.LayerCorePlus,
		Budget:         100,
		SavingPlan:     []string{"IE000000000A"},
		Candidates:     candidates,
		Facts:          facts,
		MinimumAmount:  25,
		MaxInstruments: 2,
	})

	require.Len(t, got.Suggestions, 1)
	assert.NotEqual(t, "IE000000000A", got.Suggestions[0].ISIN)
	assert.Equal(t, 100.0, got.Suggestions[0].Amount)

	full := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:          domain.LayerCorePlus,
		Budget:         100,
		SavingPlan:     []string{"IE000000000A"},
		Candidates:     candidates,
		Facts:          facts,
		MinimumAmount:  25,
		MaxInstruments: 1,
	})
	assert.Equal(t, SkipNoSlots, full.Skipped)
}

func TestSuggestLayer_PrefersMissingRegion(t *testing.T) {
	existing := etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe")
	sameRegion := etf("IE000000000B", domain.LayerCorePlus, 0.2, "Europe")
	newRegion := etf("IE000000000C", domain.LayerCorePlus, 0.2, "Asia")

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:         domain.LayerCorePlus,
		Budget:        30,
		SavingPlan:    []string{existing.ISIN},
		Candidates:    []*domain.InstrumentFacts{existing, sameRegion, newRegion},
		Facts:         domain.FactsIndex{existing.ISIN: existing},
		MinimumAmount: 25,
		RequireGap:    true,
	})

	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, "IE000000000C", got.Suggestions[0].ISIN)
	assert.Contains(t, got.Suggestions[0].Rationale, "Adds regional exposure to asia.")
	assert.Contains(t, got.Suggestions[0].Rationale, "Selected because low ongoing charges (0.20%)")
}

func TestSuggestLayer_RequireGapWithoutMissingCoverage(t *testing.T) {
	existing := etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe")
	twin := etf("IE000000000B", domain.LayerCorePlus, 0.2, "Europe")

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:         domain.LayerCorePlus,
		Budget:        30,
		SavingPlan:    []string{existing.ISIN},
		Candidates:    []*domain.InstrumentFacts{existing, twin},
		Facts:         domain.FactsIndex{existing.ISIN: existing},
		MinimumAmount: 25,
		RequireGap:    true,
	})

	assert.Equal(t, SkipNoGap, got.Skipped)
}

func TestSuggestLayer_PortfolioPolicyCountsHeldInstruments(t *testing.T) {
	held := etf("IE000000000H", domain.LayerCorePlus, 0.2, "Asia")
	candidate := etf("IE000000000C", domain.LayerCorePlus, 0.2, "Asia")
	other := etf("IE000000000P", domain.LayerCorePlus, 0.2, "Europe")
	planned := etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe")
	facts := domain.FactsIndex{held.ISIN: held, planned.ISIN: planned}

	req := LayerRequest{
		Layer:         domain.LayerCorePlus,
		Budget:        25,
		SavingPlan:    []string{planned.ISIN},
		Held:          []string{held.ISIN},
		Candidates:    []*domain.InstrumentFacts{planned, candidate, other},
		Facts:         facts,
		MinimumAmount: 25,
		RequireGap:    true,
	}

	// against the saving plan alone Asia is missing
	got := newTestSuggester().SuggestLayer(req)
	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, "IE000000000C", got.Suggestions[0].ISIN)

	// held instruments already cover Asia
	req.Policy = PortfolioGaps
	got = newTestSuggester().SuggestLayer(req)
	assert.Equal(t, SkipNoGap, got.Skipped)
}

func TestSuggestLayer_HeldInstrumentBonus(t *testing.T) {
	a := etf("IE000000000A", domain.LayerCorePlus, 0.2, "Europe")
	b := etf("IE000000000B", domain.LayerCorePlus, 0.2, "Europe")

	got := newTestSuggester().SuggestLayer(LayerRequest{
		Layer:         domain.LayerCorePlus,
		Budget:        25,
		Held:          []string{b.ISIN},
		Candidates:    []*domain.InstrumentFacts{a, b},
		MinimumAmount: 25,
	})

	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, "IE000000000B", got.Suggestions[0].ISIN)
}

func TestCandidateScore(t *testing.T) {
	stock := &domain.InstrumentFacts{ISIN: "US0000000001", InstrumentType: domain.InstrumentTypeStock}
	fund := &domain.InstrumentFacts{ISIN: "IE0000000001", InstrumentType: domain.InstrumentTypeETF, TERPct: domain.Float(0)}
	none := coverage{}

	// unknown cost 0.5, no overlap, no valuation
	assert.InDelta(t, 0.5*0.35+0.35-0.4, candidateScore(stock, domain.LayerThemes, 0, none), 1e-12)
	assert.InDelta(t, 0.5*0.35+0.35, candidateScore(stock, domain.LayerIndividualStocks, 0, none), 1e-12)
	assert.InDelta(t, 0.35+0.35*0.5+0.3, candidateScore(fund, domain.LayerGlobalCore, 0.5, none), 1e-12)

	missing := coverage{
		subClasses: map[string]struct{}{"small cap": {}},
		regions:    map[string]struct{}{"asia": {}},
		sectors:    map[string]struct{}{},
	}
	fund.SubClass = "Small Cap"
	fund.Regions = []domain.Exposure{{Name: "Asia"}}
	assert.InDelta(t, 0.35+0.35+0.3+0.2, candidateScore(fund, domain.LayerGlobalCore, 0, missing), 1e-12)
}

func TestSplitBudget(t *testing.T) {
	assert.Equal(t, []float64{34, 33, 34}, splitBudget([]string{"B", "C", "A"}, 101, 25))
	assert.Equal(t, []float64{0, 0}, splitBudget([]string{"A", "B"}, 40, 25))
	assert.Equal(t, []float64{20, 20}, splitBudget([]string{"A", "B"}, 40, 0))
}
