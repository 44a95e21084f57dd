package scoring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/layerwise/internal/domain"
)

func TestInstrumentScorer_CostAndRisk(t *testing.T) {
	scorer := NewInstrumentScorer(51)

	score := scorer.Calculate(&domain.InstrumentFacts{
		ISIN:          "ie00b4l5y983",
		TERPct:        domain.Float(0.6),
		RiskIndicator: domain.Int(5),
	})

	assert.Equal(t, "IE00B4L5Y983", score.ISIN)
	assert.Equal(t, 36, score.Score)
	assert.False(t, score.BadFinancials)
	assert.Equal(t, []Component{
		{Criterion: CriterionTER, Points: 20},
		{Criterion: CriterionRiskIndicator, Points: 16},
	}, score.Components)
	assert.True(t, score.Eligible(51))
}

func TestInstrumentScorer_TERBuckets(t *testing.T) {
	tests := []struct {
		ter  float64
		want int
	}{
		{0.07, 0},
		{0.2, 0},
		{0.35, 10},
		{0.5, 10},
		{0.9, 20},
		{1.0, 20},
		{1.8, 30},
	}

	scorer := NewInstrumentScorer(51)
	for _, tt := range tests {
		score := scorer.Calculate(&domain.InstrumentFacts{TERPct: domain.Float(tt.ter)})
		assert.Equal(t, tt.want, score.Score, "TER %v", tt.ter)
	}
}

func TestInstrumentScorer_LowRiskIndicatorRecordedAsZero(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{RiskIndicator: domain.Int(3)})

	assert.Equal(t, 0, score.Score)
	require.Len(t, score.Components, 1)
	assert.Equal(t, Component{Criterion: CriterionRiskIndicator, Points: 0}, score.Components[0])
}

func TestInstrumentScorer_ValuationCappedAt35(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{
		Valuation: &domain.Valuation{
			PECurrent:             domain.Float(70),
			EVToEBITDA:            domain.Float(35),
			PriceToBook:           domain.Float(10),
			EarningsYieldLongTerm: domain.Float(0.01),
		},
	})

	assert.Equal(t, 35, score.Score)
	assert.False(t, score.BadFinancials)
	require.Len(t, score.Components, 4)
	assert.InDelta(t, 30*35.0/95, score.Components[0].Points, 1e-9)
	assert.InDelta(t, 25*35.0/95, score.Components[1].Points, 1e-9)
	assert.InDelta(t, 35, sumPoints(score.Components), 1e-9)
}

func TestInstrumentScorer_TotalScaledTo100(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{
		TERPct:        domain.Float(1.5),
		RiskIndicator: domain.Int(7),
		Valuation: &domain.Valuation{
			PECurrent:             domain.Float(70),
			EVToEBITDA:            domain.Float(35),
			PriceToBook:           domain.Float(10),
			EarningsYieldLongTerm: domain.Float(0.01),
		},
		TopHoldings: []domain.Exposure{
			{Name: "A", Weight: domain.Float(0.20)},
			{Name: "B", Weight: domain.Float(0.15)},
			{Name: "C", Weight: domain.Float(0.10)},
		},
		Regions:       []domain.Exposure{{Name: "US", Weight: domain.Float(80)}},
		MissingFields: 10,
	})

	assert.Equal(t, 100, score.Score)
	assert.InDelta(t, 100, sumPoints(score.Components), 1e-9)
}

func TestInstrumentScorer_PEGAdjustment(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{
		Valuation: &domain.Valuation{
			PECurrent: domain.Float(35),
			EPSHistory: []domain.EPSPoint{
				{Year: 2019, EPS: 1.0},
				{Year: 2020, EPS: -0.2},
				{Year: 2021, EPS: 1.96},
			},
		},
	})

	require.Len(t, score.Components, 1)
	assert.Equal(t, CriterionPEGAdjusted, score.Components[0].Criterion)
	assert.InDelta(t, 2.5, score.Components[0].Points, 1e-9)
	assert.Equal(t, 3, score.Score)
}

func TestInstrumentScorer_PEGNeedsTwoYearSpan(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{
		Valuation: &domain.Valuation{
			PECurrent:  domain.Float(35),
			EPSHistory: []domain.EPSPoint{{Year: 2020, EPS: 1}, {Year: 2021, EPS: 2}},
		},
	})

	require.Len(t, score.Components, 1)
	assert.Equal(t, CriterionPE, score.Components[0].Criterion)
	assert.Equal(t, 10, score.Score)
}

func TestInstrumentScorer_Concentration(t *testing.T) {
	score := NewInstrumentScorer(51).Calculate(&domain.InstrumentFacts{
		TopHoldings: []domain.Exposure{
			{Name: "Apple", Weight: domain.Float(8)},
			{Name: "Microsoft", Weight: domain.Float(12)},
			{Name: "Nvidia", Weight: domain.Float(6)},
			{Name: "Unknown"},
		},
		Regions: []domain.Exposure{
			{Name: "North America", Weight: domain.Float(65)},
			{Name: "Europe", Weight: domain.Float(35)},
		},
	})

	assert.Equal(t, []Component{
		{Criterion: CriterionHoldingsConcentrated, Points: 20},
		{Criterion: CriterionRegionConcentrated, Points: 10},
	}, score.Components)
	assert.Equal(t, 30, score.Score)
}

func TestInstrumentScorer_DataQualityCapped(t *testing.T) {
	scorer := NewInstrumentScorer(51)

	assert.Equal(t, 11, scorer.Calculate(&domain.InstrumentFacts{MissingFields: 2, Warnings: 1}).Score)
	assert.Equal(t, 20, scorer.Calculate(&domain.InstrumentFacts{MissingFields: 5, Warnings: 3}).Score)
}

func TestInstrumentScorer_BadFinancialsFloor(t *testing.T) {
	tests := []struct {
		name  string
		facts *domain.InstrumentFacts
	}{
		{"negative ebitda", &domain.InstrumentFacts{Valuation: &domain.Valuation{EBITDAEur: domain.Float(-1e6)}}},
		{"non-positive pe", &domain.InstrumentFacts{Valuation: &domain.Valuation{PECurrent: domain.Float(-5)}}},
		{"non-positive earnings yield", &domain.InstrumentFacts{Valuation: &domain.Valuation{EarningsYieldLongTerm: domain.Float(0)}}},
		{"net loss", &domain.InstrumentFacts{Financials: &domain.Financials{NetIncomeEur: domain.Float(-10)}}},
		{"negative revenue", &domain.InstrumentFacts{Financials: &domain.Financials{RevenueEur: domain.Float(-10)}}},
	}

	scorer := NewInstrumentScorer(51)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := scorer.Calculate(tt.facts)
			assert.True(t, score.BadFinancials)
			assert.Equal(t, 51, score.Score)
			last := score.Components[len(score.Components)-1]
			assert.Equal(t, CriterionBadFinancialsFloor, last.Criterion)
			assert.False(t, score.Eligible(scorer.Cutoff()))
		})
	}
}

func TestInstrumentScorer_BadFinancialsAboveCutoffKeepsScore(t *testing.T) {
	score := NewInstrumentScorer(30).Calculate(&domain.InstrumentFacts{
		TERPct:        domain.Float(1.5),
		RiskIndicator: domain.Int(6),
		Financials:    &domain.Financials{NetIncomeEur: domain.Float(-1)},
	})

	assert.True(t, score.BadFinancials)
	assert.Equal(t, 54, score.Score)
	for _, c := range score.Components {
		assert.NotEqual(t, CriterionBadFinancialsFloor, c.Criterion)
	}
}

func TestInstrumentScorer_NilFacts(t *testing.T) {
	score := NewInstrumentScorer(50.5).Calculate(nil)

	assert.Equal(t, 51, score.Score)
	assert.True(t, score.BadFinancials)
	assert.NotNil(t, score.Components)
	assert.Empty(t, score.Components)
}

func TestInstrumentScorer_CalculateAll(t *testing.T) {
	facts := domain.FactsIndex{
		"IE00B4L5Y983": {ISIN: "IE00B4L5Y983", TERPct: domain.Float(0.2)},
	}

	scores := NewInstrumentScorer(51).CalculateAll([]string{" ie00b4l5y983", "LU0000000000"}, facts)

	require.Len(t, scores, 2)
	assert.Equal(t, 0, scores["IE00B4L5Y983"].Score)
	assert.Equal(t, 51, scores["LU0000000000"].Score)
	assert.Equal(t, "LU0000000000", scores["LU0000000000"].ISIN)
}

func TestInstrumentScorer_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	opt := func(lo, hi float64) *float64 {
		if rng.Intn(3) == 0 {
			return nil
		}
		return domain.Float(lo + rng.Float64()*(hi-lo))
	}

	for run := 0; run < 300; run++ {
		cutoff := 20 + rng.Float64()*60
		facts := &domain.InstrumentFacts{
			TERPct:        opt(0, 3),
			RiskIndicator: domain.Int(rng.Intn(8)),
			Valuation: &domain.Valuation{
				PECurrent:             opt(-10, 120),
				EVToEBITDA:            opt(0, 60),
				PriceToBook:           opt(0, 15),
				EarningsYieldLongTerm: opt(-0.05, 0.1),
				EBITDAEur:             opt(-1e8, 1e9),
			},
			TopHoldings: []domain.Exposure{
				{Name: "a", Weight: opt(0, 40)},
				{Name: "b", Weight: opt(0, 40)},
				{Name: "c", Weight: opt(0, 40)},
			},
			Regions:       []domain.Exposure{{Name: "x", Weight: opt(0, 100)}},
			MissingFields: rng.Intn(10),
			Warnings:      rng.Intn(5),
		}

		score := NewInstrumentScorer(cutoff).Calculate(facts)
		assert.GreaterOrEqual(t, score.Score, 0)
		assert.LessOrEqual(t, score.Score, 100)
		if score.BadFinancials {
			assert.GreaterOrEqual(t, float64(score.Score), cutoff, "run %d", run)
		}
	}
}

func TestValuationScore(t *testing.T) {
	t.Run("no facts", func(t *testing.T) {
		_, ok := ValuationScore(nil)
		assert.False(t, ok)
		_, ok = ValuationScore(&domain.InstrumentFacts{})
		assert.False(t, ok)
	})

	t.Run("no positive signal", func(t *testing.T) {
		_, ok := ValuationScore(&domain.InstrumentFacts{
			Valuation: &domain.Valuation{PECurrent: domain.Float(-3), PriceToBook: domain.Float(0)},
		})
		assert.False(t, ok)
	})

	t.Run("etf weights", func(t *testing.T) {
		got, ok := ValuationScore(&domain.InstrumentFacts{
			InstrumentType: domain.InstrumentTypeETF,
			Valuation: &domain.Valuation{
				EarningsYieldHoldings:  domain.Float(0.05),
				PriceToBook:            domain.Float(4),
				PEMethod:               "ttm",
				PEHorizon:              "normalized",
				NegativeEarningsPolicy: "exclude",
			},
		})
		require.True(t, ok)
		assert.InDelta(t, (0.25*0.65+0.5*0.10)/0.75, got, 1e-9)
	})

	t.Run("stock weights with default quality", func(t *testing.T) {
		got, ok := ValuationScore(&domain.InstrumentFacts{
			InstrumentType: domain.InstrumentTypeStock,
			Valuation: &domain.Valuation{
				PELongTerm: domain.Float(10),
				PECurrent:  domain.Float(20),
				EVToEBITDA: domain.Float(6),
			},
		})
		require.True(t, ok)
		base := (0.5*0.5 + 0.25*0.2 + 1*0.2) / 0.9
		assert.InDelta(t, base*0.95*0.95*0.97, got, 1e-9)
	})

	t.Run("reit uses ebitda", func(t *testing.T) {
		got, ok := ValuationScore(&domain.InstrumentFacts{
			SubClass: "Equity REIT",
			Valuation: &domain.Valuation{
				EBITDAEur:              domain.Float(5e10),
				PEMethod:               "ttm",
				PEHorizon:              "normalized",
				NegativeEarningsPolicy: "exclude",
			},
		})
		require.True(t, ok)
		assert.InDelta(t, 1.0, got, 1e-9)
	})
}

func TestQualityMultiplier(t *testing.T) {
	tests := []struct {
		name string
		v    domain.Valuation
		want float64
	}{
		{"best case", domain.Valuation{PEMethod: "TTM", PEHorizon: "normalized_5y", NegativeEarningsPolicy: "exclude"}, 1},
		{"unknown fields", domain.Valuation{}, 0.95 * 0.95 * 0.97},
		{"forward ttm set null", domain.Valuation{PEMethod: "forward", PEHorizon: "ttm", NegativeEarningsPolicy: "set_null"}, 0.90 * 0.95 * 0.95},
		{"everything other", domain.Valuation{PEMethod: "x", PEHorizon: "y", NegativeEarningsPolicy: "z"}, 0.92 * 0.92 * 0.92},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := qualityMultiplier(&tt.v)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, minQualityMultiplier)
		})
	}
}
