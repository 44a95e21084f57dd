package rebalancing

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
)

func newTestService(settings Settings) *Service {
	return NewService(settings, zerolog.New(nil).Level(zerolog.Disabled))
}

func item(isin string, layer domain.LayerID, amount float64) domain.ContributionItem {
	return domain.ContributionItem{ISIN: isin, DepotID: "tr", Name: "Instrument " + isin, Layer: layer, MonthlyAmount: amount}
}

func withTargets(targets layers.Amounts) Settings {
	s := DefaultSettings()
	for i := range s.Layers {
		s.Layers[i].TargetWeight = targets[i]
	}
	return s
}

func findInstrument(t *testing.T, p *Proposal, isin string) InstrumentProposal {
	t.Helper()
	for _, inst := range p.Instruments {
		if inst.ISIN == isin {
			return inst
		}
	}
	require.Failf(t, "instrument not found", "isin %s", isin)
	return InstrumentProposal{}
}

func warningLayers(p *Proposal, code string) []domain.LayerID {
	var out []domain.LayerID
	for _, w := range p.Warnings {
		if w.Code == code {
			out = append(out, w.Layer)
		}
	}
	return out
}

func TestPropose_FallbackWithoutHoldings(t *testing.T) {
	svc := newTestService(DefaultSettings())
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := svc.Propose(context.Background(), Request{
		AsOf:  asOf,
		Items: []domain.ContributionItem{item("IE00B4L5Y983", domain.LayerGlobalCore, 1000)},
	})
	require.NoError(t, err)

	want := []LayerProposal{
		{Layer: 1, Name: "Global Core", CurrentAmount: 1000, CurrentWeight: 1, TargetWeight: 0.70, ProposedAmount: 700, Delta: -300, ProjectedTargetTotal: 8400, ProjectedTargetWeight: 0.70},
		{Layer: 2, Name: "Core-Plus", TargetWeight: 0.20, ProposedAmount: 200, Delta: 200, ProjectedTargetTotal: 2400, ProjectedTargetWeight: 0.20},
		{Layer: 3, Name: "Themes", TargetWeight: 0.08, ProposedAmount: 80, Delta: 80, ProjectedTargetTotal: 960, ProjectedTargetWeight: 0.08},
		{Layer: 4, Name: "Individual Stocks", TargetWeight: 0.02, ProposedAmount: 20, Delta: 20, ProjectedTargetTotal: 240, ProjectedTargetWeight: 0.02},
		{Layer: 5, Name: "Unclassified"},
	}
	if diff := cmp.Diff(want, got.Layers, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("layer proposals mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, asOf, got.AsOf)
	assert.Equal(t, SourceTargets, got.Source)
	assert.True(t, got.Diagnostics.Fallback)
	assert.False(t, got.Diagnostics.WithinTolerance)
	assert.Equal(t, 1000.0, got.ProposedTotal())

	inst := findInstrument(t, got, "IE00B4L5Y983")
	assert.Equal(t, 700.0, inst.ProposedAmount)
	assert.Equal(t, -300.0, inst.Delta)
	assert.Equal(t, domain.ReasonCodes{domain.ReasonEqualWeight}, inst.Reasons)

	assert.Equal(t, []domain.LayerID{2, 3, 4}, warningLayers(got, domain.WarningLayerNoInstruments))
}

func TestPropose_NotWithinTolerance(t *testing.T) {
	svc := newTestService(DefaultSettings())

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 750),
			item("IE0000000002", domain.LayerCorePlus, 150),
			item("IE0000000003", domain.LayerThemes, 80),
			item("IE0000000004", domain.LayerIndividualStocks, 20),
		},
	})
	require.NoError(t, err)

	assert.False(t, got.Diagnostics.WithinTolerance)
	assert.Equal(t, SourceTargets, got.Source)
	assert.Equal(t, layers.Amounts{700, 200, 80, 20, 0}, got.ProposedAmounts())
	assert.Equal(t, 0, got.Diagnostics.SuppressedDeltaCount)
	assert.Empty(t, got.Warnings)
	assert.Equal(t, 200.0, findInstrument(t, got, "IE0000000002").ProposedAmount)
}

func TestPropose_WithinToleranceKeepsCurrentPlan(t *testing.T) {
	svc := newTestService(DefaultSettings())

	got, err := svc.Propose(context.Background(), Request{
		Holdings: layers.Amounts{7000, 2000, 800, 200, 0},
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 350),
			{ISIN: "ie0000000001", DepotID: "other", Layer: domain.LayerGlobalCore, MonthlyAmount: 350},
			item("IE0000000002", domain.LayerCorePlus, 200),
			item("IE0000000003", domain.LayerThemes, 80),
			item("IE0000000004", domain.LayerIndividualStocks, 20),
		},
	})
	require.NoError(t, err)

	assert.True(t, got.Diagnostics.WithinTolerance)
	assert.Equal(t, SourceActual, got.Source)
	assert.Equal(t, layers.Amounts{700, 200, 80, 20, 0}, got.ProposedAmounts())
	require.Len(t, got.Instruments, 4)
	for _, inst := range got.Instruments {
		assert.Equal(t, inst.CurrentAmount, inst.ProposedAmount, inst.ISIN)
		assert.Equal(t, domain.ReasonCodes{domain.ReasonNoChangeWithinTolerance}, inst.Reasons)
	}
	assert.Equal(t, 700.0, findInstrument(t, got, "IE0000000001").CurrentAmount)
	assert.Contains(t, got.Notes, "Existing saving plan distribution is within tolerance (<= 3%) and does not need adjustment.")
}

func TestPropose_SuppressesSmallLayerDelta(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.68, 0.235, 0.085, 0, 0}))

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 700),
			item("IE0000000002", domain.LayerCorePlus, 200),
			item("IE0000000003", domain.LayerThemes, 80),
			item("IE0000000004", domain.LayerIndividualStocks, 20),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, layers.Amounts{685, 235, 80, 0, 0}, got.ProposedAmounts())
	assert.Equal(t, 1, got.Diagnostics.SuppressedDeltaCount)
	assert.Equal(t, 5.0, got.Diagnostics.SuppressedAmountTotal)
	assert.Equal(t, []domain.LayerID{3}, got.Diagnostics.SkippedLayers)
	assert.Zero(t, got.Diagnostics.Residual)
	assert.Contains(t, got.Diagnostics.RedistributionNotes, "Suppressed layer deltas below minimum: [3]")
	assert.Contains(t, got.Notes, "Adjustments below 10 EUR are not proposed due to the minimum rebalancing amount.")

	dropped := findInstrument(t, got, "IE0000000004")
	assert.Zero(t, dropped.ProposedAmount)
	assert.True(t, dropped.Reasons.Has(domain.ReasonLayerBudgetZero))
}

func TestPropose_SavingPlanGateMergesSmallLayer(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.70, 0.20, 0.07, 0.02, 0.01}))

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 700),
			item("IE0000000002", domain.LayerCorePlus, 200),
			item("IE0000000003", domain.LayerThemes, 70),
			item("IE0000000004", domain.LayerIndividualStocks, 20),
			item("IE0000000005", domain.LayerUnclassified, 10),
		},
	})
	require.NoError(t, err)

	assert.True(t, got.Diagnostics.SavingPlanRebalanced)
	assert.Equal(t, []domain.LayerID{5}, got.Diagnostics.ZeroedLayers)
	assert.False(t, got.Diagnostics.WithinTolerance)
	// layer 4 would move 20 -> 30 and layer 5 10 -> 0: both changes reach the minimum
	assert.Equal(t, layers.Amounts{700, 200, 70, 30, 0}, got.ProposedAmounts())
}

func TestPropose_RaisesLoneLayerOne(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{1, 0, 0, 0, 0}))

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{item("IE0000000001", domain.LayerGlobalCore, 0), item("IE0000000002", domain.LayerCorePlus, 10)},
	})
	require.NoError(t, err)

	assert.True(t, got.Diagnostics.RaisedLayerOne)
	assert.Equal(t, layers.Amounts{15, 0, 0, 0, 0}, got.ProposedAmounts())
	assert.Contains(t, got.Notes, "Total saving plan amount is below the minimum saving plan size; increase Layer 1 to 15 EUR.")
}

func TestPropose_Preconditions(t *testing.T) {
	svc := newTestService(DefaultSettings())
	items := []domain.ContributionItem{item("IE0000000001", domain.LayerGlobalCore, 100)}

	_, err := svc.Propose(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrNoHoldings)

	_, err = svc.Propose(context.Background(), Request{Items: items, SavingPlanDelta: domain.Float(-5)})
	assert.ErrorIs(t, err, domain.ErrNegativeDelta)

	_, err = svc.Propose(context.Background(), Request{Items: items, SavingPlanDelta: domain.Float(5)})
	assert.ErrorIs(t, err, domain.ErrDeltaBelowMinimum)
	assert.True(t, domain.IsPrecondition(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Propose(ctx, Request{Items: items})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPropose_SavingPlanDeltaGrowsTotal(t *testing.T) {
	svc := newTestService(DefaultSettings())

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 700),
			item("IE0000000002", domain.LayerCorePlus, 200),
			item("IE0000000003", domain.LayerThemes, 80),
			item("IE0000000004", domain.LayerIndividualStocks, 20),
		},
		SavingPlanDelta: domain.Float(100),
	})
	require.NoError(t, err)

	assert.Equal(t, 1100.0, got.MonthlyTotal)
	assert.False(t, got.Diagnostics.WithinTolerance)
	assert.Equal(t, 1100.0, got.ProposedTotal())
	// layers 3 and 4 would only grow by 8 and 2; their share goes to layers 1 and 2
	assert.Equal(t, layers.Amounts{778, 222, 80, 20, 0}, got.ProposedAmounts())
	assert.Equal(t, []domain.LayerID{3, 4}, got.Diagnostics.SkippedLayers)
}

func TestPropose_GapLayerGetsSuggestion(t *testing.T) {
	svc := newTestService(DefaultSettings())
	complete := func(isin string, layer domain.LayerID, ter float64) *domain.InstrumentFacts {
		return &domain.InstrumentFacts{
			ISIN:           isin,
			Name:           "Candidate " + isin,
			Layer:          layer,
			InstrumentType: domain.InstrumentTypeETF,
			TERPct:         domain.Float(ter),
			Complete:       true,
		}
	}
	incomplete := complete("IE00000000T1", domain.LayerThemes, 0.4)
	incomplete.Complete = false

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{item("IE0000000001", domain.LayerGlobalCore, 1000)},
		Candidates: []*domain.InstrumentFacts{
			complete("IE00000000C1", domain.LayerCorePlus, 0.2),
			complete("IE00000000C2", domain.LayerCorePlus, 0.3),
			incomplete,
		},
	})
	require.NoError(t, err)

	require.Len(t, got.Suggestions, 2)
	for _, isin := range []string{"IE00000000C1", "IE00000000C2"} {
		inst := findInstrument(t, got, isin)
		assert.True(t, inst.New)
		assert.Equal(t, 100.0, inst.ProposedAmount)
		assert.Equal(t, domain.ReasonCodes{domain.ReasonKBGapSuggestion}, inst.Reasons)
	}
	assert.Equal(t, layers.Amounts{700, 200, 80, 20, 0}, got.ProposedAmounts())
	// the suggestion clears the warning for layer 2; layer 3 has incomplete facts
	assert.Equal(t, []domain.LayerID{3, 4}, warningLayers(got, domain.WarningLayerNoInstruments))
}

func TestPropose_RiskCutoffExcludesInstrument(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.5, 0.5, 0, 0, 0}))
	risky := &domain.InstrumentFacts{ISIN: "IE0000000002", TERPct: domain.Float(1.5), RiskIndicator: domain.Int(7)}
	safe := &domain.InstrumentFacts{ISIN: "IE0000000001", TERPct: domain.Float(0.1), RiskIndicator: domain.Int(2)}

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 500),
			item("IE0000000002", domain.LayerGlobalCore, 500),
			item("IE0000000003", domain.LayerCorePlus, 0),
		},
		Facts: domain.FactsIndex{risky.ISIN: risky, safe.ISIN: safe},
	})
	require.NoError(t, err)
	require.False(t, got.Diagnostics.WithinTolerance)

	assert.Equal(t, 500.0, findInstrument(t, got, "IE0000000001").ProposedAmount)
	excluded := findInstrument(t, got, "IE0000000002")
	assert.Zero(t, excluded.ProposedAmount)
	assert.True(t, excluded.Reasons.Has(domain.ReasonRiskNotAcceptable))
	assert.Equal(t, layers.Amounts{500, 500, 0, 0, 0}, got.ProposedAmounts())
	assert.Empty(t, warningLayers(got, WarningLayerNoEligible))
}

func TestPropose_InstrumentWithoutFactsStaysEligible(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.5, 0.5, 0, 0, 0}))
	risky := &domain.InstrumentFacts{ISIN: "IE0000000002", TERPct: domain.Float(1.5), RiskIndicator: domain.Int(7)}

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 600),
			item("IE0000000002", domain.LayerGlobalCore, 400),
		},
		Facts: domain.FactsIndex{risky.ISIN: risky},
	})
	require.NoError(t, err)

	unknown := findInstrument(t, got, "IE0000000001")
	assert.Equal(t, 500.0, unknown.ProposedAmount)
	assert.False(t, unknown.Reasons.Has(domain.ReasonRiskNotAcceptable))
	assert.True(t, findInstrument(t, got, "IE0000000002").Reasons.Has(domain.ReasonRiskNotAcceptable))
}

func TestPropose_NoEligibleInstrumentKeepsLayerBudget(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.5, 0.5, 0, 0, 0}))
	risky := &domain.InstrumentFacts{ISIN: "IE0000000002", TERPct: domain.Float(1.5), RiskIndicator: domain.Int(7)}

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000002", domain.LayerGlobalCore, 1000),
			item("IE0000000003", domain.LayerCorePlus, 0),
		},
		Facts: domain.FactsIndex{risky.ISIN: risky},
	})
	require.NoError(t, err)
	require.False(t, got.Diagnostics.WithinTolerance)

	assert.Equal(t, 1000.0, got.ProposedTotal())
	assert.Equal(t, layers.Amounts{500, 500, 0, 0, 0}, got.ProposedAmounts())
	assert.Equal(t, []domain.LayerID{1}, warningLayers(got, WarningLayerNoEligible))
	assert.True(t, findInstrument(t, got, "IE0000000002").Reasons.Has(domain.ReasonRiskNotAcceptable))
}

func TestPropose_SuppressedFractionalLayersKeepCurrentAmounts(t *testing.T) {
	svc := newTestService(withTargets(layers.Amounts{0.4, 0.6, 0, 0, 0}))

	got, err := svc.Propose(context.Background(), Request{
		Items: []domain.ContributionItem{
			item("IE0000000001", domain.LayerGlobalCore, 33.5),
			item("IE0000000002", domain.LayerCorePlus, 66.5),
		},
	})
	require.NoError(t, err)

	assert.False(t, got.Diagnostics.WithinTolerance)
	assert.False(t, got.Diagnostics.RaisedLayerOne)
	assert.Equal(t, []domain.LayerID{1, 2}, got.Diagnostics.SkippedLayers)
	assert.Equal(t, layers.Amounts{33.5, 66.5, 0, 0, 0}, got.ProposedAmounts())
	assert.Equal(t, 100.0, got.ProposedTotal())
	assert.Zero(t, got.Diagnostics.Residual)

	for isin, amount := range map[string]float64{"IE0000000001": 33.5, "IE0000000002": 66.5} {
		inst := findInstrument(t, got, isin)
		assert.Equal(t, amount, inst.ProposedAmount, isin)
		assert.Zero(t, inst.Delta, isin)
		assert.Equal(t, domain.ReasonCodes{domain.ReasonMinRebalanceAmount}, inst.Reasons, isin)
	}
}

func TestPropose_Conservation(t *testing.T) {
	svc := newTestService(DefaultSettings())
	rng := rand.New(rand.NewSource(21))

	for run := 0; run < 300; run++ {
		var req Request
		for i := range req.Holdings {
			if rng.Intn(2) == 0 {
				req.Holdings[i] = float64(rng.Intn(50000))
			}
		}
		for i := 0; i < 1+rng.Intn(6); i++ {
			layer := domain.LayerFromIndex(rng.Intn(domain.LayerCount))
			isin := "IE00000000" + string(rune('A'+i)) + "0"
			// half-euro amounts exercise fractional layer totals
			req.Items = append(req.Items, item(isin, layer, float64(rng.Intn(800))/2))
		}

		got, err := svc.Propose(context.Background(), req)
		require.NoError(t, err, "run %d", run)
		if got.Diagnostics.RaisedLayerOne {
			continue
		}
		want := math.Round(got.MonthlyTotal) + got.Diagnostics.Residual
		assert.InDelta(t, want, got.ProposedTotal(), 1e-6, "run %d", run)
		for _, l := range got.Layers {
			assert.GreaterOrEqual(t, l.ProposedAmount, 0.0, "run %d", run)
		}
	}
}

func TestAllocateOneTime(t *testing.T) {
	svc := newTestService(DefaultSettings())

	t.Run("follows gaps", func(t *testing.T) {
		got, err := svc.AllocateOneTime(context.Background(), OneTimeRequest{
			Amount:   1000,
			Holdings: layers.Amounts{7000, 1000, 800, 200, 0},
		})
		require.NoError(t, err)
		// only layer 2 is below its target weight
		assert.True(t, got.Gap)
		assert.Equal(t, layers.Amounts{0, 1000, 0, 0, 0}, got.Layers)
		assert.Empty(t, got.Merged)
	})

	t.Run("small gaps are folded into earlier layers", func(t *testing.T) {
		got, err := svc.AllocateOneTime(context.Background(), OneTimeRequest{
			Amount:   100,
			Holdings: layers.Amounts{500, 500, 0, 0, 0},
		})
		require.NoError(t, err)
		// gaps 20/8/2 pp split 67/27/6; layer 4 is below the rebalancing minimum
		assert.True(t, got.Gap)
		assert.Equal(t, layers.Amounts{73, 0, 27, 0, 0}, got.Layers)
		assert.Equal(t, []domain.LayerID{4}, got.Merged)
	})

	t.Run("layers below the instrument minimum cascade down", func(t *testing.T) {
		got, err := svc.AllocateOneTime(context.Background(), OneTimeRequest{
			Amount:   200,
			Holdings: layers.Amounts{700, 100, 200, 0, 0},
		})
		require.NoError(t, err)
		// gaps: layer 2 10 pp, layer 4 2 pp -> 167/33; 33 stays above both minimums
		assert.Equal(t, layers.Amounts{0, 167, 0, 33, 0}, got.Layers)
		assert.Empty(t, got.Merged)

		got, err = svc.AllocateOneTime(context.Background(), OneTimeRequest{
			Amount:   100,
			Holdings: layers.Amounts{700, 100, 200, 0, 0},
		})
		require.NoError(t, err)
		// 83/17: layer 4 clears the rebalancing minimum but not 25; it moves to
		// layer 3, which is still below 25 and moves on to layer 2
		assert.Equal(t, layers.Amounts{0, 100, 0, 0, 0}, got.Layers)
		assert.Equal(t, []domain.LayerID{4, 3}, got.Merged)
	})

	t.Run("empty portfolio follows targets", func(t *testing.T) {
		got, err := svc.AllocateOneTime(context.Background(), OneTimeRequest{Amount: 500})
		require.NoError(t, err)
		// 350/100/40/10: layer 4 is below 25 and joins layer 3
		assert.False(t, got.Gap)
		assert.Equal(t, layers.Amounts{350, 100, 50, 0, 0}, got.Layers)
		assert.Equal(t, []domain.LayerID{4}, got.Merged)
		assert.Equal(t, 500.0, got.Layers.Sum())
	})

	t.Run("below minimum", func(t *testing.T) {
		_, err := svc.AllocateOneTime(context.Background(), OneTimeRequest{Amount: 20})
		assert.ErrorIs(t, err, domain.ErrOneTimeBelowMinimum)
	})
}
