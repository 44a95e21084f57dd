package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	testingutil "github.com/aristath/layerwise/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingutil.NewTestDB(t, "runs")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func newTestProposal(t *testing.T, asOf time.Time) *rebalancing.Proposal {
	t.Helper()
	facts := domain.FactsIndex{}
	for _, f := range testingutil.NewFactsFixtures() {
		facts[f.ISIN] = f
	}
	svc := rebalancing.NewService(rebalancing.DefaultSettings(), zerolog.New(nil).Level(zerolog.Disabled))
	p, err := svc.Propose(context.Background(), rebalancing.Request{
		AsOf:       asOf,
		Holdings:   testingutil.NewHoldingsFixture(),
		Items:      testingutil.NewContributionFixtures(),
		Facts:      facts,
		Candidates: testingutil.NewCandidateFixtures(),
	})
	require.NoError(t, err)
	return p
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	asOf := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	proposal := newTestProposal(t, asOf)
	run := NewRun(proposal, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.Summary, got.Summary)
	assert.True(t, got.Proposal.AsOf.Equal(asOf))
	if diff := cmp.Diff(proposal.Layers, got.Proposal.Layers); diff != "" {
		t.Errorf("layers mismatch (-saved +loaded):\n%s", diff)
	}
	require.Len(t, got.Proposal.Instruments, len(proposal.Instruments))
	for i, inst := range proposal.Instruments {
		assert.Equal(t, inst.ISIN, got.Proposal.Instruments[i].ISIN)
		assert.Equal(t, inst.ProposedAmount, got.Proposal.Instruments[i].ProposedAmount)
		assert.Equal(t, inst.Reasons, got.Proposal.Instruments[i].Reasons)
	}
	assert.Equal(t, proposal.Notes, got.Proposal.Notes)

	assert.Error(t, repo.Save(ctx, run), "run ids are unique")
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		run := NewRun(newTestProposal(t, base), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Save(ctx, run))
		ids = append(ids, run.ID)
	}

	got, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.Equal(t, base, got[0].AsOf)
}

func TestEncodeProposal_RoundTripsReasonCodes(t *testing.T) {
	p := &rebalancing.Proposal{
		Source: rebalancing.SourceActual,
		Instruments: []rebalancing.InstrumentProposal{{
			ISIN:    "IE00B4L5Y983",
			Reasons: domain.ReasonCodes{domain.ReasonKBWeighted, domain.ReasonMinRebalanceAmount},
		}},
	}

	data, err := EncodeProposal(p)
	require.NoError(t, err)
	got, err := DecodeProposal(data)
	require.NoError(t, err)
	assert.Equal(t, p.Instruments[0].Reasons, got.Instruments[0].Reasons)

	_, err = DecodeProposal([]byte{0xc1})
	assert.Error(t, err)
}
