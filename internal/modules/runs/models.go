// Package runs persists rebalancer proposals so they can be listed and
// inspected after the job that produced them has expired.
package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/layerwise/internal/modules/rebalancing"
)

// Summary is the listing view of a run
type Summary struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	AsOf          time.Time `json:"as_of"`
	Source        string    `json:"source"`
	MonthlyTotal  float64   `json:"monthly_total"`
	ProposedTotal float64   `json:"proposed_total"`
}

// Run is one persisted proposal
type Run struct {
	Summary
	Proposal *rebalancing.Proposal `json:"proposal"`
}

// NewRun wraps a proposal with a fresh id
func NewRun(proposal *rebalancing.Proposal, createdAt time.Time) *Run {
	return &Run{
		Summary: Summary{
			ID:            uuid.NewString(),
			CreatedAt:     createdAt.UTC(),
			AsOf:          proposal.AsOf,
			Source:        proposal.Source,
			MonthlyTotal:  proposal.MonthlyTotal,
			ProposedTotal: proposal.ProposedTotal(),
		},
		Proposal: proposal,
	}
}

// EncodeProposal returns the msgpack payload stored for a run
func EncodeProposal(p *rebalancing.Proposal) ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}
	return data, nil
}

// DecodeProposal is the inverse of EncodeProposal
func DecodeProposal(data []byte) (*rebalancing.Proposal, error) {
	var p rebalancing.Proposal
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode proposal: %w", err)
	}
	return &p, nil
}
