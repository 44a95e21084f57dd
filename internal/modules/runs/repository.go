package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/domain"
)

const dateLayout = "2006-01-02"

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50

// Repository handles run database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Save stores a run. Runs are immutable; saving an existing id fails.
func (r *Repository) Save(ctx context.Context, run *Run) error {
	payload, err := EncodeProposal(run.Proposal)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, as_of, source, monthly_total, proposed_total, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Unix(), run.AsOf.Format(dateLayout), run.Source,
		run.MonthlyTotal, run.ProposedTotal, payload)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("run_id", run.ID).Int("bytes", len(payload)).Msg("Run saved")
	return nil
}

// Get returns a run with its proposal, or domain.ErrRunNotFound
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, as_of, source, monthly_total, proposed_total, payload
		FROM runs WHERE id = ?`, id)

	var run Run
	var payload []byte
	if err := scanSummary(row, &run.Summary, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	proposal, err := DecodeProposal(payload)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	run.Proposal = proposal
	return &run, nil
}

// List returns the newest runs first
func (r *Repository) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, as_of, source, monthly_total, proposed_total
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := scanSummary(rows, &s, nil); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner, s *Summary, payload *[]byte) error {
	var createdAt int64
	var asOf string
	dest := []any{&s.ID, &createdAt, &asOf, &s.Source, &s.MonthlyTotal, &s.ProposedTotal}
	if payload != nil {
		dest = append(dest, payload)
	}
	if err := row.Scan(dest...); err != nil {
		return err
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	if t, err := time.Parse(dateLayout, asOf); err == nil {
		s.AsOf = t
	}
	return nil
}
