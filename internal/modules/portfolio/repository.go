// Package portfolio stores the inputs of the rebalancer: layer holdings
// snapshots, the current saving plan and the instrument facts.
package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/database"
	"github.com/aristath/layerwise/internal/domain"
	"github.com/aristath/layerwise/internal/modules/layers"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
)

// DateLayout is the storage format of snapshot dates
const DateLayout = "2006-01-02"

// Repository handles portfolio database operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// SaveHoldings replaces the layer holdings snapshot for asOf
func (r *Repository) SaveHoldings(ctx context.Context, asOf time.Time, amounts layers.Amounts) error {
	date := asOf.Format(DateLayout)
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for i, v := range amounts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO holdings (as_of, layer, market_value) VALUES (?, ?, ?)
				ON CONFLICT(as_of, layer) DO UPDATE SET market_value = excluded.market_value`,
				date, int(domain.LayerFromIndex(i)), v)
			if err != nil {
				return fmt.Errorf("failed to save holdings for layer %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// LatestHoldings returns the most recent snapshot on or before asOf. A zero
// asOf selects the most recent snapshot overall. ok is false when no
// snapshot exists.
func (r *Repository) LatestHoldings(ctx context.Context, asOf time.Time) (amounts layers.Amounts, date time.Time, ok bool, err error) {
	query := `SELECT MAX(as_of) FROM holdings`
	args := []any{}
	if !asOf.IsZero() {
		query += ` WHERE as_of <= ?`
		args = append(args, asOf.Format(DateLayout))
	}

	var latest sql.NullString
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&latest); err != nil {
		return amounts, date, false, fmt.Errorf("failed to find holdings snapshot: %w", err)
	}
	if !latest.Valid {
		return amounts, date, false, nil
	}
	date, err = time.Parse(DateLayout, latest.String)
	if err != nil {
		return amounts, date, false, fmt.Errorf("failed to parse snapshot date %q: %w", latest.String, err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT layer, market_value FROM holdings WHERE as_of = ?`, latest.String)
	if err != nil {
		return amounts, date, false, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var layer int
		var value float64
		if err := rows.Scan(&layer, &value); err != nil {
			return amounts, date, false, fmt.Errorf("failed to scan holdings: %w", err)
		}
		amounts[domain.ClassifyLayer(layer).Index()] += value
	}
	if err := rows.Err(); err != nil {
		return amounts, date, false, fmt.Errorf("error iterating holdings: %w", err)
	}
	return amounts, date, true, nil
}

// UpsertContribution inserts or updates one saving plan position
func (r *Repository) UpsertContribution(ctx context.Context, item domain.ContributionItem) error {
	isin := domain.NormalizeISIN(item.ISIN)
	if isin == "" {
		return fmt.Errorf("contribution item without ISIN")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contribution_items (isin, depot_id, name, layer, monthly_amount) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(isin, depot_id) DO UPDATE SET
			name = excluded.name,
			layer = excluded.layer,
			monthly_amount = excluded.monthly_amount`,
		isin, item.DepotID, item.Name, int(domain.ClassifyLayer(int(item.Layer))), item.MonthlyAmount)
	if err != nil {
		return fmt.Errorf("failed to upsert contribution item %s: %w", isin, err)
	}
	return nil
}

// DeleteContribution removes a saving plan position
func (r *Repository) DeleteContribution(ctx context.Context, isin, depotID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM contribution_items WHERE isin = ? AND depot_id = ?`,
		domain.NormalizeISIN(isin), depotID)
	if err != nil {
		return fmt.Errorf("failed to delete contribution item %s: %w", isin, err)
	}
	return nil
}

// ContributionItems returns the current saving plan ordered by layer and ISIN
func (r *Repository) ContributionItems(ctx context.Context) ([]domain.ContributionItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT isin, depot_id, name, layer, monthly_amount
		FROM contribution_items
		ORDER BY layer, isin, depot_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution items: %w", err)
	}
	defer rows.Close()

	var items []domain.ContributionItem
	for rows.Next() {
		var item domain.ContributionItem
		var layer int
		if err := rows.Scan(&item.ISIN, &item.DepotID, &item.Name, &layer, &item.MonthlyAmount); err != nil {
			return nil, fmt.Errorf("failed to scan contribution item: %w", err)
		}
		item.Layer = domain.ClassifyLayer(layer)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contribution items: %w", err)
	}
	return items, nil
}

// SetHeld replaces the set of instruments held in the portfolio
func (r *Repository) SetHeld(ctx context.Context, isins []string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM held_instruments`); err != nil {
			return fmt.Errorf("failed to clear held instruments: %w", err)
		}
		for _, isin := range isins {
			if isin = domain.NormalizeISIN(isin); isin == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO held_instruments (isin) VALUES (?)`, isin); err != nil {
				return fmt.Errorf("failed to insert held instrument %s: %w", isin, err)
			}
		}
		return nil
	})
}

// HeldISINs returns every held instrument
func (r *Repository) HeldISINs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT isin FROM held_instruments ORDER BY isin`)
	if err != nil {
		return nil, fmt.Errorf("failed to query held instruments: %w", err)
	}
	defer rows.Close()

	var isins []string
	for rows.Next() {
		var isin string
		if err := rows.Scan(&isin); err != nil {
			return nil, fmt.Errorf("failed to scan held instrument: %w", err)
		}
		isins = append(isins, isin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating held instruments: %w", err)
	}
	return isins, nil
}

// UpsertFacts stores the facts of one instrument
func (r *Repository) UpsertFacts(ctx context.Context, facts *domain.InstrumentFacts) error {
	if facts == nil {
		return nil
	}
	stored := *facts
	stored.ISIN = domain.NormalizeISIN(stored.ISIN)
	if stored.ISIN == "" {
		return fmt.Errorf("instrument facts without ISIN")
	}
	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal facts for %s: %w", stored.ISIN, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instrument_facts (isin, payload, complete, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(isin) DO UPDATE SET
			payload = excluded.payload,
			complete = excluded.complete,
			updated_at = excluded.updated_at`,
		stored.ISIN, string(payload), boolToInt(stored.Complete), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert facts for %s: %w", stored.ISIN, err)
	}
	return nil
}

// Facts returns the facts of every instrument keyed by ISIN
func (r *Repository) Facts(ctx context.Context) (domain.FactsIndex, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT isin, payload FROM instrument_facts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instrument facts: %w", err)
	}
	defer rows.Close()

	index := domain.FactsIndex{}
	for rows.Next() {
		var isin, payload string
		if err := rows.Scan(&isin, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan instrument facts: %w", err)
		}
		var facts domain.InstrumentFacts
		if err := json.Unmarshal([]byte(payload), &facts); err != nil {
			r.log.Warn().Err(err).Str("isin", isin).Msg("Skipping unreadable instrument facts")
			continue
		}
		facts.ISIN = isin
		index[isin] = &facts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instrument facts: %w", err)
	}
	return index, nil
}

// AddCandidate marks an instrument as a possible gap suggestion
func (r *Repository) AddCandidate(ctx context.Context, isin string) error {
	isin = domain.NormalizeISIN(isin)
	if isin == "" {
		return fmt.Errorf("candidate without ISIN")
	}
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO candidate_instruments (isin, added_at) VALUES (?, ?)`,
		isin, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add candidate %s: %w", isin, err)
	}
	return nil
}

// Candidates resolves the candidate list against facts. Candidates without
// facts cannot be classified and are skipped.
func (r *Repository) Candidates(ctx context.Context, facts domain.FactsIndex) ([]*domain.InstrumentFacts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT isin FROM candidate_instruments ORDER BY isin`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.InstrumentFacts
	for rows.Next() {
		var isin string
		if err := rows.Scan(&isin); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		f := facts.Lookup(isin)
		if f == nil {
			r.log.Debug().Str("isin", isin).Msg("Candidate has no facts")
			continue
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}
	return out, nil
}

// LoadInputs assembles a rebalancer request from the stored portfolio.
// It returns domain.ErrNoHoldings when there is neither a holdings snapshot
// nor a saving plan.
func (r *Repository) LoadInputs(ctx context.Context, asOf time.Time) (rebalancing.Request, error) {
	holdings, snapshotDate, found, err := r.LatestHoldings(ctx, asOf)
	if err != nil {
		return rebalancing.Request{}, err
	}
	items, err := r.ContributionItems(ctx)
	if err != nil {
		return rebalancing.Request{}, err
	}
	if (!found || holdings.Sum() <= 0) && len(items) == 0 {
		return rebalancing.Request{}, domain.ErrNoHoldings
	}

	facts, err := r.Facts(ctx)
	if err != nil {
		return rebalancing.Request{}, err
	}
	candidates, err := r.Candidates(ctx, facts)
	if err != nil {
		return rebalancing.Request{}, err
	}
	held, err := r.HeldISINs(ctx)
	if err != nil {
		return rebalancing.Request{}, err
	}

	if asOf.IsZero() {
		asOf = snapshotDate
	}
	r.log.Debug().
		Str("as_of", asOf.Format(DateLayout)).
		Bool("snapshot", found).
		Int("items", len(items)).
		Int("facts", len(facts)).
		Int("candidates", len(candidates)).
		Msg("Loaded rebalancer inputs")

	return rebalancing.Request{
		AsOf:       asOf,
		Holdings:   holdings,
		Items:      items,
		Facts:      facts,
		Candidates: candidates,
		HeldISINs:  held,
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
