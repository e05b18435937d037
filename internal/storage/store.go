// Package storage mirrors ledger entries into PostgreSQL for auditing.
// The in-memory ledgers stay authoritative; nothing here is read back on
// startup.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"apex-bridge/internal/ledger"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS cost_events (
        id            BIGSERIAL PRIMARY KEY,
        recorded_at   TIMESTAMPTZ NOT NULL,
        prompt_tokens INTEGER NOT NULL,
        output_tokens INTEGER NOT NULL,
        total_tokens  INTEGER NOT NULL,
        cost_usd      NUMERIC NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS revenue_events (
        tx_hash     TEXT PRIMARY KEY,
        recorded_at TIMESTAMPTZ NOT NULL,
        campaign_id TEXT NOT NULL,
        amount_usd  NUMERIC NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertCostEventSQL = `INSERT INTO cost_events (
        recorded_at,
        prompt_tokens,
        output_tokens,
        total_tokens,
        cost_usd
    ) VALUES ($1,$2,$3,$4,$5);`

	insertRevenueEventSQL = `INSERT INTO revenue_events (
        tx_hash,
        recorded_at,
        campaign_id,
        amount_usd
    ) VALUES ($1,$2,$3,$4)
    ON CONFLICT (tx_hash) DO NOTHING;`

	listCostEventsBetweenSQL = `SELECT
        recorded_at,
        prompt_tokens,
        output_tokens,
        total_tokens,
        cost_usd
    FROM cost_events
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at;`

	listRevenueEventsBetweenSQL = `SELECT
        recorded_at,
        campaign_id,
        amount_usd,
        tx_hash
    FROM revenue_events
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at;`
)

// Store aggregates access to the audit tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the audit tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ArchiveCost mirrors one cost event.
func (s *Store) ArchiveCost(ctx context.Context, ev ledger.CostEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertCostEventSQL,
		ev.Timestamp,
		ev.PromptTokens,
		ev.OutputTokens,
		ev.TotalTokens,
		ev.CostUSD.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert cost event: %w", execErr)
	}
	return nil
}

// ArchiveRevenue mirrors one revenue event. Replays of the same transaction
// hash are dropped by the primary key.
func (s *Store) ArchiveRevenue(ctx context.Context, ev ledger.RevenueEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertRevenueEventSQL,
		ev.TxHash,
		ev.Timestamp,
		ev.CampaignID,
		ev.AmountUSD.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert revenue event: %w", execErr)
	}
	return nil
}

// ListCostEventsBetween lists archived cost events within a time window.
func (s *Store) ListCostEventsBetween(ctx context.Context, from, to time.Time) ([]ledger.CostEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCostEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list cost events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]ledger.CostEvent, 0)
	for rows.Next() {
		var (
			ev   ledger.CostEvent
			cost string
		)
		if err := rows.Scan(&ev.Timestamp, &ev.PromptTokens, &ev.OutputTokens, &ev.TotalTokens, &cost); err != nil {
			return nil, fmt.Errorf("scan cost event: %w", err)
		}
		parsed, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("parse cost %q: %w", cost, err)
		}
		ev.CostUSD = parsed
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// ListRevenueEventsBetween lists archived revenue events within a time window.
func (s *Store) ListRevenueEventsBetween(ctx context.Context, from, to time.Time) ([]ledger.RevenueEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRevenueEventsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list revenue events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]ledger.RevenueEvent, 0)
	for rows.Next() {
		var (
			ev     ledger.RevenueEvent
			amount string
		)
		if err := rows.Scan(&ev.Timestamp, &ev.CampaignID, &amount, &ev.TxHash); err != nil {
			return nil, fmt.Errorf("scan revenue event: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		ev.AmountUSD = parsed
		events = append(events, ev)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

var _ ledger.Archiver = (*Store)(nil)
