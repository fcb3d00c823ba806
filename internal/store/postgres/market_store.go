package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

var _ domain.MarketLister = (*MarketStore)(nil)

const marketColumns = `id, question, description, creator, end_time, created_at,
	total_yes_shares, total_no_shares, total_volume,
	resolved, outcome, status, current_price`

const upsertMarketSQL = `
	INSERT INTO markets (` + marketColumns + `, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
	ON CONFLICT (id) DO UPDATE SET
		question         = EXCLUDED.question,
		description      = EXCLUDED.description,
		creator          = EXCLUDED.creator,
		end_time         = EXCLUDED.end_time,
		created_at       = EXCLUDED.created_at,
		total_yes_shares = EXCLUDED.total_yes_shares,
		total_no_shares  = EXCLUDED.total_no_shares,
		total_volume     = EXCLUDED.total_volume,
		resolved         = EXCLUDED.resolved,
		outcome          = EXCLUDED.outcome,
		status           = EXCLUDED.status,
		current_price    = EXCLUDED.current_price,
		updated_at       = NOW()`

// MarketStore reads and checkpoints full market rows.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// ListAll returns every stored market, newest first.
func (s *MarketStore) ListAll(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return out, nil
}

// Get returns one market or domain.ErrNotFound.
func (s *MarketStore) Get(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %d: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// Upsert inserts or replaces a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	if _, err := s.pool.Exec(ctx, upsertMarketSQL, marketArgs(m)...); err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// UpsertBatch writes many markets in one round trip.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(upsertMarketSQL, marketArgs(m)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, m := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch upsert market %d: %w", m.ID, err)
		}
	}
	return nil
}

func marketArgs(m domain.Market) []any {
	return []any{
		m.ID, m.Question, m.Description, m.Creator, m.EndTime, m.CreatedAt,
		m.TotalYesShares, m.TotalNoShares, m.TotalVolume,
		m.Resolved, m.Outcome, string(m.Status), m.CurrentPrice,
	}
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m      domain.Market
		status string
	)
	err := row.Scan(
		&m.ID, &m.Question, &m.Description, &m.Creator, &m.EndTime, &m.CreatedAt,
		&m.TotalYesShares, &m.TotalNoShares, &m.TotalVolume,
		&m.Resolved, &m.Outcome, &status, &m.CurrentPrice,
	)
	if err != nil {
		return domain.Market{}, err
	}
	if st, perr := domain.ParseMarketStatus(status); perr == nil {
		m.Status = st
	} else {
		m.Status = domain.MarketStatusActive
	}
	return m, nil
}
