package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"forex-trading-bot/internal/catalog"
	"forex-trading-bot/internal/market"
)

// StrategyRepository stores the strategy catalog. It implements
// catalog.Store.
type StrategyRepository struct {
	q Querier
}

var _ catalog.Store = (*StrategyRepository)(nil)

// NewStrategyRepository creates a repository over q, usually DB.Pool.
func NewStrategyRepository(q Querier) *StrategyRepository {
	return &StrategyRepository{q: q}
}

// strategyRow is the column form of a catalog entry.
type strategyRow struct {
	ID          string
	Name        string
	Status      string
	Parameters  []byte
	Conditions  []byte
	Performance []byte
}

func encodeStrategy(e market.TradingStrategy) (strategyRow, error) {
	row := strategyRow{ID: e.ID, Name: e.Name, Status: string(e.Status)}

	var err error
	if row.Parameters, err = json.Marshal(e.Parameters); err != nil {
		return row, fmt.Errorf("failed to encode parameters: %w", err)
	}
	if row.Conditions, err = json.Marshal(e.MarketConditions); err != nil {
		return row, fmt.Errorf("failed to encode market conditions: %w", err)
	}
	if e.PerformanceMetrics != nil {
		if row.Performance, err = json.Marshal(e.PerformanceMetrics); err != nil {
			return row, fmt.Errorf("failed to encode performance metrics: %w", err)
		}
	}
	return row, nil
}

func decodeStrategy(row strategyRow) (market.TradingStrategy, error) {
	e := market.TradingStrategy{ID: row.ID, Name: row.Name, Status: market.StrategyStatus(row.Status)}
	if len(row.Parameters) > 0 {
		if err := json.Unmarshal(row.Parameters, &e.Parameters); err != nil {
			return e, fmt.Errorf("failed to decode parameters of %s: %w", row.ID, err)
		}
	}
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &e.MarketConditions); err != nil {
			return e, fmt.Errorf("failed to decode market conditions of %s: %w", row.ID, err)
		}
	}
	if len(row.Performance) > 0 {
		var m market.PerformanceMetrics
		if err := json.Unmarshal(row.Performance, &m); err != nil {
			return e, fmt.Errorf("failed to decode performance metrics of %s: %w", row.ID, err)
		}
		e.PerformanceMetrics = &m
	}
	return e, nil
}

const strategyColumns = `id, name, status, parameters, market_conditions, performance_metrics`

// List returns all entries ordered by id
func (r *StrategyRepository) List(ctx context.Context) ([]market.TradingStrategy, error) {
	rows, err := r.q.Query(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	entries := []market.TradingStrategy{}
	for rows.Next() {
		var row strategyRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Status, &row.Parameters, &row.Conditions, &row.Performance); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		e, err := decodeStrategy(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategies: %w", err)
	}
	return entries, nil
}

// Get returns one entry, or catalog.ErrNotFound
func (r *StrategyRepository) Get(ctx context.Context, id string) (market.TradingStrategy, error) {
	var row strategyRow
	err := r.q.QueryRow(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id).
		Scan(&row.ID, &row.Name, &row.Status, &row.Parameters, &row.Conditions, &row.Performance)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.TradingStrategy{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	if err != nil {
		return market.TradingStrategy{}, fmt.Errorf("failed to get strategy %s: %w", id, err)
	}
	return decodeStrategy(row)
}

// Save inserts or replaces an entry
func (r *StrategyRepository) Save(ctx context.Context, e market.TradingStrategy) error {
	row, err := encodeStrategy(e)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO strategies (id, name, status, parameters, market_conditions, performance_metrics)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			parameters = EXCLUDED.parameters,
			market_conditions = EXCLUDED.market_conditions,
			performance_metrics = EXCLUDED.performance_metrics,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.q.Exec(ctx, query, row.ID, row.Name, row.Status, row.Parameters, row.Conditions, row.Performance); err != nil {
		return fmt.Errorf("failed to save strategy %s: %w", e.ID, err)
	}
	return nil
}
