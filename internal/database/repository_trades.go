package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TradeRecord is one executed order as journaled from the event bus
type TradeRecord struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	FillPrice  float64   `json:"fill_price"`
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TradeRepository stores executed trades
type TradeRepository struct {
	q Querier
}

// NewTradeRepository creates a repository over q
func NewTradeRepository(q Querier) *TradeRepository {
	return &TradeRepository{q: q}
}

// Insert stores t, assigning an id when it has none
func (r *TradeRepository) Insert(ctx context.Context, t *TradeRecord) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO trades (id, strategy, symbol, side, volume, entry_price, stop_loss, take_profit,
			fill_price, order_id, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.q.Exec(ctx, query,
		t.ID, t.Strategy, t.Symbol, t.Side, t.Volume, t.EntryPrice, t.StopLoss, t.TakeProfit,
		t.FillPrice, t.OrderID, t.Reason, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// ListRecent returns the latest trades, newest first
func (r *TradeRepository) ListRecent(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, strategy, symbol, side, volume, entry_price, COALESCE(stop_loss, 0), COALESCE(take_profit, 0),
			COALESCE(fill_price, 0), COALESCE(order_id, ''), COALESCE(reason, ''), executed_at
		FROM trades
		ORDER BY executed_at DESC
		LIMIT $1
	`
	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []TradeRecord{}
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Strategy, &t.Symbol, &t.Side, &t.Volume, &t.EntryPrice, &t.StopLoss,
			&t.TakeProfit, &t.FillPrice, &t.OrderID, &t.Reason, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}
