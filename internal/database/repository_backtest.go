package database

import (
	"context"
	"encoding/json"
	"fmt"

	"forex-trading-bot/internal/backtest"
)

// BacktestRepository stores backtest results. It implements
// backtest.ResultStore. Equity curves are not persisted.
type BacktestRepository struct {
	q Querier
}

var _ backtest.ResultStore = (*BacktestRepository)(nil)

// NewBacktestRepository creates a repository over q
func NewBacktestRepository(q Querier) *BacktestRepository {
	return &BacktestRepository{q: q}
}

// Save stores a finished run
func (r *BacktestRepository) Save(ctx context.Context, result *backtest.Result) error {
	params, err := json.Marshal(result.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	trades, err := json.Marshal(result.Trades)
	if err != nil {
		return fmt.Errorf("failed to encode trades: %w", err)
	}

	query := `
		INSERT INTO backtest_results (
			id, strategy_id, symbol, timeframe, parameters,
			initial_balance, final_balance, profit_loss, win_rate, sharpe_ratio,
			max_drawdown, trades_count, profit_factor, period_start, period_end,
			trades, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.q.Exec(ctx, query,
		result.ID, result.StrategyID, result.Symbol, result.Period.Timeframe, params,
		result.InitialBalance, result.FinalBalance, result.ProfitLoss, result.WinRate, result.SharpeRatio,
		result.MaxDrawdown, result.TradesCount, result.ProfitFactor, result.Period.Start, result.Period.End,
		trades, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}
	return nil
}

// ListByStrategy returns the latest results for a strategy, newest first
func (r *BacktestRepository) ListByStrategy(ctx context.Context, strategyID string, limit int) ([]backtest.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, strategy_id, symbol, timeframe, parameters,
			initial_balance, final_balance, profit_loss, win_rate, sharpe_ratio,
			max_drawdown, trades_count, profit_factor, period_start, period_end,
			trades, created_at
		FROM backtest_results
		WHERE strategy_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	results := []backtest.Result{}
	for rows.Next() {
		var (
			res            backtest.Result
			params, trades []byte
		)
		err := rows.Scan(
			&res.ID, &res.StrategyID, &res.Symbol, &res.Period.Timeframe, &params,
			&res.InitialBalance, &res.FinalBalance, &res.ProfitLoss, &res.WinRate, &res.SharpeRatio,
			&res.MaxDrawdown, &res.TradesCount, &res.ProfitFactor, &res.Period.Start, &res.Period.End,
			&trades, &res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		if err := decodeResultJSON(&res, params, trades); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest results: %w", err)
	}
	return results, nil
}

// decodeResultJSON fills the JSONB columns of res and recomputes the
// winning and losing counts from its trades.
func decodeResultJSON(res *backtest.Result, params, trades []byte) error {
	if len(params) > 0 {
		if err := json.Unmarshal(params, &res.Parameters); err != nil {
			return fmt.Errorf("failed to decode parameters of %s: %w", res.ID, err)
		}
	}
	if len(trades) > 0 {
		if err := json.Unmarshal(trades, &res.Trades); err != nil {
			return fmt.Errorf("failed to decode trades of %s: %w", res.ID, err)
		}
	}
	res.WinningTrades, res.LosingTrades = 0, 0
	for _, t := range res.Trades {
		if t.ProfitLoss > 0 {
			res.WinningTrades++
		} else {
			res.LosingTrades++
		}
	}
	return nil
}
