package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/indicators"
	"forex-trading-bot/internal/logging"
	"forex-trading-bot/internal/strategy"
)

// Exit reasons recorded on trades
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitEndOfData  = "end_of_data"
)

// ErrNoCandles is returned when a run has no history to replay.
var ErrNoCandles = errors.New("no candles to replay")

// Options configures one replay.
type Options struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	InitialBalance float64 `json:"initialBalance"`
	// ContractSize converts volume in lots to units of the instrument.
	ContractSize float64 `json:"contractSize"`
	// Spread is the bid/ask spread in price units; zero uses 1 basis point
	// of the first close.
	Spread float64 `json:"spread"`
	// Commission is charged per lot for a round trip.
	Commission float64 `json:"commission"`
}

// Period is the replayed window
type Period struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Timeframe string    `json:"timeframe"`
}

// Trade represents a single backtest trade
type Trade struct {
	Side       broker.Side `json:"side"`
	EntryTime  time.Time   `json:"entryTime"`
	ExitTime   time.Time   `json:"exitTime"`
	EntryPrice float64     `json:"entryPrice"`
	ExitPrice  float64     `json:"exitPrice"`
	Volume     float64     `json:"volume"`
	StopLoss   float64     `json:"stopLoss"`
	TakeProfit float64     `json:"takeProfit"`
	ProfitLoss float64     `json:"profitLoss"`
	ExitReason string      `json:"exitReason"`
}

// EquityPoint represents account equity at the close of a bar
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// Result contains backtest performance metrics. It is not modified after
// Run returns.
type Result struct {
	ID             string             `json:"id"`
	StrategyID     string             `json:"strategyId"`
	Symbol         string             `json:"symbol"`
	Parameters     map[string]float64 `json:"parameters"`
	InitialBalance float64            `json:"initialBalance"`
	FinalBalance   float64            `json:"finalBalance"`
	ProfitLoss     float64            `json:"profitLoss"`
	WinRate        float64            `json:"winRate"`
	SharpeRatio    float64            `json:"sharpeRatio"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	TradesCount    int                `json:"tradesCount"`
	WinningTrades  int                `json:"winningTrades"`
	LosingTrades   int                `json:"losingTrades"`
	ProfitFactor   float64            `json:"profitFactor"`
	Period         Period             `json:"period"`
	Trades         []Trade            `json:"trades,omitempty"`
	EquityCurve    []EquityPoint      `json:"equityCurve,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type position struct {
	id         string
	side       broker.Side
	volume     float64
	entry      float64
	stopLoss   float64
	takeProfit float64
	openedAt   time.Time
	openIndex  int
}

// Engine replays strategies bar by bar
type Engine struct {
	logger *logging.Logger
}

// NewEngine creates an engine
func NewEngine(logger *logging.Logger) *Engine {
	return &Engine{logger: logging.OrDefault(logger, "backtest")}
}

// Run replays strat over candles, oldest first. At most one position is
// open at a time; entries fill at the close plus or minus half the spread,
// exits at the stop or target when a later bar's range reaches it (the stop
// wins when both are reached), and a position still open at the end closes
// at the last bar.
func (e *Engine) Run(ctx context.Context, strat strategy.Strategy, candles []broker.Candle, opts Options) (*Result, error) {
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	if opts.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %v", opts.InitialBalance)
	}
	if opts.Symbol == "" {
		opts.Symbol = strat.Symbol()
	}
	if opts.Timeframe == "" {
		opts.Timeframe = strat.Timeframe()
	}
	if opts.ContractSize <= 0 {
		opts.ContractSize = 1
	}
	if opts.Spread <= 0 {
		opts.Spread = candles[0].Close * 0.0001
	}

	log := e.logger.WithFields(map[string]interface{}{
		"strategy_id": strat.ID(),
		"symbol":      opts.Symbol,
		"start_date":  candles[0].Timestamp.Format("2006-01-02"),
		"end_date":    candles[len(candles)-1].Timestamp.Format("2006-01-02"),
	})
	conn := newReplayConnection(opts.Symbol, candles, opts.Spread)
	observer, _ := strat.(strategy.TradeObserver)

	balance := opts.InitialBalance
	trades := make([]Trade, 0)
	curve := make([]EquityPoint, 0, len(candles))

	closePosition := func(p *position, exitPrice float64, at time.Time, reason string) {
		pnl := (exitPrice-p.entry)*direction(p.side)*p.volume*opts.ContractSize - opts.Commission*p.volume
		balance += pnl
		trades = append(trades, Trade{
			Side:       p.side,
			EntryTime:  p.openedAt,
			ExitTime:   at,
			EntryPrice: p.entry,
			ExitPrice:  exitPrice,
			Volume:     p.volume,
			StopLoss:   p.stopLoss,
			TakeProfit: p.takeProfit,
			ProfitLoss: pnl,
			ExitReason: reason,
		})
	}

	for i, bar := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn.cursor = i

		if p := conn.open; p != nil && i > p.openIndex {
			if price, reason, hit := exitHit(p, bar); hit {
				closePosition(p, price, bar.Timestamp, reason)
				conn.open = nil
			}
		}

		if conn.open == nil {
			signal, err := strat.Analyze(ctx, conn)
			if err != nil {
				return nil, fmt.Errorf("bar %d: %w", i, err)
			}
			if signal != nil {
				if _, err := broker.PlaceOrder(ctx, conn, signal.Type, signal.Symbol, signal.Volume, signal.StopLoss, signal.TakeProfit); err != nil {
					log.Warn("Order rejected during replay", "bar", i, "error", err)
				} else if f := conn.pending; f != nil {
					conn.open = &position{
						id:         f.result.OrderID,
						side:       f.side,
						volume:     f.volume,
						entry:      f.result.Price,
						stopLoss:   f.stopLoss,
						takeProfit: f.takeProfit,
						openedAt:   bar.Timestamp,
						openIndex:  i,
					}
					conn.pending = nil
					if observer != nil {
						observer.OnTradeExecuted(signal, f.result)
					}
				}
			}
		}

		equity := balance
		if p := conn.open; p != nil {
			equity += (bar.Close - p.entry) * direction(p.side) * p.volume * opts.ContractSize
		}
		curve = append(curve, EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
	}

	if p := conn.open; p != nil {
		last := candles[len(candles)-1]
		exit := last.Close - direction(p.side)*opts.Spread/2
		closePosition(p, exit, last.Timestamp, ExitEndOfData)
		conn.open = nil
		curve[len(curve)-1].Equity = balance
	}

	result := &Result{
		ID:             uuid.NewString(),
		StrategyID:     strat.ID(),
		Symbol:         opts.Symbol,
		Parameters:     parameterValues(strat),
		InitialBalance: opts.InitialBalance,
		FinalBalance:   balance,
		ProfitLoss:     balance - opts.InitialBalance,
		Period: Period{
			Start:     candles[0].Timestamp,
			End:       candles[len(candles)-1].Timestamp,
			Timeframe: opts.Timeframe,
		},
		Trades:      trades,
		EquityCurve: curve,
		CreatedAt:   time.Now(),
	}
	calculateMetrics(result, broker.PeriodsPerYear(opts.Timeframe))

	log.Info("Backtest completed",
		"trades", result.TradesCount,
		"profitLoss", result.ProfitLoss,
		"sharpe", result.SharpeRatio,
		"maxDrawdown", result.MaxDrawdown,
	)
	return result, nil
}

// exitHit reports whether bar reaches the stop or target of p.
func exitHit(p *position, bar broker.Candle) (float64, string, bool) {
	if p.side == broker.SideBuy {
		switch {
		case p.stopLoss > 0 && bar.Low <= p.stopLoss:
			return p.stopLoss, ExitStopLoss, true
		case p.takeProfit > 0 && bar.High >= p.takeProfit:
			return p.takeProfit, ExitTakeProfit, true
		}
		return 0, "", false
	}
	switch {
	case p.stopLoss > 0 && bar.High >= p.stopLoss:
		return p.stopLoss, ExitStopLoss, true
	case p.takeProfit > 0 && bar.Low <= p.takeProfit:
		return p.takeProfit, ExitTakeProfit, true
	}
	return 0, "", false
}

func direction(side broker.Side) float64 {
	if side == broker.SideSell {
		return -1
	}
	return 1
}

func parameterValues(strat strategy.Strategy) map[string]float64 {
	params := strat.Parameters()
	out := make(map[string]float64, len(params))
	for _, p := range params {
		out[p.Name] = p.Value
	}
	return out
}

// calculateMetrics fills the aggregate fields of result from its trades and
// equity curve.
func calculateMetrics(result *Result, periodsPerYear float64) {
	result.TradesCount = len(result.Trades)

	var grossProfit, grossLoss float64
	for _, t := range result.Trades {
		if t.ProfitLoss > 0 {
			result.WinningTrades++
			grossProfit += t.ProfitLoss
		} else {
			result.LosingTrades++
			grossLoss += -t.ProfitLoss
		}
	}
	if result.TradesCount > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TradesCount) * 100
	}
	if grossLoss > 0 {
		result.ProfitFactor = grossProfit / grossLoss
	}

	equity := make([]float64, len(result.EquityCurve))
	for i, p := range result.EquityCurve {
		equity[i] = p.Equity
	}
	result.MaxDrawdown = MaxDrawdown(equity)
	result.SharpeRatio = SharpeRatio(equity, periodsPerYear)
}

// MaxDrawdown returns the largest peak-to-trough decline of equity as a
// percentage of the running peak.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	maxDrawdown := 0.0
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}
	return maxDrawdown
}

// SharpeRatio returns mean/stddev of per-bar equity returns annualized by
// sqrt(periodsPerYear). It is zero when returns have no variance.
func SharpeRatio(equity []float64, periodsPerYear float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := indicators.Mean(returns)
	std := indicators.StdDev(returns)
	if std == 0 {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 1
	}
	return mean / std * math.Sqrt(periodsPerYear)
}
