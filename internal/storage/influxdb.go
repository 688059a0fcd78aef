// Package storage writes bot activity to InfluxDB and reads candle history
// back for backtests.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"forex-trading-bot/internal/broker"
	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
)

// Measurements written by the recorder
const (
	MeasurementTrades  = "trades"
	MeasurementErrors  = "bot_errors"
	MeasurementCandles = "candles"
)

// Config holds InfluxDB connection settings
type Config struct {
	Enabled      bool   `json:"enabled"`
	URL          string `json:"url"`
	Token        string `json:"token"`
	Organization string `json:"organization"`
	Bucket       string `json:"bucket"`
}

// PointWriter is the non-blocking write side of the client.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxStorage records trade and error events as points and serves candle
// history.
type InfluxStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writer   PointWriter
	bucket   string
	logger   *logging.Logger
}

// NewInfluxStorage connects to InfluxDB and checks its health.
func NewInfluxStorage(ctx context.Context, cfg Config, logger *logging.Logger) (*InfluxStorage, error) {
	logger = logging.OrDefault(logger, "influx")
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb connection failed: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb is not healthy: %+v", health)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.WithError(err).Warn("InfluxDB write failed")
		}
	}()

	logger.Info("Connected to InfluxDB", "url", cfg.URL, "bucket", cfg.Bucket)
	return &InfluxStorage{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writer:   writeAPI,
		bucket:   cfg.Bucket,
		logger:   logger,
	}, nil
}

// NewRecorder builds storage that only writes, through w. It is used when
// points go somewhere other than a live client.
func NewRecorder(w PointWriter, logger *logging.Logger) *InfluxStorage {
	return &InfluxStorage{writer: w, logger: logging.OrDefault(logger, "influx")}
}

// Attach subscribes the storage to trade and error events on bus. Writes
// are buffered by the client, so the handlers never block.
func (s *InfluxStorage) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventTrade, func(e events.Event) {
		if p := TradePoint(e); p != nil {
			s.writer.WritePoint(p)
		}
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		s.writer.WritePoint(ErrorPoint(e))
	})
}

// TradePoint converts a trade event, or returns nil for other events.
func TradePoint(e events.Event) *write.Point {
	t, ok := events.TradeFromEvent(e)
	if !ok {
		return nil
	}
	return influxdb2.NewPoint(
		MeasurementTrades,
		map[string]string{
			"strategy": t.Strategy,
			"symbol":   t.Symbol,
			"side":     t.Side,
		},
		map[string]interface{}{
			"volume":      t.Volume,
			"entry":       t.Entry,
			"stop_loss":   t.StopLoss,
			"take_profit": t.TakeProfit,
			"price":       t.Price,
			"order_id":    t.OrderID,
		},
		e.Timestamp,
	)
}

// ErrorPoint converts an error event.
func ErrorPoint(e events.Event) *write.Point {
	kind := e.String("kind")
	if kind == "" {
		kind = "unknown"
	}
	return influxdb2.NewPoint(
		MeasurementErrors,
		map[string]string{"kind": kind},
		map[string]interface{}{
			"message":     e.String("message"),
			"error_count": e.Int("errorCount"),
		},
		e.Timestamp,
	)
}

// CandlePoint converts one bar.
func CandlePoint(symbol, timeframe string, c broker.Candle) *write.Point {
	return influxdb2.NewPoint(
		MeasurementCandles,
		map[string]string{"symbol": symbol, "timeframe": timeframe},
		map[string]interface{}{
			"open":   c.Open,
			"high":   c.High,
			"low":    c.Low,
			"close":  c.Close,
			"volume": c.Volume,
		},
		c.Timestamp,
	)
}

// SaveCandles writes bars and flushes.
func (s *InfluxStorage) SaveCandles(ctx context.Context, symbol, timeframe string, candles []broker.Candle) error {
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.writer.WritePoint(CandlePoint(symbol, timeframe, c))
	}
	s.writer.Flush()
	return nil
}

// historyQuery builds the Flux query for a candle window.
func historyQuery(bucket, symbol, timeframe string, from, to time.Time) string {
	return fmt.Sprintf(`
		from(bucket: %q)
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r._measurement == %q)
			|> filter(fn: (r) => r.symbol == %q and r.timeframe == %q)
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"])
	`, bucket, from.UTC().Format(time.RFC3339), to.Add(time.Second).UTC().Format(time.RFC3339),
		MeasurementCandles, strings.ToUpper(symbol), timeframe)
}

// History implements backtest.CandleSource over stored candles.
func (s *InfluxStorage) History(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]broker.Candle, error) {
	if s.queryAPI == nil {
		return nil, fmt.Errorf("influxdb query api not configured")
	}
	result, err := s.queryAPI.Query(ctx, historyQuery(s.bucket, symbol, timeframe, from, to))
	if err != nil {
		return nil, fmt.Errorf("candle query failed: %w", err)
	}
	defer result.Close()

	var candles []broker.Candle
	for result.Next() {
		record := result.Record()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)
		candles = append(candles, broker.Candle{
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			Timestamp: record.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("candle query failed: %w", result.Err())
	}
	return candles, nil
}

// Close flushes pending points and closes the client.
func (s *InfluxStorage) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
