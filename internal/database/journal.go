package database

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"forex-trading-bot/internal/events"
	"forex-trading-bot/internal/logging"
)

// TradeWriter persists one trade record.
type TradeWriter interface {
	Insert(ctx context.Context, t *TradeRecord) error
}

// JournalConfig configures a TradeJournal.
type JournalConfig struct {
	Buffer        int
	MaxRetries    uint64
	RetryInterval time.Duration
}

// TradeJournal writes trade events to the database. The bus handler only
// enqueues; Run does the writes so a slow database never blocks the bot.
type TradeJournal struct {
	writer  TradeWriter
	cfg     JournalConfig
	queue   chan TradeRecord
	dropped atomic.Int64
	written atomic.Int64
	logger  *logging.Logger
}

// NewTradeJournal creates a journal writing through writer.
func NewTradeJournal(writer TradeWriter, cfg JournalConfig, logger *logging.Logger) *TradeJournal {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	return &TradeJournal{
		writer: writer,
		cfg:    cfg,
		queue:  make(chan TradeRecord, cfg.Buffer),
		logger: logging.OrDefault(logger, "journal"),
	}
}

// Attach subscribes the journal to trade events on bus.
func (j *TradeJournal) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventTrade, j.handle)
}

func (j *TradeJournal) handle(e events.Event) {
	t, ok := events.TradeFromEvent(e)
	if !ok {
		return
	}
	rec := TradeRecord{
		Strategy:   t.Strategy,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Volume:     t.Volume,
		EntryPrice: t.Entry,
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		FillPrice:  t.Price,
		OrderID:    t.OrderID,
		Reason:     t.Reason,
		ExecutedAt: e.Timestamp,
	}
	select {
	case j.queue <- rec:
	default:
		j.dropped.Add(1)
		j.logger.Warn("Trade journal queue full, dropping trade", "symbol", rec.Symbol, "orderId", rec.OrderID)
	}
}

// Run writes queued trades until ctx is cancelled, then flushes what is
// still queued within drainTimeout.
func (j *TradeJournal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			j.drain(nil)
			return
		case rec := <-j.queue:
			if ctx.Err() != nil {
				j.drain(&rec)
				return
			}
			j.write(ctx, rec)
		}
	}
}

const drainTimeout = 5 * time.Second

func (j *TradeJournal) drain(first *TradeRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if first != nil {
		j.write(ctx, *first)
	}
	for {
		select {
		case rec := <-j.queue:
			j.write(ctx, rec)
		default:
			return
		}
	}
}

func (j *TradeJournal) write(ctx context.Context, rec TradeRecord) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = j.cfg.RetryInterval
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if j.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(exp, j.cfg.MaxRetries)
	}
	policy = backoff.WithContext(policy, ctx)

	err := backoff.RetryNotify(func() error {
		return j.writer.Insert(ctx, &rec)
	}, policy, func(err error, wait time.Duration) {
		j.logger.Debug("Retrying trade insert", "error", err, "wait", wait)
	})
	if err != nil {
		j.logger.WithError(err).Error("Failed to journal trade", "symbol", rec.Symbol, "orderId", rec.OrderID)
		return
	}
	j.written.Add(1)
}

// Written is the number of trades stored.
func (j *TradeJournal) Written() int64 { return j.written.Load() }

// Dropped is the number of trades lost to a full queue.
func (j *TradeJournal) Dropped() int64 { return j.dropped.Load() }
