package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"launch-ladder-bot/internal/config"
)

const writeTimeout = 3 * time.Second

// LaunchRecord is one factory launch, whether or not it was acted on.
type LaunchRecord struct {
	Time        time.Time
	Token       string
	Creator     string
	Name        string
	Symbol      string
	BlockNumber uint64
	TxHash      string
	Outcome     string
	Detail      string
}

// ClosedPositionRecord is the final accounting line for one position.
type ClosedPositionRecord struct {
	Time          time.Time
	PositionID    string
	Token         string
	Symbol        string
	EntryTime     time.Time
	EntryPriceETH float64
	OriginalSize  float64
	TotalSold     float64
	RealizedPnL   float64
	CloseReason   string
	ExitValueETH  float64
	LevelsHit     int
}

// Writer persists launch and position history to Postgres off the hot path.
// Enqueue never blocks; records are dropped when the queue is full.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	launches  chan LaunchRecord
	positions chan ClosedPositionRecord
	started   atomic.Bool
	dropped   atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		launches:  make(chan LaunchRecord, queueSize),
		positions: make(chan ClosedPositionRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueLaunch(record LaunchRecord) {
	if w == nil {
		return
	}
	select {
	case w.launches <- record:
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("history queue full, dropping records")
		}
	}
}

func (w *Writer) EnqueueClosedPosition(record ClosedPositionRecord) {
	if w == nil {
		return
	}
	select {
	case w.positions <- record:
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("history queue full, dropping records")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-w.launches:
			w.writeLaunch(ctx, record)
		case record := <-w.positions:
			w.writeClosedPosition(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		token TEXT NOT NULL,
		creator TEXT NOT NULL,
		name TEXT NOT NULL,
		symbol TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		tx_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("launch_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		position_id TEXT NOT NULL,
		token TEXT NOT NULL,
		symbol TEXT NOT NULL,
		entry_ts TIMESTAMPTZ NOT NULL,
		entry_price_eth DOUBLE PRECISION NOT NULL,
		original_size DOUBLE PRECISION NOT NULL,
		total_sold DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		close_reason TEXT NOT NULL,
		exit_value_eth DOUBLE PRECISION NOT NULL,
		levels_hit INTEGER NOT NULL
	)`, w.table("closed_positions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("launch_events"))); err != nil && w.log != nil {
		w.log.Warn("launch_events hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("closed_positions"))); err != nil && w.log != nil {
		w.log.Warn("closed_positions hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeLaunch(ctx context.Context, record LaunchRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, token, creator, name, symbol, block_number, tx_hash, outcome, detail
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("launch_events"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Token,
		record.Creator,
		record.Name,
		record.Symbol,
		int64(record.BlockNumber),
		record.TxHash,
		record.Outcome,
		record.Detail,
	); err != nil && w.log != nil {
		w.log.Warn("launch insert failed", zap.Error(err))
	}
}

func (w *Writer) writeClosedPosition(ctx context.Context, record ClosedPositionRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, position_id, token, symbol, entry_ts, entry_price_eth, original_size,
		total_sold, realized_pnl, close_reason, exit_value_eth, levels_hit
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, w.table("closed_positions"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.PositionID,
		record.Token,
		record.Symbol,
		record.EntryTime,
		record.EntryPriceETH,
		record.OriginalSize,
		record.TotalSold,
		record.RealizedPnL,
		record.CloseReason,
		record.ExitValueETH,
		record.LevelsHit,
	); err != nil && w.log != nil {
		w.log.Warn("closed position insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
