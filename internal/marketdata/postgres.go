package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newthinker/tradecore/internal/core"
)

// PostgresProvider reads candles from a candles table:
//
//	symbol text, interval text, open_time timestamptz, close_time timestamptz,
//	open, high, low, close, volume double precision
type PostgresProvider struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresProvider connects to dsn and verifies the connection.
func NewPostgresProvider(ctx context.Context, dsn, table string) (*PostgresProvider, error) {
	if table == "" {
		table = "candles"
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresProvider{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

// Close releases the pool.
func (p *PostgresProvider) Close() {
	p.pool.Close()
}

// FetchHistory implements Provider.
func (p *PostgresProvider) FetchHistory(ctx context.Context, symbol string, start, end time.Time, interval string) ([]core.Candle, error) {
	query := fmt.Sprintf(`
		SELECT open_time, close_time, open, high, low, close, volume
		FROM %s
		WHERE symbol = $1 AND interval = $2 AND open_time >= $3 AND open_time <= $4
		ORDER BY open_time ASC
	`, p.table)

	if end.IsZero() {
		end = time.Now()
	}
	rows, err := p.pool.Query(ctx, query, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []core.Candle
	for rows.Next() {
		c := core.Candle{Symbol: symbol, Interval: interval}
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.OpenTime = c.OpenTime.UTC()
		c.CloseTime = c.CloseTime.UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	if len(candles) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("%s %s", symbol, interval))
	}
	return candles, nil
}

// Insert stores candles, replacing rows with the same symbol, interval and
// open time.
func (p *PostgresProvider) Insert(ctx context.Context, candles []core.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, interval, open_time, close_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time, open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume
	`, p.table)

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(query, c.Symbol, c.Interval, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert candles: %w", err)
	}
	return nil
}
