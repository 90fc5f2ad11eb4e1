package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kavascapital/marketfeed/internal/model"
)

// Store is the PostgreSQL-backed durable store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// InsertTicks bulk-inserts ticks with ON CONFLICT DO NOTHING on
// (instrument_token, ts). Returns how many rows were dropped as duplicates.
func (s *Store) InsertTicks(ctx context.Context, ticks []model.Tick) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, t := range ticks {
		var dayOpen, dayHigh, dayLow, dayClose *string
		if t.OHLC != nil {
			dayOpen = decPtr(t.OHLC.Open)
			dayHigh = decPtr(t.OHLC.High)
			dayLow = decPtr(t.OHLC.Low)
			dayClose = decPtr(t.OHLC.Close)
		}
		batch.Queue(`
			INSERT INTO ticks (instrument_token, ts, seq, last_price, last_qty, avg_price, volume, buy_qty, sell_qty, day_open, day_high, day_low, day_close, net_change)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (instrument_token, ts) DO NOTHING
		`, int64(t.Token), t.Timestamp, t.Seq, t.LastPrice.String(), t.LastQuantity,
			t.AveragePrice.String(), t.Volume, t.BuyQuantity, t.SellQuantity,
			dayOpen, dayHigh, dayLow, dayClose, t.NetChange.String())
	}
	return s.execBatch(ctx, batch, len(ticks))
}

// InsertDepth bulk-inserts depth snapshots, conflict-safe on
// (instrument_token, ts). Levels are stored as JSONB.
func (s *Store) InsertDepth(ctx context.Context, depths []model.DepthSnapshot) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, d := range depths {
		buy, err := json.Marshal(d.Buy)
		if err != nil {
			return 0, fmt.Errorf("marshal buy levels: %w", err)
		}
		sell, err := json.Marshal(d.Sell)
		if err != nil {
			return 0, fmt.Errorf("marshal sell levels: %w", err)
		}
		batch.Queue(`
			INSERT INTO depth_snapshots (instrument_token, ts, seq, buy, sell)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (instrument_token, ts) DO NOTHING
		`, int64(d.Token), d.Timestamp, d.Seq, buy, sell)
	}
	return s.execBatch(ctx, batch, len(depths))
}

// UpsertCandles writes one row per candle, overwriting an existing bucket.
// Only the currently open bucket is ever recomputed upstream, so closed
// candles stay immutable in practice.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (instrument_token, interval, bucket_start, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (instrument_token, interval, bucket_start)
			DO UPDATE SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume
		`, int64(c.Token), string(c.Interval), c.BucketStart,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LatestTick returns the newest persisted tick for the instrument, or nil
// when none exists.
func (s *Store) LatestTick(ctx context.Context, token model.InstrumentToken) (*model.Tick, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT instrument_token, ts, seq, last_price::text, last_qty, avg_price::text, volume, buy_qty, sell_qty,
		       day_open::text, day_high::text, day_low::text, day_close::text, net_change::text
		FROM ticks
		WHERE instrument_token = $1
		ORDER BY ts DESC, seq DESC
		LIMIT 1
	`, int64(token))

	t, err := scanTick(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// LatestDepth returns the newest persisted depth snapshot, or nil.
func (s *Store) LatestDepth(ctx context.Context, token model.InstrumentToken) (*model.DepthSnapshot, error) {
	var (
		d         model.DepthSnapshot
		tok       int64
		buy, sell []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT instrument_token, ts, seq, buy, sell
		FROM depth_snapshots
		WHERE instrument_token = $1
		ORDER BY ts DESC, seq DESC
		LIMIT 1
	`, int64(token)).Scan(&tok, &d.Timestamp, &d.Seq, &buy, &sell)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.Token = model.InstrumentToken(tok)
	d.Timestamp = d.Timestamp.UTC()
	if err := json.Unmarshal(buy, &d.Buy); err != nil {
		return nil, fmt.Errorf("unmarshal buy levels: %w", err)
	}
	if err := json.Unmarshal(sell, &d.Sell); err != nil {
		return nil, fmt.Errorf("unmarshal sell levels: %w", err)
	}
	return &d, nil
}

// TicksInRange returns ticks with ts in [from, to), ordered by (ts, seq).
func (s *Store) TicksInRange(ctx context.Context, token model.InstrumentToken, from, to time.Time) ([]model.Tick, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instrument_token, ts, seq, last_price::text, last_qty, avg_price::text, volume, buy_qty, sell_qty,
		       day_open::text, day_high::text, day_low::text, day_close::text, net_change::text
		FROM ticks
		WHERE instrument_token = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC, seq ASC
	`, int64(token), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Tick
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CandlesInRange returns candles with bucket start in [from, to), ordered by
// bucket start.
func (s *Store) CandlesInRange(ctx context.Context, token model.InstrumentToken, iv model.Interval, from, to time.Time) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instrument_token, interval, bucket_start, open::text, high::text, low::text, close::text, volume
		FROM candles
		WHERE instrument_token = $1 AND interval = $2 AND bucket_start >= $3 AND bucket_start < $4
		ORDER BY bucket_start ASC
	`, int64(token), string(iv), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			c                          model.Candle
			tok                        int64
			ivCol                      string
			openS, highS, lowS, closeS string
		)
		if err := rows.Scan(&tok, &ivCol, &c.BucketStart, &openS, &highS, &lowS, &closeS, &c.Volume); err != nil {
			return nil, err
		}
		c.Token = model.InstrumentToken(tok)
		c.Interval = model.Interval(ivCol)
		c.BucketStart = c.BucketStart.UTC()
		if c.Open, err = decimal.NewFromString(openS); err != nil {
			return nil, err
		}
		if c.High, err = decimal.NewFromString(highS); err != nil {
			return nil, err
		}
		if c.Low, err = decimal.NewFromString(lowS); err != nil {
			return nil, err
		}
		if c.Close, err = decimal.NewFromString(closeS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// execBatch runs a conflict-safe insert batch, counting rows dropped on
// conflict exactly like rows affected by nothing.
func (s *Store) execBatch(ctx context.Context, batch *pgx.Batch, n int) (conflicts int, err error) {
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < n; i++ {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

func scanTick(row pgx.Row) (*model.Tick, error) {
	var (
		t                                  model.Tick
		tok                                int64
		lastPrice, avgPrice, netChange     string
		dayOpen, dayHigh, dayLow, dayClose *string
	)
	err := row.Scan(&tok, &t.Timestamp, &t.Seq, &lastPrice, &t.LastQuantity, &avgPrice,
		&t.Volume, &t.BuyQuantity, &t.SellQuantity,
		&dayOpen, &dayHigh, &dayLow, &dayClose, &netChange)
	if err != nil {
		return nil, err
	}

	t.Token = model.InstrumentToken(tok)
	t.Timestamp = t.Timestamp.UTC()
	if t.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
		return nil, err
	}
	if t.AveragePrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, err
	}
	if t.NetChange, err = decimal.NewFromString(netChange); err != nil {
		return nil, err
	}
	if dayOpen != nil && dayHigh != nil && dayLow != nil && dayClose != nil {
		ohlc := &model.DayOHLC{}
		if ohlc.Open, err = decimal.NewFromString(*dayOpen); err != nil {
			return nil, err
		}
		if ohlc.High, err = decimal.NewFromString(*dayHigh); err != nil {
			return nil, err
		}
		if ohlc.Low, err = decimal.NewFromString(*dayLow); err != nil {
			return nil, err
		}
		if ohlc.Close, err = decimal.NewFromString(*dayClose); err != nil {
			return nil, err
		}
		t.OHLC = ohlc
	}
	return &t, nil
}

func decPtr(d decimal.Decimal) *string {
	s := d.String()
	return &s
}
