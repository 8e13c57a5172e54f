package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/quantlab-go/internal/models"
)

// CandleRepository reads OHLCV series from the candle store.
type CandleRepository struct {
	pool   PgxPool
	logger *logrus.Logger
}

// NewCandleRepository creates a repository over the given pool.
func NewCandleRepository(pool PgxPool, logger *logrus.Logger) *CandleRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CandleRepository{pool: pool, logger: logger}
}

// GetCandles loads the candle series for a symbol and timeframe within
// [start, end], ordered by timestamp ascending.
func (r *CandleRepository) GetCandles(
	ctx context.Context,
	symbol, timeframe string,
	start, end time.Time,
) ([]models.Candle, error) {
	query := `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2 AND timestamp BETWEEN $3 AND $4
		ORDER BY timestamp ASC`

	rows, err := r.pool.Query(ctx, query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles for %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle row: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candle rows: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"symbol":    symbol,
		"timeframe": timeframe,
		"candles":   len(candles),
	}).Debug("Loaded candle series")

	return candles, nil
}

// GetLatestTimestamp returns the most recent candle timestamp for a symbol
// and timeframe, or the zero time when none exist.
func (r *CandleRepository) GetLatestTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	query := `
		SELECT COALESCE(MAX(timestamp), 'epoch'::timestamptz)
		FROM candles
		WHERE symbol = $1 AND timeframe = $2`

	rows, err := r.pool.Query(ctx, query, symbol, timeframe)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	defer rows.Close()

	var latest time.Time
	if rows.Next() {
		if err := rows.Scan(&latest); err != nil {
			return time.Time{}, fmt.Errorf("failed to scan latest timestamp: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if latest.Unix() <= 0 {
		return time.Time{}, nil
	}
	return latest, nil
}
