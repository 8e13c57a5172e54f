package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/quantlab-go/internal/models"
)

func TestCandleRepositoryGetCandles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	rows := pgxmock.NewRows([]string{"timestamp", "open", "high", "low", "close", "volume"}).
		AddRow(start, decimal.NewFromInt(100), decimal.NewFromInt(105), decimal.NewFromInt(99), decimal.NewFromInt(104), decimal.NewFromInt(5000)).
		AddRow(start.Add(time.Hour), decimal.NewFromInt(104), decimal.NewFromInt(108), decimal.NewFromInt(103), decimal.NewFromInt(107), decimal.NewFromInt(6200))

	mock.ExpectQuery("SELECT timestamp, open, high, low, close, volume").
		WithArgs("BTC/USDT", "1h", start, end).
		WillReturnRows(rows)

	repo := NewCandleRepository(mock, nil)
	candles, err := repo.GetCandles(context.Background(), "BTC/USDT", "1h", start, end)
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, start, candles[0].Timestamp)
	assert.True(t, candles[0].Close.Equal(decimal.NewFromInt(104)))
	assert.True(t, candles[1].Volume.Equal(decimal.NewFromInt(6200)))
	assert.NoError(t, models.ValidateCandles(candles), "rows arrive time-ordered")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepositoryGetCandlesEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT timestamp, open, high, low, close, volume").
		WithArgs("DOGE/USDT", "5m", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"timestamp", "open", "high", "low", "close", "volume"}))

	repo := NewCandleRepository(mock, nil)
	candles, err := repo.GetCandles(context.Background(), "DOGE/USDT", "5m", start, end)
	require.NoError(t, err)
	assert.Empty(t, candles)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRepositoryGetCandlesQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectQuery("SELECT timestamp, open, high, low, close, volume").
		WithArgs("BTC/USDT", "1h", start, end).
		WillReturnError(errors.New("connection reset"))

	repo := NewCandleRepository(mock, nil)
	_, err = repo.GetCandles(context.Background(), "BTC/USDT", "1h", start, end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query candles")
}

func TestCandleRepositoryGetLatestTimestamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	latest := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("BTC/USDT", "1h").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(latest))

	repo := NewCandleRepository(mock, nil)
	got, err := repo.GetLatestTimestamp(context.Background(), "BTC/USDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, latest, got)
}

func TestCandleRepositoryGetLatestTimestampNone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("NEW/USDT", "1h").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(time.Unix(0, 0).UTC()))

	repo := NewCandleRepository(mock, nil)
	got, err := repo.GetLatestTimestamp(context.Background(), "NEW/USDT", "1h")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
