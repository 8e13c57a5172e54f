package services

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/irfndi/quantlab-go/internal/models"
)

// Metric name constants. Consumers select optimization targets and read
// results by these keys.
const (
	MetricTotalPnL             = "total_pnl"
	MetricTotalReturn          = "total_return"
	MetricAnnualizedReturn     = "annualized_return"
	MetricTradeCount           = "trade_count"
	MetricWinCount             = "win_count"
	MetricLossCount            = "loss_count"
	MetricWinRate              = "win_rate"
	MetricGrossProfit          = "gross_profit"
	MetricGrossLoss            = "gross_loss"
	MetricProfitFactor         = "profit_factor"
	MetricAvgWin               = "avg_win"
	MetricAvgLoss              = "avg_loss"
	MetricWinLossRatio         = "win_loss_ratio"
	MetricExpectancy           = "expectancy"
	MetricMaxConsecutiveWins   = "max_consecutive_wins"
	MetricMaxConsecutiveLosses = "max_consecutive_losses"
	MetricMaxDrawdown          = "max_drawdown"
	MetricMaxDrawdownAbs       = "max_drawdown_abs"
	MetricSharpeRatio          = "sharpe_ratio"
	MetricSortinoRatio         = "sortino_ratio"
	MetricCalmarRatio          = "calmar_ratio"
	MetricAnnualizedVolatility = "annualized_volatility"
	MetricAvgTradeDuration     = "avg_trade_duration"
	MetricTotalCommission      = "total_commission"
	MetricTotalSlippage        = "total_slippage"
)

// PerformanceMetrics is a flat name-to-value mapping of computed statistics.
// Keys with no defined value for the given inputs are absent rather than
// zero-filled, so callers can distinguish "zero" from "undefined".
type PerformanceMetrics map[string]float64

// MarshalJSON renders non-finite values as the strings "inf", "-inf" and
// "nan", which encoding/json otherwise refuses to emit.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case math.IsInf(v, 1):
			out[k] = "inf"
		case math.IsInf(v, -1):
			out[k] = "-inf"
		case math.IsNaN(v):
			out[k] = "nan"
		default:
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON, restoring the non-finite
// string markers to their float values.
func (m *PerformanceMetrics) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PerformanceMetrics, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case float64:
			out[k] = val
		case string:
			switch val {
			case "inf":
				out[k] = math.Inf(1)
			case "-inf":
				out[k] = math.Inf(-1)
			case "nan":
				out[k] = math.NaN()
			default:
				return fmt.Errorf("metric %q has non-numeric value %q", k, val)
			}
		default:
			return fmt.Errorf("metric %q has unsupported type %T", k, v)
		}
	}
	*m = out
	return nil
}

// CalculateMetrics computes performance statistics from a completed equity
// curve and trade ledger. It is a pure function of its inputs.
//
// The equity curve is expected to start with the initial-capital anchor
// point; tradingDaysPerYear drives annualization and riskFreeRate is the
// annual rate used by Sharpe and Sortino. Conventions: percentages are
// reported on a 0-100 scale, max_drawdown is zero or negative, and metrics
// that are undefined for the inputs are absent from the bag.
func CalculateMetrics(
	equityCurve []models.EquityPoint,
	trades []models.Trade,
	riskFreeRate float64,
	tradingDaysPerYear int,
) PerformanceMetrics {
	m := PerformanceMetrics{}

	tradeStats(m, trades)
	equityStats(m, equityCurve, riskFreeRate, tradingDaysPerYear)

	return m
}

func tradeStats(m PerformanceMetrics, trades []models.Trade) {
	m[MetricTradeCount] = float64(len(trades))

	var (
		wins, losses           int
		winStreak, lossStreak  int
		maxWinRun, maxLossRun  int
		grossProfit, grossLoss decimal.Decimal
		totalPnL               decimal.Decimal
		totalCommission        decimal.Decimal
		totalSlippage          decimal.Decimal
		totalDuration          float64
	)

	for _, t := range trades {
		totalPnL = totalPnL.Add(t.NetPnL)
		totalCommission = totalCommission.Add(t.Commission)
		totalSlippage = totalSlippage.Add(t.Slippage)
		totalDuration += t.Duration.Hours()

		switch {
		case t.NetPnL.IsPositive():
			wins++
			grossProfit = grossProfit.Add(t.NetPnL)
			winStreak++
			lossStreak = 0
		case t.NetPnL.IsNegative():
			losses++
			grossLoss = grossLoss.Add(t.NetPnL.Abs())
			lossStreak++
			winStreak = 0
		default:
			winStreak = 0
			lossStreak = 0
		}
		maxWinRun = max(maxWinRun, winStreak)
		maxLossRun = max(maxLossRun, lossStreak)
	}

	m[MetricTotalPnL] = totalPnL.InexactFloat64()
	m[MetricTotalCommission] = totalCommission.InexactFloat64()
	m[MetricTotalSlippage] = totalSlippage.InexactFloat64()
	m[MetricWinCount] = float64(wins)
	m[MetricLossCount] = float64(losses)
	m[MetricGrossProfit] = grossProfit.InexactFloat64()
	m[MetricGrossLoss] = grossLoss.InexactFloat64()

	if len(trades) > 0 {
		m[MetricWinRate] = float64(wins) / float64(len(trades)) * 100
		m[MetricExpectancy] = totalPnL.InexactFloat64() / float64(len(trades))
		m[MetricAvgTradeDuration] = totalDuration / float64(len(trades))
		m[MetricMaxConsecutiveWins] = float64(maxWinRun)
		m[MetricMaxConsecutiveLosses] = float64(maxLossRun)
	}

	gp := grossProfit.InexactFloat64()
	gl := grossLoss.InexactFloat64()
	switch {
	case gl > 0:
		m[MetricProfitFactor] = gp / gl
	case gp > 0:
		m[MetricProfitFactor] = math.Inf(1)
	default:
		m[MetricProfitFactor] = 0
	}

	if wins > 0 {
		m[MetricAvgWin] = gp / float64(wins)
	}
	if losses > 0 {
		m[MetricAvgLoss] = gl / float64(losses)
	}
	if wins > 0 && losses > 0 && m[MetricAvgLoss] > 0 {
		m[MetricWinLossRatio] = m[MetricAvgWin] / m[MetricAvgLoss]
	}
}

func equityStats(m PerformanceMetrics, curve []models.EquityPoint, riskFreeRate float64, tradingDaysPerYear int) {
	if len(curve) < 2 {
		m[MetricMaxDrawdown] = 0
		m[MetricMaxDrawdownAbs] = 0
		m[MetricSharpeRatio] = 0
		m[MetricSortinoRatio] = 0
		m[MetricAnnualizedVolatility] = 0
		return
	}

	initial := curve[0].Equity.InexactFloat64()
	final := curve[len(curve)-1].Equity.InexactFloat64()

	if initial != 0 {
		m[MetricTotalReturn] = (final/initial - 1) * 100
	}

	// Per-point simple returns. A non-positive equity value breaks the
	// return series, so such points contribute a zero return.
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		cur := curve[i].Equity.InexactFloat64()
		if prev <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, cur/prev-1)
	}

	ddPct, ddAbs := maxDrawdown(curve)
	m[MetricMaxDrawdown] = ddPct
	m[MetricMaxDrawdownAbs] = ddAbs

	mean := meanOf(returns)
	std := sampleStd(returns, mean)
	perPeriodRf := riskFreeRate / float64(tradingDaysPerYear)

	m[MetricAnnualizedVolatility] = std * math.Sqrt(float64(tradingDaysPerYear)) * 100

	if std > 0 {
		m[MetricSharpeRatio] = (mean - perPeriodRf) / std * math.Sqrt(float64(tradingDaysPerYear))
	} else {
		m[MetricSharpeRatio] = 0
	}

	downside := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) >= 2 {
		dStd := sampleStd(downside, meanOf(downside))
		if dStd > 0 {
			m[MetricSortinoRatio] = (mean - perPeriodRf) / dStd * math.Sqrt(float64(tradingDaysPerYear))
		} else {
			m[MetricSortinoRatio] = 0
		}
	} else {
		m[MetricSortinoRatio] = 0
	}

	years := float64(len(curve)) / float64(tradingDaysPerYear)
	if years > 0 && initial > 0 && final > 0 {
		annualized := (math.Pow(final/initial, 1/years) - 1) * 100
		m[MetricAnnualizedReturn] = annualized

		if ddPct < 0 {
			m[MetricCalmarRatio] = annualized / math.Abs(ddPct)
		}
	}
}

// maxDrawdown returns the largest peak-to-trough decline: a zero-or-negative
// percentage of the running peak, and the absolute amount as a positive
// magnitude.
func maxDrawdown(curve []models.EquityPoint) (pct, abs float64) {
	peak := curve[0].Equity.InexactFloat64()
	for _, p := range curve[1:] {
		eq := p.Equity.InexactFloat64()
		if eq > peak {
			peak = eq
			continue
		}
		if d := peak - eq; d > abs {
			abs = d
		}
		if peak > 0 {
			if d := (eq/peak - 1) * 100; d < pct {
				pct = d
			}
		}
	}
	return pct, abs
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleStd is the sample standard deviation (n-1 denominator). Fewer than
// two observations yield zero.
func sampleStd(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
