package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/irfndi/quantlab-go/internal/models"
	"github.com/irfndi/quantlab-go/internal/telemetry"
)

// OptimizationMethod selects the candidate generation strategy.
type OptimizationMethod string

const (
	// MethodGridSearch enumerates the full discretized grid, subsampling
	// uniformly when the grid exceeds the evaluation budget or the
	// optimizer's grid ceiling.
	MethodGridSearch OptimizationMethod = "grid_search"
	// MethodRandomSearch draws independent uniform samples from the space.
	MethodRandomSearch OptimizationMethod = "random_search"
)

// OptimizeRequest describes one optimization run.
type OptimizeRequest struct {
	Method         OptimizationMethod `json:"method"`
	Metric         string             `json:"metric"`
	MaxEvaluations int                `json:"max_evaluations"`
	Seed           int64              `json:"seed"`
	Workers        int                `json:"workers"`
}

// EvaluationResult is the outcome of scoring one parameter combination.
type EvaluationResult struct {
	Parameters map[string]any     `json:"parameters"`
	Score      float64            `json:"score"`
	Metrics    PerformanceMetrics `json:"metrics"`
}

// OptimizationResult aggregates a completed optimization run. It is frozen
// once returned.
type OptimizationResult struct {
	StrategyID          string             `json:"strategy_id"`
	Symbol              string             `json:"symbol"`
	Method              OptimizationMethod `json:"optimization_method"`
	Metric              string             `json:"metric_name"`
	BestParameters      map[string]any     `json:"best_parameters"`
	BestScore           float64            `json:"best_metric_value"`
	BestMetrics         PerformanceMetrics `json:"best_metrics"`
	Space               []ParameterRange   `json:"parameter_space"`
	Evaluations         []EvaluationResult `json:"results"`
	ResultsCount        int                `json:"results_count"`
	TotalCandidates     int                `json:"total_candidates"`
	FailedCandidates    int                `json:"failed_candidates"`
	ParameterImportance map[string]float64 `json:"parameter_importance"`
	StartedAt           time.Time          `json:"start_time"`
	CompletedAt         time.Time          `json:"end_time"`
	DurationSeconds     float64            `json:"duration_seconds"`
}

// Optimizer evaluates parameter combinations against a backtest and ranks
// them by a chosen metric. Candidate evaluations run concurrently; each one
// gets its own strategy clone while the candle series is shared read-only.
type Optimizer struct {
	backtester *Backtester
	logger     *logrus.Logger
	maxGrid    int
}

// NewOptimizer creates an optimizer bound to a backtester. maxGridSize caps
// the number of grid cells evaluated in one run regardless of the requested
// budget; zero or negative means 10000.
func NewOptimizer(backtester *Backtester, logger *logrus.Logger, maxGridSize int) *Optimizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if maxGridSize <= 0 {
		maxGridSize = 10000
	}
	return &Optimizer{backtester: backtester, logger: logger, maxGrid: maxGridSize}
}

// defaultWorkerCount sizes the pool from the physical core count, falling
// back to the scheduler's view when the probe fails.
func defaultWorkerCount() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

type evaluation struct {
	index  int
	params map[string]any
}

type evaluationOutcome struct {
	index  int
	result EvaluationResult
	err    error
}

// Optimize searches the parameter space for the combination maximizing the
// requested metric. Results are deterministic for a fixed seed: ties break
// toward the earlier candidate in generation order.
func (o *Optimizer) Optimize(
	ctx context.Context,
	strategy Strategy,
	space *ParameterSpace,
	candles []models.Candle,
	symbol, timeframe string,
	opts BacktestOptions,
	req OptimizeRequest,
) (*OptimizationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "Optimizer.Optimize")
	defer span.End()

	startedAt := time.Now()

	if space == nil || space.Len() == 0 {
		return nil, fmt.Errorf("%w: parameter space is empty", ErrInvalidInput)
	}
	if req.Metric == "" {
		return nil, fmt.Errorf("%w: optimization metric must be named", ErrInvalidInput)
	}
	if req.MaxEvaluations <= 0 {
		req.MaxEvaluations = 50
	}
	if req.Workers <= 0 {
		req.Workers = defaultWorkerCount()
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	candidates, err := o.generateCandidates(space, req, rng)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("method", string(req.Method)),
		attribute.String("metric", req.Metric),
		attribute.Int("candidates", len(candidates)),
		attribute.Int("workers", req.Workers),
	)
	o.logger.WithFields(logrus.Fields{
		"strategy":   strategy.StrategyID(),
		"method":     req.Method,
		"metric":     req.Metric,
		"candidates": len(candidates),
		"workers":    req.Workers,
	}).Info("Starting optimization")

	outcomes := o.evaluateAll(ctx, strategy, candidates, candles, symbol, timeframe, opts, req)

	evaluations := make([]EvaluationResult, 0, len(outcomes))
	failed := 0
	bestIdx := -1
	for _, out := range outcomes {
		if out.err != nil {
			failed++
			o.logger.WithFields(logrus.Fields{
				"strategy":   strategy.StrategyID(),
				"parameters": candidates[out.index],
				"error":      out.err.Error(),
			}).Warn("Candidate evaluation failed")
			continue
		}
		evaluations = append(evaluations, out.result)
		if bestIdx == -1 || out.result.Score > evaluations[bestIdx].Score {
			bestIdx = len(evaluations) - 1
		}
	}

	if bestIdx == -1 {
		return nil, fmt.Errorf("optimization failed: all %d candidates errored", len(candidates))
	}

	best := evaluations[bestIdx]
	completedAt := time.Now()

	result := &OptimizationResult{
		StrategyID:          strategy.StrategyID(),
		Symbol:              symbol,
		Method:              req.Method,
		Metric:              req.Metric,
		BestParameters:      best.Parameters,
		BestScore:           best.Score,
		BestMetrics:         best.Metrics,
		Space:               space.Ranges(),
		Evaluations:         evaluations,
		ResultsCount:        len(evaluations),
		TotalCandidates:     len(candidates),
		FailedCandidates:    failed,
		ParameterImportance: parameterImportance(space, evaluations),
		StartedAt:           startedAt,
		CompletedAt:         completedAt,
		DurationSeconds:     completedAt.Sub(startedAt).Seconds(),
	}

	fields := logrus.Fields{
		"strategy":   strategy.StrategyID(),
		"best_score": best.Score,
		"evaluated":  len(evaluations),
		"failed":     failed,
		"duration_s": result.DurationSeconds,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["mem_used_pct"] = vm.UsedPercent
	}
	o.logger.WithFields(fields).Info("Optimization completed")

	return result, nil
}

// generateCandidates produces the ordered candidate list for the request.
func (o *Optimizer) generateCandidates(space *ParameterSpace, req OptimizeRequest, rng *rand.Rand) ([]map[string]any, error) {
	switch req.Method {
	case MethodGridSearch:
		size := space.GridSize()
		limit := req.MaxEvaluations
		if limit > o.maxGrid {
			limit = o.maxGrid
		}
		if size <= limit {
			return space.GridCombinations(), nil
		}
		// An oversized grid is subsampled, never an error. Distinct cells
		// are drawn by index so the full grid is never materialized, and
		// sorted so ties still resolve toward earlier grid cells.
		indices := sampleIndices(size, limit, rng)
		sampled := make([]map[string]any, len(indices))
		for i, idx := range indices {
			sampled[i] = space.GridCombinationAt(idx)
		}
		return sampled, nil
	case MethodRandomSearch:
		return space.RandomCombinations(req.MaxEvaluations, rng), nil
	default:
		return nil, fmt.Errorf("%w: unknown optimization method %q", ErrInvalidInput, req.Method)
	}
}

// sampleIndices draws n distinct indices from [0, size) and returns them in
// ascending order. Requires n < size.
func sampleIndices(size, n int, rng *rand.Rand) []int {
	seen := make(map[int]struct{}, n)
	indices := make([]int, 0, n)
	for len(indices) < n {
		idx := rng.Intn(size)
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// evaluateAll fans candidate evaluations out over a bounded worker pool and
// collects outcomes indexed by candidate order.
func (o *Optimizer) evaluateAll(
	ctx context.Context,
	strategy Strategy,
	candidates []map[string]any,
	candles []models.Candle,
	symbol, timeframe string,
	opts BacktestOptions,
	req OptimizeRequest,
) []evaluationOutcome {
	outcomes := make([]evaluationOutcome, len(candidates))
	sem := make(chan struct{}, req.Workers)
	var wg sync.WaitGroup

	for i, params := range candidates {
		wg.Add(1)
		go func(ev evaluation) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[ev.index] = o.evaluateOne(ctx, strategy, ev, candles, symbol, timeframe, opts, req.Metric)
		}(evaluation{index: i, params: params})
	}

	wg.Wait()
	return outcomes
}

// evaluateOne scores a single candidate on an isolated strategy clone.
// Panics inside strategy or engine code are contained to the candidate.
func (o *Optimizer) evaluateOne(
	ctx context.Context,
	strategy Strategy,
	ev evaluation,
	candles []models.Candle,
	symbol, timeframe string,
	opts BacktestOptions,
	metric string,
) (outcome evaluationOutcome) {
	outcome.index = ev.index

	defer func() {
		if r := recover(); r != nil {
			outcome.err = fmt.Errorf("candidate panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		outcome.err = err
		return outcome
	}

	clone := strategy.Clone()
	if err := clone.UpdateParameters(ev.params); err != nil {
		outcome.err = fmt.Errorf("apply parameters: %w", err)
		return outcome
	}

	result, err := o.backtester.Run(ctx, clone, candles, symbol, timeframe, opts)
	if err != nil {
		outcome.err = err
		return outcome
	}

	metrics := result.Metrics()
	score, ok := metrics[metric]
	if !ok {
		outcome.err = fmt.Errorf("metric %q undefined for candidate", metric)
		return outcome
	}
	if math.IsNaN(score) {
		outcome.err = fmt.Errorf("metric %q is not a number for candidate", metric)
		return outcome
	}

	outcome.result = EvaluationResult{
		Parameters: ev.params,
		Score:      score,
		Metrics:    metrics,
	}
	return outcome
}

// parameterImportance estimates how strongly each numeric or boolean
// dimension drives the score, as the absolute Pearson correlation between
// the dimension's values and the scores, normalized so the strongest
// dimension reads 1.
func parameterImportance(space *ParameterSpace, evaluations []EvaluationResult) map[string]float64 {
	importance := make(map[string]float64)
	if len(evaluations) < 2 {
		return importance
	}

	scores := make([]float64, 0, len(evaluations))
	for _, ev := range evaluations {
		s := ev.Score
		if math.IsInf(s, 1) {
			s = math.MaxFloat64
		} else if math.IsInf(s, -1) {
			s = -math.MaxFloat64
		}
		scores = append(scores, s)
	}

	raw := make(map[string]float64)
	maxAbs := 0.0
	for _, r := range space.Ranges() {
		values := make([]float64, 0, len(evaluations))
		usable := true
		for _, ev := range evaluations {
			v, ok := numericParam(ev.Parameters[r.Name])
			if !ok {
				usable = false
				break
			}
			values = append(values, v)
		}
		if !usable {
			continue
		}
		corr := math.Abs(pearson(values, scores))
		if math.IsNaN(corr) {
			continue
		}
		raw[r.Name] = corr
		if corr > maxAbs {
			maxAbs = corr
		}
	}

	if maxAbs == 0 {
		return importance
	}
	for name, corr := range raw {
		importance[name] = corr / maxAbs
	}
	return importance
}

// numericParam projects a parameter value onto the real line. Categorical
// strings have no natural ordering and are excluded.
func numericParam(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// pearson computes the Pearson correlation coefficient. Zero variance on
// either side yields NaN.
func pearson(xs, ys []float64) float64 {
	mx := meanOf(xs)
	my := meanOf(ys)

	var cov, vx, vy float64
	for i := range xs {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(vx*vy)
}
