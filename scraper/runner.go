package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptocompare_scraper/config"
	"cryptocompare_scraper/cryptocompare"
	"cryptocompare_scraper/metrics"
	"cryptocompare_scraper/models"
	"cryptocompare_scraper/table"
	"cryptocompare_scraper/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Policy decides what a failed fetch does to the run.
type Policy int

const (
	// FailFast aborts the run on the first failure.
	FailFast Policy = iota
	// BestEffort keeps going and reports failures.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return config.PolicyBestEffort
	}
	return config.PolicyFailFast
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", config.PolicyFailFast:
		return FailFast, nil
	case config.PolicyBestEffort:
		return BestEffort, nil
	}
	return FailFast, fmt.Errorf("unknown fetch policy %q", s)
}

var ErrEmptyPlan = errors.New("plan has no exchanges or no pairs")

// Plan is the set of (pair, exchange) combinations to fetch.
type Plan struct {
	Exchanges []string
	Pairs     []models.SymbolPair
	Aggregate string
	Limit     string
}

func DefaultPlan() Plan {
	return Plan{
		Exchanges: models.DefaultExchanges,
		Pairs:     models.DefaultSymbolPairs,
		Aggregate: models.DefaultAggregate,
		Limit:     models.DefaultLimit,
	}
}

// Params expands the plan in iteration order: pairs outer, exchanges inner.
func (p Plan) Params() []models.FetchParams {
	out := make([]models.FetchParams, 0, len(p.Pairs)*len(p.Exchanges))
	for _, pair := range p.Pairs {
		for _, ex := range p.Exchanges {
			out = append(out, models.FetchParams{
				Pair:      pair,
				Aggregate: p.Aggregate,
				Limit:     p.Limit,
				Exchange:  ex,
			})
		}
	}
	return out
}

// Fetcher retrieves one combination. *cryptocompare.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, p models.FetchParams) (*cryptocompare.Batch, error)
}

// FetchResult is the outcome of one combination.
type FetchResult struct {
	Params    models.FetchParams
	Candles   []models.Candle
	ExtraKeys []string
	Err       error
	Duration  time.Duration
}

func (r FetchResult) Stats() models.FetchStats {
	s := models.FetchStats{
		Pair:     r.Params.Pair.Label(),
		Exchange: r.Params.Exchange,
		Rows:     len(r.Candles),
		Duration: r.Duration,
	}
	if r.Err != nil {
		s.Err = r.Err.Error()
	}
	return s
}

// RunReport is the result of a completed run.
type RunReport struct {
	RunID    uuid.UUID
	Results  []FetchResult
	Table    *table.RawTable
	Failures []FetchResult
	Stats    models.RunStats
}

// Runner executes plans against a Fetcher.
type Runner struct {
	fetcher     Fetcher
	concurrency int
	policy      Policy
}

func NewRunner(f Fetcher, concurrency int, policy Policy) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{fetcher: f, concurrency: concurrency, policy: policy}
}

// Run fetches every combination of the plan. Under FailFast the first failure
// cancels outstanding fetches and is returned with no report.
func (r *Runner) Run(ctx context.Context, plan Plan) (*RunReport, error) {
	params := plan.Params()
	if len(params) == 0 {
		return nil, ErrEmptyPlan
	}

	runID := uuid.New()
	started := time.Now()
	utils.Logger.Infow("Starting scrape run",
		"run_id", runID.String(),
		"pairs", len(plan.Pairs),
		"exchanges", len(plan.Exchanges),
		"concurrency", r.concurrency,
		"policy", r.policy.String(),
	)

	results := make([]FetchResult, len(params))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, p := range params {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = FetchResult{Params: p, Err: err}
				return err
			}
			results[i] = r.fetchOne(gctx, p)
			if results[i].Err != nil && r.policy == FailFast {
				return results[i].Err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report := r.report(runID, started, results)
	r.logRun(report, err)
	metrics.RecordRun(report.Stats.Duration, report.Stats.Failures)
	if err != nil {
		return nil, fmt.Errorf("scrape run %s aborted: %w", runID, err)
	}
	return report, nil
}

func (r *Runner) fetchOne(ctx context.Context, p models.FetchParams) FetchResult {
	start := time.Now()
	batch, err := r.fetcher.Fetch(ctx, p)
	res := FetchResult{Params: p, Err: err, Duration: time.Since(start)}
	if err != nil {
		utils.Error(err, "Fetch failed",
			"pair", p.Pair.Label(),
			"exchange", p.Exchange,
		)
		return res
	}
	res.Candles = batch.Candles
	res.ExtraKeys = batch.ExtraKeys
	return res
}

// report assembles results in plan order. Combinations never started under
// FailFast are left out.
func (r *Runner) report(runID uuid.UUID, started time.Time, results []FetchResult) *RunReport {
	rep := &RunReport{
		RunID: runID,
		Table: table.New(),
		Stats: models.RunStats{RunID: runID.String(), StartedAt: started},
	}
	for _, res := range results {
		if res.Params.Exchange == "" {
			continue
		}
		rep.Results = append(rep.Results, res)
		rep.Stats.Requests++
		if res.Err != nil {
			rep.Failures = append(rep.Failures, res)
			rep.Stats.Failures++
			continue
		}
		rep.Table.Append(res.Candles, res.ExtraKeys...)
		rep.Stats.Rows += len(res.Candles)
	}
	rep.Stats.Duration = time.Since(started)
	return rep
}

func (r *Runner) logRun(rep *RunReport, err error) {
	for _, res := range rep.Results {
		s := res.Stats()
		utils.Logger.Debugw("Fetch summary",
			"run_id", rep.Stats.RunID,
			"pair", s.Pair,
			"exchange", s.Exchange,
			"rows", s.Rows,
			"duration", s.Duration,
			"error", s.Err,
		)
	}
	fields := []interface{}{
		"run_id", rep.Stats.RunID,
		"requests", rep.Stats.Requests,
		"failures", rep.Stats.Failures,
		"rows", rep.Stats.Rows,
		"duration", rep.Stats.Duration,
	}
	if err != nil {
		utils.Error(err, "Scrape run aborted", fields...)
		return
	}
	utils.Logger.Infow("Scrape run complete", fields...)
}

// RunToFile runs the plan and writes the Raw Table to path. Nothing is
// written when the run fails.
func (r *Runner) RunToFile(ctx context.Context, plan Plan, path string) (*RunReport, error) {
	rep, err := r.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := rep.Table.WriteFile(path); err != nil {
		return nil, fmt.Errorf("write raw table: %w", err)
	}
	utils.Logger.Infow("Raw table written",
		"path", path,
		"rows", rep.Table.Len(),
		"columns", len(rep.Table.Header()),
	)
	return rep, nil
}
