package migrations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

type State int

const (
	StateIdle State = iota
	StateScanning
	StateIncluding
	StateSkipping
	StateConverting
	StateAggregated
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateIncluding:
		return "including"
	case StateSkipping:
		return "skipping"
	case StateConverting:
		return "converting"
	case StateAggregated:
		return "aggregated"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type RunnerConfig struct {
	Strategy Strategy
	Source   Tables
	Target   Tables

	PageSize    int
	Parallelism int
	StartPage   int
	FinishPage  int

	// RecordsPerSecond throttles dispatch to the target; 0 is unlimited.
	RecordsPerSecond float64

	// Metrics may be nil.
	Metrics *Metrics
}

// Failure is one record that could not be converted.
type Failure struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// Summary is the outcome of a run. Seen counts every fetched row; of those
// Skipped were on pages before the start page, Filtered were rejected by
// the strategy, and the rest were Converted, Failed, or Abandoned when the
// run was cancelled before they started.
type Summary struct {
	Kind          string          `json:"kind"`
	Pages         int             `json:"pages"`
	Seen          int             `json:"seen"`
	Skipped       int             `json:"skipped"`
	Filtered      int             `json:"filtered"`
	Converted     int             `json:"converted"`
	Failed        int             `json:"failed"`
	Abandoned     int             `json:"abandoned"`
	PageDurations []time.Duration `json:"page_durations"`
	Elapsed       time.Duration   `json:"elapsed"`
	Failures      []Failure       `json:"failures,omitempty"`

	// Completed is set when the run reached its last page, failures or not.
	Completed bool `json:"completed"`
	// Exhausted is set when the source has no pages left.
	Exhausted bool `json:"exhausted"`
	// Rescan is set when converted rows left the source query, so page
	// numbers seen by this run no longer line up with the next one.
	Rescan    bool `json:"rescan"`
}

// NextStartPage is the start page that resumes after this run. A run that
// rewrote its own version-filtered source resumes from the first page; the
// filter already drops what it converted.
func (s *Summary) NextStartPage() int {
	if s.Rescan {
		return 1
	}
	return s.Pages + 1
}

func (s *Summary) clone() *Summary {
	c := *s
	c.PageDurations = append([]time.Duration(nil), s.PageDurations...)
	c.Failures = append([]Failure(nil), s.Failures...)
	return &c
}

// Progress is a point-in-time view of a run.
type Progress struct {
	State   State    `json:"state"`
	Page    int      `json:"page"`
	Summary *Summary `json:"summary"`
}

// Runner drives one strategy over its source. A Runner runs once.
type Runner struct {
	cfg     RunnerConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	state   State
	page    int
	summary Summary
	started bool
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Strategy == nil {
		return nil, errors.New("migration runner: no strategy")
	}
	if cfg.Strategy.SourceTable(cfg.Source) == nil {
		return nil, fmt.Errorf("migration runner: %s has no source table", cfg.Strategy.Name())
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = pagination.DefaultParallelism
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	opts := pagination.Options{PageSize: cfg.PageSize, StartPage: cfg.StartPage, FinishPage: cfg.FinishPage}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cfg.RecordsPerSecond < 0 {
		return nil, fmt.Errorf("migration runner: negative rate %v", cfg.RecordsPerSecond)
	}
	r := &Runner{cfg: cfg, summary: Summary{Kind: cfg.Strategy.Name()}}
	if vf, ok := cfg.Strategy.(versionFiltered); ok && vf.versionFiltered() && cfg.Target.Same(cfg.Source) {
		r.summary.Rescan = true
	}
	if cfg.RecordsPerSecond > 0 {
		// a whole page must fit in one burst for WaitN
		burst := max(cfg.PageSize, int(cfg.RecordsPerSecond))
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RecordsPerSecond), burst)
	}
	return r, nil
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Progress{State: r.state, Page: r.page, Summary: r.summary.clone()}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run scans the source and converts every included page. Per-record
// failures are collected in the summary; the error is non-nil only when a
// page cannot be fetched or ctx ends, and the partial summary is returned
// with it.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil, errors.New("migration runner: already run")
	}
	r.started = true
	r.mu.Unlock()

	kind := r.cfg.Strategy.Name()
	src := r.cfg.Strategy.SourceTable(r.cfg.Source)
	scanner, err := pagination.NewScanner(src, r.cfg.Strategy.SourceQuery(), pagination.Options{
		PageSize:   r.cfg.PageSize,
		StartPage:  r.cfg.StartPage,
		FinishPage: r.cfg.FinishPage,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger.Info("migration_started", "kind", kind, "source", src.Name(),
		"page_size", r.cfg.PageSize, "parallelism", r.cfg.Parallelism,
		"start_page", r.cfg.StartPage, "finish_page", r.cfg.FinishPage)

	finish := func(state State, err error) (*Summary, error) {
		r.mu.Lock()
		r.state = state
		r.summary.Elapsed = time.Since(start)
		r.summary.Exhausted = scanner.Done()
		r.summary.Completed = state == StateDone
		out := r.summary.clone()
		r.mu.Unlock()
		logger.Info("migration_summary", "kind", kind, "state", state.String(),
			"pages", out.Pages, "seen", out.Seen, "skipped", out.Skipped, "filtered", out.Filtered,
			"converted", out.Converted, "failed", out.Failed, "abandoned", out.Abandoned,
			"elapsed", out.Elapsed, "exhausted", out.Exhausted)
		return out, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(StateCancelled, err)
		}
		r.setState(StateScanning)
		page, ok, err := scanner.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateCancelled, ctx.Err())
			}
			logger.Error("migration_page_fetch_failed", "kind", kind, "page", scanner.PageNumber()+1, "error", err)
			return finish(StateFailed, err)
		}
		if !ok {
			break
		}
		r.runPage(ctx, page)
	}
	return finish(StateDone, nil)
}

func (r *Runner) runPage(ctx context.Context, page *pagination.Page) {
	kind := r.cfg.Strategy.Name()
	r.mu.Lock()
	r.page = page.Number
	r.summary.Pages++
	r.summary.Seen += len(page.Entities)
	r.mu.Unlock()

	if page.Skipped {
		r.setState(StateSkipping)
		r.mu.Lock()
		r.summary.Skipped += len(page.Entities)
		r.mu.Unlock()
		r.cfg.Metrics.record(kind, outcomeSkipped, len(page.Entities))
		r.cfg.Metrics.page(kind, true, page.Elapsed)
		logger.Debug("migration_page_skipped", "kind", kind, "page", page.Number, "rows", len(page.Entities))
		return
	}

	r.setState(StateIncluding)
	begin := time.Now()
	logger.Info("migration_page_start", "kind", kind, "page", page.Number, "rows", len(page.Entities))
	units := make([]*table.Entity, 0, len(page.Entities))
	for _, e := range page.Entities {
		if r.cfg.Strategy.ShouldConvert(e) {
			units = append(units, e)
		}
	}
	filtered := len(page.Entities) - len(units)
	r.mu.Lock()
	r.summary.Filtered += filtered
	r.mu.Unlock()
	r.cfg.Metrics.record(kind, outcomeFiltered, filtered)

	if r.limiter != nil && len(units) > 0 {
		if err := r.limiter.WaitN(ctx, len(units)); err != nil {
			logger.Debug("migration_throttle_wait_failed", "kind", kind, "page", page.Number, "error", err)
		}
	}

	r.setState(StateConverting)
	converted, failed, abandoned := r.convert(ctx, units)

	elapsed := page.Elapsed + time.Since(begin)
	r.mu.Lock()
	r.summary.PageDurations = append(r.summary.PageDurations, elapsed)
	r.state = StateAggregated
	r.mu.Unlock()
	r.cfg.Metrics.page(kind, false, elapsed)
	logger.Info("migration_page_done", "kind", kind, "page", page.Number,
		"converted", converted, "failed", failed, "filtered", filtered, "abandoned", abandoned,
		"elapsed", elapsed)
}

type outcome struct {
	key string
	err error
}

// convert hands units to the strategy and folds every outcome into the
// summary on a single goroutine. It returns once the page is finished.
func (r *Runner) convert(ctx context.Context, units []*table.Entity) (converted, failed, abandoned int) {
	if len(units) == 0 {
		return 0, 0, 0
	}
	kind := r.cfg.Strategy.Name()
	results := make(chan outcome, r.cfg.Parallelism)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range results {
			r.mu.Lock()
			switch {
			case o.err == nil:
				r.summary.Converted++
				converted++
			case ctx.Err() != nil && (errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded)):
				r.summary.Abandoned++
				abandoned++
			default:
				r.summary.Failed++
				failed++
				r.summary.Failures = append(r.summary.Failures, Failure{Key: o.key, Message: o.err.Error()})
			}
			r.mu.Unlock()
			if o.err != nil && ctx.Err() == nil {
				logger.Warn("migration_record_failed", "kind", kind, "key", o.key, "error", o.err)
			}
		}
	}()

	r.cfg.Strategy.ProcessPage(ctx, r.cfg.Target, r.cfg.Source, units, r.cfg.Parallelism,
		func(key string) { results <- outcome{key: key} },
		func(key string, err error) { results <- outcome{key: key, err: err} },
	)
	close(results)
	<-done

	r.cfg.Metrics.record(kind, outcomeConverted, converted)
	r.cfg.Metrics.record(kind, outcomeFailed, failed)
	r.cfg.Metrics.record(kind, outcomeAbandoned, abandoned)
	return converted, failed, abandoned
}
