// Package app wires configuration, stores, the migration runner and the
// admin server into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dlmelendez/identityazuretable-sub001/internal/schedule"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/api"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/config"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

const shutdownTimeout = 5 * time.Second

// App groups the opened stores and the state of the current run.
type App struct {
	cfg    *config.Config
	scheme keys.Scheme

	source  migrations.Tables
	target  migrations.Tables
	closers []func() error

	registry *prometheus.Registry
	metrics  *migrations.Metrics

	mu      sync.Mutex
	current *migrations.Runner
}

// New validates cfg and opens its stores. An in-place run shares one
// store and one Tables value between source and target.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, scheme: scheme, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = migrations.NewMetrics(a.registry)

	target, closeTarget, err := openStore(ctx, "store", cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeTarget)
	a.target = tablesOf(target, cfg.Store.Tables)

	if cfg.InPlace() {
		a.source = a.target
	} else {
		source, closeSource, err := openStore(ctx, "source_store", *cfg.SourceStore)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closeSource)
		a.source = tablesOf(source, cfg.SourceStore.Tables)
	}

	logger.Info("app_ready",
		"scheme", scheme.Name(), "key_version", scheme.KeyVersion(),
		"kind", cfg.Migration.Kind, "in_place", cfg.InPlace())
	return a, nil
}

func (a *App) Scheme() keys.Scheme { return a.scheme }

// Tables returns the source and target tables. They are the same value for
// an in-place run.
func (a *App) Tables() (source, target migrations.Tables) { return a.source, a.target }

func (a *App) Registry() *prometheus.Registry { return a.registry }

// CreateTables creates the target tables, and the source tables when they
// live elsewhere. It returns the names it touched.
func (a *App) CreateTables(ctx context.Context) ([]string, error) {
	sets := []migrations.Tables{a.target}
	if !a.source.Same(a.target) {
		sets = append(sets, a.source)
	}
	var names []string
	for _, set := range sets {
		for _, t := range []table.Table{set.Users, set.Roles, set.Index} {
			if err := t.CreateIfNotExists(ctx); err != nil {
				return names, fmt.Errorf("create table %s: %w", t.Name(), err)
			}
			logger.Info("table_ready", "table", t.Name())
			names = append(names, t.Name())
		}
	}
	return names, nil
}

// MigrateOnce runs the configured migration one time. A cancelled or timed
// out run returns its partial summary with the context error.
func (a *App) MigrateOnce(ctx context.Context) (*migrations.Summary, error) {
	m := a.cfg.Migration
	strategy, err := migrations.Lookup(m.Kind, a.scheme, migrations.Options{DeleteStale: m.DeleteStale && a.cfg.InPlace()})
	if err != nil {
		return nil, err
	}
	r, err := migrations.NewRunner(migrations.RunnerConfig{
		Strategy:    strategy,
		Source:      a.source,
		Target:      a.target,
		PageSize:    m.PageSize,
		Parallelism: m.Parallelism,
		StartPage:   m.StartPage,
		FinishPage:  m.FinishPage,
		Metrics:     a.metrics,

		RecordsPerSecond: m.RateLimit,
	})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.current = r
	a.mu.Unlock()

	if d := m.Timeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return r.Run(ctx)
}

// Progress reports the current or last run for the admin endpoint.
func (a *App) Progress() (migrations.Progress, bool) {
	a.mu.Lock()
	r := a.current
	a.mu.Unlock()
	if r == nil {
		return migrations.Progress{}, false
	}
	return r.Progress(), true
}

// Run starts the admin server when configured, then migrates once or on
// the configured schedule until ctx is cancelled. report sees every
// finished run.
func (a *App) Run(ctx context.Context, report func(*migrations.Summary, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var errCh <-chan error
	var srv *api.Server
	if addr := a.cfg.Admin.Address; addr != "" {
		admin := &api.Admin{
			Service:  "idtable",
			Progress: a.Progress,
			Tables:   a.browsable(),
			Scheme:   a.scheme,
			Gatherer: a.registry,
		}
		srv = api.NewServer(addr, admin.Handler())
		errCh = srv.Start()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("admin_shutdown_failed", "error", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- a.migrate(ctx, report) }()

	select {
	case err := <-done:
		return err
	case err := <-errCh:
		cancel()
		<-done
		if err == nil {
			return errors.New("admin server exited")
		}
		return fmt.Errorf("admin server: %w", err)
	}
}

func (a *App) migrate(ctx context.Context, report func(*migrations.Summary, error)) error {
	once := func(ctx context.Context) error {
		summary, err := a.MigrateOnce(ctx)
		if report != nil {
			report(summary, err)
		}
		return err
	}
	if a.cfg.Migration.Schedule == "" {
		return once(ctx)
	}
	s, err := schedule.New(a.cfg.Migration.Schedule, once)
	if err != nil {
		return err
	}
	s.Immediate = true
	return s.Run(ctx)
}

// browsable names the target tables plainly and, for a copy run, the
// source tables as "source.<name>".
func (a *App) browsable() map[string]table.Table {
	out := make(map[string]table.Table)
	for _, t := range []table.Table{a.target.Users, a.target.Roles, a.target.Index} {
		out[t.Name()] = t
	}
	if !a.source.Same(a.target) {
		for _, t := range []table.Table{a.source.Users, a.source.Roles, a.source.Index} {
			out["source."+t.Name()] = t
		}
	}
	return out
}

// Close releases the stores in reverse open order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
