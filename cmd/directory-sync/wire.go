package main

import (
	"context"
	"fmt"

	"github.com/ogurasousui/directory-sync/internal/adapters/graph"
	"github.com/ogurasousui/directory-sync/internal/adapters/repository/postgres"
	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
	"github.com/ogurasousui/directory-sync/internal/platform/config"
	pg "github.com/ogurasousui/directory-sync/internal/platform/db/postgres"
	"github.com/ogurasousui/directory-sync/internal/platform/metrics"
)

// components は 1 プロセス内で共有する同期処理の構成要素です。
type components struct {
	engine  *reconcile.Engine
	metrics *metrics.Collector
	closers []func()
}

func (c *components) Close() {
	closeAll(c.closers)
}

// build は設定から同期エンジンとその依存を組み立てます。
func (a *app) build(ctx context.Context, dryRun bool) (*components, error) {
	cfg := a.cfg
	c := &components{metrics: metrics.New()}

	httpClient := graph.NewHTTPClient(ctx, graph.Credentials{
		TenantID:     cfg.Source.TenantID,
		ClientID:     cfg.Source.ClientID,
		ClientSecret: cfg.Source.ClientSecret,
	}, cfg.Source.Timeout)
	client := graph.NewClient(graph.Options{
		HTTPClient:        httpClient,
		RequestsPerSecond: cfg.Source.RequestsPerSecond,
		MaxRetries:        cfg.Source.MaxRetries,
		Observer:          c.metrics,
	})

	deps := reconcile.Dependencies{
		Source:     graph.NewDirectory(client, cfg.Source.PageSize),
		Normalizer: dates.NewNormalizer(cfg.Sync.DateOffset, cfg.Sync.Location()),
		Observer:   c.metrics,
	}

	switch cfg.Target.Kind {
	case config.TargetPostgres:
		pool, err := pg.NewPool(ctx, cfg.Database, a.logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		deps.Store = postgres.NewEmployeeRepository(pool, cfg.Target.PageSize)
		deps.Lookups = postgres.NewLookupRepository(pool)
		deps.Tx = pg.NewTransactionManager(pool)
	case config.TargetSharePoint:
		store, lookups, err := sharePointTarget(ctx, client, cfg.Target)
		if err != nil {
			return nil, err
		}
		deps.Store = store
		deps.Lookups = lookups
	default:
		return nil, fmt.Errorf("unsupported target kind %q", cfg.Target.Kind)
	}

	opts, err := syncOptions(cfg.Sync)
	if err != nil {
		c.Close()
		return nil, err
	}
	opts.DryRun = opts.DryRun || dryRun

	c.engine = reconcile.NewEngine(deps, opts)
	return c, nil
}

func sharePointTarget(ctx context.Context, client *graph.Client, target config.TargetConfig) (employee.Store, lookup.Store, error) {
	sp := target.SharePoint
	store := graph.NewListStore(client, sp.SiteID, sp.ListID, graph.Columns(sp.Columns), target.PageSize)
	if err := store.Verify(ctx); err != nil {
		return nil, nil, err
	}

	lookups := graph.NewLookupLists(client, sp.SiteID, map[lookup.Dimension]string{
		lookup.DimensionUnit:       sp.LookupLists.Unit,
		lookup.DimensionDepartment: sp.LookupLists.Department,
	}, target.PageSize)
	if err := lookups.Verify(ctx); err != nil {
		return nil, nil, err
	}
	return store, lookups, nil
}

func syncOptions(cfg config.SyncConfig) (reconcile.Options, error) {
	datePolicy, err := reconcile.ParseDatePolicy(cfg.InvalidDates)
	if err != nil {
		return reconcile.Options{}, err
	}
	unit, err := lookup.ParsePolicy(cfg.Lookups.Unit)
	if err != nil {
		return reconcile.Options{}, wrapf(err, "sync.lookups.unit")
	}
	department, err := lookup.ParsePolicy(cfg.Lookups.Department)
	if err != nil {
		return reconcile.Options{}, wrapf(err, "sync.lookups.department")
	}

	return reconcile.Options{
		Concurrency:  cfg.Concurrency,
		InvalidDates: datePolicy,
		DryRun:       cfg.DryRun,
		LabelPolicies: map[lookup.Dimension]lookup.Policy{
			lookup.DimensionUnit:       unit,
			lookup.DimensionDepartment: department,
		},
	}, nil
}
