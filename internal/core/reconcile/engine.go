// Package reconcile はソースディレクトリの社員情報を同期先ストアへ反映する同期エンジンです。
//
// 1 回の実行は次の順に進みます。
//
//	Idle → LoadingSource → LoadingTarget → Phase1Sync → Phase2ManagerLink → Summarized → Idle
//
// フェーズ 1 は各エンティティの作成・更新を行い、フェーズ 2 は全エンティティが同期先に
// 存在する状態で上長リンクを設定します。読み込み段階の失敗のみ実行全体を中断し、
// エンティティ単位の失敗は記録して次のエンティティへ進みます。
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/identity"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

// Clock は現在時刻を提供します。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

// TransactionManager はトランザクション制御の抽象化です。
type TransactionManager interface {
	WithinReadOnly(ctx context.Context, fn func(context.Context) error) error
	WithinReadWrite(ctx context.Context, fn func(context.Context) error) error
}

type noopTransactionManager struct{}

func (noopTransactionManager) WithinReadOnly(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (noopTransactionManager) WithinReadWrite(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Observer は実行結果を受け取ります (メトリクス出力など)。
type Observer interface {
	ObserveRun(summary *Summary, err error)
}

// Dependencies は Engine が利用する外部コンポーネントです。
type Dependencies struct {
	Source     identity.Source
	Store      employee.Store
	Lookups    lookup.Store
	Normalizer *dates.Normalizer
	Tx         TransactionManager
	Clock      Clock
	Observer   Observer
}

// Engine は同期の実行を統括します。同時に実行できるのは 1 回のみです。
type Engine struct {
	source     identity.Source
	store      employee.Store
	lookups    lookup.Store
	normalizer *dates.Normalizer
	tx         TransactionManager
	clock      Clock
	observer   Observer
	opts       Options

	mu    sync.Mutex
	state State
}

// NewEngine は Engine を生成します。
func NewEngine(deps Dependencies, opts Options) *Engine {
	e := &Engine{
		source:     deps.Source,
		store:      deps.Store,
		lookups:    deps.Lookups,
		normalizer: deps.Normalizer,
		tx:         deps.Tx,
		clock:      deps.Clock,
		observer:   deps.Observer,
		opts:       opts.normalized(),
		state:      StateIdle,
	}
	if e.normalizer == nil {
		e.normalizer = dates.NewNormalizer(dates.DefaultOffset, nil)
	}
	if e.tx == nil {
		e.tx = noopTransactionManager{}
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	return e
}

// State は現在の状態を返します。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run は同期を 1 回実行します。
// 読み込み段階の失敗は *LoadError として返却され、要約は返りません。
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.begin() {
		return nil, ErrRunInProgress
	}
	defer e.transition(ctx, StateIdle)

	runID := uuid.NewString()
	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx)

	var lookups lookup.Store = e.lookups
	if e.opts.DryRun {
		lookups = &dryRunLookups{Store: e.lookups}
	}

	r := &run{
		engine:   e,
		log:      &logger,
		resolver: lookup.NewResolver(lookups, e.opts.LabelPolicies),
		summary: Summary{
			RunID:     runID,
			DryRun:    e.opts.DryRun,
			StartedAt: e.clock.Now(),
		},
	}
	r.mapper = NewMapper(r.resolver, e.normalizer, e.opts.Dimensions, e.opts.InvalidDates)

	summary, err := r.execute(ctx)
	if e.observer != nil {
		e.observer.ObserveRun(summary, err)
	}
	return summary, err
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return false
	}
	e.state = StateLoadingSource
	return true
}

func (e *Engine) transition(ctx context.Context, s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	zerolog.Ctx(ctx).Debug().Str("from", string(prev)).Str("to", string(s)).Msg("reconcile: state transition")
}

// loadTargets は同期先の全件を読み取り専用トランザクション内で読み込みます。
func (e *Engine) loadTargets(ctx context.Context, preload func(context.Context) error) ([]*employee.Employee, error) {
	var records []*employee.Employee
	err := e.tx.WithinReadOnly(ctx, func(txCtx context.Context) error {
		if preload != nil {
			if err := preload(txCtx); err != nil {
				return err
			}
		}
		found, err := e.store.ListAll(txCtx)
		if err != nil {
			return err
		}
		records = found
		return nil
	})
	return records, err
}

// dryRunLookups は作成を行わず、実行内でのみ有効な仮の識別子 (負数) を払い出します。
type dryRunLookups struct {
	lookup.Store
	seq atomic.Int64
}

func (d *dryRunLookups) Create(ctx context.Context, dim lookup.Dimension, label string) (int64, error) {
	return -d.seq.Add(1), nil
}

// run は 1 回の実行に閉じた状態を保持します。
type run struct {
	engine   *Engine
	log      *zerolog.Logger
	resolver *lookup.Resolver
	mapper   *Mapper
	matcher  *Matcher

	mu           sync.Mutex
	summary      Summary
	placeholders []*employee.Employee
}

func (r *run) execute(ctx context.Context) (*Summary, error) {
	e := r.engine
	r.log.Info().Bool("dry_run", e.opts.DryRun).Int("concurrency", e.opts.Concurrency).Msg("reconcile: run started")

	sources, err := e.source.ListAll(ctx)
	if err != nil {
		return nil, r.fatal(&LoadError{Step: StepSource, Err: err})
	}
	r.summary.SourceCount = len(sources)
	r.log.Info().Int("count", len(sources)).Msg("reconcile: source collection loaded")

	e.transition(ctx, StateLoadingTarget)
	targets, err := e.loadTargets(ctx, func(txCtx context.Context) error {
		return r.resolver.Preload(txCtx, e.opts.Dimensions...)
	})
	if err != nil {
		return nil, r.fatal(&LoadError{Step: StepTarget, Err: err})
	}
	r.matcher = NewMatcher(targets)
	r.log.Info().Int("count", len(targets)).Msg("reconcile: target collection loaded")

	e.transition(ctx, StatePhase1Sync)
	if err := r.phase1(ctx, sources); err != nil {
		return nil, r.fatal(err)
	}

	e.transition(ctx, StatePhase2ManagerLink)
	reloaded, err := e.loadTargets(ctx, nil)
	if err != nil {
		// フェーズ 1 の書き込みは確定済みのため、上長リンクのみ見送って要約まで進める
		skipped := pendingManagerLinks(sources)
		r.log.Warn().Err(&LoadError{Step: StepReload, Err: err}).Int("manager_links_skipped", skipped).
			Msg("reconcile: target reload failed, manager linking skipped")
		r.count(func(c *Counters) { c.ManagerLinkFailures += skipped })
	} else {
		r.matcher = NewMatcher(reloaded)
		for _, p := range r.placeholders {
			r.matcher.Add(p)
		}
		if err := r.phase2(ctx, sources); err != nil {
			return nil, r.fatal(err)
		}
	}

	e.transition(ctx, StateSummarized)
	r.summary.TargetCount = -1
	if count, err := e.store.Count(ctx); err != nil {
		r.log.Warn().Err(err).Msg("reconcile: count target records")
	} else {
		r.summary.TargetCount = count
	}
	r.summary.FinishedAt = e.clock.Now()

	summary := r.summary
	r.log.Info().EmbedObject(summary).Msg("reconcile: run summary")
	return &summary, nil
}

func (r *run) fatal(err error) error {
	r.log.Error().Err(err).Msg("reconcile: run aborted")
	return err
}

func (r *run) phase1(ctx context.Context, sources []identity.Record) error {
	concurrency := r.engine.opts.Concurrency
	if concurrency <= 1 {
		for _, rec := range sources {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("reconcile: phase 1 canceled: %w", err)
			}
			r.syncOne(ctx, rec)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rec := range sources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.syncOne(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reconcile: phase 1 canceled: %w", err)
	}
	return nil
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeUnchanged
)

func (r *run) syncOne(ctx context.Context, rec identity.Record) {
	log := r.log.With().Str("source_id", rec.ID).Str("principal", rec.PrincipalName).Logger()

	result, err := r.syncEntity(ctx, &log, rec)
	if err != nil {
		log.Warn().Err(err).Str("display_name", rec.DisplayName).Msg("reconcile: entity skipped")
		r.count(func(c *Counters) { c.Skipped++ })
		return
	}

	switch result {
	case outcomeCreated:
		r.count(func(c *Counters) { c.Created++ })
	case outcomeUpdated:
		r.count(func(c *Counters) { c.Updated++ })
	case outcomeUnchanged:
		r.count(func(c *Counters) { c.Unchanged++ })
	}
}

func (r *run) syncEntity(ctx context.Context, log *zerolog.Logger, rec identity.Record) (result outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = entityError(rec, OpPanic, fmt.Errorf("recovered: %v", p))
		}
	}()

	candidate, err := r.mapper.Map(ctx, rec)
	if err != nil {
		return 0, entityError(rec, OpMap, err)
	}
	for _, lerr := range candidate.LookupFailures {
		log.Warn().Err(lerr).Msg("reconcile: lookup unresolved, field left unset")
	}
	for _, derr := range candidate.DateWarnings {
		log.Warn().Err(derr).Msg("reconcile: date ignored")
	}
	if n := len(candidate.LookupFailures); n > 0 {
		r.count(func(c *Counters) { c.LookupFailures += n })
	}

	match := r.matcher.Match(rec)
	if match.Suspicious() {
		r.warnMatch(log, match)
	}

	dry := r.engine.opts.DryRun
	if !match.Found() {
		if dry {
			r.addPlaceholder(candidate.Employee)
		} else {
			id, err := r.engine.store.Create(ctx, candidate.Employee)
			if err != nil {
				return 0, entityError(rec, OpCreate, err)
			}
			candidate.Employee.ID = id
			r.matcher.Add(candidate.Employee)
		}
		log.Info().Str("id", candidate.Employee.ID).Msg("reconcile: employee created")
		return outcomeCreated, nil
	}

	changes := Diff(candidate.Employee, match.Record)
	if changes.Empty() {
		log.Debug().Str("id", match.Record.ID).Msg("reconcile: employee unchanged")
		return outcomeUnchanged, nil
	}

	if !dry {
		if err := r.engine.store.Update(ctx, match.Record.ID, changes); err != nil {
			return 0, entityError(rec, OpUpdate, err)
		}
	}
	log.Info().Str("id", match.Record.ID).Str("rule", string(match.Rule)).
		Interface("fields", changes.Fields()).Msg("reconcile: employee updated")
	return outcomeUpdated, nil
}

func (r *run) warnMatch(log *zerolog.Logger, m Match) {
	r.count(func(c *Counters) { c.Ambiguous++ })
	ev := log.Warn().Str("matched_id", m.Record.ID).Str("rule", string(m.Rule)).Bool("ambiguous", m.Ambiguous)
	if m.Conflict != nil {
		ev = ev.Str("conflicting_id", m.Conflict.ID)
	}
	ev.Msg("reconcile: ambiguous target match")
}

func (r *run) phase2(ctx context.Context, sources []identity.Record) error {
	for _, rec := range sources {
		if rec.Manager == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reconcile: phase 2 canceled: %w", err)
		}

		log := r.log.With().Str("source_id", rec.ID).Str("manager", rec.Manager.DisplayName).Logger()
		if err := r.linkManager(ctx, &log, rec); err != nil {
			log.Warn().Err(err).Msg("reconcile: manager link failed")
			r.count(func(c *Counters) { c.ManagerLinkFailures++ })
		}
	}
	return nil
}

func (r *run) linkManager(ctx context.Context, log *zerolog.Logger, rec identity.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = entityError(rec, OpPanic, fmt.Errorf("recovered: %v", p))
		}
	}()

	self := r.matcher.Match(rec)
	if !self.Found() {
		log.Warn().Msg("reconcile: employee not present in target, manager link skipped")
		return nil
	}

	if !rec.Manager.Resolvable() {
		log.Warn().Msg("reconcile: manager has no identifier")
		r.count(func(c *Counters) { c.ManagerUnresolved++ })
		return nil
	}

	manager := r.matcher.MatchRef(rec.Manager)
	if !manager.Found() {
		log.Warn().Str("manager_id", rec.Manager.ID).Str("manager_principal", rec.Manager.PrincipalName).
			Msg("reconcile: manager not found in target")
		r.count(func(c *Counters) { c.ManagerUnresolved++ })
		return nil
	}
	if manager.Suspicious() {
		r.warnMatch(log, manager)
	}

	changes := managerChanges(self.Record, manager.Record, rec.Manager.DisplayName)
	if changes.Empty() {
		return nil
	}

	applied := true
	if !r.engine.opts.DryRun {
		applied, err = r.applyManagerLink(ctx, self.Record, manager.Record, rec.Manager.DisplayName)
		if err != nil {
			return entityError(rec, OpLinkManager, err)
		}
	}
	// 同じ社員が再度現れた場合に重複して数えないようスナップショットも追従させる
	_ = self.Record.Apply(changes)
	if !applied {
		log.Debug().Str("id", self.Record.ID).Msg("reconcile: manager link already current")
		return nil
	}
	log.Info().Str("id", self.Record.ID).Str("manager_target_id", manager.Record.ID).Msg("reconcile: manager link updated")
	r.count(func(c *Counters) { c.ManagerLinksUpdated++ })
	return nil
}

// applyManagerLink は読み書きトランザクション内で最新の状態を再取得し、差分がある場合のみ更新します。
// ストアが再取得に対応しない場合はスナップショットとの差分を書き込みます。
func (r *run) applyManagerLink(ctx context.Context, self, manager *employee.Employee, managerName string) (bool, error) {
	store := r.engine.store
	applied := false
	err := r.engine.tx.WithinReadWrite(ctx, func(txCtx context.Context) error {
		applied = false
		current := self
		if locker, ok := store.(employee.Locker); ok {
			fresh, err := locker.FindForUpdate(txCtx, self.ID)
			if err != nil {
				return err
			}
			current = fresh
		}

		changes := managerChanges(current, manager, managerName)
		if changes.Empty() {
			return nil
		}
		if err := store.Update(txCtx, self.ID, changes); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// addPlaceholder はドライランで作成されるはずのレコードを仮の ID で照合対象に加えます。
func (r *run) addPlaceholder(e *employee.Employee) {
	r.mu.Lock()
	e.ID = fmt.Sprintf("dry-run-%d", len(r.placeholders)+1)
	r.placeholders = append(r.placeholders, e)
	r.mu.Unlock()
	r.matcher.Add(e)
}

func pendingManagerLinks(sources []identity.Record) int {
	n := 0
	for _, rec := range sources {
		if rec.Manager != nil {
			n++
		}
	}
	return n
}

func (r *run) count(fn func(*Counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.summary.Counters)
}

func entityError(rec identity.Record, op Op, err error) error {
	return &EntityError{SourceID: rec.ID, DisplayName: rec.DisplayName, Op: op, Err: err}
}
