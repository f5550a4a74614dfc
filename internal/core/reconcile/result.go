package reconcile

import (
	"time"

	"github.com/rs/zerolog"
)

// State は同期エンジンの状態です。
type State string

const (
	StateIdle              State = "idle"
	StateLoadingSource     State = "loading_source"
	StateLoadingTarget     State = "loading_target"
	StatePhase1Sync        State = "phase1_sync"
	StatePhase2ManagerLink State = "phase2_manager_link"
	StateSummarized        State = "summarized"
)

// Counters は 1 回の実行における処理件数です。永続化はされません。
type Counters struct {
	Created             int
	Updated             int
	Unchanged           int
	ManagerLinksUpdated int
	Skipped             int
	LookupFailures      int
	Ambiguous           int
	ManagerUnresolved   int
	ManagerLinkFailures int
}

// Summary は実行結果の要約です。
type Summary struct {
	RunID       string
	Counters    Counters
	SourceCount int
	// TargetCount は実行後の同期先の総件数です。取得に失敗した場合は -1 です。
	TargetCount int
	DryRun      bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration は実行に要した時間を返します。
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// MarshalZerologObject は zerolog.LogObjectMarshaler を実装します。
func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", s.RunID).
		Int("source_count", s.SourceCount).
		Int("created", s.Counters.Created).
		Int("updated", s.Counters.Updated).
		Int("unchanged", s.Counters.Unchanged).
		Int("skipped", s.Counters.Skipped).
		Int("manager_links_updated", s.Counters.ManagerLinksUpdated).
		Int("manager_unresolved", s.Counters.ManagerUnresolved).
		Int("manager_link_failures", s.Counters.ManagerLinkFailures).
		Int("lookup_failures", s.Counters.LookupFailures).
		Int("ambiguous", s.Counters.Ambiguous).
		Int("target_count", s.TargetCount).
		Bool("dry_run", s.DryRun).
		Dur("duration", s.Duration())
}
