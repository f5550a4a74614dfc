package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress は実行中に別の実行が要求された場合に返却されます。
	ErrRunInProgress = errors.New("reconcile: run already in progress")
	// ErrInvalidDate は日付を解釈できずエンティティをスキップする場合に返却されます。
	ErrInvalidDate = errors.New("reconcile: invalid date")
)

// Step は致命的エラーが発生した読み込み段階です。
type Step string

const (
	StepSource Step = "source"
	StepTarget Step = "target"
	StepReload Step = "reload"
)

// LoadError はコレクションの読み込み失敗を表します。実行全体が中断されます。
type LoadError struct {
	Step Step
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("reconcile: load %s collection: %v", e.Step, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Op はエンティティ単位の処理種別です。
type Op string

const (
	OpMap         Op = "map"
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpLinkManager Op = "link_manager"
	OpPanic       Op = "panic"
)

// EntityError は 1 エンティティの処理失敗を表します。そのエンティティのみスキップされます。
type EntityError struct {
	SourceID    string
	DisplayName string
	Op          Op
	Err         error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("reconcile: %s %s (%s): %v", e.Op, e.SourceID, e.DisplayName, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}
