package identity

import (
	"context"
	"strings"

	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

// Record はソースディレクトリから取得した社員 1 名分の不変スナップショットです。
type Record struct {
	ID             string
	DisplayName    string
	PrincipalName  string
	Mail           string
	Active         bool
	Categories     map[lookup.Dimension]string
	JobTitle       string
	Manager        *ManagerRef
	HireDate       dates.RawDate
	LegacyHireDate dates.RawDate
	BirthDate      dates.RawDate
}

// ManagerRef は上長となる別の Record への参照です。
type ManagerRef struct {
	ID            string
	DisplayName   string
	PrincipalName string
}

// Resolvable は参照先を特定できる識別子を持つかどうかを返します。
func (m *ManagerRef) Resolvable() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.ID) != "" || strings.TrimSpace(m.PrincipalName) != ""
}

// Category は指定された種別のラベルを返します。
func (r Record) Category(dim lookup.Dimension) string {
	if r.Categories == nil {
		return ""
	}
	return r.Categories[dim]
}

// Source はソースディレクトリの抽象です。実装はページングを内部で処理し全件を返します。
type Source interface {
	ListAll(ctx context.Context) ([]Record, error)
}
