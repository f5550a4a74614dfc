package reconcile

import (
	"strings"
	"sync"

	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/identity"
)

// Rule は照合に用いたキーです。
type Rule string

const (
	RuleNone     Rule = ""
	RuleSourceID Rule = "source_id"
	RuleEmail    Rule = "email"
)

// Match は照合結果です。
type Match struct {
	Record *employee.Employee
	Rule   Rule
	// Conflict はソース ID とメールアドレスが別々のレコードを指した場合の、メール側のレコードです。
	Conflict *employee.Employee
	// Ambiguous は同じキーで複数のレコードが見つかったことを示します。
	Ambiguous bool
}

// Found は対応するレコードが見つかったかどうかを返します。
func (m Match) Found() bool {
	return m.Record != nil
}

// Suspicious はデータ品質上の警告対象かどうかを返します。
func (m Match) Suspicious() bool {
	return m.Conflict != nil || m.Ambiguous
}

// Matcher は同期先スナップショットに対して優先順位付きの照合を行います。
// 1. ソース ID の一致 2. メールアドレス (プリンシパル名) の一致
type Matcher struct {
	mu         sync.RWMutex
	bySourceID map[string][]*employee.Employee
	byEmail    map[string][]*employee.Employee
	size       int
}

// NewMatcher はスナップショットから Matcher を生成します。
func NewMatcher(records []*employee.Employee) *Matcher {
	m := &Matcher{
		bySourceID: make(map[string][]*employee.Employee, len(records)),
		byEmail:    make(map[string][]*employee.Employee, len(records)),
	}
	for _, rec := range records {
		m.addLocked(rec)
	}
	return m
}

// Add はフェーズ 1 で作成したレコードをスナップショットに追加します。
func (m *Matcher) Add(rec *employee.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(rec)
}

// Len はスナップショットの件数を返します。
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Match は rec に対応するレコードを探します。
func (m *Matcher) Match(rec identity.Record) Match {
	return m.match(rec.ID, rec.PrincipalName)
}

// MatchRef は上長参照に対応するレコードを探します。
func (m *Matcher) MatchRef(ref *identity.ManagerRef) Match {
	if ref == nil {
		return Match{}
	}
	return m.match(ref.ID, ref.PrincipalName)
}

func (m *Matcher) match(sourceID, email string) Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var byID, byEmail []*employee.Employee
	if key := strings.TrimSpace(sourceID); key != "" {
		byID = m.bySourceID[key]
	}
	if key := strings.TrimSpace(email); key != "" {
		byEmail = m.byEmail[key]
	}

	switch {
	case len(byID) == 1:
		res := Match{Record: byID[0], Rule: RuleSourceID}
		for _, other := range byEmail {
			if other.ID != byID[0].ID {
				res.Conflict = other
				break
			}
		}
		return res
	case len(byEmail) == 1:
		return Match{Record: byEmail[0], Rule: RuleEmail, Ambiguous: len(byID) > 1}
	case len(byID) > 1:
		return Match{Record: byID[0], Rule: RuleSourceID, Ambiguous: true}
	case len(byEmail) > 1:
		return Match{Record: byEmail[0], Rule: RuleEmail, Ambiguous: true}
	default:
		return Match{}
	}
}

func (m *Matcher) addLocked(rec *employee.Employee) {
	if rec == nil {
		return
	}
	if key := strings.TrimSpace(rec.SourceID); key != "" {
		m.bySourceID[key] = append(m.bySourceID[key], rec)
	}
	if key := strings.TrimSpace(rec.Email); key != "" {
		m.byEmail[key] = append(m.byEmail[key], rec)
	}
	m.size++
}
