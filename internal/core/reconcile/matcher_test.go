package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/identity"
)

func TestMatcherMatch(t *testing.T) {
	t.Parallel()

	a := &employee.Employee{ID: "1", SourceID: "src-a", Email: "a@example.com"}
	b := &employee.Employee{ID: "2", Email: "b@example.com"}
	dupA := &employee.Employee{ID: "3", SourceID: "dup", Email: "x@example.com"}
	dupB := &employee.Employee{ID: "4", SourceID: "dup", Email: "y@example.com"}
	m := NewMatcher([]*employee.Employee{a, b, dupA, dupB})
	assert.Equal(t, 4, m.Len())

	tests := []struct {
		name      string
		rec       identity.Record
		wantID    string
		wantRule  Rule
		ambiguous bool
		conflict  string
	}{
		{name: "source id", rec: identity.Record{ID: "src-a", PrincipalName: "changed@example.com"}, wantID: "1", wantRule: RuleSourceID},
		{name: "email fallback", rec: identity.Record{ID: "src-b", PrincipalName: "b@example.com"}, wantID: "2", wantRule: RuleEmail},
		{name: "source id beats email", rec: identity.Record{ID: "src-a", PrincipalName: "b@example.com"}, wantID: "1", wantRule: RuleSourceID, conflict: "2"},
		{name: "duplicate source id resolved by email", rec: identity.Record{ID: "dup", PrincipalName: "y@example.com"}, wantID: "4", wantRule: RuleEmail, ambiguous: true},
		{name: "duplicate source id", rec: identity.Record{ID: "dup"}, wantID: "3", wantRule: RuleSourceID, ambiguous: true},
		{name: "no match", rec: identity.Record{ID: "zzz", PrincipalName: "zzz@example.com"}},
		{name: "blank keys", rec: identity.Record{ID: "  ", PrincipalName: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Match(tt.rec)
			if tt.wantID == "" {
				assert.False(t, got.Found())
				return
			}
			require.True(t, got.Found())
			assert.Equal(t, tt.wantID, got.Record.ID)
			assert.Equal(t, tt.wantRule, got.Rule)
			assert.Equal(t, tt.ambiguous, got.Ambiguous)
			if tt.conflict != "" {
				require.NotNil(t, got.Conflict)
				assert.Equal(t, tt.conflict, got.Conflict.ID)
			} else {
				assert.Nil(t, got.Conflict)
			}
		})
	}
}

func TestMatcherAddAndMatchRef(t *testing.T) {
	t.Parallel()

	m := NewMatcher(nil)
	assert.False(t, m.MatchRef(nil).Found())

	m.Add(&employee.Employee{ID: "9", SourceID: "boss", Email: "boss@example.com"})
	got := m.MatchRef(&identity.ManagerRef{PrincipalName: "boss@example.com"})
	require.True(t, got.Found())
	assert.Equal(t, "9", got.Record.ID)
	assert.Equal(t, RuleEmail, got.Rule)
}

func TestDiff(t *testing.T) {
	t.Parallel()

	unit := int64(1)
	otherUnit := int64(2)
	hire := time.Date(2020, 3, 15, 3, 0, 0, 0, time.UTC)
	sameHire := hire.In(time.FixedZone("BRT", -3*60*60))

	existing := &employee.Employee{
		ID: "1", SourceID: "a", DisplayName: "Alice", Email: "a@example.com", Active: true,
		UnitID: &unit, JobTitle: "Analyst", HireDate: &hire,
	}

	t.Run("identical", func(t *testing.T) {
		t.Parallel()
		candidate := existing.Clone()
		candidate.ID = ""
		candidate.HireDate = &sameHire
		candidate.ManagerName = "ignored"
		assert.True(t, Diff(candidate, existing).Empty())
	})

	t.Run("changed fields only", func(t *testing.T) {
		t.Parallel()
		candidate := existing.Clone()
		candidate.UnitID = &otherUnit
		candidate.Active = false
		candidate.HireDate = nil
		changes := Diff(candidate, existing)
		assert.Equal(t, []employee.Field{employee.FieldActive, employee.FieldUnitID, employee.FieldHireDate}, changes.Fields())

		applied := existing.Clone()
		require.NoError(t, applied.Apply(changes))
		assert.True(t, Diff(candidate, applied).Empty())
	})
}

func TestManagerChanges(t *testing.T) {
	t.Parallel()

	boss := &employee.Employee{ID: "boss"}
	current := "boss"

	assert.Equal(t,
		[]employee.Field{employee.FieldManagerID, employee.FieldManagerName},
		managerChanges(&employee.Employee{ID: "1"}, boss, "Boss").Fields())
	assert.Equal(t,
		[]employee.Field{employee.FieldManagerName},
		managerChanges(&employee.Employee{ID: "1", ManagerID: &current, ManagerName: "Old"}, boss, "Boss").Fields())
	assert.True(t, managerChanges(&employee.Employee{ID: "1", ManagerID: &current, ManagerName: "Boss"}, boss, "Boss").Empty())
}
