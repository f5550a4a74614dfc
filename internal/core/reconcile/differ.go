package reconcile

import (
	"github.com/ogurasousui/directory-sync/internal/core/employee"
)

// Diff は candidate と existing を比較し、変更が必要なフィールドのみを返します。
// 上長関連のフィールドは比較対象外です (フェーズ 2 で扱います)。
func Diff(candidate, existing *employee.Employee) employee.ChangeSet {
	var changes employee.ChangeSet

	if candidate.DisplayName != existing.DisplayName {
		changes = append(changes, employee.Change{Field: employee.FieldDisplayName, Value: candidate.DisplayName})
	}
	if candidate.Email != existing.Email {
		changes = append(changes, employee.Change{Field: employee.FieldEmail, Value: candidate.Email})
	}
	if candidate.Active != existing.Active {
		changes = append(changes, employee.Change{Field: employee.FieldActive, Value: candidate.Active})
	}
	if !sameRef(candidate.UnitID, existing.UnitID) {
		changes = append(changes, employee.Change{Field: employee.FieldUnitID, Value: candidate.UnitID})
	}
	if !sameRef(candidate.DepartmentID, existing.DepartmentID) {
		changes = append(changes, employee.Change{Field: employee.FieldDepartmentID, Value: candidate.DepartmentID})
	}
	if candidate.JobTitle != existing.JobTitle {
		changes = append(changes, employee.Change{Field: employee.FieldJobTitle, Value: candidate.JobTitle})
	}
	if !sameInstant(candidate.HireDate, existing.HireDate) {
		changes = append(changes, employee.Change{Field: employee.FieldHireDate, Value: candidate.HireDate})
	}
	if !sameInstant(candidate.BirthDate, existing.BirthDate) {
		changes = append(changes, employee.Change{Field: employee.FieldBirthDate, Value: candidate.BirthDate})
	}
	if candidate.SourceID != existing.SourceID {
		changes = append(changes, employee.Change{Field: employee.FieldSourceID, Value: candidate.SourceID})
	}

	return changes
}

// managerChanges は上長リンクの変更を返します。
func managerChanges(existing, manager *employee.Employee, managerName string) employee.ChangeSet {
	var changes employee.ChangeSet

	if existing.ManagerID == nil || *existing.ManagerID != manager.ID {
		id := manager.ID
		changes = append(changes, employee.Change{Field: employee.FieldManagerID, Value: &id})
	}
	if existing.ManagerName != managerName {
		changes = append(changes, employee.Change{Field: employee.FieldManagerName, Value: managerName})
	}

	return changes
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
