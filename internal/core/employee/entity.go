package employee

import (
	"fmt"
	"time"
)

// Employee は同期先ストアに保持される社員レコードです。
// カテゴリはストア側の参照 ID、上長はストア側の社員 ID で保持します。
type Employee struct {
	ID           string
	SourceID     string
	DisplayName  string
	Email        string
	Active       bool
	UnitID       *int64
	DepartmentID *int64
	JobTitle     string
	HireDate     *time.Time
	BirthDate    *time.Time
	ManagerID    *string
	ManagerName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Field は同期で管理されるフィールドの名前です。
type Field string

const (
	FieldDisplayName  Field = "display_name"
	FieldEmail        Field = "email"
	FieldActive       Field = "active"
	FieldUnitID       Field = "unit_id"
	FieldDepartmentID Field = "department_id"
	FieldJobTitle     Field = "job_title"
	FieldHireDate     Field = "hire_date"
	FieldBirthDate    Field = "birth_date"
	FieldSourceID     Field = "source_id"
	FieldManagerID    Field = "manager_id"
	FieldManagerName  Field = "manager_name"
)

// Change は 1 フィールド分の変更です。
type Change struct {
	Field Field
	Value any
}

// ChangeSet は変更の順序付き集合です。空の場合は更新不要を意味します。
type ChangeSet []Change

// Empty は変更がないかどうかを返します。
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Fields は変更対象のフィールド名を返します。
func (c ChangeSet) Fields() []Field {
	fields := make([]Field, 0, len(c))
	for _, ch := range c {
		fields = append(fields, ch.Field)
	}
	return fields
}

// Get は指定フィールドの新しい値を返します。
func (c ChangeSet) Get(field Field) (any, bool) {
	for _, ch := range c {
		if ch.Field == field {
			return ch.Value, true
		}
	}
	return nil, false
}

// Clone は Employee のディープコピーを返します。
func (e *Employee) Clone() *Employee {
	if e == nil {
		return nil
	}
	c := *e
	c.UnitID = cloneInt64(e.UnitID)
	c.DepartmentID = cloneInt64(e.DepartmentID)
	c.HireDate = cloneTime(e.HireDate)
	c.BirthDate = cloneTime(e.BirthDate)
	if e.ManagerID != nil {
		id := *e.ManagerID
		c.ManagerID = &id
	}
	return &c
}

// Apply は ChangeSet を Employee に反映します。
func (e *Employee) Apply(changes ChangeSet) error {
	for _, ch := range changes {
		if err := e.set(ch); err != nil {
			return err
		}
	}
	return nil
}

func (e *Employee) set(ch Change) error {
	var ok bool
	switch ch.Field {
	case FieldDisplayName:
		e.DisplayName, ok = ch.Value.(string)
	case FieldEmail:
		e.Email, ok = ch.Value.(string)
	case FieldActive:
		e.Active, ok = ch.Value.(bool)
	case FieldJobTitle:
		e.JobTitle, ok = ch.Value.(string)
	case FieldSourceID:
		e.SourceID, ok = ch.Value.(string)
	case FieldManagerName:
		e.ManagerName, ok = ch.Value.(string)
	case FieldUnitID:
		e.UnitID, ok = ch.Value.(*int64)
		e.UnitID = cloneInt64(e.UnitID)
	case FieldDepartmentID:
		e.DepartmentID, ok = ch.Value.(*int64)
		e.DepartmentID = cloneInt64(e.DepartmentID)
	case FieldHireDate:
		e.HireDate, ok = ch.Value.(*time.Time)
		e.HireDate = cloneTime(e.HireDate)
	case FieldBirthDate:
		e.BirthDate, ok = ch.Value.(*time.Time)
		e.BirthDate = cloneTime(e.BirthDate)
	case FieldManagerID:
		var id *string
		id, ok = ch.Value.(*string)
		if ok && id != nil {
			v := *id
			id = &v
		}
		e.ManagerID = id
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, ch.Field)
	}
	if !ok {
		return fmt.Errorf("%w: %s has %T", ErrInvalidFieldValue, ch.Field, ch.Value)
	}
	return nil
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
