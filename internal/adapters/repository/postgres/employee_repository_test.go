package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/ogurasousui/directory-sync/internal/core/employee"
)

type stubEmployeeRow struct {
	scanFn func(dest ...interface{}) error
}

func (s stubEmployeeRow) Scan(dest ...interface{}) error {
	return s.scanFn(dest...)
}

var employeeRowColumns = []string{
	"id", "source_id", "display_name", "email", "active", "unit_id", "department_id", "job_title",
	"hire_date", "birth_date", "manager_id", "manager_name", "created_at", "updated_at",
}

func TestScanEmployee_Success(t *testing.T) {
	t.Parallel()

	hire := time.Date(2020, 3, 15, 3, 0, 0, 0, time.UTC)
	createdAt := time.Now().UTC()

	row := stubEmployeeRow{scanFn: func(dest ...interface{}) error {
		if len(dest) != 14 {
			return errors.New("unexpected dest length")
		}
		*(dest[0].(*string)) = "emp-1"
		src := dest[1].(*sql.NullString)
		src.String, src.Valid = "src-1", true
		*(dest[2].(*string)) = "Alice"
		*(dest[3].(*string)) = "alice@example.com"
		*(dest[4].(*bool)) = true
		unit := dest[5].(*sql.NullInt64)
		unit.Int64, unit.Valid = 7, true
		*(dest[7].(*string)) = "Analyst"
		hireDest := dest[8].(*sql.NullTime)
		hireDest.Time, hireDest.Valid = hire, true
		mgr := dest[10].(*sql.NullString)
		mgr.String, mgr.Valid = "emp-0", true
		*(dest[11].(*string)) = "Boss"
		*(dest[12].(*time.Time)) = createdAt
		*(dest[13].(*time.Time)) = createdAt
		return nil
	}}

	emp, err := scanEmployee(row)
	if err != nil {
		t.Fatalf("scanEmployee returned error: %v", err)
	}

	if emp.SourceID != "src-1" {
		t.Fatalf("expected source id src-1, got %q", emp.SourceID)
	}
	if emp.UnitID == nil || *emp.UnitID != 7 {
		t.Fatalf("expected unit id 7, got %+v", emp.UnitID)
	}
	if emp.DepartmentID != nil {
		t.Fatalf("expected nil department id, got %+v", emp.DepartmentID)
	}
	if emp.HireDate == nil || !emp.HireDate.Equal(hire) {
		t.Fatalf("expected hire date, got %+v", emp.HireDate)
	}
	if emp.BirthDate != nil {
		t.Fatalf("expected nil birth date, got %+v", emp.BirthDate)
	}
	if emp.ManagerID == nil || *emp.ManagerID != "emp-0" {
		t.Fatalf("expected manager id emp-0, got %+v", emp.ManagerID)
	}
}

func TestScanEmployee_NoRows(t *testing.T) {
	t.Parallel()

	row := stubEmployeeRow{scanFn: func(dest ...interface{}) error {
		return pgx.ErrNoRows
	}}

	_, err := scanEmployee(row)
	if !errors.Is(err, employee.ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}
}

func TestTranslateEmployeePgError(t *testing.T) {
	t.Parallel()

	uniqueErr := &pgconn.PgError{Code: employeeUniqueViolationCode}
	if !errors.Is(translateEmployeePgError(uniqueErr), employee.ErrSourceIDAlreadyExists) {
		t.Fatalf("expected unique violation to map to ErrSourceIDAlreadyExists")
	}

	managerErr := &pgconn.PgError{Code: employeeForeignKeyViolationCode, ConstraintName: "employees_manager_id_fkey"}
	if !errors.Is(translateEmployeePgError(managerErr), employee.ErrManagerNotFound) {
		t.Fatalf("expected fk violation to map to ErrManagerNotFound")
	}

	unitErr := &pgconn.PgError{Code: employeeForeignKeyViolationCode, ConstraintName: "employees_unit_id_fkey"}
	if got := translateEmployeePgError(unitErr); !errors.Is(got, unitErr) || errors.Is(got, employee.ErrManagerNotFound) {
		t.Fatalf("unexpected translation for unit fk violation: %v", got)
	}

	other := errors.New("other")
	if translateEmployeePgError(other) != other {
		t.Fatalf("unexpected translation for generic error")
	}
}

func TestEmployeeRepository_Create(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewEmployeeRepository(mock, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	unit := int64(3)
	hire := time.Date(2020, 3, 15, 3, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO employees`)).
		WithArgs(pgxmock.AnyArg(), "src-1", "Alice", "alice@example.com", true, int64(3), nil, "Analyst", hire, nil, nil, "", now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("emp-1"))

	id, err := repo.Create(context.Background(), &employee.Employee{
		SourceID:    "src-1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Active:      true,
		UnitID:      &unit,
		JobTitle:    "Analyst",
		HireDate:    &hire,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id != "emp-1" {
		t.Fatalf("expected id emp-1, got %s", id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmployeeRepository_Create_DuplicateSourceID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewEmployeeRepository(mock, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO employees`)).
		WithArgs(pgxmock.AnyArg(), "src-1", "Alice", "", false, nil, nil, "", nil, nil, nil, "", now).
		WillReturnError(&pgconn.PgError{Code: employeeUniqueViolationCode})

	_, err = repo.Create(context.Background(), &employee.Employee{SourceID: "src-1", DisplayName: "Alice"})
	if !errors.Is(err, employee.ErrSourceIDAlreadyExists) {
		t.Fatalf("expected ErrSourceIDAlreadyExists, got %v", err)
	}
}

func TestEmployeeRepository_Update_OnlyChangedColumns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewEmployeeRepository(mock, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	managerID := "emp-0"
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE employees SET job_title = $1, department_id = $2, manager_id = $3, updated_at = $4 WHERE id = $5`)).
		WithArgs("Manager", nil, "emp-0", now, "emp-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.Update(context.Background(), "emp-1", employee.ChangeSet{
		{Field: employee.FieldJobTitle, Value: "Manager"},
		{Field: employee.FieldDepartmentID, Value: (*int64)(nil)},
		{Field: employee.FieldManagerID, Value: &managerID},
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmployeeRepository_Update_NotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewEmployeeRepository(mock, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE employees SET active = $1, updated_at = $2 WHERE id = $3`)).
		WithArgs(false, now, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Update(context.Background(), "missing", employee.ChangeSet{{Field: employee.FieldActive, Value: false}})
	if !errors.Is(err, employee.ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}
}

func TestEmployeeRepository_Update_Empty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	if err := NewEmployeeRepository(mock, 0).Update(context.Background(), "emp-1", nil); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected query: %v", err)
	}
}

func TestEmployeeRepository_Update_InvalidValue(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	err = NewEmployeeRepository(mock, 0).Update(context.Background(), "emp-1", employee.ChangeSet{{Field: employee.FieldActive, Value: 1}})
	if !errors.Is(err, employee.ErrInvalidFieldValue) {
		t.Fatalf("expected ErrInvalidFieldValue, got %v", err)
	}
}

func TestEmployeeRepository_ListAll_DrainsPages(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewEmployeeRepository(mock, 2)
	now := time.Now().UTC()
	newRow := func(id string) []any {
		return []any{id, nil, "Name " + id, id + "@example.com", true, nil, nil, "", nil, nil, nil, "", now, now}
	}

	query := regexp.QuoteMeta(`FROM employees`)
	mock.ExpectQuery(query).
		WithArgs(3, 0).
		WillReturnRows(pgxmock.NewRows(employeeRowColumns).
			AddRow(newRow("e1")...).
			AddRow(newRow("e2")...).
			AddRow(newRow("e3")...))
	mock.ExpectQuery(query).
		WithArgs(3, 2).
		WillReturnRows(pgxmock.NewRows(employeeRowColumns).
			AddRow(newRow("e3")...))

	all, err := repo.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 employees, got %d", len(all))
	}
	if all[2].ID != "e3" || all[2].SourceID != "" {
		t.Fatalf("unexpected last employee: %+v", all[2])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmployeeRepository_List_InvalidFilter(t *testing.T) {
	t.Parallel()

	repo := NewEmployeeRepository(nil, 0)

	if _, _, err := repo.List(context.Background(), employee.ListEmployeesFilter{Limit: 0}); !errors.Is(err, employee.ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, _, err := repo.List(context.Background(), employee.ListEmployeesFilter{Limit: 1, Offset: -1}); !errors.Is(err, employee.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestEmployeeRepository_Count(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM employees`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	count, err := NewEmployeeRepository(mock, 0).Count(context.Background())
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42, got %d", count)
	}
}

func TestEmployeeRepository_FindForUpdate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("emp-1").
		WillReturnRows(pgxmock.NewRows(employeeRowColumns).
			AddRow("emp-1", "src-1", "Alice", "alice@example.com", true, nil, nil, "Analyst", nil, nil, "emp-0", "Boss", createdAt, createdAt))

	emp, err := NewEmployeeRepository(mock, 0).FindForUpdate(context.Background(), "emp-1")
	if err != nil {
		t.Fatalf("FindForUpdate returned error: %v", err)
	}
	if emp.ManagerID == nil || *emp.ManagerID != "emp-0" {
		t.Fatalf("expected manager id emp-0, got %+v", emp.ManagerID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEmployeeRepository_FindForUpdate_NotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := NewEmployeeRepository(mock, 0).FindForUpdate(context.Background(), "missing"); !errors.Is(err, employee.ErrEmployeeNotFound) {
		t.Fatalf("expected ErrEmployeeNotFound, got %v", err)
	}
}
