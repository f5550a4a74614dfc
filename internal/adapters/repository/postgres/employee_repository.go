package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ogurasousui/directory-sync/internal/core/employee"
	pgdb "github.com/ogurasousui/directory-sync/internal/platform/db/postgres"
)

const (
	employeeUniqueViolationCode     = "23505"
	employeeForeignKeyViolationCode = "23503"

	defaultEmployeePageSize = 200
)

const employeeColumns = `id, source_id, display_name, email, active, unit_id, department_id, job_title,
               hire_date, birth_date, manager_id, manager_name, created_at, updated_at`

// employeeFieldColumns は管理対象フィールドと列名の対応です。
var employeeFieldColumns = map[employee.Field]string{
	employee.FieldDisplayName:  "display_name",
	employee.FieldEmail:        "email",
	employee.FieldActive:       "active",
	employee.FieldUnitID:       "unit_id",
	employee.FieldDepartmentID: "department_id",
	employee.FieldJobTitle:     "job_title",
	employee.FieldHireDate:     "hire_date",
	employee.FieldBirthDate:    "birth_date",
	employee.FieldSourceID:     "source_id",
	employee.FieldManagerID:    "manager_id",
	employee.FieldManagerName:  "manager_name",
}

// EmployeeRepository は PostgreSQL を利用した社員永続化の実装です。
type EmployeeRepository struct {
	pool     pgdb.Queryer
	pageSize int
	now      func() time.Time
}

// NewEmployeeRepository は EmployeeRepository を生成します。pageSize が 0 以下の場合は既定値を使用します。
func NewEmployeeRepository(pool pgdb.Queryer, pageSize int) *EmployeeRepository {
	if pageSize <= 0 {
		pageSize = defaultEmployeePageSize
	}
	return &EmployeeRepository{
		pool:     pool,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create は社員を新規作成し、採番した ID を返します。
func (r *EmployeeRepository) Create(ctx context.Context, e *employee.Employee) (string, error) {
	id := uuid.NewString()
	now := r.now()

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        INSERT INTO employees (id, source_id, display_name, email, active, unit_id, department_id, job_title,
                               hire_date, birth_date, manager_id, manager_name, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
        RETURNING id
    `,
		id,
		nullIfEmpty(e.SourceID),
		e.DisplayName,
		e.Email,
		e.Active,
		nullInt64(e.UnitID),
		nullInt64(e.DepartmentID),
		e.JobTitle,
		nullTime(e.HireDate),
		nullTime(e.BirthDate),
		nullStringPtr(e.ManagerID),
		e.ManagerName,
		now,
	)

	var created string
	if err := row.Scan(&created); err != nil {
		return "", translateEmployeePgError(err)
	}
	return created, nil
}

// Update は changes に含まれる列のみを更新します。
func (r *EmployeeRepository) Update(ctx context.Context, id string, changes employee.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	sets := make([]string, 0, len(changes)+1)
	args := make([]any, 0, len(changes)+2)
	for _, ch := range changes {
		column, ok := employeeFieldColumns[ch.Field]
		if !ok {
			return fmt.Errorf("%w: %s", employee.ErrUnknownField, ch.Field)
		}
		value, err := columnValue(ch)
		if err != nil {
			return err
		}
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	args = append(args, r.now())
	sets = append(sets, "updated_at = $"+strconv.Itoa(len(args)))
	args = append(args, id)

	query := `UPDATE employees SET ` + strings.Join(sets, ", ") + ` WHERE id = $` + strconv.Itoa(len(args))

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	tag, err := exec.Exec(ctx, query, args...)
	if err != nil {
		return translateEmployeePgError(err)
	}
	if tag.RowsAffected() == 0 {
		return employee.ErrEmployeeNotFound
	}
	return nil
}

// FindByID は ID で社員を取得します。
func (r *EmployeeRepository) FindByID(ctx context.Context, id string) (*employee.Employee, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+employeeColumns+`
          FROM employees
         WHERE id = $1
         LIMIT 1
    `, id)

	found, err := scanEmployee(row)
	if err != nil {
		return nil, translateEmployeePgError(err)
	}
	return found, nil
}

// FindForUpdate は ID で社員を取得し、トランザクション終了まで行をロックします。
func (r *EmployeeRepository) FindForUpdate(ctx context.Context, id string) (*employee.Employee, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        SELECT `+employeeColumns+`
          FROM employees
         WHERE id = $1
         FOR UPDATE
    `, id)

	found, err := scanEmployee(row)
	if err != nil {
		return nil, translateEmployeePgError(err)
	}
	return found, nil
}

// Count は社員の総件数を返します。
func (r *EmployeeRepository) Count(ctx context.Context) (int, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	var count int
	if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM employees`).Scan(&count); err != nil {
		return 0, translateEmployeePgError(err)
	}
	return count, nil
}

// ListAll はページを順に取得し全件を返します。
func (r *EmployeeRepository) ListAll(ctx context.Context) ([]*employee.Employee, error) {
	var (
		all    []*employee.Employee
		offset int
	)
	for {
		page, next, err := r.List(ctx, employee.ListEmployeesFilter{Limit: r.pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		offset, err = strconv.Atoi(next)
		if err != nil {
			return nil, employee.ErrInvalidPageToken
		}
	}
}

// List は社員の一覧を取得します。
func (r *EmployeeRepository) List(ctx context.Context, filter employee.ListEmployeesFilter) ([]*employee.Employee, string, error) {
	if filter.Limit <= 0 {
		return nil, "", employee.ErrInvalidPageSize
	}
	if filter.Offset < 0 {
		return nil, "", employee.ErrInvalidPageToken
	}

	limitWithBuffer := filter.Limit + 1

	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, `
        SELECT `+employeeColumns+`
          FROM employees
         ORDER BY created_at, id
         LIMIT $1
        OFFSET $2
    `, limitWithBuffer, filter.Offset)
	if err != nil {
		return nil, "", translateEmployeePgError(err)
	}
	defer rows.Close()

	employees := make([]*employee.Employee, 0, filter.Limit)
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, "", translateEmployeePgError(err)
		}
		employees = append(employees, emp)
	}

	if err := rows.Err(); err != nil {
		return nil, "", translateEmployeePgError(err)
	}

	var nextToken string
	if len(employees) == limitWithBuffer {
		employees = employees[:filter.Limit]
		nextToken = strconv.Itoa(filter.Offset + filter.Limit)
	}

	return employees, nextToken, nil
}

func scanEmployee(row pgx.Row) (*employee.Employee, error) {
	var (
		e            employee.Employee
		sourceID     sql.NullString
		unitID       sql.NullInt64
		departmentID sql.NullInt64
		hireDate     sql.NullTime
		birthDate    sql.NullTime
		managerID    sql.NullString
	)

	if err := row.Scan(
		&e.ID,
		&sourceID,
		&e.DisplayName,
		&e.Email,
		&e.Active,
		&unitID,
		&departmentID,
		&e.JobTitle,
		&hireDate,
		&birthDate,
		&managerID,
		&e.ManagerName,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, employee.ErrEmployeeNotFound
		}
		return nil, err
	}

	e.SourceID = sourceID.String
	if unitID.Valid {
		e.UnitID = &unitID.Int64
	}
	if departmentID.Valid {
		e.DepartmentID = &departmentID.Int64
	}
	if hireDate.Valid {
		t := hireDate.Time.UTC()
		e.HireDate = &t
	}
	if birthDate.Valid {
		t := birthDate.Time.UTC()
		e.BirthDate = &t
	}
	if managerID.Valid {
		e.ManagerID = &managerID.String
	}

	return &e, nil
}

func columnValue(ch employee.Change) (any, error) {
	switch v := ch.Value.(type) {
	case string:
		if ch.Field == employee.FieldSourceID {
			return nullIfEmpty(v), nil
		}
		return v, nil
	case bool:
		return v, nil
	case *int64:
		return nullInt64(v), nil
	case *time.Time:
		return nullTime(v), nil
	case *string:
		return nullStringPtr(v), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s has %T", employee.ErrInvalidFieldValue, ch.Field, ch.Value)
	}
}

func translateEmployeePgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return employee.ErrEmployeeNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case employeeUniqueViolationCode:
			return employee.ErrSourceIDAlreadyExists
		case employeeForeignKeyViolationCode:
			if pgErr.ConstraintName == "employees_manager_id_fkey" {
				return employee.ErrManagerNotFound
			}
			return fmt.Errorf("postgres: %s: %w", pgErr.ConstraintName, err)
		}
	}

	return err
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
