package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/identity"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

// Candidate は identity.Record から組み立てた同期先形式のレコードです。
type Candidate struct {
	Employee *employee.Employee
	// LookupFailures は解決に失敗したカテゴリです。該当フィールドは未設定です。
	LookupFailures []error
	// DateWarnings は解釈できなかった日付です。該当フィールドは未設定です。
	DateWarnings []error
}

// Mapper は identity.Record を employee.Employee へ変換します。上長関連のフィールドは扱いません。
type Mapper struct {
	resolver   *lookup.Resolver
	normalizer *dates.Normalizer
	dims       []lookup.Dimension
	policy     DatePolicy
}

// NewMapper は Mapper を生成します。
func NewMapper(resolver *lookup.Resolver, normalizer *dates.Normalizer, dims []lookup.Dimension, policy DatePolicy) *Mapper {
	if normalizer == nil {
		normalizer = dates.NewNormalizer(dates.DefaultOffset, nil)
	}
	return &Mapper{resolver: resolver, normalizer: normalizer, dims: dims, policy: policy}
}

// Map は rec を同期先形式に変換します。
// DatePolicySkip の場合、日付を解釈できなければ ErrInvalidDate を返します。
func (m *Mapper) Map(ctx context.Context, rec identity.Record) (*Candidate, error) {
	out := &Candidate{Employee: &employee.Employee{
		SourceID:    rec.ID,
		DisplayName: rec.DisplayName,
		Email:       rec.PrincipalName,
		Active:      rec.Active,
		JobTitle:    rec.JobTitle,
	}}

	for _, dim := range m.dims {
		id, err := m.resolver.Resolve(ctx, dim, rec.Category(dim))
		if err != nil {
			out.LookupFailures = append(out.LookupFailures, err)
			continue
		}
		switch dim {
		case lookup.DimensionUnit:
			out.Employee.UnitID = id
		case lookup.DimensionDepartment:
			out.Employee.DepartmentID = id
		}
	}

	hire, err := m.normalizer.First(rec.HireDate, rec.LegacyHireDate)
	if err != nil {
		if derr := m.dateFailure("hire_date", err); derr != nil {
			return nil, derr
		}
		out.DateWarnings = append(out.DateWarnings, err)
	}
	out.Employee.HireDate = hire

	birth, err := m.normalizer.NormalizeRaw(rec.BirthDate)
	if err != nil {
		if derr := m.dateFailure("birth_date", err); derr != nil {
			return nil, derr
		}
		out.DateWarnings = append(out.DateWarnings, err)
	}
	out.Employee.BirthDate = birth

	return out, nil
}

func (m *Mapper) dateFailure(field string, err error) error {
	if m.policy != DatePolicySkip {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidDate, field, err)
}

// sameInstant は 2 つの時刻が同一の瞬間を指すか (両方 nil を含む) を返します。
func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
