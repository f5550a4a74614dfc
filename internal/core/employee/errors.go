package employee

import "errors"

var (
	ErrEmployeeNotFound      = errors.New("employee: not found")
	ErrSourceIDAlreadyExists = errors.New("employee: source id already exists")
	ErrManagerNotFound       = errors.New("employee: manager not found")
	ErrInvalidPageSize       = errors.New("employee: invalid page size")
	ErrInvalidPageToken      = errors.New("employee: invalid page token")
	ErrUnknownField          = errors.New("employee: unknown field")
	ErrInvalidFieldValue     = errors.New("employee: invalid field value")
)
