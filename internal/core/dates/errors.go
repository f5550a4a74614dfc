package dates

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat は文字列がエンコード形式に一致しない場合に返却されます。
	ErrInvalidFormat = errors.New("dates: invalid format")
	// ErrOutOfRange は日・月・年のいずれかが許容範囲外の場合に返却されます。
	ErrOutOfRange = errors.New("dates: value out of range")
	// ErrInvalidCalendarDate は暦上存在しない日付の場合に返却されます。
	ErrInvalidCalendarDate = errors.New("dates: invalid calendar date")
	// ErrUnknownEncoding は未知のエンコード形式が指定された場合に返却されます。
	ErrUnknownEncoding = errors.New("dates: unknown encoding")
)

// ParseError は日付文字列の解釈に失敗したことを表します。
// 呼び出し側は「値なし」として扱い、警告として記録します。
type ParseError struct {
	Value    string
	Encoding Encoding
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dates: parse %s value %q: %v", e.Encoding, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
