// Package dates はディレクトリ由来の複数形式の日付文字列を正規化された時刻に変換します。
//
// 変換後の時刻には固定オフセット (既定 +3h) が加算されます。これは特定のタイムゾーンで
// 日付が前日にずれないよう合わせるための調整で、単一のタイムゾーン前提でのみ意味を持ちます。
// オフセットは設定 sync.date_offset で変更できます。
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Encoding は日付文字列のエンコード形式を表します。
type Encoding string

const (
	// EncodingCompact は DDMMYYYY の 8 桁数字形式です。
	EncodingCompact Encoding = "compact"
	// EncodingLDAP は YYYYMMDDHHMMSS.0Z 形式です。先頭 8 文字のみ使用します。
	EncodingLDAP Encoding = "ldap"
	// EncodingISO8601 は ISO-8601 形式です。
	EncodingISO8601 Encoding = "iso8601"
)

// DefaultOffset は正規化時に加算される既定のオフセットです。
const DefaultOffset = 3 * time.Hour

const (
	minYear      = 1900
	maxYear      = 2100
	ldapMinLen   = 14
	isoLocalTime = "2006-01-02T15:04:05"
	isoDateOnly  = "2006-01-02"
)

var compactPattern = regexp.MustCompile(`^\d{8}$`)

// RawDate はエンコード形式付きの未変換の日付文字列です。
type RawDate struct {
	Value    string
	Encoding Encoding
}

// IsZero は値が空かどうかを返します。
func (r RawDate) IsZero() bool {
	return strings.TrimSpace(r.Value) == ""
}

// Normalizer は日付文字列を正規化された UTC 時刻へ変換します。
type Normalizer struct {
	offset time.Duration
	loc    *time.Location
}

// NewNormalizer は Normalizer を生成します。loc が nil の場合は UTC を使用します。
func NewNormalizer(offset time.Duration, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{offset: offset, loc: loc}
}

// Offset は加算されるオフセットを返します。
func (n *Normalizer) Offset() time.Duration {
	return n.offset
}

// Normalize は raw を enc に従って解釈し、正規化された時刻を返します。
// 空文字列は (nil, nil) を返します。解釈できない場合は (nil, *ParseError) を返します。
func (n *Normalizer) Normalize(raw string, enc Encoding) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	var (
		parsed time.Time
		err    error
	)

	switch enc {
	case EncodingCompact:
		parsed, err = n.parseCompact(trimmed)
	case EncodingLDAP:
		parsed, err = n.parseLDAP(trimmed)
	case EncodingISO8601:
		parsed, err = n.parseISO(trimmed)
	default:
		err = ErrUnknownEncoding
	}
	if err != nil {
		return nil, &ParseError{Value: raw, Encoding: enc, Err: err}
	}

	canonical := parsed.Add(n.offset).UTC()
	return &canonical, nil
}

// NormalizeRaw は RawDate を正規化します。
func (n *Normalizer) NormalizeRaw(r RawDate) (*time.Time, error) {
	return n.Normalize(r.Value, r.Encoding)
}

// First は値を持つ最初の候補のみを正規化します。
// 最初の候補の解釈に失敗しても後続の候補へはフォールバックしません。
func (n *Normalizer) First(candidates ...RawDate) (*time.Time, error) {
	for _, c := range candidates {
		if c.IsZero() {
			continue
		}
		return n.NormalizeRaw(c)
	}
	return nil, nil
}

func (n *Normalizer) parseCompact(s string) (time.Time, error) {
	if !compactPattern.MatchString(s) {
		return time.Time{}, ErrInvalidFormat
	}
	day, _ := strconv.Atoi(s[0:2])
	month, _ := strconv.Atoi(s[2:4])
	year, _ := strconv.Atoi(s[4:8])
	return n.calendarDate(year, month, day)
}

func (n *Normalizer) parseLDAP(s string) (time.Time, error) {
	if len(s) < ldapMinLen || !compactPattern.MatchString(s[:8]) {
		return time.Time{}, ErrInvalidFormat
	}
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	return n.calendarDate(year, month, day)
}

func (n *Normalizer) parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(isoLocalTime, s, n.loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(isoDateOnly, s, n.loc); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidFormat
}

func (n *Normalizer) calendarDate(year, month, day int) (time.Time, error) {
	if day < 1 || day > 31 || month < 1 || month > 12 || year < minYear || year > maxYear {
		return time.Time{}, ErrOutOfRange
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, n.loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, ErrInvalidCalendarDate
	}
	return t, nil
}
