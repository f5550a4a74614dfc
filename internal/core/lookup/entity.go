package lookup

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Dimension は参照先カテゴリの種別 (所属拠点、部署など) を表します。
type Dimension string

const (
	DimensionUnit       Dimension = "unit"
	DimensionDepartment Dimension = "department"
)

// Dimensions は同期対象のカテゴリ種別の一覧を返します。
func Dimensions() []Dimension {
	return []Dimension{DimensionUnit, DimensionDepartment}
}

// Entry はラベルとストア側識別子の組です。
type Entry struct {
	Dimension Dimension
	Label     string
	ID        int64
}

// Store はカテゴリエンティティの永続化の抽象です。
type Store interface {
	ListAll(ctx context.Context, dim Dimension) ([]Entry, error)
	Create(ctx context.Context, dim Dimension, label string) (int64, error)
}

// Policy はラベルの同一性判定の方針です。
type Policy string

const (
	// PolicyExact は前後の空白を除いた完全一致で判定します。
	PolicyExact Policy = "exact"
	// PolicyFold は大文字小文字とダイアクリティカルマークの差を無視して判定します。
	PolicyFold Policy = "fold"
)

// ParsePolicy は文字列から Policy を生成します。空文字列は PolicyExact です。
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyExact:
		return PolicyExact, nil
	case PolicyFold:
		return PolicyFold, nil
	default:
		return "", fmt.Errorf("lookup: unknown label policy %q", raw)
	}
}

// Key は label を方針に従ってキャッシュキーに変換します。
func (p Policy) Key(label string) string {
	trimmed := strings.TrimSpace(label)
	if p != PolicyFold {
		return trimmed
	}
	return foldLabel(trimmed)
}

func foldLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}
