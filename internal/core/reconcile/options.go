package reconcile

import (
	"fmt"
	"strings"

	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

// DatePolicy は日付を解釈できなかった場合の扱いです。
type DatePolicy string

const (
	// DatePolicyWarn は警告を記録しフィールドを未設定のまま処理を続けます。
	DatePolicyWarn DatePolicy = "warn"
	// DatePolicySkip はエンティティをスキップします。
	DatePolicySkip DatePolicy = "skip"
)

// ParseDatePolicy は文字列から DatePolicy を生成します。空文字列は DatePolicyWarn です。
func ParseDatePolicy(raw string) (DatePolicy, error) {
	switch DatePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DatePolicyWarn:
		return DatePolicyWarn, nil
	case DatePolicySkip:
		return DatePolicySkip, nil
	default:
		return "", fmt.Errorf("reconcile: unknown date policy %q", raw)
	}
}

// Options は同期実行の振る舞いを指定します。
type Options struct {
	// Concurrency はフェーズ 1 の並列度です。1 以下の場合は逐次処理します。
	Concurrency int
	// InvalidDates は日付を解釈できなかった場合の扱いです。
	InvalidDates DatePolicy
	// DryRun が true の場合はストアへの書き込みを行いません。
	DryRun bool
	// LabelPolicies はカテゴリ種別ごとのラベル同一性判定の方針です。
	LabelPolicies map[lookup.Dimension]lookup.Policy
	// Dimensions は同期対象のカテゴリ種別です。空の場合は lookup.Dimensions() を使用します。
	Dimensions []lookup.Dimension
}

func (o Options) normalized() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.InvalidDates == "" {
		o.InvalidDates = DatePolicyWarn
	}
	if len(o.Dimensions) == 0 {
		o.Dimensions = lookup.Dimensions()
	}
	return o
}
