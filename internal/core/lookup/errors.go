package lookup

import "fmt"

// ResolveError はカテゴリの解決 (作成) に失敗したことを表します。
// 実行全体は継続し、該当フィールドは未設定のままになります。
type ResolveError struct {
	Dimension Dimension
	Label     string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("lookup: resolve %s %q: %v", e.Dimension, e.Label, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
