package employee

import "context"

// Store は同期先ストアにおける社員レコードの永続化の抽象です。
// ListAll はページングを内部で処理し全件を返します。
type Store interface {
	ListAll(ctx context.Context) ([]*Employee, error)
	Create(ctx context.Context, employee *Employee) (string, error)
	Update(ctx context.Context, id string, changes ChangeSet) error
	Count(ctx context.Context) (int, error)
}

// Locker は更新前に最新の状態を排他ロック付きで再取得できるストアです。
// 読み書きトランザクション内で呼び出されることを前提とします。
type Locker interface {
	FindForUpdate(ctx context.Context, id string) (*Employee, error)
}

// ListEmployeesFilter は一覧取得用フィルタです。
type ListEmployeesFilter struct {
	Limit  int
	Offset int
}
