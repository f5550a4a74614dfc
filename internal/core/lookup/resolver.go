// Package lookup は自由記述のカテゴリラベルをストア側の識別子へ解決します。
//
// Resolver は 1 回の同期実行に閉じたキャッシュを持ち、実行開始時にストアの既存エントリで
// 事前に埋められます。未知のラベルは初回参照時にストアへ作成されます。
package lookup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Resolver はカテゴリラベルの解決とキャッシュを担います。
type Resolver struct {
	store    Store
	policies map[Dimension]Policy

	mu    sync.RWMutex
	cache map[Dimension]map[string]int64
	group singleflight.Group
}

// NewResolver は Resolver を生成します。policies に含まれない種別は PolicyExact です。
func NewResolver(store Store, policies map[Dimension]Policy) *Resolver {
	p := make(map[Dimension]Policy, len(policies))
	for dim, policy := range policies {
		p[dim] = policy
	}
	return &Resolver{
		store:    store,
		policies: p,
		cache:    make(map[Dimension]map[string]int64),
	}
}

// Preload は指定された種別の既存エントリをすべて読み込みキャッシュに登録します。
func (r *Resolver) Preload(ctx context.Context, dims ...Dimension) error {
	for _, dim := range dims {
		entries, err := r.store.ListAll(ctx, dim)
		if err != nil {
			return fmt.Errorf("lookup: preload %s: %w", dim, err)
		}

		policy := r.policy(dim)
		r.mu.Lock()
		bucket := r.bucketLocked(dim)
		for _, e := range entries {
			key := policy.Key(e.Label)
			if key == "" {
				continue
			}
			if _, exists := bucket[key]; !exists {
				bucket[key] = e.ID
			}
		}
		r.mu.Unlock()
	}
	return nil
}

// Resolve はラベルに対応する識別子を返します。
// 空のラベルは (nil, nil) を返します。作成に失敗した場合は (nil, *ResolveError) を返します。
func (r *Resolver) Resolve(ctx context.Context, dim Dimension, label string) (*int64, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return nil, nil
	}

	key := r.policy(dim).Key(trimmed)
	if id, ok := r.lookup(dim, key); ok {
		return &id, nil
	}

	v, err, _ := r.group.Do(string(dim)+"\x00"+key, func() (any, error) {
		if id, ok := r.lookup(dim, key); ok {
			return id, nil
		}

		id, err := r.store.Create(ctx, dim, trimmed)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.bucketLocked(dim)[key] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return nil, &ResolveError{Dimension: dim, Label: trimmed, Err: err}
	}

	id := v.(int64)
	return &id, nil
}

// Len は種別ごとのキャッシュ件数を返します。
func (r *Resolver) Len(dim Dimension) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache[dim])
}

func (r *Resolver) lookup(dim Dimension, key string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cache[dim][key]
	return id, ok
}

func (r *Resolver) bucketLocked(dim Dimension) map[string]int64 {
	bucket, ok := r.cache[dim]
	if !ok {
		bucket = make(map[string]int64)
		r.cache[dim] = bucket
	}
	return bucket
}

func (r *Resolver) policy(dim Dimension) Policy {
	if p, ok := r.policies[dim]; ok {
		return p
	}
	return PolicyExact
}
