// Package redis keeps the warm-start cache index: the set of locators that
// were resident when the index was last saved. Namespaced storage, advisory
// only — payload bytes are never persisted, so a stale index can never
// serve stale bytes.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"grainery.core/internal/core/domain"
)

const indexKey = "grainery:cacheidx:locators"

// Index implements ports.CacheIndex.
type Index struct {
	client *redis.Client
}

func NewIndex(url string) (*Index, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return &Index{client: client}, client, nil
}

// Save replaces the index with the given locators atomically.
func (i *Index) Save(ctx context.Context, locators []domain.Locator) error {
	pipe := i.client.TxPipeline()
	pipe.Del(ctx, indexKey)
	if len(locators) > 0 {
		members := make([]any, 0, len(locators))
		for _, loc := range locators {
			members = append(members, string(loc))
		}
		pipe.SAdd(ctx, indexKey, members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Load returns the saved locators. A missing key is an empty index.
func (i *Index) Load(ctx context.Context) ([]domain.Locator, error) {
	members, err := i.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	locators := make([]domain.Locator, 0, len(members))
	for _, m := range members {
		locators = append(locators, domain.Locator(m))
	}
	return locators, nil
}
