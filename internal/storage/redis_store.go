package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/saurabh2727/property-finder/internal/session"
)

const commitRetries = 5

// RedisStore keeps each session as a current key plus a capped list of
// backups, newest at the head.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ session.Backend = (*RedisStore)(nil)

func NewRedisStore(addr, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if prefix == "" {
		prefix = "property-finder"
	}
	return &RedisStore{client: rdb, prefix: prefix}
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) currentKey(key string) string { return r.prefix + ":session:" + key + ":current" }
func (r *RedisStore) backupsKey(key string) string { return r.prefix + ":session:" + key + ":backups" }
func (r *RedisStore) catalogKey(id string) string  { return r.prefix + ":catalog:" + id }

func (r *RedisStore) Current(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.currentKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	return b, err
}

func (r *RedisStore) Backups(ctx context.Context, key string) ([][]byte, error) {
	vals, err := r.client.LRange(ctx, r.backupsKey(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Commit watches the current key so a concurrent writer aborts the
// transaction instead of losing a backup.
func (r *RedisStore) Commit(ctx context.Context, key string, next []byte, retain int) error {
	if retain < 1 {
		retain = 1
	}
	cur, backups := r.currentKey(key), r.backupsKey(key)

	txf := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, cur).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != nil {
				pipe.LPush(ctx, backups, prev)
				pipe.LTrim(ctx, backups, 0, int64(retain-1))
			}
			pipe.Set(ctx, cur, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < commitRetries; i++ {
		err := r.client.Watch(ctx, txf, cur)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("commit session %s: too much contention", key)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.currentKey(key), r.backupsKey(key)).Err()
}

func (r *RedisStore) PutCatalog(ctx context.Context, id string, data []byte) error {
	return r.client.SetNX(ctx, r.catalogKey(id), data, 0).Err()
}

func (r *RedisStore) GetCatalog(ctx context.Context, id string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.catalogKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	return b, err
}
