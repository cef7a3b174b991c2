// Package redis implements kvstore.Backend over go-redis/v9.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/execrepo/internal/kvstore"
)

// maxWatchRetries bounds WatchMergeHashField's optimistic retry loop.
const maxWatchRetries = 10

// Backend adapts a *redis.Client to kvstore.Backend.
type Backend struct {
	client *redis.Client
}

// New wraps an existing go-redis client. The caller owns the client's
// lifecycle (including Close).
func New(client *redis.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *Backend) KeyType(ctx context.Context, key string) (kvstore.KeyType, error) {
	t, err := b.client.Type(ctx, key).Result()
	if err != nil {
		return kvstore.KeyNone, fmt.Errorf("redis type %s: %w", key, err)
	}
	switch t {
	case "string":
		return kvstore.KeyString, nil
	case "hash":
		return kvstore.KeyHash, nil
	case "set":
		return kvstore.KeySet, nil
	case "zset":
		return kvstore.KeyZSet, nil
	case "list":
		return kvstore.KeyList, nil
	default:
		return kvstore.KeyNone, nil
	}
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (b *Backend) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (b *Backend) SetString(ctx context.Context, key, value string) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	h, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return h, nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := b.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s %s: %w", key, field, err)
	}
	return v, true, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	if err := b.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s %s: %w", key, field, err)
	}
	return nil
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	fields, err := b.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", key, err)
	}
	return fields, nil
}

func (b *Backend) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := b.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

func (b *Backend) SortedSetRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := b.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange %s: %w", key, err)
	}
	return members, nil
}

func (b *Backend) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := b.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return out, nil
}

func (b *Backend) RunTx(ctx context.Context, ops ...kvstore.Op) error {
	if len(ops) == 0 {
		return nil
	}
	pipe := b.client.TxPipeline()
	for _, op := range ops {
		applyOp(ctx, pipe, op)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis tx pipeline: %w", err)
	}
	return nil
}

func applyOp(ctx context.Context, pipe redis.Pipeliner, op kvstore.Op) {
	switch op.Kind {
	case kvstore.OpHSet:
		pipe.HSet(ctx, op.Key, op.Field, op.Value)
	case kvstore.OpHDel:
		pipe.HDel(ctx, op.Key, op.Field)
	case kvstore.OpDel:
		pipe.Del(ctx, op.Key)
	case kvstore.OpSAdd:
		pipe.SAdd(ctx, op.Key, op.Value)
	case kvstore.OpSRem:
		pipe.SRem(ctx, op.Key, op.Value)
	case kvstore.OpZAdd:
		pipe.ZAdd(ctx, op.Key, redis.Z{Score: op.Score, Member: op.Value})
	case kvstore.OpZRem:
		pipe.ZRem(ctx, op.Key, op.Value)
	case kvstore.OpRPush:
		pipe.RPush(ctx, op.Key, op.Value)
	case kvstore.OpLRem:
		pipe.LRem(ctx, op.Key, 0, op.Value)
	case kvstore.OpLInsertBefore:
		pipe.LInsertBefore(ctx, op.Key, op.Pivot, op.Value)
	case kvstore.OpLInsertAfter:
		pipe.LInsertAfter(ctx, op.Key, op.Pivot, op.Value)
	case kvstore.OpSet:
		pipe.Set(ctx, op.Key, op.Value, 0)
	}
}

func (b *Backend) ReadHashAndList(ctx context.Context, hashKey, listKey string) (map[string]string, []string, error) {
	// A plain Pipeline batches the two commands on the wire but does not
	// wrap them in MULTI/EXEC, so a concurrent RunTx write can land between
	// them. TxPipeline does wrap them, giving both reads the same
	// point-in-time view the interface promises.
	pipe := b.client.TxPipeline()
	hashCmd := pipe.HGetAll(ctx, hashKey)
	listCmd := pipe.LRange(ctx, listKey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("redis tx pipeline read %s/%s: %w", hashKey, listKey, err)
	}
	return hashCmd.Val(), listCmd.Val(), nil
}

func (b *Backend) WatchMergeHashField(ctx context.Context, hashKey, field string, merge func(current string) (string, error)) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGet(ctx, hashKey, field).Result()
			if errors.Is(err, redis.Nil) {
				current = ""
			} else if err != nil {
				return err
			}

			next, err := merge(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, hashKey, field, next)
				return nil
			})
			return err
		}, hashKey)

		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis watch %s.%s: %w", hashKey, field, err)
	}
	return kvstore.ErrWatchConflict
}
