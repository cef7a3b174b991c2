// Package kvstore defines the storage contract the execution repository is
// built on: a small set of Redis-shaped primitives (strings, hashes, sets,
// sorted sets, lists) plus the transactional and watch primitives the
// repository needs to keep a hierarchical record consistent across several
// keys.
package kvstore

import (
	"context"
	"errors"
)

// ErrWatchConflict is returned by WatchMergeHashField when the watched key
// changed between read and write after exhausting its retry budget.
var ErrWatchConflict = errors.New("kvstore: watch conflict")

// KeyType identifies the Redis value type stored at a key, used by callers
// that need to dispatch on it without knowing in advance what they'll find
// (the query streamer's self-heal path).
type KeyType int

const (
	KeyNone KeyType = iota
	KeyString
	KeyHash
	KeySet
	KeyZSet
	KeyList
)

// OpKind identifies the write an Op performs inside RunTx.
type OpKind int

const (
	OpHSet OpKind = iota
	OpHDel
	OpDel
	OpSAdd
	OpSRem
	OpZAdd
	OpZRem
	OpRPush
	OpLRem
	OpLInsertBefore
	OpLInsertAfter
	OpSet
)

// Op is one write inside an atomic RunTx batch. Which fields apply depends
// on Kind:
//
//	OpHSet           Key, Field, Value
//	OpHDel           Key, Field
//	OpDel            Key
//	OpSAdd, OpSRem   Key, Value
//	OpZAdd           Key, Value, Score
//	OpZRem           Key, Value
//	OpRPush          Key, Value
//	OpLRem           Key, Value
//	OpLInsertBefore  Key, Pivot, Value
//	OpLInsertAfter   Key, Pivot, Value
//	OpSet            Key, Value
type Op struct {
	Kind  OpKind
	Key   string
	Field string
	Value string
	Score float64
	Pivot string
}

// Backend is the storage contract the execution repository depends on. It
// is implemented concretely by store/redis and faked in-memory for tests.
//
// All methods are safe for concurrent use. A method returning an error
// other than a documented sentinel should be treated as a backend failure;
// callers surface it wrapped, never inspect its type.
type Backend interface {
	// Exists reports whether key is present, regardless of its type.
	Exists(ctx context.Context, key string) (bool, error)

	// KeyType reports the Redis type stored at key, or KeyNone if absent.
	KeyType(ctx context.Context, key string) (KeyType, error)

	// Delete removes keys. Missing keys are silently ignored.
	Delete(ctx context.Context, keys ...string) error

	// GetString reads a string key. ok is false if the key is absent.
	GetString(ctx context.Context, key string) (value string, ok bool, err error)

	// SetString writes a string key unconditionally.
	SetString(ctx context.Context, key, value string) error

	// HashGetAll reads every field of a hash. Returns an empty, non-nil map
	// if the key is absent.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashGet reads one field of a hash. ok is false if the key or field is
	// absent.
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)

	// HashSet writes a single field of a hash, creating the hash if needed.
	HashSet(ctx context.Context, key, field, value string) error

	// HashKeys lists the field names of a hash.
	HashKeys(ctx context.Context, key string) ([]string, error)

	// ListRange returns elements of a list in [start, stop], Redis LRANGE
	// semantics (negative indices count from the tail, stop is inclusive).
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SetMembers returns every member of a set.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SortedSetRevRange returns members in [start, stop] ordered by
	// descending score, Redis ZREVRANGE semantics.
	SortedSetRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ScanKeys returns every key matching pattern. Intended for
	// maintenance paths (the index sweeper), not request-path lookups.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// RunTx applies ops atomically: either all of them land or none do.
	RunTx(ctx context.Context, ops ...Op) error

	// ReadHashAndList reads a hash and a list together with a single
	// point-in-time view, used by the aggregate reader so a concurrent
	// writer can never be observed mid-update.
	ReadHashAndList(ctx context.Context, hashKey, listKey string) (map[string]string, []string, error)

	// WatchMergeHashField reads field of hashKey, passes its current value
	// (""  if absent) to merge, and writes merge's result back, retrying
	// the whole read-merge-write cycle if hashKey changed underneath it.
	// It returns ErrWatchConflict if the retry budget is exhausted.
	WatchMergeHashField(ctx context.Context, hashKey, field string, merge func(current string) (string, error)) error
}
