// Package kvtest provides an in-memory kvstore.Backend for unit tests.
package kvtest

import (
	"context"
	"sort"
	"sync"

	"github.com/djlord-it/execrepo/internal/kvstore"
)

type zmember struct {
	value string
	score float64
}

// Backend is an in-memory, mutex-guarded kvstore.Backend. It is not a
// faithful Redis reimplementation; it supports exactly the operations the
// execution repository issues.
type Backend struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string][]zmember
	lists   map[string][]string

	// FailNext, when set, is returned (and cleared) by the next call to
	// any method. Tests use this to exercise backend-error paths.
	FailNext error
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string][]zmember),
		lists:   make(map[string][]string),
	}
}

func (b *Backend) takeFailure() error {
	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return err
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return false, err
	}
	return b.existsLocked(key), nil
}

func (b *Backend) existsLocked(key string) bool {
	if _, ok := b.strings[key]; ok {
		return true
	}
	if _, ok := b.hashes[key]; ok {
		return true
	}
	if _, ok := b.sets[key]; ok {
		return true
	}
	if _, ok := b.zsets[key]; ok {
		return true
	}
	if _, ok := b.lists[key]; ok {
		return true
	}
	return false
}

func (b *Backend) KeyType(ctx context.Context, key string) (kvstore.KeyType, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return kvstore.KeyNone, err
	}
	if _, ok := b.strings[key]; ok {
		return kvstore.KeyString, nil
	}
	if _, ok := b.hashes[key]; ok {
		return kvstore.KeyHash, nil
	}
	if _, ok := b.sets[key]; ok {
		return kvstore.KeySet, nil
	}
	if _, ok := b.zsets[key]; ok {
		return kvstore.KeyZSet, nil
	}
	if _, ok := b.lists[key]; ok {
		return kvstore.KeyList, nil
	}
	return kvstore.KeyNone, nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(b.strings, k)
		delete(b.hashes, k)
		delete(b.sets, k)
		delete(b.zsets, k)
		delete(b.lists, k)
	}
	return nil
}

func (b *Backend) GetString(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return "", false, err
	}
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *Backend) SetString(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	b.strings[key] = value
	return nil
}

func (b *Backend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	return cloneHash(b.hashes[key]), nil
}

func (b *Backend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return "", false, err
	}
	h, ok := b.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func (b *Backend) HashSet(ctx context.Context, key, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	b.hashSetLocked(key, field, value)
	return nil
}

func (b *Backend) hashSetLocked(key, field, value string) {
	h, ok := b.hashes[key]
	if !ok {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	h[field] = value
}

func (b *Backend) HashKeys(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	h := b.hashes[key]
	out := make([]string, 0, len(h))
	for f := range h {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	return sliceRange(b.lists[key], start, stop), nil
}

func (b *Backend) SetMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	s := b.sets[key]
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) SortedSetRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	members := append([]zmember(nil), b.zsets[key]...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].score > members[j].score })
	values := make([]string, len(members))
	for i, m := range members {
		values[i] = m.value
	}
	return sliceRange(values, start, stop), nil
}

func (b *Backend) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, err
	}
	var out []string
	for k := range b.strings {
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	for k := range b.hashes {
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	for k := range b.sets {
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	for k := range b.zsets {
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	for k := range b.lists {
		if matchPattern(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) RunTx(ctx context.Context, ops ...kvstore.Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	for _, op := range ops {
		b.applyLocked(op)
	}
	return nil
}

func (b *Backend) applyLocked(op kvstore.Op) {
	switch op.Kind {
	case kvstore.OpHSet:
		b.hashSetLocked(op.Key, op.Field, op.Value)
	case kvstore.OpHDel:
		if h, ok := b.hashes[op.Key]; ok {
			delete(h, op.Field)
		}
	case kvstore.OpDel:
		delete(b.strings, op.Key)
		delete(b.hashes, op.Key)
		delete(b.sets, op.Key)
		delete(b.zsets, op.Key)
		delete(b.lists, op.Key)
	case kvstore.OpSAdd:
		s, ok := b.sets[op.Key]
		if !ok {
			s = make(map[string]struct{})
			b.sets[op.Key] = s
		}
		s[op.Value] = struct{}{}
	case kvstore.OpSRem:
		if s, ok := b.sets[op.Key]; ok {
			delete(s, op.Value)
		}
	case kvstore.OpZAdd:
		b.zAddLocked(op.Key, op.Value, op.Score)
	case kvstore.OpZRem:
		b.zRemLocked(op.Key, op.Value)
	case kvstore.OpRPush:
		b.lists[op.Key] = append(b.lists[op.Key], op.Value)
	case kvstore.OpLRem:
		b.lRemLocked(op.Key, op.Value)
	case kvstore.OpLInsertBefore:
		b.lInsertLocked(op.Key, op.Pivot, op.Value, true)
	case kvstore.OpLInsertAfter:
		b.lInsertLocked(op.Key, op.Pivot, op.Value, false)
	case kvstore.OpSet:
		b.strings[op.Key] = op.Value
	}
}

func (b *Backend) zAddLocked(key, value string, score float64) {
	members := b.zsets[key]
	for i, m := range members {
		if m.value == value {
			members[i].score = score
			b.zsets[key] = members
			return
		}
	}
	b.zsets[key] = append(members, zmember{value: value, score: score})
}

func (b *Backend) zRemLocked(key, value string) {
	members := b.zsets[key]
	for i, m := range members {
		if m.value == value {
			b.zsets[key] = append(members[:i], members[i+1:]...)
			return
		}
	}
}

func (b *Backend) lRemLocked(key, value string) {
	list := b.lists[key]
	for i, v := range list {
		if v == value {
			b.lists[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (b *Backend) lInsertLocked(key, pivot, value string, before bool) {
	list := b.lists[key]
	for i, v := range list {
		if v == pivot {
			idx := i
			if !before {
				idx = i + 1
			}
			list = append(list[:idx], append([]string{value}, list[idx:]...)...)
			b.lists[key] = list
			return
		}
	}
}

func (b *Backend) ReadHashAndList(ctx context.Context, hashKey, listKey string) (map[string]string, []string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return nil, nil, err
	}
	h := cloneHash(b.hashes[hashKey])
	l := append([]string(nil), b.lists[listKey]...)
	return h, l, nil
}

func (b *Backend) WatchMergeHashField(ctx context.Context, hashKey, field string, merge func(current string) (string, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFailure(); err != nil {
		return err
	}
	current, _, _ := b.hashGetLocked(hashKey, field)
	next, err := merge(current)
	if err != nil {
		return err
	}
	b.hashSetLocked(hashKey, field, next)
	return nil
}

func (b *Backend) hashGetLocked(key, field string) (string, bool, error) {
	h, ok := b.hashes[key]
	if !ok {
		return "", false, nil
	}
	v, ok := h[field]
	return v, ok, nil
}

func cloneHash(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func sliceRange(list []string, start, stop int64) []string {
	n := int64(len(list))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return append([]string(nil), list[start:stop+1]...)
}

// matchPattern supports the subset of glob syntax the repository's key
// layout needs: a single trailing "*".
func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return pattern == key
}
