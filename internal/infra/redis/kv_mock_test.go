package redis

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ollama-webchat/internal/domain"
	"ollama-webchat/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

var _ repository.KeyValueStore = (*memKV)(nil)

// memKV mimics the slice of Redis the store layer uses, with a manual
// clock so TTL behavior is testable without sleeping.
type memKV struct {
	mu      sync.Mutex
	now     time.Time
	strings map[string]string
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time
}

func newMemKV() *memKV {
	return &memKV{
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
	}
}

func (m *memKV) advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// purge drops a key in every namespace when its TTL has passed.
// Callers hold the lock.
func (m *memKV) purge(key string) {
	exp, ok := m.expiry[key]
	if !ok || m.now.Before(exp) {
		return
	}
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	v, ok := m.strings[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	delete(m.expiry, key)
	return nil
}

func (m *memKV) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	m.expiry[key] = m.now.Add(ttl)
	return nil
}

func (m *memKV) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	n, _ := strconv.ParseInt(m.strings[key], 10, 64)
	n++
	m.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *memKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[key] = m.now.Add(ttl)
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.hashes, k)
		delete(m.zsets, k)
		delete(m.sets, k)
		delete(m.expiry, k)
	}
	return nil
}

func (m *memKV) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memKV) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *memKV) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *memKV) sortedMembers(key string) []string {
	members := make([]string, 0, len(m.zsets[key]))
	for member := range m.zsets[key] {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := m.zsets[key][members[i]], m.zsets[key][members[j]]
		if si != sj {
			return si < sj
		}
		return members[i] < members[j]
	})
	return members
}

func sliceRange(members []string, start, stop int64) []string {
	n := int64(len(members))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
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
	return members[start : stop+1]
}

func (m *memKV) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sliceRange(m.sortedMembers(key), start, stop), nil
}

func (m *memKV) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.sortedMembers(key)
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	return sliceRange(members, start, stop), nil
}

func (m *memKV) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.zsets[key], member)
	}
	return nil
}

func (m *memKV) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *memKV) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *memKV) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for k := range m.strings {
		seen[k] = struct{}{}
	}
	for k := range m.hashes {
		seen[k] = struct{}{}
	}
	for k := range m.zsets {
		seen[k] = struct{}{}
	}
	for k := range m.sets {
		seen[k] = struct{}{}
	}
	var out []string
	for k := range seen {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
