package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeKV is an in-memory KV used by the cache tests
type fakeKV struct {
	mu       sync.Mutex
	values   map[string]string
	ttls     map[string]time.Duration
	versions map[string]int64
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		values:   make(map[string]string),
		ttls:     make(map[string]time.Duration),
		versions: make(map[string]int64),
	}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok
}

func (f *fakeKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.ttls[key] = ttl
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.values, key)
	}
}

func (f *fakeKV) ScanDel(ctx context.Context, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	deleted := 0
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			delete(f.values, key)
			deleted++
		}
	}
	return deleted
}

func (f *fakeKV) GetUserVersion(ctx context.Context, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.versions[userID]
	if !ok {
		return ""
	}
	return strconv.FormatInt(version, 10)
}

func (f *fakeKV) BumpUserVersion(ctx context.Context, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[userID]++
	return strconv.FormatInt(f.versions[userID], 10)
}
