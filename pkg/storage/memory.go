package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-memory Backend used by tests and for fault
// injection. The optional hooks run before the corresponding operation and
// may return an error to simulate backend failures.
type MemoryBackend struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutHook func(key string) error
	GetHook func(key string) error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

// Put stores a copy of data under key.
func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.PutHook != nil {
		if err := b.PutHook(key); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.objects[key] = cp
	return nil
}

// Get returns a copy of the object at key.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.GetHook != nil {
		if err := b.GetHook(key); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns up to max keys under prefix, resuming strictly after token.
func (b *MemoryBackend) List(ctx context.Context, prefix, token string, max int) ([]string, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if max <= 0 {
		max = 1000
	}

	all := b.sortedKeys(prefix)

	var keys []string
	for _, k := range all {
		if token != "" && k <= token {
			continue
		}
		keys = append(keys, k)
		if len(keys) == max {
			break
		}
	}

	next := ""
	if len(keys) == max && keys[len(keys)-1] < all[len(all)-1] {
		next = keys[len(keys)-1]
	}
	return keys, next, nil
}

// ListDirs returns the immediate child prefixes of prefix.
func (b *MemoryBackend) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, k := range b.sortedKeys(prefix) {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			seen[prefix+rest[:i+1]] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Exists reports whether an object is stored at key.
func (b *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

// Keys returns every stored key in lexicographic order.
func (b *MemoryBackend) Keys() []string {
	return b.sortedKeys("")
}

func (b *MemoryBackend) sortedKeys(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
