// Package store defines the byte addressed persistence consumed by the
// authentication layer, plus an in-memory implementation. Durable backends
// live in the boltdb and pgdb sub packages.
package store

import (
	"context"
	"strings"
	"sync"
)

// pathSep joins key path segments inside flat backends. 0x1f is the ASCII
// unit separator and cannot appear in the segment names this layer uses.
const pathSep = "\x1f"

// Store is a key-namespaced byte store.
//
// Load returns ErrNotFound when the key path has never been saved.
// Save overwrites; last writer wins on a given key path.
type Store interface {
	Save(ctx context.Context, keyPath []string, value []byte) error
	Load(ctx context.Context, keyPath []string) ([]byte, error)
}

// JoinPath flattens a key path for backends with a flat key space.
func JoinPath(keyPath []string) string {
	return strings.Join(keyPath, pathSep)
}

// MemStore is an in-memory Store. The zero value is ready to use.
type MemStore struct {
	mut     sync.RWMutex
	entries map[string][]byte
}

// Save registers value under keyPath.
func (self *MemStore) Save(_ context.Context, keyPath []string, value []byte) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	if nil == self.entries {
		self.entries = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	self.entries[JoinPath(keyPath)] = cp

	return nil
}

// Load returns the value saved under keyPath.
// It errors with ErrNotFound if no value was saved.
func (self *MemStore) Load(_ context.Context, keyPath []string) ([]byte, error) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	value, present := self.entries[JoinPath(keyPath)]
	if !present {
		return nil, notFoundError("no value under key %q", JoinPath(keyPath))
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	return cp, nil
}

var _ Store = &MemStore{}
