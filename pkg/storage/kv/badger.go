package kv

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

// BadgerStore is a persistent Store backed by BadgerDB.
// Keys are prefixed with the namespace so several pipelines can share one database directory.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	cache  *lru.Cache[string, []byte]
	closed bool
	mu     sync.RWMutex

	// writeMu orders database writes with cache fills, so a fill never caches a value older than
	// the latest write.
	writeMu sync.Mutex
}

// OpenBadgerStore opens (or creates) a badger database at path scoped to namespace.
func OpenBadgerStore(path, namespace string) (*BadgerStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("kv: namespace is required")
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable BadgerDB's default logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open badger at %s: %w", path, err)
	}

	cache, err := lru.New[string, []byte](defaultCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BadgerStore{
		db:     db,
		prefix: []byte(namespace + ":"),
		cache:  cache,
	}, nil
}

func (s *BadgerStore) key(key string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(key))
	k = append(k, s.prefix...)
	return append(k, key...)
}

func (s *BadgerStore) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), value)
	})
	if err != nil {
		s.cache.Remove(key)
		return fmt.Errorf("kv: failed to write key %q: %w", key, err)
	}
	s.cache.Add(key, bytes.Clone(value))
	return nil
}

func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	if cached, ok := s.cache.Get(key); ok {
		return bytes.Clone(cached), true, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if cached, ok := s.cache.Get(key); ok {
		return bytes.Clone(cached), true, nil
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: failed to read key %q: %w", key, err)
	}

	s.cache.Add(key, bytes.Clone(value))
	return value, true, nil
}

func (s *BadgerStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	s.cache.Remove(key)
	if err != nil {
		return fmt.Errorf("kv: failed to delete key %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) DeleteAll() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err := s.db.DropPrefix(s.prefix)
	s.cache.Purge()
	if err != nil {
		return fmt.Errorf("kv: failed to drop namespace: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.cache.Purge()
	return s.db.Close()
}
