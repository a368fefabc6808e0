// Package kv provides the persisted key-value state used by the analytics pipeline:
// identity fields, cached source configuration and the disk batch file index.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("kv: store is closed")

	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("kv: key cannot be empty")
)

// Store is a namespaced byte-oriented key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Get returns the value stored under key and whether it was present.
	Get(key string) ([]byte, bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// DeleteAll removes every key of the store's namespace.
	DeleteAll() error
	// Close releases the underlying resources.
	Close() error
}

// Write encodes value and stores it under key.
func Write[T any](s Store, key string, value T) error {
	if key == "" {
		return ErrEmptyKey
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: failed to encode value for key %q: %w", key, err)
	}
	return s.Set(key, data)
}

// Read returns the value stored under key decoded as T.
// A missing key, a storage error or a value of a different type all read as absent.
func Read[T any](s Store, key string) (T, bool) {
	var zero T
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return zero, false
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false
	}
	return value, true
}

// Remove deletes key from the store.
func Remove(s Store, key string) error {
	return s.Delete(key)
}

// RemoveAll deletes every key of the store's namespace.
func RemoveAll(s Store) error {
	return s.DeleteAll()
}
