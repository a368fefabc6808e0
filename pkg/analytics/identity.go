package analytics

import (
	"sync"

	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	anonymousIDKey = "anonymous_id"
	userIDKey      = "user_id"
	traitsKey      = "traits"
)

// identity holds the user fields stamped onto every event and mirrors them to the kv store.
type identity struct {
	mu          sync.RWMutex
	store       kv.Store
	log         *zap.Logger
	anonymousID string
	userID      string
	traits      Properties
}

func loadIdentity(store kv.Store, log *zap.Logger) *identity {
	id := &identity{store: store, log: log}
	id.anonymousID, _ = kv.Read[string](store, anonymousIDKey)
	id.userID, _ = kv.Read[string](store, userIDKey)
	id.traits, _ = kv.Read[Properties](store, traitsKey)
	if id.anonymousID == "" {
		id.anonymousID = uuid.NewString()
		id.persist(anonymousIDKey, id.anonymousID)
	}
	return id
}

func (id *identity) persist(key string, value any) {
	if err := kv.Write(id.store, key, value); err != nil {
		id.log.Warn("failed to persist identity", zap.String("key", key), zap.Error(err))
	}
}

func (id *identity) remove(key string) {
	if err := kv.Remove(id.store, key); err != nil {
		id.log.Warn("failed to remove identity", zap.String("key", key), zap.Error(err))
	}
}

func (id *identity) AnonymousID() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.anonymousID
}

func (id *identity) UserID() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.userID
}

// stamp fills the identity fields the caller left empty.
func (id *identity) stamp(e Event) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	m := e.Base()
	if m.AnonymousID == "" {
		m.AnonymousID = id.anonymousID
	}
	if m.UserID == "" {
		m.UserID = id.userID
	}
	if len(id.traits) > 0 {
		if m.Context == nil {
			m.Context = map[string]any{}
		}
		if _, ok := m.Context["traits"]; !ok {
			m.Context["traits"] = copyProperties(id.traits)
		}
	}
}

// identify stores userID and merges traits into the known ones. A different user replaces the traits.
func (id *identity) identify(userID string, traits Properties) {
	id.mu.Lock()
	defer id.mu.Unlock()
	if userID != "" && userID != id.userID {
		id.traits = nil
		id.userID = userID
		id.persist(userIDKey, userID)
	}
	if len(traits) > 0 {
		merged := copyProperties(id.traits)
		if merged == nil {
			merged = Properties{}
		}
		for k, v := range traits {
			merged[k] = v
		}
		id.traits = merged
	}
	if id.traits != nil {
		id.persist(traitsKey, id.traits)
	} else {
		id.remove(traitsKey)
	}
}

// alias switches to newID and returns the id it replaces.
func (id *identity) alias(newID string) (previousID string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	previousID = id.userID
	if previousID == "" {
		previousID = id.anonymousID
	}
	id.userID = newID
	id.persist(userIDKey, newID)
	return previousID
}

// reset forgets the user and rotates the anonymous id.
func (id *identity) reset() {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.userID = ""
	id.traits = nil
	id.anonymousID = uuid.NewString()
	id.remove(userIDKey)
	id.remove(traitsKey)
	id.persist(anonymousIDKey, id.anonymousID)
}

func copyProperties(p Properties) Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
