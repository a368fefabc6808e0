package eventstore

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type memoryBatch struct {
	reference string
	content   string
}

// MemoryStore keeps batches in process memory. Everything is lost when the process exits.
type MemoryStore struct {
	opts options
	log  *zap.Logger

	mu       sync.RWMutex
	closed   []memoryBatch
	openRef  string
	open     strings.Builder
	openSize int
	openLen  int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := newOptions(opts)
	return &MemoryStore{
		opts: o,
		log:  o.log.With(zap.String("component", "eventstore"), zap.String("backend", "memory")),
	}
}

func (s *MemoryStore) Append(event string) error {
	if event == "" {
		return ErrEmptyEvent
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.fits(0, 0, event) {
		return ErrEventTooLarge
	}
	if !s.opts.fits(s.openSize, s.openLen, event) {
		s.log.Debug("batch size exceeded, closing the current batch")
		if err := s.rolloverLocked(); err != nil {
			return err
		}
	}

	if s.openLen == 0 {
		s.openRef = ulid.Make().String()
	} else {
		s.open.WriteString(eventSeparator)
		s.openSize += len(eventSeparator)
	}
	s.open.WriteString(event)
	s.openSize += len(event)
	s.openLen++
	return nil
}

func (s *MemoryStore) Rollover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolloverLocked()
}

func (s *MemoryStore) rolloverLocked() error {
	if s.openLen == 0 {
		return nil
	}
	if s.opts.full(len(s.closed)) {
		return ErrStoreFull
	}

	s.closed = append(s.closed, memoryBatch{
		reference: s.openRef,
		content:   batchPrefix + s.open.String() + sealSuffix(),
	})
	s.resetOpenLocked()
	return nil
}

func (s *MemoryStore) resetOpenLocked() {
	s.open.Reset()
	s.openRef = ""
	s.openSize = 0
	s.openLen = 0
}

func (s *MemoryStore) Read() ([]DataItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]DataItem, 0, len(s.closed))
	for _, b := range s.closed {
		items = append(items, DataItem{Reference: b.reference, Content: b.content, Closed: true})
	}
	return items, nil
}

func (s *MemoryStore) Remove(reference string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range s.closed {
		if b.reference == reference {
			s.closed = append(s.closed[:i], s.closed[i+1:]...)
			return true
		}
	}
	return false
}

func (s *MemoryStore) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = nil
	s.resetOpenLocked()
	return nil
}

func (s *MemoryStore) OpenBatch() (DataItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.openLen == 0 {
		return DataItem{}, false
	}
	return DataItem{Reference: s.openRef, Content: batchPrefix + s.open.String()}, true
}
