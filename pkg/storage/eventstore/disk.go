package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/Sokol111/analytics-pipeline/pkg/storage/kv"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	openFileExt       = ".tmp"
	corruptFileExt    = ".corrupt"
	fileNameSeparator = "-"
	fileIndexKeyBase  = "event.file.index."
)

// DiskStore keeps one file per batch under dir. Files are named <writeKey>-<index>;
// the open batch carries a .tmp extension until it is closed.
// The index is persisted in a kv.Store and never reused, even across restarts.
type DiskStore struct {
	dir      string
	writeKey string
	kv       kv.Store
	opts     options
	log      *zap.Logger

	mu       sync.Mutex
	index    int
	openSize int
	openLen  int
}

var _ Store = (*DiskStore)(nil)

type batchFile struct {
	path  string
	index int
}

// NewDiskStore opens the batch directory for writeKey, creating it if needed, and resumes
// a batch left open by a previous process.
func NewDiskStore(dir, writeKey string, store kv.Store, opts ...Option) (*DiskStore, error) {
	if writeKey == "" {
		return nil, errors.New("eventstore: write key is required")
	}
	if store == nil {
		return nil, errors.New("eventstore: key-value store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventstore: failed to create directory %s: %w", dir, err)
	}

	o := newOptions(opts)
	s := &DiskStore{
		dir:      dir,
		writeKey: writeKey,
		kv:       store,
		opts:     o,
		log: o.log.With(
			zap.String("component", "eventstore"),
			zap.String("backend", "disk")),
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover picks the index to continue from: the persisted one, or past the newest closed file
// if the process died between closing a file and persisting the next index.
func (s *DiskStore) recover() error {
	index, _ := kv.Read[int](s.kv, s.fileIndexKey())

	closed, err := s.closedFiles()
	if err != nil {
		return err
	}
	if n := len(closed); n > 0 && closed[n-1].index >= index {
		index = closed[n-1].index + 1
		if err := kv.Write(s.kv, s.fileIndexKey(), index); err != nil {
			return fmt.Errorf("eventstore: failed to persist file index: %w", err)
		}
	}
	s.index = index

	data, err := os.ReadFile(s.openPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("eventstore: failed to read open batch: %w", err)
	}

	content := string(data)
	if strings.HasPrefix(batchPrefix, content) {
		// Nothing but a possibly torn envelope was written.
		return os.Remove(s.openPath())
	}
	if !strings.HasPrefix(content, batchPrefix) {
		return s.quarantineOpenFile()
	}
	if strings.HasSuffix(content, sealSuffix()) && json.Valid(data) {
		// Sealed but not renamed before the previous process stopped.
		s.openLen = 1
		return s.closeOpenFile()
	}
	if !json.Valid([]byte(content + sealSuffix())) {
		return s.quarantineOpenFile()
	}
	s.openSize = len(content) - len(batchPrefix)
	s.openLen = 1
	s.log.Debug("resuming open batch", zap.String("file", s.openPath()))
	return nil
}

// quarantineOpenFile moves an unreadable open batch out of the way and skips its index.
func (s *DiskStore) quarantineOpenFile() error {
	target := s.closedPath(s.index) + corruptFileExt
	if err := os.Rename(s.openPath(), target); err != nil {
		return fmt.Errorf("eventstore: failed to quarantine open batch: %w", err)
	}
	s.log.Warn("open batch is not valid, quarantined it", zap.String("file", target))
	s.index++
	if err := kv.Write(s.kv, s.fileIndexKey(), s.index); err != nil {
		return fmt.Errorf("eventstore: failed to persist file index: %w", err)
	}
	return nil
}

func (s *DiskStore) fileIndexKey() string {
	return fileIndexKeyBase + s.writeKey
}

func (s *DiskStore) closedPath(index int) string {
	return filepath.Join(s.dir, s.writeKey+fileNameSeparator+strconv.Itoa(index))
}

func (s *DiskStore) openPath() string {
	return s.closedPath(s.index) + openFileExt
}

// Dir returns the batch directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Append(event string) error {
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

	var content string
	if s.openLen == 0 {
		content = batchPrefix + event
	} else {
		content = eventSeparator + event
	}
	if err := appendFile(s.openPath(), content); err != nil {
		s.truncateOpenFile()
		return fmt.Errorf("eventstore: failed to append event: %w", err)
	}

	if s.openLen > 0 {
		s.openSize += len(eventSeparator)
	}
	s.openSize += len(event)
	s.openLen++
	return nil
}

func (s *DiskStore) Rollover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolloverLocked()
}

func (s *DiskStore) rolloverLocked() error {
	if s.openLen == 0 {
		return nil
	}

	closed, err := s.closedFiles()
	if err != nil {
		return err
	}
	if s.opts.full(len(closed)) {
		return ErrStoreFull
	}

	if err := appendFile(s.openPath(), sealSuffix()); err != nil {
		s.truncateOpenFile()
		return fmt.Errorf("eventstore: failed to seal batch: %w", err)
	}
	if err := s.closeOpenFile(); err != nil {
		s.truncateOpenFile()
		return err
	}
	return nil
}

// truncateOpenFile cuts the open file back to the events accounted for, dropping a partial write
// or a seal that could not be completed.
func (s *DiskStore) truncateOpenFile() {
	if s.openLen == 0 {
		if err := os.Remove(s.openPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to remove open batch", zap.String("file", s.openPath()), zap.Error(err))
		}
		return
	}
	size := int64(len(batchPrefix) + s.openSize)
	if err := os.Truncate(s.openPath(), size); err != nil {
		s.log.Error("failed to restore open batch", zap.String("file", s.openPath()), zap.Error(err))
	}
}

// closeOpenFile renames the sealed open file and moves to the next index.
func (s *DiskStore) closeOpenFile() error {
	if err := os.Rename(s.openPath(), s.closedPath(s.index)); err != nil {
		return fmt.Errorf("eventstore: failed to close batch: %w", err)
	}

	s.index++
	s.openSize = 0
	s.openLen = 0
	if err := kv.Write(s.kv, s.fileIndexKey(), s.index); err != nil {
		// recover() derives the index from the closed files on the next start.
		s.log.Warn("failed to persist file index", zap.Error(err))
	}
	return nil
}

func (s *DiskStore) Read() ([]DataItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.closedFiles()
	if err != nil {
		return nil, err
	}

	items := make([]DataItem, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			s.log.Warn("failed to read batch file", zap.String("file", f.path), zap.Error(err))
			continue
		}
		items = append(items, DataItem{Reference: f.path, Content: string(data), Closed: true})
	}
	return items, nil
}

func (s *DiskStore) Remove(reference string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.parseClosed(reference); !ok {
		return false
	}
	if err := os.Remove(reference); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to remove batch file", zap.String("file", reference), zap.Error(err))
		}
		return false
	}
	return true
}

func (s *DiskStore) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.closedFiles()
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.openPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	s.openSize = 0
	s.openLen = 0
	return errors.Join(errs...)
}

func (s *DiskStore) OpenBatch() (DataItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openLen == 0 {
		return DataItem{}, false
	}
	data, err := os.ReadFile(s.openPath())
	if err != nil {
		return DataItem{}, false
	}
	return DataItem{Reference: s.openPath(), Content: string(data)}, true
}

// closedFiles lists the closed batch files of this write key ordered by index.
func (s *DiskStore) closedFiles() ([]batchFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("eventstore: failed to list %s: %w", s.dir, err)
	}

	files := lo.FilterMap(entries, func(e os.DirEntry, _ int) (batchFile, bool) {
		if e.IsDir() {
			return batchFile{}, false
		}
		path := filepath.Join(s.dir, e.Name())
		index, ok := s.parseClosed(path)
		return batchFile{path: path, index: index}, ok
	})
	slices.SortFunc(files, func(a, b batchFile) int { return a.index - b.index })
	return files, nil
}

// parseClosed returns the index of a closed batch file path belonging to this store.
func (s *DiskStore) parseClosed(path string) (int, bool) {
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return 0, false
	}
	raw, ok := strings.CutPrefix(filepath.Base(path), s.writeKey+fileNameSeparator)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
