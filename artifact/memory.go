package artifact

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore is the in-process artifact cache. Entries expire after the
// configured TTL; when total size passes the soft bound, least recently
// used entries are evicted first.
type MemoryStore struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	entries   map[string]*list.Element
	lru       *list.List // front = most recently used
	total     int64
	bySession map[string][]string
	closed    bool
	stopReap  chan struct{}
	reapDone  chan struct{}
}

type memoryEntry struct {
	artifact Artifact
	expires  time.Time
}

// NewMemoryStore creates a memory store and starts its reaper.
func NewMemoryStore(config Config, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		config:    config,
		logger:    logger.With(zap.String("component", "artifact_store")),
		entries:   make(map[string]*list.Element),
		lru:       list.New(),
		bySession: make(map[string][]string),
		stopReap:  make(chan struct{}),
		reapDone:  make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Put stores data under a fresh opaque id.
func (s *MemoryStore) Put(_ context.Context, sessionID string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrNotFound
	}

	id := uuid.NewString()
	entry := &memoryEntry{
		artifact: Artifact{
			ID:          id,
			Data:        data,
			ContentType: contentType,
			SessionID:   sessionID,
			CreatedAt:   time.Now(),
		},
		expires: time.Now().Add(s.config.TTL),
	}

	s.entries[id] = s.lru.PushFront(entry)
	s.total += int64(len(data))
	if sessionID != "" {
		s.bySession[sessionID] = append(s.bySession[sessionID], id)
	}

	s.evictOverLimitLocked()

	return id, nil
}

// Get returns the artifact for id and refreshes its LRU position.
func (s *MemoryStore) Get(_ context.Context, id string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expires) {
		s.removeLocked(id, elem)
		return nil, ErrNotFound
	}

	s.lru.MoveToFront(elem)
	art := entry.artifact
	return &art, nil
}

// InvalidateSession drops all artifacts the session created.
func (s *MemoryStore) InvalidateSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.bySession[sessionID]
	for _, id := range ids {
		if elem, ok := s.entries[id]; ok {
			s.removeLocked(id, elem)
		}
	}
	delete(s.bySession, sessionID)
	return nil
}

// Close stops the reaper and drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = make(map[string]*list.Element)
	s.bySession = make(map[string][]string)
	s.lru.Init()
	s.total = 0
	s.mu.Unlock()

	close(s.stopReap)
	<-s.reapDone
	return nil
}

// TotalBytes returns the current stored size.
func (s *MemoryStore) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) reapLoop() {
	defer close(s.reapDone)

	interval := s.config.ReapInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReap:
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

func (s *MemoryStore) reapExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	reaped := 0
	for id, elem := range s.entries {
		if now.After(elem.Value.(*memoryEntry).expires) {
			s.removeLocked(id, elem)
			reaped++
		}
	}
	if reaped > 0 {
		s.logger.Debug("reaped expired artifacts",
			zap.Int("count", reaped),
			zap.Int64("total_bytes", s.total))
	}
}

func (s *MemoryStore) evictOverLimitLocked() {
	if s.config.MaxBytes <= 0 {
		return
	}
	for s.total > s.config.MaxBytes {
		back := s.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*memoryEntry)
		s.removeLocked(entry.artifact.ID, back)
		s.logger.Debug("evicted artifact over size bound",
			zap.String("id", entry.artifact.ID),
			zap.Int64("total_bytes", s.total))
	}
}

func (s *MemoryStore) removeLocked(id string, elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	s.lru.Remove(elem)
	delete(s.entries, id)
	s.total -= int64(len(entry.artifact.Data))
}
