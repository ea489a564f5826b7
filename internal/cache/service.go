package cache

import (
	"context"
	"encoding/json"

	"github.com/conneroisu/coursegen/internal/logging"
)

// Artifact is the unit of caching: a rendered content fragment plus the
// URLs that were generated while rendering it. The links ride along so a
// cache hit can still feed the freezing crawler.
type Artifact struct {
	Content string   `json:"content"`
	Links   []string `json:"links"`
}

// DirtyFunc reports whether the local working copy has uncommitted changes.
// While dirty, fingerprints would not reflect the working state, so the
// service bypasses the backend entirely.
type DirtyFunc func(ctx context.Context) bool

// Service wraps a Store with artifact encoding, dirty-state bypass and
// non-fatal degradation: backend errors are logged and treated as absence.
type Service struct {
	store Store
	dirty DirtyFunc
	log   logging.Logger
}

// NewService creates a cache service over the given store. dirty may be nil
// when no working-copy check applies (e.g. tests).
func NewService(store Store, dirty DirtyFunc, log logging.Logger) *Service {
	if log == nil {
		log = logging.NopLogger{}
	}
	if dirty == nil {
		dirty = func(context.Context) bool { return false }
	}
	return &Service{store: store, dirty: dirty, log: log}
}

// Get returns the cached artifact for key, or nil. Backend failures and
// undecodable entries count as misses.
func (s *Service) Get(ctx context.Context, key string) (*Artifact, bool) {
	if s.dirty(ctx) {
		return nil, false
	}

	raw, ok, err := s.store.Get(key)
	if err != nil {
		s.log.Warn(ctx, err, "cache read failed, treating as miss", "key", key)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		s.log.Warn(ctx, err, "cache entry undecodable, treating as miss", "key", key)
		return nil, false
	}
	return &artifact, true
}

// Set stores an artifact under key. Write failures are logged and swallowed.
func (s *Service) Set(ctx context.Context, key string, artifact *Artifact) {
	if s.dirty(ctx) {
		return
	}

	raw, err := json.Marshal(artifact)
	if err != nil {
		s.log.Warn(ctx, err, "cache encode failed, skipping write", "key", key)
		return
	}
	if err := s.store.Set(key, raw); err != nil {
		s.log.Warn(ctx, err, "cache write failed, proceeding without", "key", key)
	}
}

// GetOrCreate returns the cached artifact for key, running producer on a
// miss and storing its result. A concurrent race may run the producer twice;
// the producer is deterministic and the duplicate write is idempotent, so
// data consistency holds without cross-process locking.
func (s *Service) GetOrCreate(ctx context.Context, key string, producer func() (*Artifact, error)) (*Artifact, error) {
	if artifact, ok := s.Get(ctx, key); ok {
		return artifact, nil
	}

	artifact, err := producer()
	if err != nil {
		return nil, err
	}
	s.Set(ctx, key, artifact)
	return artifact, nil
}
