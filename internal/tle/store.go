package tle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
)

// Store holds the in-memory catalog and its JSON cache file. A refresh that
// fails keeps serving the previous catalog; planning runs against whatever
// is current at that instant.
type Store struct {
	fetcher *Fetcher
	path    string
	log     logging.Logger

	mu  sync.RWMutex
	set model.TLESet
}

// NewStore constructs a catalog store caching to path. Pass an empty path to
// disable the file cache.
func NewStore(fetcher *Fetcher, path string, log logging.Logger) *Store {
	if log == nil {
		log = logging.Noop()
	}
	return &Store{fetcher: fetcher, path: path, log: log, set: make(model.TLESet)}
}

// Bootstrap primes the catalog: cache file first, then a network refresh.
// Having either source succeed is enough to start.
func (s *Store) Bootstrap(ctx context.Context) error {
	cacheErr := s.loadCache()
	if cacheErr == nil {
		s.log.Info(ctx, "satellite catalog loaded from cache", logging.Int("satellites", s.Size()))
	}

	if err := s.Refresh(ctx); err != nil {
		if cacheErr != nil {
			return fmt.Errorf("no cached catalog and refresh failed: %w", err)
		}
		s.log.Warn(ctx, "catalog refresh failed; serving cached catalog", logging.Err(err))
	}
	return nil
}

// Catalog returns a copy of the current catalog. Implements the engine's
// TLESource.
func (s *Store) Catalog() model.TLESet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.TLESet, len(s.set))
	for name, t := range s.set {
		out[name] = t
	}
	return out
}

// Lookup returns one entry by satellite name.
func (s *Store) Lookup(name string) (model.TLE, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.set[name]
	return t, ok
}

// Size returns the number of cataloged satellites.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// Refresh fetches a fresh catalog, swaps it in, and rewrites the cache file.
func (s *Store) Refresh(ctx context.Context) error {
	if s.fetcher == nil {
		return errors.New("no catalog fetcher configured")
	}
	set, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.set = set
	s.mu.Unlock()

	if err := s.writeCache(set); err != nil {
		s.log.Warn(ctx, "failed to write catalog cache", logging.Err(err))
	}
	s.log.Info(ctx, "satellite catalog refreshed", logging.Int("satellites", len(set)))
	return nil
}

// RunRefresh refreshes the catalog at the given interval until ctx is
// cancelled. Failures keep the previous catalog and retry next interval.
func (s *Store) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn(ctx, "periodic catalog refresh failed", logging.Err(err))
			}
		}
	}
}

func (s *Store) loadCache() error {
	if s.path == "" {
		return errors.New("no cache path configured")
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var set model.TLESet
	if err := json.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("decode catalog cache: %w", err)
	}
	if len(set) == 0 {
		return ErrEmptyCatalog
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

func (s *Store) writeCache(set model.TLESet) error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
