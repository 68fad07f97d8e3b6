// Package users is a pass-through cache for the external identity service.
// The user list is fetched once at startup and served from cache afterwards;
// the orchestrator never writes user data.
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
)

const maxUsersBytes = 4 << 20

// Service fetches and serves the cached user list.
type Service struct {
	client    *http.Client
	baseURL   string
	cachePath string
	log       logging.Logger

	mu     sync.RWMutex
	cached json.RawMessage
}

// NewService constructs the cache. An empty baseURL disables fetching; an
// empty cachePath disables the file cache.
func NewService(client *http.Client, baseURL, cachePath string, log logging.Logger) *Service {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Service{
		client:    client,
		baseURL:   baseURL,
		cachePath: cachePath,
		log:       log,
		cached:    json.RawMessage("[]"),
	}
}

// Bootstrap fills the cache: upstream first, cache file as fallback. A cold
// start with neither source serves an empty list rather than failing the
// orchestrator.
func (s *Service) Bootstrap(ctx context.Context) {
	if s.baseURL != "" {
		if err := s.refresh(ctx); err == nil {
			return
		} else {
			s.log.Warn(ctx, "user fetch failed; falling back to cache file", logging.Err(err))
		}
	}
	if err := s.loadCache(); err != nil {
		s.log.Warn(ctx, "no user cache available; serving empty list", logging.Err(err))
	}
}

// Users returns the cached user list as raw JSON.
func (s *Service) Users() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

func (s *Service) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/users", nil)
	if err != nil {
		return fmt.Errorf("build users request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch users: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUsersBytes))
	if err != nil {
		return fmt.Errorf("read users body: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("fetch users: response is not valid JSON")
	}

	s.mu.Lock()
	s.cached = raw
	s.mu.Unlock()

	if s.cachePath != "" {
		if err := os.WriteFile(s.cachePath, raw, 0o644); err != nil {
			s.log.Warn(ctx, "failed to write user cache", logging.Err(err))
		}
	}
	return nil
}

func (s *Service) loadCache() error {
	if s.cachePath == "" {
		return fmt.Errorf("no user cache path configured")
	}
	raw, err := os.ReadFile(s.cachePath)
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("user cache file is not valid JSON")
	}
	s.mu.Lock()
	s.cached = raw
	s.mu.Unlock()
	return nil
}
