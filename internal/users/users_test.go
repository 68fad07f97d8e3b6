package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/groundlink/internal/logging"
)

func TestBootstrapFetchesAndCaches(t *testing.T) {
	payload := `[{"id":"u-1","name":"ops"}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "users.json")
	svc := NewService(srv.Client(), srv.URL, cache, logging.Noop())
	svc.Bootstrap(context.Background())

	if got := string(svc.Users()); got != payload {
		t.Errorf("Users() = %s, want upstream payload", got)
	}
	written, err := os.ReadFile(cache)
	if err != nil {
		t.Fatalf("cache file: %v", err)
	}
	if string(written) != payload {
		t.Errorf("cache file = %s, want upstream payload", written)
	}
}

func TestBootstrapFallsBackToCacheFile(t *testing.T) {
	cached := `[{"id":"u-2"}]`
	cache := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(cache, []byte(cached), 0o644); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(srv.Client(), srv.URL, cache, logging.Noop())
	svc.Bootstrap(context.Background())

	if got := string(svc.Users()); got != cached {
		t.Errorf("Users() = %s, want cache file contents", got)
	}
}

func TestBootstrapColdStartServesEmptyList(t *testing.T) {
	svc := NewService(nil, "", filepath.Join(t.TempDir(), "missing.json"), logging.Noop())
	svc.Bootstrap(context.Background())

	if got := string(svc.Users()); got != "[]" {
		t.Errorf("Users() = %s, want empty list", got)
	}
}
