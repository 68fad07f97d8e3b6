package tle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signalsfoundry/groundlink/model"
)

// DefaultCatalogURL is Celestrak's active-satellite group in 3-line format.
const DefaultCatalogURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=active&FORMAT=tle"

const maxCatalogBytes = 8 << 20

// Fetcher downloads and parses the catalog.
type Fetcher struct {
	client *http.Client
	url    string
}

// NewFetcher constructs a fetcher for the given catalog URL. An empty URL
// selects the Celestrak active group; a nil client gets a timeout-bounded
// default.
func NewFetcher(client *http.Client, url string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if url == "" {
		url = DefaultCatalogURL
	}
	return &Fetcher{client: client, url: url}
}

// Fetch downloads and parses the catalog.
func (f *Fetcher) Fetch(ctx context.Context) (model.TLESet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("read catalog body: %w", err)
	}
	return Parse(string(raw))
}
