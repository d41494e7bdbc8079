package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// directoryEntry is the minimal shape a published chain directory service
// is expected to return: one row per chain, carrying at least the
// verification API URL and a human-facing explorer URL. Real directory
// services for each family publish richer documents; callers configure
// the URL this is fetched from and this type only reads the fields the
// submitter needs, tolerating unknown extra fields.
type directoryEntry struct {
	ChainID     json.Number `json:"chainId"`
	APIURL      string      `json:"apiUrl"`
	ExplorerURL string      `json:"explorerUrl"`
}

// NewHTTPDirectoryFetcher builds a DirectoryFetcher that GETs directoryURL
// once and decodes a JSON array of directoryEntry rows into the
// chain-id-keyed table an ExplorerSink consults on every submission.
// spec.md §4.10 leaves cross-version schema drift of the fetched table
// unspecified (see DESIGN.md); this fetcher resolves once at construction
// and is not refreshed for the life of the process.
func NewHTTPDirectoryFetcher(directoryURL string) DirectoryFetcher {
	return func(ctx context.Context, httpClient *http.Client) (map[string]ExplorerEndpoint, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, directoryURL, nil)
		if err != nil {
			return nil, fmt.Errorf("directory fetch: build request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("directory fetch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("directory fetch: HTTP %d", resp.StatusCode)
		}

		var entries []directoryEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return nil, fmt.Errorf("directory fetch: decode: %w", err)
		}

		table := make(map[string]ExplorerEndpoint, len(entries))
		for _, e := range entries {
			chainID := e.ChainID.String()
			if chainID == "" {
				continue
			}
			if _, err := strconv.Atoi(chainID); err != nil {
				continue
			}
			table[chainID] = ExplorerEndpoint{APIURL: e.APIURL, ExplorerURL: e.ExplorerURL}
		}
		return table, nil
	}
}

// StaticDirectoryFetcher returns a DirectoryFetcher that skips the network
// entirely, useful for tests and for single-chain deployments where the
// operator already knows the one endpoint they submit to.
func StaticDirectoryFetcher(table map[string]ExplorerEndpoint) DirectoryFetcher {
	return func(ctx context.Context, httpClient *http.Client) (map[string]ExplorerEndpoint, error) {
		return table, nil
	}
}
