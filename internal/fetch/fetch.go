// Package fetch pulls governance content from its upstream sources: the
// Snapshot GraphQL API for off-chain proposals, the governance subgraph for
// on-chain proposals, and the Google Calendar API for scheduled events.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ensnotify/internal/content"
)

// Fetcher retrieves the current batch of items for one category. A fetch
// error means the category contributes nothing to the cycle; it never aborts
// the other categories.
type Fetcher interface {
	Category() content.Category
	Fetch(ctx context.Context) ([]content.Item, error)
}

const defaultTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

// postGraphQL executes a GraphQL query and decodes the response into out.
func postGraphQL(ctx context.Context, client *http.Client, url, query string, out any) error {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graphql %s: status %d: %s", url, resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
