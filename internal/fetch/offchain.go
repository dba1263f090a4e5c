package fetch

import (
	"context"
	"fmt"
	"net/http"

	"ensnotify/internal/config"
	"ensnotify/internal/content"
)

// OffChainFetcher queries the Snapshot hub for the most recent proposals in
// the configured space.
type OffChainFetcher struct {
	url    string
	limit  int
	client *http.Client
}

func NewOffChainFetcher(cfg config.GraphQLSource) *OffChainFetcher {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 20
	}
	return &OffChainFetcher{url: cfg.URL, limit: limit, client: newHTTPClient()}
}

func (f *OffChainFetcher) Category() content.Category { return content.CategoryOffChain }

func (f *OffChainFetcher) Fetch(ctx context.Context) ([]content.Item, error) {
	query := fmt.Sprintf(`query Proposals {
  proposals(first: %d, skip: 0, orderBy: "created", orderDirection: desc) {
    id
    ipfs
    link
    title
    body
    choices
    created
    start
    end
    state
    author
    type
    app
    space {
      id
      name
    }
  }
}`, f.limit)

	var resp struct {
		Data struct {
			Proposals []content.OffChainProposal `json:"proposals"`
		} `json:"data"`
	}
	if err := postGraphQL(ctx, f.client, f.url, query, &resp); err != nil {
		return nil, err
	}

	items := make([]content.Item, 0, len(resp.Data.Proposals))
	for _, p := range resp.Data.Proposals {
		items = append(items, p)
	}
	return items, nil
}
