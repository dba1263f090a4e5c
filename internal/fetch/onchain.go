package fetch

import (
	"context"
	"fmt"
	"net/http"

	"ensnotify/internal/config"
	"ensnotify/internal/content"
)

// OnChainFetcher queries the governance subgraph for the most recently
// started proposals.
type OnChainFetcher struct {
	url    string
	limit  int
	client *http.Client
}

func NewOnChainFetcher(cfg config.GraphQLSource) *OnChainFetcher {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	return &OnChainFetcher{url: cfg.URL, limit: limit, client: newHTTPClient()}
}

func (f *OnChainFetcher) Category() content.Category { return content.CategoryOnChain }

func (f *OnChainFetcher) Fetch(ctx context.Context) ([]content.Item, error) {
	query := fmt.Sprintf(`{
  proposals(first: %d, orderBy: startBlock, orderDirection: desc) {
    id
    txnHash
    state
    creationTime
    executionTime
    description
  }
}`, f.limit)

	var resp struct {
		Data struct {
			Proposals []content.OnChainProposal `json:"proposals"`
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
