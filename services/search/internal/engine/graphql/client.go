// Package graphql is the search backend client for the remote GraphQL API.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/k-yomo/kagu-miru/pkg/httpclient"
	"github.com/k-yomo/kagu-miru/services/search/internal/domain"
)

const serviceName = "graphql-api"

const searchQuery = `query search($input: SearchInput!) {
  search(input: $input) {
    searchId
    itemConnection {
      pageInfo { page totalPage totalCount }
      nodes {
        id name description status url affiliateUrl price imageUrls
        averageRating reviewCount categoryIds platform
      }
    }
  }
}`

const suggestQuery = `query getQuerySuggestions($query: String!) {
  getQuerySuggestions(query: $query) { query suggestedQueries }
}`

// Doer is the subset of the HTTP client the backend needs.
type Doer interface {
	Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error)
}

// Client calls the search and getQuerySuggestions queries of the API.
type Client struct {
	client   Doer
	endpoint string
}

// New creates a client posting to the GraphQL endpoint.
func New(client Doer, endpoint string) *Client {
	return &Client{client: client, endpoint: endpoint}
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type searchResponse struct {
	Data struct {
		Search *struct {
			SearchID       string `json:"searchId"`
			ItemConnection struct {
				PageInfo domain.PageInfo `json:"pageInfo"`
				Nodes    []domain.Item   `json:"nodes"`
			} `json:"itemConnection"`
		} `json:"search"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

type suggestResponse struct {
	Data struct {
		GetQuerySuggestions *domain.QuerySuggestions `json:"getQuerySuggestions"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Search runs one search request.
func (c *Client) Search(ctx context.Context, input domain.SearchInput) (*domain.SearchResult, error) {
	var out searchResponse
	if err := c.do(ctx, searchQuery, map[string]any{"input": input}, &out); err != nil {
		return nil, fmt.Errorf("graphql search: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphql search: %s", out.Errors[0].Message)
	}
	if out.Data.Search == nil {
		return nil, fmt.Errorf("graphql search: empty response")
	}

	s := out.Data.Search
	items := s.ItemConnection.Nodes
	if items == nil {
		items = []domain.Item{}
	}
	return &domain.SearchResult{
		SearchID: s.SearchID,
		Items:    items,
		PageInfo: s.ItemConnection.PageInfo,
	}, nil
}

// SuggestQueries fetches completions for a query fragment.
func (c *Client) SuggestQueries(ctx context.Context, query string) (*domain.QuerySuggestions, error) {
	var out suggestResponse
	if err := c.do(ctx, suggestQuery, map[string]any{"query": query}, &out); err != nil {
		return nil, fmt.Errorf("graphql suggest: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphql suggest: %s", out.Errors[0].Message)
	}
	s := out.Data.GetQuerySuggestions
	if s == nil {
		return nil, fmt.Errorf("graphql suggest: empty response")
	}
	if s.SuggestedQueries == nil {
		s.SuggestedQueries = []string{}
	}
	return s, nil
}

func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.client.Post(ctx, c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
