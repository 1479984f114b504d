package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bclot-labs/raffle_layer/internal/app/domain/pricefeed"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// Fetcher retrieves a market quote for an asset pair.
type Fetcher interface {
	Fetch(ctx context.Context, base, quote string) (pricefeed.Quote, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, base, quote string) (pricefeed.Quote, error)

func (f FetcherFunc) Fetch(ctx context.Context, base, quote string) (pricefeed.Quote, error) {
	if f == nil {
		return pricefeed.Quote{}, fmt.Errorf("no fetcher configured")
	}
	return f(ctx, base, quote)
}

// StaticFetcher serves fixed prices, for tests and local development.
type StaticFetcher struct {
	Prices map[string]decimal.Decimal
}

func (f *StaticFetcher) Fetch(_ context.Context, base, quote string) (pricefeed.Quote, error) {
	pair := strings.ToUpper(base) + "/" + strings.ToUpper(quote)
	price, ok := f.Prices[pair]
	if !ok {
		return pricefeed.Quote{}, fmt.Errorf("no price for %s", pair)
	}
	return pricefeed.Quote{
		Pair:      pair,
		Price:     price,
		Source:    "static",
		Timestamp: time.Now().UTC(),
	}, nil
}

// HTTPFetcher pulls quotes from an external price API. The endpoint takes
// base and quote query parameters and answers with a JSON body carrying
// price, source and an optional timestamp.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	token   string
	log     *logger.Logger
}

// NewHTTPFetcher creates an HTTP-backed fetcher. token, when set, is sent as
// a bearer credential.
func NewHTTPFetcher(client *http.Client, baseURL, token string, log *logger.Logger) (*HTTPFetcher, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("pricefeed-fetcher")
	}
	return &HTTPFetcher{client: client, baseURL: baseURL, token: token, log: log}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, base, quote string) (pricefeed.Quote, error) {
	endpoint, err := url.Parse(f.baseURL)
	if err != nil {
		return pricefeed.Quote{}, err
	}
	q := endpoint.Query()
	q.Set("base", strings.ToUpper(base))
	q.Set("quote", strings.ToUpper(quote))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return pricefeed.Quote{}, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return pricefeed.Quote{}, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return pricefeed.Quote{}, fmt.Errorf("price api status %d", resp.StatusCode)
	}

	var body struct {
		Price     json.Number `json:"price"`
		Source    string      `json:"source"`
		Timestamp *time.Time  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pricefeed.Quote{}, fmt.Errorf("decode price response: %w", err)
	}
	price, err := decimal.NewFromString(body.Price.String())
	if err != nil {
		return pricefeed.Quote{}, fmt.Errorf("parse price %q: %w", body.Price, err)
	}

	ts := time.Now().UTC()
	if body.Timestamp != nil {
		ts = body.Timestamp.UTC()
	}
	return pricefeed.Quote{
		Pair:      strings.ToUpper(base) + "/" + strings.ToUpper(quote),
		Price:     price,
		Source:    body.Source,
		Timestamp: ts,
	}, nil
}
