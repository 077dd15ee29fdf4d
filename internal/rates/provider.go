// Package rates fetches, caches and persists exchange-rate tables.
package rates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"

	"moneyman/internal/model"
)

// Errors returned by the rate store and provider.
var (
	ErrFetch           = errors.New("rate fetch failed")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// UnknownCurrencyError reports a code missing from the rate table. It
// matches ErrUnknownCurrency under errors.Is.
type UnknownCurrencyError struct {
	Code string
}

func (e *UnknownCurrencyError) Error() string {
	return "unknown currency: " + e.Code
}

func (e *UnknownCurrencyError) Is(target error) bool {
	return target == ErrUnknownCurrency
}

// DefaultURL is the Open Exchange Rates latest-rates endpoint.
const DefaultURL = "https://openexchangerates.org/api/latest.json"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// latestResponse is the body returned by the latest-rates endpoint.
type latestResponse struct {
	Timestamp int64              `json:"timestamp"`
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
}

// Provider downloads rate tables from Open Exchange Rates.
type Provider struct {
	client  HTTPClient
	baseURL string
	appID   string
	timeout time.Duration
	now     func() time.Time
}

// NewProvider creates a Provider for the given endpoint and app ID.
func NewProvider(client HTTPClient, baseURL, appID string) *Provider {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Provider{
		client:  client,
		baseURL: baseURL,
		appID:   appID,
		timeout: 30 * time.Second,
		now:     time.Now,
	}
}

// Latest fetches the current rate table. The snapshot is stamped with the
// local fetch time, not the provider's publication time.
func (p *Provider) Latest(ctx context.Context) (*model.RateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("app_id", p.appID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "MoneymanBot/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http get: %w", ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}

	var latest latestResponse
	if err := json.Unmarshal(body, &latest); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrFetch, err)
	}
	if len(latest.Rates) == 0 {
		return nil, fmt.Errorf("%w: empty rate table", ErrFetch)
	}

	return &model.RateSnapshot{
		FetchedAt: p.now().UTC(),
		Rates:     latest.Rates,
	}, nil
}
