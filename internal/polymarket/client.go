// Package polymarket provides HTTP clients for the Polymarket Gamma, CLOB,
// and Data APIs.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/models"
)

// Filter is a named sort/filter view over the event list. The dashboard
// keeps one cached event list per filter.
type Filter string

const (
	FilterTrending   Filter = "trending"
	FilterVolume     Filter = "volume"
	FilterLiquidity  Filter = "liquidity"
	FilterNewest     Filter = "newest"
	FilterEndingSoon Filter = "ending_soon"
)

// ClientConfig tunes retry behavior and connection pooling.
type ClientConfig struct {
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client provides access to the Polymarket REST APIs.
type Client struct {
	gammaAPIURL    string
	clobAPIURL     string
	dataAPIURL     string
	sessionToken   string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// gammaEvent is an event as returned by the Gamma API.
type gammaEvent struct {
	ID         string        `json:"id"`
	Slug       string        `json:"slug"`
	Title      string        `json:"title"`
	Category   string        `json:"category"`
	Active     bool          `json:"active"`
	Closed     bool          `json:"closed"`
	Volume     float64       `json:"volume"`
	Volume24hr float64       `json:"volume24hr"`
	Liquidity  float64       `json:"liquidity"`
	EndDate    string        `json:"endDate"`
	Tags       []gammaTag    `json:"tags"`
	Markets    []gammaMarket `json:"markets"`
}

type gammaTag struct {
	Label string `json:"label"`
}

// gammaMarket carries the double-encoded JSON-array string fields the
// Gamma API is known for.
type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string `json:"outcomePrices"` // JSON string: "[\"0.75\", \"0.25\"]"
	ClobTokenIds  string `json:"clobTokenIds"`  // JSON string: "[\"token1\", \"token2\"]"
}

// NewClient creates a new Polymarket client. sessionToken may be empty for
// read-only use; authenticated endpoints then fail with ErrNoAuth.
func NewClient(gammaAPIURL, clobAPIURL, dataAPIURL, sessionToken string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	return &Client{
		gammaAPIURL:    gammaAPIURL,
		clobAPIURL:     clobAPIURL,
		dataAPIURL:     dataAPIURL,
		sessionToken:   sessionToken,
		httpClient:     &http.Client{Timeout: timeout, Transport: transport},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
	}
}

// FetchEvents retrieves events for a named filter view, paginated by
// limit and offset.
func (c *Client) FetchEvents(ctx context.Context, filter Filter, limit, offset int) ([]models.Event, error) {
	u, err := url.Parse(c.gammaAPIURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))

	switch filter {
	case FilterVolume:
		q.Set("order", "volume")
		q.Set("ascending", "false")
	case FilterLiquidity:
		q.Set("order", "liquidity")
		q.Set("ascending", "false")
	case FilterNewest:
		q.Set("order", "startDate")
		q.Set("ascending", "false")
	case FilterEndingSoon:
		q.Set("order", "endDate")
		q.Set("ascending", "true")
	default: // FilterTrending
		q.Set("order", "volume24hr")
		q.Set("ascending", "false")
	}

	u.RawQuery = q.Encode()

	var pmEvents []gammaEvent
	if err := c.getJSON(ctx, u.String(), &pmEvents); err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return convertEvents(pmEvents), nil
}

// FetchEventBySlug retrieves a single event by its slug. A nil event with
// a nil error means the slug is unknown upstream.
func (c *Client) FetchEventBySlug(ctx context.Context, slug string) (*models.Event, error) {
	u := c.gammaAPIURL + "/events/slug/" + url.PathEscape(slug)

	var pmEvent gammaEvent
	if err := c.getJSON(ctx, u, &pmEvent); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch event %s: %w", slug, err)
	}
	events := convertEvents([]gammaEvent{pmEvent})
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// SearchEvents retrieves events matching a free-text query.
func (c *Client) SearchEvents(ctx context.Context, query string, limit int) ([]models.Event, error) {
	u, err := url.Parse(c.gammaAPIURL + "/public-search")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit_per_type", fmt.Sprintf("%d", limit))
	q.Set("events_status", "active")
	u.RawQuery = q.Encode()

	// The search endpoint wraps results, unlike /events.
	var result struct {
		Events []gammaEvent `json:"events"`
	}
	if err := c.getJSON(ctx, u.String(), &result); err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	return convertEvents(result.Events), nil
}

// FetchOrderbook retrieves the raw order book for one asset.
func (c *Client) FetchOrderbook(ctx context.Context, assetID string) ([]models.RawLevel, []models.RawLevel, error) {
	u := c.clobAPIURL + "/book?token_id=" + url.QueryEscape(assetID)

	var book struct {
		Bids []models.RawLevel `json:"bids"`
		Asks []models.RawLevel `json:"asks"`
	}
	if err := c.getJSON(ctx, u, &book); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch orderbook for %s: %w", assetID, err)
	}
	return book.Bids, book.Asks, nil
}

// FetchPricesBatch retrieves midpoint prices for a set of assets in one
// request. The caller falls back to FetchPrice per asset on failure.
func (c *Client) FetchPricesBatch(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	params := make([]map[string]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		params = append(params, map[string]string{"token_id": id})
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal price request: %w", err)
	}

	var raw map[string]string
	if err := c.postJSON(ctx, c.clobAPIURL+"/midpoints", body, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch batch prices: %w", err)
	}

	prices := make(map[string]float64, len(raw))
	for id, s := range raw {
		var p float64
		if _, err := fmt.Sscanf(s, "%f", &p); err != nil {
			logger.Warn("Unparsable midpoint for %s: %q", id, s)
			continue
		}
		prices[id] = p
	}
	return prices, nil
}

// FetchPrice retrieves the midpoint price for a single asset.
func (c *Client) FetchPrice(ctx context.Context, assetID string) (float64, error) {
	u := c.clobAPIURL + "/midpoint?token_id=" + url.QueryEscape(assetID)

	var result struct {
		Mid string `json:"mid"`
	}
	if err := c.getJSON(ctx, u, &result); err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", assetID, err)
	}
	var p float64
	if _, err := fmt.Sscanf(result.Mid, "%f", &p); err != nil {
		return 0, fmt.Errorf("unparsable midpoint %q for %s", result.Mid, assetID)
	}
	return p, nil
}

// Healthy reports whether the CLOB API answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobAPIURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// convertEvents maps Gamma API events to domain events, skipping events
// whose market fields fail to parse entirely.
func convertEvents(pmEvents []gammaEvent) []models.Event {
	events := make([]models.Event, 0, len(pmEvents))
	for _, pe := range pmEvents {
		if pe.Slug == "" {
			continue
		}
		event := models.Event{
			ID:         pe.ID,
			Slug:       pe.Slug,
			Title:      pe.Title,
			Category:   pe.Category,
			Active:     pe.Active && !pe.Closed,
			Closed:     pe.Closed,
			Volume:     pe.Volume,
			Volume24hr: pe.Volume24hr,
			Liquidity:  pe.Liquidity,
		}
		if pe.EndDate != "" {
			if t, err := time.Parse(time.RFC3339, pe.EndDate); err == nil {
				event.EndDate = t
			}
		}
		for _, tag := range pe.Tags {
			if tag.Label != "" {
				event.Tags = append(event.Tags, tag.Label)
			}
		}
		for _, pm := range pe.Markets {
			market, err := convertMarket(pm)
			if err != nil {
				logger.Debug("Skipping market %s: %v", pm.ConditionID, err)
				continue
			}
			event.Markets = append(event.Markets, market)
		}
		events = append(events, event)
	}
	return events
}

// convertMarket decodes the double-encoded outcome arrays of a Gamma
// market into outcome structs.
func convertMarket(pm gammaMarket) (models.Market, error) {
	var outcomes []string
	if err := json.Unmarshal([]byte(pm.Outcomes), &outcomes); err != nil {
		return models.Market{}, fmt.Errorf("failed to parse outcomes: %w", err)
	}
	var prices []string
	if err := json.Unmarshal([]byte(pm.OutcomePrices), &prices); err != nil {
		return models.Market{}, fmt.Errorf("failed to parse outcome prices: %w", err)
	}
	var tokenIDs []string
	if err := json.Unmarshal([]byte(pm.ClobTokenIds), &tokenIDs); err != nil {
		return models.Market{}, fmt.Errorf("failed to parse token ids: %w", err)
	}
	if len(outcomes) < 2 || len(tokenIDs) < len(outcomes) {
		return models.Market{}, fmt.Errorf("market has %d outcomes, %d tokens", len(outcomes), len(tokenIDs))
	}

	market := models.Market{
		ConditionID: pm.ConditionID,
		Question:    pm.Question,
		Closed:      pm.Closed,
	}
	for i, label := range outcomes {
		var price float64
		if i < len(prices) {
			fmt.Sscanf(prices[i], "%f", &price) //nolint:errcheck
		}
		market.Outcomes = append(market.Outcomes, models.Outcome{
			TokenID: tokenIDs[i],
			Label:   label,
			Price:   price,
		})
	}
	return market, nil
}

// notFoundError marks a 404 so callers can distinguish "unknown slug"
// from transport failure.
type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return "not found: " + e.url }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

// getJSON performs a GET with retry and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, urlStr string, out any) error {
	return c.doJSON(ctx, http.MethodGet, urlStr, nil, out)
}

// postJSON performs a POST with retry and decodes the JSON response.
func (c *Client) postJSON(ctx context.Context, urlStr string, body []byte, out any) error {
	return c.doJSON(ctx, http.MethodPost, urlStr, body, out)
}

// doJSON performs an HTTP request with linear-backoff retry on transport
// errors and 5xx responses.
func (c *Client) doJSON(ctx context.Context, method, urlStr string, body []byte, out any) error {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.sessionToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.sessionToken)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return &notFoundError{url: urlStr}
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("request failed: %d", resp.StatusCode)
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
