package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rewired-gh/polyterm/internal/models"
)

// ErrNoAuth is returned by authenticated Data API operations when no
// session credential is configured.
var ErrNoAuth = errors.New("no session credential configured")

// Favorite is one bookmarked event as returned by the Data API.
type Favorite struct {
	ID        string `json:"id"`
	EventID   string `json:"eventId"`
	EventSlug string `json:"eventSlug"`
	Title     string `json:"title"`
}

// GetProfile retrieves the public profile for a wallet address.
func (c *Client) GetProfile(ctx context.Context, address string) (*models.Profile, error) {
	u := c.dataAPIURL + "/profile?address=" + url.QueryEscape(address)

	var profile models.Profile
	if err := c.getJSON(ctx, u, &profile); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return &profile, nil
}

// GetPortfolio retrieves the balance and open positions for an address.
func (c *Client) GetPortfolio(ctx context.Context, address string) (*models.Portfolio, error) {
	var value struct {
		Value float64 `json:"value"`
	}
	u := c.dataAPIURL + "/value?user=" + url.QueryEscape(address)
	if err := c.getJSON(ctx, u, &value); err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	var positions []models.Position
	u = c.dataAPIURL + "/positions?user=" + url.QueryEscape(address)
	if err := c.getJSON(ctx, u, &positions); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	return &models.Portfolio{Balance: value.Value, Positions: positions}, nil
}

// ListFavorites retrieves the user's bookmarked events.
func (c *Client) ListFavorites(ctx context.Context) ([]Favorite, error) {
	if c.sessionToken == "" {
		return nil, ErrNoAuth
	}

	var favorites []Favorite
	if err := c.getJSON(ctx, c.dataAPIURL+"/favorites", &favorites); err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	return favorites, nil
}

// AddFavorite bookmarks an event. Returns the created favorite record.
func (c *Client) AddFavorite(ctx context.Context, eventID string) (*Favorite, error) {
	if c.sessionToken == "" {
		return nil, ErrNoAuth
	}

	body := []byte(fmt.Sprintf(`{"eventId":%q}`, eventID))
	var favorite Favorite
	if err := c.postJSON(ctx, c.dataAPIURL+"/favorites", body, &favorite); err != nil {
		return nil, fmt.Errorf("failed to add favorite: %w", err)
	}
	return &favorite, nil
}

// RemoveFavorite removes a bookmark by its favorite record ID.
func (c *Client) RemoveFavorite(ctx context.Context, id string) error {
	if c.sessionToken == "" {
		return ErrNoAuth
	}

	if err := c.deleteResource(ctx, c.dataAPIURL+"/favorites/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

// deleteResource performs a DELETE with retry, discarding the response body.
func (c *Client) deleteResource(ctx context.Context, urlStr string) error {
	return c.doJSON(ctx, "DELETE", urlStr, nil, nil)
}
