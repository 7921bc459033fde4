package client

import (
	"context"
	"fmt"

	"github.com/jsayol/qr-signin/internal/api"
	"github.com/jsayol/qr-signin/internal/buildinfo"
)

// About fetches service information from the server.
func (c *Client) About(ctx context.Context) (*buildinfo.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	var info buildinfo.Info
	if err := c.get(ctx, c.url(api.AboutRoute), &info); err != nil {
		return nil, fmt.Errorf("fetching server info: %w", err)
	}
	return &info, nil
}
