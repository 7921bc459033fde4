package client

import (
	"context"
	"fmt"

	"github.com/jsayol/qr-signin/internal/api"
	"github.com/jsayol/qr-signin/internal/core"
)

// ListAuditEntries fetches the server's recorded protocol events. Only
// servers running the in-memory auditor support this.
func (c *Client) ListAuditEntries(ctx context.Context) ([]core.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	var entries []core.AuditEntry
	if err := c.get(ctx, c.url(api.ListAuditsRoute), &entries); err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}
