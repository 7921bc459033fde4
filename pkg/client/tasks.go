package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/jsayol/qr-signin/internal/api"
	"github.com/jsayol/qr-signin/internal/tasks"
)

func (c *Client) ListTasks(ctx context.Context) ([]tasks.TaskStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	var list []tasks.TaskStatus
	if err := c.get(ctx, c.url(api.ListTasksRoute), &list); err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return list, nil
}

func (c *Client) TriggerTask(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	endpoint := c.url(strings.Replace(api.TriggerTaskRoute, "{name}", name, 1))
	if err := c.post(ctx, endpoint, nil, nil); err != nil {
		return fmt.Errorf("triggering task '%s': %w", name, err)
	}
	return nil
}

func (c *Client) TaskLogs(ctx context.Context, name string) ([]tasks.LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, shortTimeout)
	defer cancel()

	endpoint := c.url(strings.Replace(api.LogsForTaskRoute, "{name}", name, 1))
	var logs []tasks.LogEntry
	if err := c.get(ctx, endpoint, &logs); err != nil {
		return nil, fmt.Errorf("reading logs for task '%s': %w", name, err)
	}
	return logs, nil
}
