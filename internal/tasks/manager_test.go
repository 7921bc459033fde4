package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jsayol/qr-signin/internal/logging"
)

func TestTriggerRunsTask(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var runs atomic.Int64
	m.Register("counter", 0, func(context.Context, logging.InternalLogger) error {
		runs.Add(1)
		return nil
	})

	if err := m.Trigger("counter"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() != 1 {
		t.Fatalf("task ran %d times, want 1", runs.Load())
	}

	status := m.ListStatus()
	if len(status) != 1 || status[0].Name != "counter" {
		t.Fatalf("ListStatus() = %+v", status)
	}
	if status[0].LastResult != "success" {
		t.Errorf("LastResult = %q, want success", status[0].LastResult)
	}
}

func TestTriggerUnknownTask(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	err := m.Trigger("ghost")
	var notFound TaskNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Trigger() error = %v, want TaskNotFoundError", err)
	}
}

func TestFailedTaskRecordsResult(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	m.Register("broken", 0, func(context.Context, logging.InternalLogger) error {
		return errors.New("boom")
	})
	if err := m.Trigger("broken"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		status := m.ListStatus()
		if len(status) == 1 && status[0].LastResult != "" {
			if status[0].LastResult != "failed: boom" {
				t.Errorf("LastResult = %q, want failed: boom", status[0].LastResult)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task result never recorded")
}

func TestTaskLogsCaptured(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	m.Register("chatty", 0, func(_ context.Context, logger logging.InternalLogger) error {
		logger.Info("removed %d tokens", 7)
		return nil
	})
	if err := m.Trigger("chatty"); err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		logs, err := m.GetLogs("chatty")
		if err != nil {
			t.Fatalf("GetLogs() error = %v", err)
		}
		for _, entry := range logs {
			if entry.Message == "removed 7 tokens" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task log output was not captured")
}

func TestScheduledTask(t *testing.T) {
	m := NewManager()

	var runs atomic.Int64
	m.Register("ticking", 10*time.Millisecond, func(context.Context, logging.InternalLogger) error {
		runs.Add(1)
		return nil
	})

	deadline := time.Now().Add(time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	if runs.Load() < 2 {
		t.Fatalf("scheduled task ran %d times, want at least 2", runs.Load())
	}
}
