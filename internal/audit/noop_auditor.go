package audit

import (
	"fmt"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// NoopAuditor is an auditor that does nothing.
type NoopAuditor struct{}

func NewNoopAuditor() *NoopAuditor {
	return &NoopAuditor{}
}

func (n *NoopAuditor) Log(core.AuditEntry) error {
	// noop
	return nil
}

func (n *NoopAuditor) Close() error {
	// nothing to close
	return nil
}

// Build constructs the auditor selected by the configuration.
func Build(cfg config.AuditConfig) (core.Auditor, error) {
	if !cfg.Enabled {
		return NewNoopAuditor(), nil
	}
	switch cfg.Type {
	case "file":
		return NewFileAuditor(cfg.Path)
	case "memory", "":
		return NewMemoryAuditor(), nil
	default:
		return nil, fmt.Errorf("unknown auditor type %q", cfg.Type)
	}
}
