package audit

import (
	"sync"

	"github.com/jsayol/qr-signin/internal/core"
)

// MemoryAuditor keeps entries in memory, newest last. Used by tests and
// for the audit listing endpoint when no file auditor is configured.
type MemoryAuditor struct {
	mu      sync.RWMutex
	entries []core.AuditEntry
}

func NewMemoryAuditor() *MemoryAuditor {
	return &MemoryAuditor{}
}

func (m *MemoryAuditor) Log(entry core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryAuditor) Entries() []core.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.AuditEntry(nil), m.entries...)
}

func (m *MemoryAuditor) Close() error {
	return nil
}
