package api

import (
	"net/http"

	"github.com/jsayol/qr-signin/internal/api/presenter"
	"github.com/jsayol/qr-signin/internal/audit"
)

// handleListAudits returns recorded protocol events. Only the in-memory
// auditor supports listing; file-backed audit logs are read out of band.
func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	mem, ok := s.auditor.(*audit.MemoryAuditor)
	if !ok {
		presenter.Error(w, r, "configured auditor does not support listing", http.StatusNotImplemented)
		return
	}
	presenter.JSON(w, r, mem.Entries(), http.StatusOK)
}
