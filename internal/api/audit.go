package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
)

// auditTimeout bounds the audit insert that follows a mutating call.
const auditTimeout = 2 * time.Second

// recordAudit stores an audit entry for a mutating call. Failures are logged
// and never fail the request.
func (s *Server) recordAudit(r *http.Request, action, deviceID string, err error, details map[string]any) {
	if s.audit == nil {
		return
	}
	outcome := audit.OutcomeOK
	if err != nil {
		outcome = audit.OutcomeFailed
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()

	entry := &audit.Entry{
		Action:   action,
		DeviceID: deviceID,
		Subject:  subjectFromContext(r.Context()),
		Outcome:  outcome,
		Details:  details,
	}
	if createErr := s.audit.Create(ctx, entry); createErr != nil {
		s.logger.Warn("recording audit entry failed", "action", action, "error", createErr)
	}
}

// handleListAudit returns recorded operator actions, newest first.
//
// Query parameters:
//   - action: filter by action (write, reconfigure, pairing_start, pairing_stop)
//   - device: filter by device IEEE address
//   - limit, offset: pagination (limit defaults to 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = n
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
