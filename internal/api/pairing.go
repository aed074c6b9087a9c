package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
)

// pairingRequest is the body of POST /pairing. Both fields are optional.
type pairingRequest struct {
	Duration int    `json:"duration"`
	Target   string `json:"target,omitempty"`
}

func (s *Server) handlePairingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.PairingStatus())
}

// handleStartPairing opens the join window, replacing any open session.
func (s *Server) handleStartPairing(w http.ResponseWriter, r *http.Request) {
	var req pairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Duration == 0 {
		req.Duration = s.pairingDuration
	}

	st, err := s.gateway.StartPairing(r.Context(), req.Duration, req.Target)
	s.recordAudit(r, audit.ActionPairStart, "", err, map[string]any{"duration": req.Duration, "target": req.Target})
	switch {
	case errors.Is(err, pairing.ErrInvalidDuration):
		writeValidation(w, err.Error())
		return
	case err != nil:
		s.logger.Warn("opening join window failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStopPairing closes the join window.
func (s *Server) handleStopPairing(w http.ResponseWriter, r *http.Request) {
	err := s.gateway.StopPairing(r.Context())
	s.recordAudit(r, audit.ActionPairStop, "", err, nil)
	switch {
	case errors.Is(err, pairing.ErrNoSession):
		writeConflict(w, "no join window is open")
		return
	case err != nil:
		s.logger.Warn("closing join window failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.gateway.PairingStatus())
}
