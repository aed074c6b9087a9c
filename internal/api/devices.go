package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-zigbee/internal/audit"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/supervisor"
)

// writeRequest is the body of a property write or plan.
type writeRequest struct {
	Value   any            `json:"value"`
	Options map[string]any `json:"options,omitempty"`
}

// handleListDevices returns every device.
//
// Query parameters:
//   - availability: filter by availability (online, offline, unknown)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.gateway.Devices()

	if want := r.URL.Query().Get("availability"); want != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Availability == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device with its descriptors and values. The id
// may be an IEEE address or a friendly name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.gateway.Device(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleWriteProperty writes a property and waits for its cascade.
func (s *Server) handleWriteProperty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeWrite(w, r)
	if !ok {
		return
	}
	id, property := chi.URLParam(r, "id"), chi.URLParam(r, "property")

	res, err := s.gateway.Write(r.Context(), id, property, req.Value, req.Options)
	s.recordAudit(r, audit.ActionWrite, s.deviceID(id), err, map[string]any{"property": property, "value": req.Value})
	if err != nil {
		s.logger.Warn("API write failed", "device", id, "property", property, "error", err)
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePlanProperty compiles a write without sending it.
func (s *Server) handlePlanProperty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeWrite(w, r)
	if !ok {
		return
	}

	plan, err := s.gateway.Plan(chi.URLParam(r, "id"), chi.URLParam(r, "property"), req.Value, req.Options)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleReconfigure reruns a device's configure procedure.
func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome, err := s.gateway.Reconfigure(r.Context(), id)
	s.recordAudit(r, audit.ActionReconfigure, s.deviceID(id), err, map[string]any{"outcome": outcome})
	switch {
	case errors.Is(err, supervisor.ErrUnknownDevice):
		writeNotFound(w, "device not found")
		return
	case outcome == configure.OutcomeInProgress:
		writeConflict(w, "configuration already in progress")
		return
	case outcome == configure.OutcomeInterviewing:
		writeConflict(w, "device is still being interviewed")
		return
	case err != nil:
		s.logger.Warn("reconfigure failed", "device", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device": id, "outcome": outcome})
}

// deviceID resolves a friendly name to the IEEE address for audit entries.
func (s *Server) deviceID(idOrName string) string {
	if dev, ok := s.gateway.Device(idOrName); ok {
		return dev.ID
	}
	return idOrName
}

func decodeWrite(w http.ResponseWriter, r *http.Request) (writeRequest, bool) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return req, false
	}
	return req, true
}

// writeDispatchError maps supervisor and dispatcher errors onto HTTP statuses.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, supervisor.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, dispatch.ErrUnknownProperty):
		writeNotFound(w, err.Error())
	case errors.Is(err, descriptor.ErrInvalidValue), errors.Is(err, dispatch.ErrNothingToPublish):
		writeValidation(w, err.Error())
	case errors.Is(err, dispatch.ErrPublishFailure):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	case errors.Is(err, supervisor.ErrNotRunning), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, "write failed")
	}
}
