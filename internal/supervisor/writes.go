package supervisor

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/dispatch"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
	"github.com/nerrad567/gray-logic-zigbee/internal/store"
)

func (s *Supervisor) target(idOrName string) (dispatch.Target, *deviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lookupLocked(idOrName)
	if !ok {
		return dispatch.Target{}, nil, fmt.Errorf("%w: %q", ErrUnknownDevice, idOrName)
	}
	return dispatch.Target{ID: rec.id, Address: rec.name, Model: rec.model}, rec, nil
}

// Plan compiles a write without executing it.
func (s *Supervisor) Plan(idOrName, property string, value any, options map[string]any) (dispatch.Plan, error) {
	t, _, err := s.target(idOrName)
	if err != nil {
		return dispatch.Plan{}, err
	}
	return s.dispatcher.Plan(t, property, value, dispatch.WriteOptions{Options: options})
}

// Write sets a property on a device and blocks until the write's cascade
// has completed. The write is abandoned if ctx is cancelled or the device
// is removed.
//
// Parameters:
//   - ctx: Request context
//   - idOrName: IEEE address or friendly name
//   - property: Semantic property id
//   - value: Requested semantic value
//   - options: Write options such as transition_time
//
// Returns:
//   - dispatch.Result: Operations sent and their confirmation
//   - error: ErrUnknownDevice, ErrNotRunning or a dispatch error
func (s *Supervisor) Write(ctx context.Context, idOrName, property string, value any, options map[string]any) (dispatch.Result, error) {
	t, rec, err := s.target(idOrName)
	if err != nil {
		return dispatch.Result{}, err
	}

	if rec.ctx.Err() != nil {
		return dispatch.Result{}, fmt.Errorf("%w: %s", ErrNotRunning, t.ID)
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(rec.ctx, cancel)
	defer stop()

	if d, err := t.Model.Descriptor(property); err == nil && !d.Option {
		if err := s.store.SetValue(wctx, t.ID, property, value, false); err != nil {
			s.logger.Debug("recording requested value failed", "device", t.ID, "property", property, "error", err)
		}
	}

	res, err := s.dispatcher.Write(wctx, t, property, value, dispatch.WriteOptions{Options: descriptor.Options(options)})

	data := map[string]any{
		"device":    t.ID,
		"property":  property,
		"value":     value,
		"confirmed": res.Confirmed,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.events.Emit(EventWrite, data)
	return res, err
}

// handleUserWrite runs a write that arrived on a command topic.
func (s *Supervisor) handleUserWrite(ctx context.Context, w store.UserWrite) {
	if _, err := s.Write(ctx, w.Device, w.Property, w.Value, w.Options); err != nil {
		s.logger.Warn("user write failed",
			"device", w.Device,
			"property", w.Property,
			"error", err,
		)
	}
}

// Reconfigure runs the device's configure procedure again, resetting its
// attempt count. The run is abandoned if ctx is cancelled or the device is
// removed.
func (s *Supervisor) Reconfigure(ctx context.Context, idOrName string) (configure.Outcome, error) {
	_, rec, err := s.target(idOrName)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	req := configure.Request{
		ID:           rec.id,
		Interviewing: rec.interviewing,
		Procedure:    rec.model.Configure,
	}
	s.mu.RUnlock()

	if rec.ctx.Err() != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRunning, rec.id)
	}
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(rec.ctx, cancel)
	defer stop()

	outcome, err := s.configurer.Reconfigure(rctx, req)
	s.metrics.ConfigureOutcome(string(outcome))
	return outcome, err
}

// StartPairing opens the join window for seconds. target limits joining to
// one router; empty means the whole network.
func (s *Supervisor) StartPairing(ctx context.Context, seconds int, target string) (pairing.Status, error) {
	if target != "" {
		if rec, ok := s.lookup(target); ok {
			target = rec.id
		}
	}
	return s.pairing.Start(ctx, seconds, target)
}

// StopPairing closes the join window.
func (s *Supervisor) StopPairing(ctx context.Context) error {
	return s.pairing.Stop(ctx)
}

// PairingStatus returns the join window's status.
func (s *Supervisor) PairingStatus() pairing.Status {
	return s.pairing.Status()
}
