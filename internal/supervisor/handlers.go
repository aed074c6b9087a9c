package supervisor

import (
	"context"

	"github.com/nerrad567/gray-logic-zigbee/internal/availability"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/pairing"
)

// AvailabilityChanged implements availability.Notifier. It is called once
// per transition.
func (s *Supervisor) AvailabilityChanged(id string, from, to availability.State) {
	online := to == availability.Online
	ctx := s.rootContext()

	if err := s.store.SetValue(ctx, id, descriptor.PropAvailable, online, true); err != nil {
		s.logger.Debug("storing availability failed", "device", id, "error", err)
	}
	s.store.PublishAvailability(id, to.String())

	lastSeen, _ := s.availability.LastSeen(id)
	if err := s.repo.UpdateAvailability(ctx, id, to.String(), lastSeen); err != nil {
		s.logger.Debug("persisting availability failed", "device", id, "error", err)
	}
	if s.history != nil {
		s.history.WriteAvailability(id, online)
	}

	s.metrics.AvailabilityChanged(to.String())
	s.updateGauges()

	if from != availability.Unknown {
		s.logger.Info("device availability changed", "device", id, "from", from.String(), "to", to.String())
	}
	s.events.Emit(EventAvailability, map[string]any{
		"device": id,
		"from":   from.String(),
		"to":     to.String(),
	})
}

// Resync implements availability.Resyncer: each candidate property the
// device's model can report is requested with its own get. Failures are
// logged and skipped.
func (s *Supervisor) Resync(ctx context.Context, id string, properties []string) {
	rec, ok := s.lookup(id)
	if !ok {
		return
	}
	s.mu.RLock()
	name, model := rec.name, rec.model
	s.mu.RUnlock()

	var sent int
	for _, prop := range properties {
		d, err := model.Descriptor(prop)
		if err != nil || !d.OnWire() || !d.Readable {
			continue
		}
		if err := s.adapter.Get(ctx, name, []string{d.WireKey}); err != nil {
			s.logger.Debug("resync get failed", "device", id, "property", prop, "error", err)
			continue
		}
		sent++
	}
	s.logger.Debug("device resynced after reconnect", "device", id, "requested", sent)
}

// SetConfiguredKey implements configure.MarkerStore.
func (s *Supervisor) SetConfiguredKey(ctx context.Context, id, key string) error {
	if err := s.repo.SetConfiguredKey(ctx, id, key); err != nil {
		return err
	}
	s.mu.Lock()
	if rec, ok := s.devices[id]; ok {
		rec.configuredKey = key
	}
	s.mu.Unlock()
	return nil
}

// ConfigureStateChanged implements configure.Listener.
func (s *Supervisor) ConfigureStateChanged(id string, state configure.State, attempts int) {
	if state != configure.Configuring {
		s.setConfiguredValue(s.rootContext(), id, state == configure.Configured)
	}
	s.events.Emit(EventConfigure, map[string]any{
		"device":   id,
		"state":    state.String(),
		"attempts": attempts,
	})
}

// ConfigureExhausted implements configure.Listener.
func (s *Supervisor) ConfigureExhausted(id string, attempts int, err error) {
	s.events.Emit(EventConfigureFailed, map[string]any{
		"device":   id,
		"attempts": attempts,
		"error":    err.Error(),
	})
}

func (s *Supervisor) setConfiguredValue(ctx context.Context, id string, configured bool) {
	if err := s.store.SetValue(ctx, id, descriptor.PropConfigured, configured, true); err != nil {
		s.logger.Debug("storing configured state failed", "device", id, "error", err)
	}
}

// PairingProgress implements pairing.Broadcaster.
func (s *Supervisor) PairingProgress(st pairing.Status) {
	s.metrics.SetPairing(st.Active)
	s.events.Emit(EventPairing, st)
}

// updateGauges recounts devices by availability.
func (s *Supervisor) updateGauges() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var online, offline, unknown int
	for _, id := range ids {
		switch s.availability.State(id) {
		case availability.Online:
			online++
		case availability.Offline:
			offline++
		default:
			unknown++
		}
	}
	s.metrics.SetDevices(online, offline, unknown)
}
