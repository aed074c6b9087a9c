package supervisor

import (
	"context"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/configure"
	"github.com/nerrad567/gray-logic-zigbee/internal/device"
)

// handleEvent routes one coordinator event. It runs on the adapter's
// delivery goroutine; configure runs are handed off to device goroutines.
func (s *Supervisor) handleEvent(evt zigbee.Event) {
	s.metrics.CoordinatorEvent(string(evt.Kind))

	switch evt.Kind {
	case zigbee.EventDevices:
		s.syncDevices(evt.Devices)

	case zigbee.EventDeviceJoined, zigbee.EventDeviceAnnounce:
		if evt.Device == nil {
			return
		}
		rec := s.register(*evt.Device)
		if rec == nil {
			return
		}
		s.availability.Seen(rec.id)
		s.ensureConfigured(rec)

	case zigbee.EventDeviceInterview:
		s.handleInterview(evt)

	case zigbee.EventDeviceLeave:
		s.Remove(evt.IEEE)

	case zigbee.EventDeviceRenamed:
		s.rename(evt.IEEE, evt.FriendlyName)

	case zigbee.EventMessage:
		s.handleMessage(evt)

	case zigbee.EventPermitJoinChanged:
		s.pairing.PermitJoinChanged(evt.PermitJoin, evt.Remaining)
	}
}

// syncDevices registers every listed device and removes records of devices
// that are no longer listed.
func (s *Supervisor) syncDevices(list []zigbee.Device) {
	listed := make(map[string]bool, len(list))
	for _, d := range list {
		listed[d.IEEE] = true
		if rec := s.register(d); rec != nil {
			s.ensureConfigured(rec)
		}
	}

	s.mu.RLock()
	var gone []string
	for id := range s.devices {
		if !listed[id] {
			gone = append(gone, id)
		}
	}
	for id := range s.stored {
		if !listed[id] {
			gone = append(gone, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range gone {
		s.Remove(id)
	}
}

func (s *Supervisor) handleInterview(evt zigbee.Event) {
	if evt.Device == nil {
		return
	}
	rec := s.register(*evt.Device)
	if rec == nil {
		return
	}

	s.mu.Lock()
	rec.interviewing = evt.Status == zigbee.InterviewStarted
	s.mu.Unlock()

	switch evt.Status {
	case zigbee.InterviewSuccessful:
		s.logger.Info("device interview complete", "device", rec.id, "model", rec.model.ID)
		s.ensureConfigured(rec)
	case zigbee.InterviewFailed:
		s.logger.Warn("device interview failed", "device", rec.id)
	}
}

// handleMessage stores the decoded values of a state message and records
// the traffic.
func (s *Supervisor) handleMessage(evt zigbee.Event) {
	rec, ok := s.lookup(evt.IEEE)
	if !ok {
		if evt.Device == nil {
			return
		}
		if rec = s.register(*evt.Device); rec == nil {
			return
		}
	}
	s.availability.Seen(rec.id)

	ctx := s.rootContext()
	for prop, v := range s.registry.Decode(rec.model, evt.Payload) {
		if err := s.store.SetValue(ctx, rec.id, prop, v, true); err != nil {
			s.logger.Warn("storing reported value failed", "device", rec.id, "property", prop, "error", err)
		}
	}
}

// register creates or refreshes the runtime record for a coordinator device
// and starts tracking its availability. Disabled devices are not registered.
func (s *Supervisor) register(d zigbee.Device) *deviceRecord {
	if d.IEEE == "" || d.Disabled {
		return nil
	}
	model := s.registry.DescribeModel(d.Model(), d.Exposes())
	name := d.FriendlyName
	if name == "" {
		name = d.IEEE
	}

	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}
	rec, exists := s.devices[d.IEEE]
	if !exists {
		ctx, cancel := context.WithCancel(s.ctx)
		rec = &deviceRecord{id: d.IEEE, ctx: ctx, cancel: cancel}
		if stored, ok := s.stored[d.IEEE]; ok {
			rec.configuredKey = stored.ConfiguredKey
		}
		s.devices[d.IEEE] = rec
	}
	nameChanged := rec.name != name
	if nameChanged {
		if rec.name != "" {
			delete(s.names, rec.name)
		}
		rec.name = name
		s.names[name] = rec.id
	}
	modelChanged := rec.model != model
	rec.model = model
	rec.powerSource = device.PowerClass(d.PowerSource)
	rec.pingable = d.Pingable()
	rec.interviewing = d.Interviewing
	pingable := rec.pingable
	delete(s.stored, d.IEEE)
	s.mu.Unlock()

	if !exists || modelChanged || nameChanged {
		err := s.repo.Upsert(s.rootContext(), &device.Record{
			ID:           rec.id,
			FriendlyName: name,
			Model:        model.ID,
			PowerSource:  rec.powerSource,
		})
		if err != nil {
			s.logger.Error("persisting device record failed", "device", rec.id, "error", err)
		}
	}

	s.availability.Track(rec.id, pingable)

	if !exists {
		s.logger.Info("device registered",
			"device", rec.id,
			"name", name,
			"model", model.ID,
			"generic", model.Generic,
			"pingable", pingable,
		)
		s.events.Emit(EventDeviceAdded, map[string]any{"device": rec.id, "name": name, "model": model.ID})
	}
	return rec
}

// ensureConfigured runs the configure state machine for a device on its own
// goroutine. Overlapping triggers are absorbed by the machine's in-progress
// guard.
func (s *Supervisor) ensureConfigured(rec *deviceRecord) {
	s.mu.RLock()
	req := configure.Request{
		ID:           rec.id,
		Interviewing: rec.interviewing,
		Procedure:    rec.model.Configure,
		StoredKey:    rec.configuredKey,
	}
	s.mu.RUnlock()

	s.goDevice(rec, func(ctx context.Context) {
		outcome, err := s.configurer.Ensure(ctx, req)
		switch outcome {
		case configure.OutcomeConfigured, configure.OutcomeFailed, configure.OutcomeExhausted:
			s.metrics.ConfigureOutcome(string(outcome))
		case configure.OutcomeAlreadyConfigured:
			s.setConfiguredValue(ctx, rec.id, true)
		}
		if err != nil {
			s.logger.Debug("configure not completed", "device", rec.id, "outcome", outcome, "error", err)
		}
	})
}

// Remove drops a device: its scope is cancelled, its ping timer stopped and
// its configure state cleared before Remove returns.
func (s *Supervisor) Remove(id string) {
	s.mu.Lock()
	rec, ok := s.lookupLocked(id)
	if ok {
		id = rec.id
		rec.cancel()
		delete(s.devices, id)
		delete(s.names, rec.name)
	}
	_, stored := s.stored[id]
	delete(s.stored, id)
	s.mu.Unlock()

	if !ok && !stored {
		return
	}

	s.availability.Remove(id)
	s.configurer.Remove(id)
	s.store.Forget(id)

	ctx := context.WithoutCancel(s.rootContext())
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Warn("deleting device record failed", "device", id, "error", err)
	}
	s.updateGauges()

	s.logger.Info("device removed", "device", id)
	s.events.Emit(EventDeviceRemoved, map[string]any{"device": id})
}

func (s *Supervisor) rename(id, name string) {
	s.mu.Lock()
	rec, ok := s.devices[id]
	var from string
	if ok && name != "" && rec.name != name {
		from = rec.name
		delete(s.names, rec.name)
		rec.name = name
		s.names[name] = id
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.repo.Rename(s.rootContext(), id, name); err != nil {
		s.logger.Warn("persisting rename failed", "device", id, "error", err)
	}
	s.logger.Info("device renamed", "device", id, "from", from, "to", name)
	s.events.Emit(EventDeviceRenamed, map[string]any{"device": id, "from": from, "to": name})
}
