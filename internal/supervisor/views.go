package supervisor

import (
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/store"
)

// DeviceView is a read-only snapshot of a device for the API.
type DeviceView struct {
	ID                string                  `json:"id"`
	FriendlyName      string                  `json:"friendly_name"`
	Model             string                  `json:"model"`
	Generic           bool                    `json:"generic"`
	PowerSource       string                  `json:"power_source"`
	Pingable          bool                    `json:"pingable"`
	Interviewing      bool                    `json:"interviewing"`
	Availability      string                  `json:"availability"`
	LastSeen          *time.Time              `json:"last_seen,omitempty"`
	Configure         string                  `json:"configure"`
	ConfigureAttempts int                     `json:"configure_attempts"`
	Descriptors       []descriptor.Descriptor `json:"descriptors,omitempty"`
	Values            []store.Value           `json:"values,omitempty"`
}

// Devices returns a snapshot of every device, ordered by friendly name.
func (s *Supervisor) Devices() []DeviceView {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]DeviceView, 0, len(ids))
	for _, id := range ids {
		if v, ok := s.view(id, false); ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FriendlyName < out[j].FriendlyName })
	return out
}

// Device returns a detailed snapshot of one device by id or friendly name.
func (s *Supervisor) Device(idOrName string) (DeviceView, bool) {
	rec, ok := s.lookup(idOrName)
	if !ok {
		return DeviceView{}, false
	}
	return s.view(rec.id, true)
}

func (s *Supervisor) view(id string, detail bool) (DeviceView, bool) {
	s.mu.RLock()
	rec, ok := s.devices[id]
	if !ok {
		s.mu.RUnlock()
		return DeviceView{}, false
	}
	v := DeviceView{
		ID:           rec.id,
		FriendlyName: rec.name,
		Model:        rec.model.ID,
		Generic:      rec.model.Generic,
		PowerSource:  rec.powerSource,
		Pingable:     rec.pingable,
		Interviewing: rec.interviewing,
	}
	model := rec.model
	s.mu.RUnlock()

	v.Availability = s.availability.State(id).String()
	if seen, ok := s.availability.LastSeen(id); ok {
		v.LastSeen = &seen
	}
	state, attempts := s.configurer.State(id)
	v.Configure = state.String()
	v.ConfigureAttempts = attempts

	if detail {
		v.Descriptors = model.Descriptors
		v.Values = s.store.Values(id)
	}
	return v, true
}
