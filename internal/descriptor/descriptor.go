package descriptor

import (
	"fmt"
	"slices"
	"time"
)

// ValueType is the semantic type of a property.
type ValueType string

// Semantic value types.
const (
	TypeBoolean ValueType = "boolean"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
	TypeEnum    ValueType = "enum"
)

// Well-known property ids used by rules, the availability resync and the
// generic descriptor set.
const (
	PropState          = "state"
	PropBrightness     = "brightness"
	PropColor          = "color"
	PropColorTemp      = "color_temp"
	PropColorMode      = "color_mode"
	PropPosition       = "position"
	PropAvailable      = "available"
	PropLinkQuality    = "link_quality"
	PropConfigured     = "configured"
	PropTransitionTime = "transition_time"
	PropDisableQueue   = "disable_queue"
)

// Descriptor describes one semantic property of a device model.
// Descriptors are values; a registered descriptor is never mutated.
type Descriptor struct {
	// ID is the semantic property id, unique within a model.
	ID string `yaml:"id" json:"id"`

	// WireKey is the field name in the coordinator's payload. Empty for
	// properties that never travel on the wire (options, gateway-computed values).
	WireKey string `yaml:"wire_key,omitempty" json:"wire_key,omitempty"`

	Type     ValueType `yaml:"type" json:"type"`
	Readable bool      `yaml:"readable,omitempty" json:"readable"`
	Writable bool      `yaml:"writable,omitempty" json:"writable"`

	// Option marks a configuration-only property: stored locally, never published.
	Option bool `yaml:"option,omitempty" json:"option,omitempty"`

	// Common marks a property shared by every model.
	Common bool `yaml:"-" json:"common,omitempty"`

	// Endpoint selects a sub-device on multi-endpoint hardware.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Unit   string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`

	// ValueOn and ValueOff are the wire values of a binary property.
	ValueOn  any `yaml:"value_on,omitempty" json:"value_on,omitempty"`
	ValueOff any `yaml:"value_off,omitempty" json:"value_off,omitempty"`

	// Transform names a registered Transform. Empty means identity.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`

	// ReadAfterWrite is the delay before reading the property back after a
	// write. Zero disables read-after-write.
	ReadAfterWrite time.Duration `yaml:"read_after_write,omitempty" json:"read_after_write,omitempty"`
}

// OnWire reports whether the property is carried in coordinator payloads.
func (d Descriptor) OnWire() bool {
	return d.WireKey != "" && !d.Option
}

// Validate checks the descriptor's own fields. Transform resolution is
// checked by the Registry.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	switch d.Type {
	case TypeBoolean, TypeNumber, TypeString:
	case TypeEnum:
		if len(d.Values) == 0 {
			return fmt.Errorf("%w: enum %q has no values", ErrInvalidDescriptor, d.ID)
		}
	default:
		return fmt.Errorf("%w: %q has unknown type %q", ErrInvalidDescriptor, d.ID, d.Type)
	}
	if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
		return fmt.Errorf("%w: %q has min > max", ErrInvalidDescriptor, d.ID)
	}
	if d.Option && d.WireKey != "" {
		return fmt.Errorf("%w: option %q cannot have a wire key", ErrInvalidDescriptor, d.ID)
	}
	return nil
}

// ReportingStep is one attribute-reporting configuration the configure
// procedure sends to the device.
type ReportingStep struct {
	Endpoint         string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Cluster          string  `yaml:"cluster" json:"cluster"`
	Attribute        string  `yaml:"attribute" json:"attribute"`
	MinInterval      int     `yaml:"min_interval" json:"minimum_report_interval"`
	MaxInterval      int     `yaml:"max_interval" json:"maximum_report_interval"`
	ReportableChange float64 `yaml:"reportable_change" json:"reportable_change"`
}

// ConfigureProcedure is a model's one-time device configuration.
// Key changes whenever the procedure changes, forcing reconfiguration.
type ConfigureProcedure struct {
	Key       string          `yaml:"key" json:"key"`
	Bind      bool            `yaml:"bind,omitempty" json:"bind,omitempty"`
	Reporting []ReportingStep `yaml:"reporting,omitempty" json:"reporting,omitempty"`
}

// Model is the resolved descriptor set for one device model.
// A Model is immutable once returned by the Registry and shared by every
// device of that model.
type Model struct {
	ID          string              `json:"id"`
	Generic     bool                `json:"generic"`
	Descriptors []Descriptor        `json:"descriptors"`
	Cascades    []string            `json:"cascades,omitempty"`
	Syncs       []string            `json:"syncs,omitempty"`
	Configure   *ConfigureProcedure `json:"configure,omitempty"`

	// Hash identifies the capability set the model was built from.
	Hash string `json:"hash"`

	index map[string]int
}

func newModel(id string, descs []Descriptor, cascades, syncs []string, configure *ConfigureProcedure) *Model {
	m := &Model{
		ID:          id,
		Descriptors: descs,
		Cascades:    cascades,
		Syncs:       syncs,
		Configure:   configure,
		index:       make(map[string]int, len(descs)),
	}
	for i, d := range descs {
		m.index[d.ID] = i
	}
	return m
}

// Descriptor returns the descriptor with the given id.
func (m *Model) Descriptor(id string) (Descriptor, error) {
	if m == nil {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	i, ok := m.index[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q on model %q", ErrNotFound, id, m.ID)
	}
	return m.Descriptors[i], nil
}

// Has reports whether the model has a descriptor with the given id.
func (m *Model) Has(id string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[id]
	return ok
}

// ReadAfterWrite returns the ids of properties that are read back after a write.
func (m *Model) ReadAfterWrite() []string {
	var ids []string
	for _, d := range m.Descriptors {
		if d.ReadAfterWrite > 0 {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// ByWireKey returns the descriptors that read the given wire field.
func (m *Model) ByWireKey(key string) []Descriptor {
	var out []Descriptor
	for _, d := range m.Descriptors {
		if d.OnWire() && d.WireKey == key {
			out = append(out, d)
		}
	}
	return out
}

// ConfigureKey returns the key of the model's configure procedure, or "".
func (m *Model) ConfigureKey() string {
	if m == nil || m.Configure == nil {
		return ""
	}
	return m.Configure.Key
}

// HasRule reports whether the model applies the named cascade or sync rule.
func (m *Model) HasRule(id string) bool {
	return slices.Contains(m.Cascades, id) || slices.Contains(m.Syncs, id)
}

// Options is a snapshot of a device's current property values, options
// included, handed to transforms and rules.
type Options map[string]any

// Bool returns the boolean value of key, or false.
func (o Options) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Number returns the numeric value of key.
func (o Options) Number(key string) (float64, bool) {
	return toFloat(o[key])
}

// CascadeOp is a secondary property change produced by a rule.
type CascadeOp struct {
	Property string        `json:"property"`
	Value    any           `json:"value"`
	Index    int           `json:"index"`
	Delay    time.Duration `json:"delay"`
}

// Rule computes the side effects of changing one property. Rules are pure:
// the same inputs always yield the same ops.
//
// Cascade rules' ops are published to the device; sync rules' ops are
// applied to the local store only, after the change is confirmed.
type Rule func(changed string, value any, current Options) []CascadeOp
