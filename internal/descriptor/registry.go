package descriptor

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Definition is a curated model definition as registered with the Registry.
type Definition struct {
	ID          string              `yaml:"id"`
	Vendor      string              `yaml:"vendor,omitempty"`
	Description string              `yaml:"description,omitempty"`
	Descriptors []Descriptor        `yaml:"descriptors"`
	Cascades    []string            `yaml:"cascades,omitempty"`
	Syncs       []string            `yaml:"syncs,omitempty"`
	Configure   *ConfigureProcedure `yaml:"configure,omitempty"`
}

// Registry holds curated model definitions, the registered transforms and
// rules, and the cache of resolved models.
//
// All public methods are thread-safe.
type Registry struct {
	mu         sync.RWMutex
	curated    map[string]*Definition // by normalised model id
	models     map[string]*Model      // by capability hash
	transforms map[string]Transform
	rules      map[string]Rule
	common     []Descriptor
	logger     Logger
}

// NewRegistry creates a registry with the built-in transforms, rules and
// common descriptors. No models are registered.
func NewRegistry() *Registry {
	return &Registry{
		curated:    make(map[string]*Definition),
		models:     make(map[string]*Model),
		transforms: builtinTransforms(),
		rules:      builtinRules(),
		common:     commonDescriptors(),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func commonDescriptors() []Descriptor {
	zero, lqMax, maxTransition := 0.0, 255.0, 3600.0
	return []Descriptor{
		{ID: PropAvailable, Type: TypeBoolean, Readable: true, Common: true},
		{ID: PropLinkQuality, WireKey: "linkquality", Type: TypeNumber, Readable: true, Common: true, Min: &zero, Max: &lqMax, Unit: "lqi"},
		{ID: PropConfigured, Type: TypeBoolean, Readable: true, Common: true},
		{ID: PropTransitionTime, Type: TypeNumber, Readable: true, Writable: true, Option: true, Common: true, Min: &zero, Max: &maxTransition, Unit: "s"},
		{ID: PropDisableQueue, Type: TypeBoolean, Readable: true, Writable: true, Option: true, Common: true},
	}
}

// NormalizeModel strips the NUL padding and control characters some
// firmware appends to its model identifier.
func NormalizeModel(model string) string {
	model = strings.TrimRightFunc(model, func(r rune) bool {
		return r == 0 || unicode.IsControl(r) || unicode.IsSpace(r)
	})
	return strings.TrimSpace(model)
}

// RegisterTransform adds a transform under id. Ids are never reused.
func (r *Registry) RegisterTransform(id string, t Transform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transforms[id]; exists {
		return fmt.Errorf("%w: transform %q already registered", ErrInvalidDescriptor, id)
	}
	r.transforms[id] = t
	return nil
}

// RegisterRule adds a cascade or sync rule under id. Ids are never reused.
func (r *Registry) RegisterRule(id string, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rules[id]; exists {
		return fmt.Errorf("%w: rule %q already registered", ErrUnknownRule, id)
	}
	r.rules[id] = rule
	return nil
}

// RegisterModel registers a curated model definition.
//
// Registration is idempotent. Registering a model again only adds the
// descriptors and rules it did not have; existing descriptors are kept as
// they were, so a writable property is never dropped.
//
// Parameters:
//   - def: Model definition; descriptors, transforms and rules are validated
//
// Returns:
//   - error: ErrInvalidDescriptor, ErrUnknownTransform or ErrUnknownRule
func (r *Registry) RegisterModel(def Definition) error {
	id := NormalizeModel(def.ID)
	if id == "" {
		return fmt.Errorf("%w: model id is required", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateLocked(def); err != nil {
		return fmt.Errorf("model %q: %w", id, err)
	}

	existing, ok := r.curated[id]
	if !ok {
		stored := def
		stored.ID = id
		stored.Descriptors = slices.Clone(def.Descriptors)
		stored.Cascades = slices.Clone(def.Cascades)
		stored.Syncs = slices.Clone(def.Syncs)
		r.curated[id] = &stored
		r.invalidateLocked(id)
		r.logger.Debug("model registered", "model", id, "descriptors", len(def.Descriptors))
		return nil
	}

	added := 0
	for _, d := range def.Descriptors {
		if i := slices.IndexFunc(existing.Descriptors, func(e Descriptor) bool { return e.ID == d.ID }); i >= 0 {
			continue
		}
		existing.Descriptors = append(existing.Descriptors, d)
		added++
	}
	changed := added > 0
	for _, c := range def.Cascades {
		if !slices.Contains(existing.Cascades, c) {
			existing.Cascades = append(existing.Cascades, c)
			changed = true
		}
	}
	for _, s := range def.Syncs {
		if !slices.Contains(existing.Syncs, s) {
			existing.Syncs = append(existing.Syncs, s)
			changed = true
		}
	}
	if existing.Configure == nil && def.Configure != nil {
		existing.Configure = def.Configure
		changed = true
	}

	for _, d := range existing.Descriptors {
		if d.Writable && !slices.ContainsFunc(def.Descriptors, func(n Descriptor) bool { return n.ID == d.ID }) {
			r.logger.Debug("re-registration omits writable descriptor, keeping it", "model", id, "property", d.ID)
		}
	}

	if changed {
		r.invalidateLocked(id)
	}
	r.logger.Debug("model re-registered", "model", id, "added", added)
	return nil
}

func (r *Registry) validateLocked(def Definition) error {
	seen := make(map[string]bool, len(def.Descriptors))
	for _, d := range def.Descriptors {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("%w: duplicate descriptor %q", ErrInvalidDescriptor, d.ID)
		}
		seen[d.ID] = true
		if d.Transform != "" {
			if _, ok := r.transforms[d.Transform]; !ok {
				return fmt.Errorf("%w: %q on %q", ErrUnknownTransform, d.Transform, d.ID)
			}
		}
	}
	for _, id := range append(slices.Clone(def.Cascades), def.Syncs...) {
		if _, ok := r.rules[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRule, id)
		}
	}
	return nil
}

// invalidateLocked drops resolved models built from an older definition.
func (r *Registry) invalidateLocked(id string) {
	for hash, m := range r.models {
		if m.ID == id {
			delete(r.models, hash)
		}
	}
}

// Lookup returns the descriptor for propertyID on a curated model, common
// descriptors included. Unknown models and properties return ErrNotFound.
//
// Parameters:
//   - model: Model id, normalised before lookup
//   - propertyID: Semantic property id
//
// Returns:
//   - Descriptor: The property's descriptor
//   - error: ErrNotFound
func (r *Registry) Lookup(model, propertyID string) (Descriptor, error) {
	id := NormalizeModel(model)

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.curated[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %w %q", ErrNotFound, ErrUnknownModel, id)
	}
	for _, d := range def.Descriptors {
		if d.ID == propertyID {
			return d, nil
		}
	}
	for _, d := range r.common {
		if d.ID == propertyID {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %q on model %q", ErrNotFound, propertyID, id)
}

// Curated reports whether a curated definition exists for model.
func (r *Registry) Curated(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.curated[NormalizeModel(model)]
	return ok
}

// Models returns the ids of all curated models, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.curated))
	for id := range r.curated {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DescribeModel resolves the full descriptor set for a device: the curated
// definition first, then common descriptors, then descriptors derived from
// the reported exposes for anything still missing.
//
// Models are cached by a hash of (model, exposes) and shared by all devices
// reporting the same capabilities. An unknown model yields a generic model
// instead of an error.
//
// Parameters:
//   - model: Model id reported by the coordinator
//   - exposes: Capabilities reported by the coordinator, may be nil
//
// Returns:
//   - *Model: Resolved model, shared by every device with the same capabilities
func (r *Registry) DescribeModel(model string, exposes []Expose) *Model {
	id := NormalizeModel(model)
	hash := capabilityHash(id, exposes)

	r.mu.RLock()
	if m, ok := r.models[hash]; ok {
		r.mu.RUnlock()
		return m
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[hash]; ok {
		return m
	}

	var (
		descs           []Descriptor
		cascades, syncs []string
		configure       *ConfigureProcedure
	)
	seen := make(map[string]bool)
	add := func(d Descriptor) {
		if !seen[d.ID] {
			seen[d.ID] = true
			descs = append(descs, d)
		}
	}

	def, curated := r.curated[id]
	if curated {
		for _, d := range def.Descriptors {
			add(d)
		}
		cascades = slices.Clone(def.Cascades)
		syncs = slices.Clone(def.Syncs)
		configure = def.Configure
	} else {
		r.logger.Debug("no curated definition, using generic descriptors", "model", id, "error", ErrUnknownModel)
	}
	for _, d := range r.common {
		add(d)
	}
	for _, d := range deriveDescriptors(exposes) {
		add(d)
	}

	if !curated {
		cascades, syncs = genericRules(seen)
	}

	m := newModel(id, descs, cascades, syncs, configure)
	m.Generic = !curated
	m.Hash = hash
	r.models[hash] = m
	return m
}

// genericRules picks the built-in rules that make sense for a model with
// the given properties.
func genericRules(has map[string]bool) (cascades, syncs []string) {
	if has[PropBrightness] && has[PropState] {
		cascades = append(cascades, RuleBrightnessImpliesState)
	}
	if has[PropColorMode] {
		if has[PropColor] {
			syncs = append(syncs, RuleColorSyncsMode)
		}
		if has[PropColorTemp] {
			syncs = append(syncs, RuleColorTempSyncsMode)
		}
	}
	return cascades, syncs
}

// Transform resolves a transform by id. The empty id resolves to identity.
func (r *Registry) Transform(id string) (Transform, error) {
	if id == "" {
		return identity{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, id)
	}
	return t, nil
}

// Rule resolves a cascade or sync rule by id.
func (r *Registry) Rule(id string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, id)
	}
	return rule, nil
}

// ToWire applies d's setter to value and collects any auxiliary wire fields.
// The value is checked against the descriptor's range and enum first.
//
// Parameters:
//   - d: Target descriptor
//   - value: Semantic value
//   - opts: Current option values (e.g., transition_time)
//
// Returns:
//   - wire: Value to send in the coordinator payload
//   - extra: Auxiliary payload fields, may be nil
//   - err: ErrInvalidValue or a transform error
func (r *Registry) ToWire(d Descriptor, value any, opts Options) (wire any, extra map[string]any, err error) {
	if err := checkValue(d, value); err != nil {
		return nil, nil, err
	}
	t, err := r.Transform(d.Transform)
	if err != nil {
		return nil, nil, err
	}
	wire, err = t.ToWire(d, value, opts)
	if err != nil {
		return nil, nil, err
	}
	if wo, ok := t.(WireOptioner); ok {
		extra = wo.WireOptions(d, value, opts)
	}
	return wire, extra, nil
}

// FromWire applies d's getter to a wire value.
func (r *Registry) FromWire(d Descriptor, wire any) (any, error) {
	t, err := r.Transform(d.Transform)
	if err != nil {
		return nil, err
	}
	return t.FromWire(d, wire)
}

// Decode converts a coordinator state payload into semantic property values
// for model m. Fields that fail to convert are skipped.
func (r *Registry) Decode(m *Model, payload map[string]any) map[string]any {
	out := make(map[string]any)
	for _, d := range m.Descriptors {
		if !d.OnWire() {
			continue
		}
		wire, ok := payload[d.WireKey]
		if !ok || wire == nil {
			continue
		}
		v, err := r.FromWire(d, wire)
		if err != nil {
			r.logger.Debug("dropping undecodable value", "model", m.ID, "property", d.ID, "error", err)
			continue
		}
		out[d.ID] = v
	}
	return out
}

// checkValue validates a semantic value against the descriptor's type,
// range and enum values before any transform runs.
func checkValue(d Descriptor, value any) error {
	switch d.Type {
	case TypeNumber:
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%w: %q expects a number, got %v", ErrInvalidValue, d.ID, value)
		}
		if d.Min != nil && f < *d.Min || d.Max != nil && f > *d.Max {
			return fmt.Errorf("%w: %q value %v out of range", ErrInvalidValue, d.ID, value)
		}
	case TypeEnum:
		s, ok := value.(string)
		if !ok || !slices.Contains(d.Values, s) {
			return fmt.Errorf("%w: %q expects one of %v, got %v", ErrInvalidValue, d.ID, d.Values, value)
		}
	}
	return nil
}
