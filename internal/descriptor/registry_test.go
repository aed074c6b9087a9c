package descriptor

import (
	"errors"
	"testing"
)

func newCatalogRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.LoadCatalog(BuiltinCatalog()); err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	return r
}

func lightExposes() []Expose {
	max := 254.0
	return []Expose{
		{Type: "light", Features: []Expose{
			{Type: "binary", Name: "state", Property: "state", Access: 7, ValueOn: "ON", ValueOff: "OFF"},
			{Type: "numeric", Name: "brightness", Property: "brightness", Access: 7, ValueMax: &max},
		}},
		{Type: "enum", Name: "power_on_behavior", Property: "power_on_behavior", Access: 7, Values: []string{"off", "on", "previous"}},
		{Type: "numeric", Name: "linkquality", Property: "linkquality", Access: 1},
	}
}

// =============================================================================
// Lookup
// =============================================================================

func TestLookup_ReturnsMatchingID(t *testing.T) {
	r := newCatalogRegistry(t)

	for _, model := range r.Models() {
		m := r.DescribeModel(model, nil)
		for _, d := range m.Descriptors {
			got, err := r.Lookup(model, d.ID)
			if err != nil {
				t.Errorf("Lookup(%q, %q) error = %v", model, d.ID, err)
				continue
			}
			if got.ID != d.ID {
				t.Errorf("Lookup(%q, %q).ID = %q", model, d.ID, got.ID)
			}
		}
	}
}

func TestLookup_NormalizesModel(t *testing.T) {
	r := newCatalogRegistry(t)

	for _, raw := range []string{"LED1545G12\x00\x00\x00", "LED1545G12\x1f", " LED1545G12 \r\n"} {
		d, err := r.Lookup(raw, PropBrightness)
		if err != nil {
			t.Errorf("Lookup(%q) error = %v", raw, err)
			continue
		}
		if d.Transform != TransformBrightnessPercent {
			t.Errorf("Lookup(%q).Transform = %q", raw, d.Transform)
		}
	}
}

func TestLookup_NotFound(t *testing.T) {
	r := newCatalogRegistry(t)

	_, err := r.Lookup("NO_SUCH_MODEL", PropState)
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Lookup(unknown model) error = %v, want ErrNotFound and ErrUnknownModel", err)
	}

	_, err = r.Lookup("ZBMINI", PropBrightness)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(unknown property) error = %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrUnknownModel) {
		t.Error("Lookup(unknown property) reported unknown model")
	}
}

func TestLookup_CommonDescriptors(t *testing.T) {
	r := newCatalogRegistry(t)

	d, err := r.Lookup("ZBMINI", PropTransitionTime)
	if err != nil {
		t.Fatalf("Lookup(transition_time) error = %v", err)
	}
	if !d.Option || !d.Common {
		t.Errorf("transition_time option=%v common=%v, want both true", d.Option, d.Common)
	}
}

// =============================================================================
// RegisterModel
// =============================================================================

func TestRegisterModel_Idempotent(t *testing.T) {
	r := NewRegistry()
	def := Definition{
		ID: "M1",
		Descriptors: []Descriptor{
			{ID: PropState, WireKey: "state", Type: TypeBoolean, Writable: true, Transform: TransformBinary},
		},
	}

	for i := 0; i < 3; i++ {
		if err := r.RegisterModel(def); err != nil {
			t.Fatalf("RegisterModel() #%d error = %v", i, err)
		}
	}

	m := r.DescribeModel("M1", nil)
	count := 0
	for _, d := range m.Descriptors {
		if d.ID == PropState {
			count++
		}
	}
	if count != 1 {
		t.Errorf("state descriptors = %d, want 1", count)
	}
}

func TestRegisterModel_OnlyAdds(t *testing.T) {
	r := NewRegistry()
	first := Definition{
		ID: "M1",
		Descriptors: []Descriptor{
			{ID: PropState, WireKey: "state", Type: TypeBoolean, Writable: true, Transform: TransformBinary},
		},
	}
	second := Definition{
		ID: "M1",
		Descriptors: []Descriptor{
			{ID: PropBrightness, WireKey: "brightness", Type: TypeNumber, Writable: true, Transform: TransformBrightnessPercent},
		},
		Cascades: []string{RuleBrightnessImpliesState},
	}

	if err := r.RegisterModel(first); err != nil {
		t.Fatalf("RegisterModel(first) error = %v", err)
	}
	before := r.DescribeModel("M1", nil)
	if err := r.RegisterModel(second); err != nil {
		t.Fatalf("RegisterModel(second) error = %v", err)
	}
	after := r.DescribeModel("M1", nil)

	if before == after {
		t.Error("cached model not invalidated after descriptors were added")
	}
	if !after.Has(PropState) {
		t.Error("writable state descriptor dropped by re-registration")
	}
	if !after.Has(PropBrightness) {
		t.Error("brightness descriptor not added")
	}
	if !after.HasRule(RuleBrightnessImpliesState) {
		t.Error("cascade rule not added")
	}
}

func TestRegisterModel_Validation(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
		want error
	}{
		{
			name: "unknown transform",
			def:  Definition{ID: "M", Descriptors: []Descriptor{{ID: "x", Type: TypeNumber, Transform: "nope"}}},
			want: ErrUnknownTransform,
		},
		{
			name: "unknown rule",
			def:  Definition{ID: "M", Cascades: []string{"nope"}},
			want: ErrUnknownRule,
		},
		{
			name: "empty id",
			def:  Definition{ID: "\x00"},
			want: ErrInvalidDescriptor,
		},
		{
			name: "duplicate descriptor",
			def: Definition{ID: "M", Descriptors: []Descriptor{
				{ID: "x", Type: TypeNumber},
				{ID: "x", Type: TypeNumber},
			}},
			want: ErrInvalidDescriptor,
		},
		{
			name: "enum without values",
			def:  Definition{ID: "M", Descriptors: []Descriptor{{ID: "x", Type: TypeEnum}}},
			want: ErrInvalidDescriptor,
		},
		{
			name: "option with wire key",
			def:  Definition{ID: "M", Descriptors: []Descriptor{{ID: "x", Type: TypeNumber, Option: true, WireKey: "x"}}},
			want: ErrInvalidDescriptor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.RegisterModel(tt.def); !errors.Is(err, tt.want) {
				t.Errorf("RegisterModel() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// DescribeModel
// =============================================================================

func TestDescribeModel_CuratedWins(t *testing.T) {
	r := newCatalogRegistry(t)

	m := r.DescribeModel("LED1545G12", lightExposes())
	if m.Generic {
		t.Error("curated model reported as generic")
	}

	d, err := m.Descriptor(PropColorTemp)
	if err != nil {
		t.Fatalf("Descriptor(color_temp) error = %v", err)
	}
	if d.Transform != TransformColorTempKelvin {
		t.Errorf("color_temp transform = %q, want curated %q", d.Transform, TransformColorTempKelvin)
	}

	// Derived descriptors fill gaps.
	if !m.Has("power_on_behavior") {
		t.Error("derived power_on_behavior missing")
	}
	if m.ConfigureKey() != "ikea_light_v1" {
		t.Errorf("ConfigureKey() = %q, want ikea_light_v1", m.ConfigureKey())
	}
}

func TestDescribeModel_CachedByCapabilities(t *testing.T) {
	r := newCatalogRegistry(t)

	a := r.DescribeModel("LED1545G12", lightExposes())
	b := r.DescribeModel("LED1545G12\x00", lightExposes())
	if a != b {
		t.Error("same model and capabilities returned different Model instances")
	}

	c := r.DescribeModel("LED1545G12", nil)
	if a == c {
		t.Error("different capability sets share a Model")
	}
	if a.Hash == c.Hash {
		t.Error("different capability sets share a hash")
	}
}

func TestDescribeModel_ReregistrationRefreshesCache(t *testing.T) {
	r := NewRegistry()
	def := Definition{ID: "LAMP", Descriptors: []Descriptor{
		{ID: PropState, Type: TypeBoolean, WireKey: "state", Writable: true, Readable: true},
		{ID: PropBrightness, Type: TypeNumber, WireKey: "brightness", Writable: true, Readable: true},
	}}
	if err := r.RegisterModel(def); err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	before := r.DescribeModel("LAMP", nil)

	tests := []struct {
		name  string
		def   Definition
		check func(*Model) bool
	}{
		{"cascade", Definition{ID: "LAMP", Cascades: []string{RuleBrightnessImpliesState}},
			func(m *Model) bool { return len(m.Cascades) == 1 }},
		{"configure", Definition{ID: "LAMP", Configure: &ConfigureProcedure{Key: "v1"}},
			func(m *Model) bool { return m.ConfigureKey() == "v1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.RegisterModel(tt.def); err != nil {
				t.Fatalf("RegisterModel() error = %v", err)
			}
			after := r.DescribeModel("LAMP", nil)
			if after == before {
				t.Error("DescribeModel() served the model cached before re-registration")
			}
			if !tt.check(after) {
				t.Errorf("re-registered %s missing from model %+v", tt.name, after)
			}
			before = after
		})
	}

	// Nothing new: the cached model stays.
	if err := r.RegisterModel(def); err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	if r.DescribeModel("LAMP", nil) != before {
		t.Error("unchanged re-registration dropped the cached model")
	}
}

func TestDescribeModel_UnknownModelFallsBack(t *testing.T) {
	r := newCatalogRegistry(t)

	m := r.DescribeModel("ACME-9000", lightExposes())
	if !m.Generic {
		t.Error("unknown model not marked generic")
	}

	for _, id := range []string{PropAvailable, PropLinkQuality, PropTransitionTime, PropDisableQueue, PropState, PropBrightness} {
		if !m.Has(id) {
			t.Errorf("generic model missing %q", id)
		}
	}

	b, _ := m.Descriptor(PropBrightness)
	if b.Transform != TransformBrightnessPercent {
		t.Errorf("derived brightness transform = %q, want %q", b.Transform, TransformBrightnessPercent)
	}
	if !m.HasRule(RuleBrightnessImpliesState) {
		t.Error("generic light missing brightness_implies_state")
	}

	lq, _ := m.Descriptor(PropLinkQuality)
	if lq.WireKey != "linkquality" {
		t.Errorf("link_quality wire key = %q", lq.WireKey)
	}
}

func TestDescribeModel_DescriptorsBelongToOneModel(t *testing.T) {
	r := newCatalogRegistry(t)

	a := r.DescribeModel("LED1545G12", nil)
	b := r.DescribeModel("ZBMINI", nil)

	a.Descriptors[0].Unit = "mutated"
	if b.Descriptors[0].Unit == "mutated" {
		t.Error("models share descriptor storage")
	}
}

func TestModel_ReadAfterWrite(t *testing.T) {
	r := newCatalogRegistry(t)

	ids := r.DescribeModel("TS110E_1gang", nil).ReadAfterWrite()
	if len(ids) != 1 || ids[0] != PropBrightness {
		t.Errorf("ReadAfterWrite() = %v, want [brightness]", ids)
	}
}

// =============================================================================
// Encode / Decode
// =============================================================================

func TestToWire_RangeAndEnum(t *testing.T) {
	r := newCatalogRegistry(t)
	m := r.DescribeModel("LED1545G12", nil)

	bright, _ := m.Descriptor(PropBrightness)
	if _, _, err := r.ToWire(bright, 150, nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ToWire(brightness=150) error = %v, want ErrInvalidValue", err)
	}

	cover := r.DescribeModel("TS0601_cover_1", nil)
	state, _ := cover.Descriptor(PropState)
	if _, _, err := r.ToWire(state, "AJAR", nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ToWire(state=AJAR) error = %v, want ErrInvalidValue", err)
	}
	wire, _, err := r.ToWire(state, "OPEN", nil)
	if err != nil || wire != "OPEN" {
		t.Errorf("ToWire(state=OPEN) = %v, %v", wire, err)
	}
}

func TestToWire_TransitionOption(t *testing.T) {
	r := newCatalogRegistry(t)
	bright, _ := r.Lookup("LED1545G12", PropBrightness)

	wire, extra, err := r.ToWire(bright, 50, Options{PropTransitionTime: 2.5})
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}
	if wire != 127 {
		t.Errorf("wire = %v, want 127", wire)
	}
	if extra["transition"] != 2.5 {
		t.Errorf("extra = %v, want transition 2.5", extra)
	}

	_, extra, _ = r.ToWire(bright, 50, nil)
	if extra != nil {
		t.Errorf("extra without transition = %v, want nil", extra)
	}
}

func TestDecode(t *testing.T) {
	r := newCatalogRegistry(t)
	m := r.DescribeModel("LED1545G12", nil)

	got := r.Decode(m, map[string]any{
		"state":       "ON",
		"brightness":  float64(254),
		"color_temp":  float64(250),
		"linkquality": float64(96),
		"unknown":     "ignored",
		"color_mode":  "color_temp",
	})

	want := map[string]any{
		PropState:       true,
		PropBrightness:  100,
		PropColorTemp:   4000,
		PropLinkQuality: float64(96),
		PropColorMode:   "color_temp",
	}
	if len(got) != len(want) {
		t.Fatalf("Decode() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Decode()[%q] = %v (%T), want %v (%T)", k, got[k], got[k], v, v)
		}
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := map[string]string{
		"TS0601\x00\x00":  "TS0601",
		"lumi.sensor\x1b": "lumi.sensor",
		"  ZBMINI  ":      "ZBMINI",
		"":                "",
	}
	for in, want := range tests {
		if got := NormalizeModel(in); got != want {
			t.Errorf("NormalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}
