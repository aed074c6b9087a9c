package descriptor

import (
	"errors"
	"testing"
)

func TestBuiltinCatalog_Loads(t *testing.T) {
	r := newCatalogRegistry(t)

	want := []string{"LCT015", "LED1545G12", "TS0601_cover_1", "TS0601_thermostat", "TS110E_1gang", "WXKG01LM", "ZBMINI"}
	got := r.Models()
	if len(got) != len(want) {
		t.Fatalf("Models() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Models()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Loading twice is harmless.
	if err := r.LoadCatalog(BuiltinCatalog()); err != nil {
		t.Errorf("second LoadCatalog() error = %v", err)
	}
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"bad yaml", "models: [", nil},
		{"unknown transform", "models:\n  - id: X\n    descriptors:\n      - {id: a, type: number, transform: nope}\n", ErrUnknownTransform},
		{"unknown type", "models:\n  - id: X\n    descriptors:\n      - {id: a, type: colour}\n", ErrInvalidDescriptor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().LoadCatalog([]byte(tt.data))
			if err == nil {
				t.Fatal("LoadCatalog() returned no error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("LoadCatalog() error = %v, want %v", err, tt.want)
			}
		})
	}
}
