package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Access bits of an exposed capability.
const (
	AccessPublished = 1 << iota
	AccessSet
	AccessGet
)

// Expose is one capability from the coordinator's device definition.
// Composite types (light, switch, cover) nest their properties in Features.
type Expose struct {
	Type     string   `json:"type"`
	Name     string   `json:"name,omitempty"`
	Property string   `json:"property,omitempty"`
	Access   int      `json:"access,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	ValueMin *float64 `json:"value_min,omitempty"`
	ValueMax *float64 `json:"value_max,omitempty"`
	Values   []string `json:"values,omitempty"`
	ValueOn  any      `json:"value_on,omitempty"`
	ValueOff any      `json:"value_off,omitempty"`
	Features []Expose `json:"features,omitempty"`
}

// deriveDescriptors flattens exposes into descriptors. Property ids are the
// coordinator's property names; composites contribute their features.
func deriveDescriptors(exposes []Expose) []Descriptor {
	var out []Descriptor
	seen := make(map[string]bool)

	var walk func([]Expose)
	walk = func(list []Expose) {
		for _, e := range list {
			if len(e.Features) > 0 && e.Property == "" {
				walk(e.Features)
				continue
			}
			d, ok := deriveDescriptor(e)
			if !ok || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	walk(exposes)

	return out
}

func deriveDescriptor(e Expose) (Descriptor, bool) {
	prop := e.Property
	if prop == "" {
		prop = e.Name
	}
	if prop == "" {
		return Descriptor{}, false
	}

	d := Descriptor{
		ID:       semanticID(prop),
		WireKey:  prop,
		Readable: e.Access&AccessGet != 0,
		Writable: e.Access&AccessSet != 0,
		Endpoint: e.Endpoint,
		Unit:     e.Unit,
		Min:      e.ValueMin,
		Max:      e.ValueMax,
	}

	switch e.Type {
	case "binary":
		d.Type = TypeBoolean
		d.Transform = TransformBinary
		d.ValueOn, d.ValueOff = e.ValueOn, e.ValueOff
	case "numeric":
		d.Type = TypeNumber
		if d.ID == PropBrightness && e.ValueMax != nil && *e.ValueMax == brightnessWireMax {
			d.Transform = TransformBrightnessPercent
			lo, hi := 0.0, 100.0
			d.Min, d.Max = &lo, &hi
			d.Unit = "%"
		}
	case "enum":
		d.Type = TypeEnum
		d.Values = e.Values
		if len(d.Values) == 0 {
			d.Type = TypeString
		}
	case "text":
		d.Type = TypeString
	case "composite":
		// Composites with their own property (color_xy → "color") are set as
		// one object; their features are not separate properties.
		d.Type = TypeString
		if d.ID == PropColor {
			d.Transform = TransformColorHex
		}
	default:
		d.Type = TypeString
	}

	return d, true
}

// semanticID maps coordinator property names onto the gateway's ids where
// they differ.
func semanticID(prop string) string {
	if prop == "linkquality" {
		return PropLinkQuality
	}
	return prop
}

// capabilityHash identifies a model together with the capability set the
// coordinator reported for it.
func capabilityHash(model string, exposes []Expose) string {
	var parts []string
	var walk func(prefix string, list []Expose)
	walk = func(prefix string, list []Expose) {
		for _, e := range list {
			key := fmt.Sprintf("%s%s:%s:%s:%d:%s:%s:%s:%s:%q:%v:%v", prefix,
				e.Type, e.Name, e.Property, e.Access, e.Endpoint, e.Unit,
				bound(e.ValueMin), bound(e.ValueMax), e.Values, e.ValueOn, e.ValueOff)
			parts = append(parts, key)
			if len(e.Features) > 0 {
				walk(key+"/", e.Features)
			}
		}
	}
	walk("", exposes)
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(model + "\n" + strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

func bound(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'g', -1, 64)
}
