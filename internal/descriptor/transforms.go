package descriptor

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Transform converts a property between its semantic and wire forms.
// Implementations are stateless; everything they need arrives as arguments.
type Transform interface {
	// ToWire is the setter: semantic value to wire value.
	ToWire(d Descriptor, value any, opts Options) (any, error)
	// FromWire is the getter: wire value to semantic value.
	FromWire(d Descriptor, wire any) (any, error)
}

// WireOptioner is implemented by transforms that add auxiliary fields to the
// published payload (for example a transition duration).
type WireOptioner interface {
	WireOptions(d Descriptor, value any, opts Options) map[string]any
}

// Built-in transform ids.
const (
	TransformBinary            = "binary"
	TransformBrightnessPercent = "brightness_percent"
	TransformColorTempKelvin   = "color_temp_kelvin"
	TransformColorHex          = "color_hex"
	TransformPercentInverted   = "percent_inverted"
	TransformScaleTenth        = "scale_tenth"
)

// brightnessWireMax is the top of the coordinator's brightness range.
const brightnessWireMax = 254

func builtinTransforms() map[string]Transform {
	return map[string]Transform{
		TransformBinary:            binaryTransform{},
		TransformBrightnessPercent: brightnessPercent{},
		TransformColorTempKelvin:   colorTempKelvin{},
		TransformColorHex:          colorHex{},
		TransformPercentInverted:   percentInverted{},
		TransformScaleTenth:        scaleTenth{},
	}
}

// identity passes values through unchanged.
type identity struct{}

func (identity) ToWire(_ Descriptor, v any, _ Options) (any, error) { return v, nil }
func (identity) FromWire(_ Descriptor, w any) (any, error)         { return w, nil }

// binaryTransform maps booleans onto the descriptor's on/off wire values.
type binaryTransform struct{}

func onOff(d Descriptor) (on, off any) {
	on, off = d.ValueOn, d.ValueOff
	if on == nil {
		on = "ON"
	}
	if off == nil {
		off = "OFF"
	}
	return on, off
}

func (binaryTransform) ToWire(d Descriptor, v any, _ Options) (any, error) {
	on, off := onOff(d)
	switch val := v.(type) {
	case bool:
		if val {
			return on, nil
		}
		return off, nil
	case string:
		switch strings.ToLower(val) {
		case "on", "true":
			return on, nil
		case "off", "false":
			return off, nil
		}
	}
	return nil, fmt.Errorf("%w: %q expects a boolean, got %v", ErrInvalidValue, d.ID, v)
}

func (binaryTransform) FromWire(d Descriptor, w any) (any, error) {
	on, off := onOff(d)
	switch {
	case w == on || (isString(w) && isString(on) && strings.EqualFold(w.(string), on.(string))):
		return true, nil
	case w == off || (isString(w) && isString(off) && strings.EqualFold(w.(string), off.(string))):
		return false, nil
	}
	if b, ok := w.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %q wire value %v is neither on nor off", ErrInvalidValue, d.ID, w)
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// brightnessPercent maps 0–100 % onto the 0–254 wire range.
type brightnessPercent struct{}

func (brightnessPercent) ToWire(d Descriptor, v any, _ Options) (any, error) {
	f, ok := toFloat(v)
	if !ok || f < 0 || f > 100 {
		return nil, fmt.Errorf("%w: %q expects 0-100, got %v", ErrInvalidValue, d.ID, v)
	}
	return int(math.Round(f * brightnessWireMax / 100)), nil
}

func (brightnessPercent) FromWire(d Descriptor, w any) (any, error) {
	f, ok := toFloat(w)
	if !ok {
		return nil, fmt.Errorf("%w: %q wire value %v is not a number", ErrInvalidValue, d.ID, w)
	}
	f = math.Max(0, math.Min(brightnessWireMax, f))
	return int(math.Round(f * 100 / brightnessWireMax)), nil
}

// WireOptions adds the transition duration, in seconds, when one is set.
func (brightnessPercent) WireOptions(_ Descriptor, _ any, opts Options) map[string]any {
	if t, ok := opts.Number(PropTransitionTime); ok && t > 0 {
		return map[string]any{"transition": t}
	}
	return nil
}

// colorTempKelvin maps a Kelvin colour temperature onto mireds.
type colorTempKelvin struct{}

func (colorTempKelvin) ToWire(d Descriptor, v any, _ Options) (any, error) {
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return nil, fmt.Errorf("%w: %q expects a positive Kelvin value, got %v", ErrInvalidValue, d.ID, v)
	}
	return int(math.Round(1e6 / f)), nil
}

func (colorTempKelvin) FromWire(d Descriptor, w any) (any, error) {
	f, ok := toFloat(w)
	if !ok || f <= 0 {
		return nil, fmt.Errorf("%w: %q wire value %v is not a positive mired", ErrInvalidValue, d.ID, w)
	}
	return int(math.Round(1e6 / f)), nil
}

func (colorTempKelvin) WireOptions(d Descriptor, v any, opts Options) map[string]any {
	return brightnessPercent{}.WireOptions(d, v, opts)
}

// colorHex carries colours as "#rrggbb" strings.
type colorHex struct{}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func (colorHex) ToWire(d Descriptor, v any, _ Options) (any, error) {
	s, ok := v.(string)
	if !ok || !hexColor.MatchString(s) {
		return nil, fmt.Errorf("%w: %q expects #rrggbb, got %v", ErrInvalidValue, d.ID, v)
	}
	return map[string]any{"hex": strings.ToLower(s)}, nil
}

func (colorHex) FromWire(d Descriptor, w any) (any, error) {
	switch val := w.(type) {
	case string:
		if hexColor.MatchString(val) {
			return strings.ToLower(val), nil
		}
	case map[string]any:
		if s, ok := val["hex"].(string); ok && hexColor.MatchString(s) {
			return strings.ToLower(s), nil
		}
	}
	return nil, fmt.Errorf("%w: %q wire value %v carries no hex colour", ErrInvalidValue, d.ID, w)
}

func (colorHex) WireOptions(d Descriptor, v any, opts Options) map[string]any {
	return brightnessPercent{}.WireOptions(d, v, opts)
}

// percentInverted flips a 0–100 range, for covers that report 100 as closed.
type percentInverted struct{}

func (percentInverted) ToWire(d Descriptor, v any, _ Options) (any, error) {
	f, ok := toFloat(v)
	if !ok || f < 0 || f > 100 {
		return nil, fmt.Errorf("%w: %q expects 0-100, got %v", ErrInvalidValue, d.ID, v)
	}
	return int(math.Round(100 - f)), nil
}

func (percentInverted) FromWire(d Descriptor, w any) (any, error) {
	f, ok := toFloat(w)
	if !ok {
		return nil, fmt.Errorf("%w: %q wire value %v is not a number", ErrInvalidValue, d.ID, w)
	}
	return int(math.Round(100 - f)), nil
}

// scaleTenth handles devices that report in tenths (21.5 °C as 215).
type scaleTenth struct{}

func (scaleTenth) ToWire(d Descriptor, v any, _ Options) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: %q expects a number, got %v", ErrInvalidValue, d.ID, v)
	}
	return int(math.Round(f * 10)), nil
}

func (scaleTenth) FromWire(d Descriptor, w any) (any, error) {
	f, ok := toFloat(w)
	if !ok {
		return nil, fmt.Errorf("%w: %q wire value %v is not a number", ErrInvalidValue, d.ID, w)
	}
	return f / 10, nil
}

// Number converts a numeric semantic value of any Go numeric type to float64.
func Number(v any) (float64, bool) {
	return toFloat(v)
}

// toFloat converts the numeric types that arrive from JSON, YAML and Go callers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
