package descriptor

import "time"

// Built-in rule ids.
const (
	RuleBrightnessImpliesState = "brightness_implies_state"
	RuleColorSyncsMode         = "color_syncs_mode"
	RuleColorTempSyncsMode     = "color_temp_syncs_mode"
	RulePositionSyncsState     = "position_syncs_state"
)

func builtinRules() map[string]Rule {
	return map[string]Rule{
		RuleBrightnessImpliesState: brightnessImpliesState,
		RuleColorSyncsMode:         colorSyncsMode,
		RuleColorTempSyncsMode:     colorTempSyncsMode,
		RulePositionSyncsState:     positionSyncsState,
	}
}

// transitionDelay converts the transition_time option (seconds) into a delay.
func transitionDelay(current Options) time.Duration {
	t, ok := current.Number(PropTransitionTime)
	if !ok || t <= 0 {
		return 0
	}
	return time.Duration(t * float64(time.Second))
}

// brightnessImpliesState turns a light on when brightness is raised while it
// is off, and off once a dim-to-zero transition has finished.
func brightnessImpliesState(changed string, value any, current Options) []CascadeOp {
	if changed != PropBrightness {
		return nil
	}
	b, ok := toFloat(value)
	if !ok {
		return nil
	}

	on := current.Bool(PropState)
	switch {
	case b > 0 && !on:
		return []CascadeOp{{Property: PropState, Value: true, Index: 1}}
	case b == 0 && on:
		return []CascadeOp{{Property: PropState, Value: false, Index: 1, Delay: transitionDelay(current)}}
	}
	return nil
}

func colorSyncsMode(changed string, _ any, current Options) []CascadeOp {
	if changed != PropColor || current[PropColorMode] == "xy" {
		return nil
	}
	return []CascadeOp{{Property: PropColorMode, Value: "xy"}}
}

func colorTempSyncsMode(changed string, _ any, current Options) []CascadeOp {
	if changed != PropColorTemp || current[PropColorMode] == "color_temp" {
		return nil
	}
	return []CascadeOp{{Property: PropColorMode, Value: "color_temp"}}
}

// positionSyncsState keeps a cover's open/closed state in line with its position.
func positionSyncsState(changed string, value any, current Options) []CascadeOp {
	if changed != PropPosition {
		return nil
	}
	p, ok := toFloat(value)
	if !ok {
		return nil
	}
	state := "OPEN"
	if p == 0 {
		state = "CLOSE"
	}
	if current[PropState] == state {
		return nil
	}
	return []CascadeOp{{Property: PropState, Value: state}}
}
