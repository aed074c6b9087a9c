package dispatch

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
)

// Resolver resolves transforms and rules by id. *descriptor.Registry
// implements it.
type Resolver interface {
	ToWire(d descriptor.Descriptor, value any, opts descriptor.Options) (any, map[string]any, error)
	Rule(id string) (descriptor.Rule, error)
}

// Op is one property change to publish.
type Op struct {
	Property string         `json:"property"`
	Value    any            `json:"value"`
	Index    int            `json:"index"`
	Delay    time.Duration  `json:"delay"`
	Payload  map[string]any `json:"payload"`
}

// Tier is a set of ops sharing an index. They are published concurrently
// after Delay has elapsed since the previous tier completed.
type Tier struct {
	Index int           `json:"index"`
	Delay time.Duration `json:"delay"`
	Ops   []Op          `json:"ops"`
}

// Plan is the compiled form of one write.
type Plan struct {
	Property string `json:"property"`
	Value    any    `json:"value"`

	// Local is set for option properties: the value is stored and never
	// published. Tiers is empty.
	Local bool `json:"local,omitempty"`

	Tiers []Tier `json:"tiers"`
}

// Ops returns the plan's ops in execution order.
func (p Plan) Ops() []Op {
	var ops []Op
	for _, t := range p.Tiers {
		ops = append(ops, t.Ops...)
	}
	return ops
}

// BuildPlan compiles a write of value to property on model m. current is
// the device's property snapshot, options included, that transforms and
// rules see. BuildPlan has no side effects.
//
// Parameters:
//   - r: Resolves rule ids
//   - m: Target device's model
//   - property: Property being written
//   - value: Requested semantic value
//   - current: Snapshot of the device's current values and options
//
// Returns:
//   - Plan: Main operation followed by cascade operations in index order
//   - error: ErrNoModel, ErrUnknownProperty or descriptor.ErrInvalidValue
func BuildPlan(r Resolver, m *descriptor.Model, property string, value any, current descriptor.Options) (Plan, error) {
	if m == nil {
		return Plan{}, ErrNoModel
	}

	d, err := m.Descriptor(property)
	if err != nil || !d.Writable {
		return Plan{}, fmt.Errorf("%w: %q on model %q", ErrUnknownProperty, property, m.ID)
	}

	plan := Plan{Property: property, Value: value}
	if d.Option {
		plan.Local = true
		return plan, nil
	}

	main, err := buildOp(r, d, value, 0, 0, current)
	if err != nil {
		return Plan{}, err
	}
	ops := []Op{main}

	for _, id := range m.Cascades {
		rule, err := r.Rule(id)
		if err != nil {
			return Plan{}, err
		}
		for _, c := range rule(property, value, current) {
			cd, err := m.Descriptor(c.Property)
			if err != nil || !cd.Writable || !cd.OnWire() {
				continue
			}
			op, err := buildOp(r, cd, c.Value, c.Index, c.Delay, current)
			if err != nil {
				return Plan{}, fmt.Errorf("cascade %s: %w", id, err)
			}
			ops = append(ops, op)
		}
	}

	plan.Tiers = tiers(ops)
	return plan, nil
}

func buildOp(r Resolver, d descriptor.Descriptor, value any, index int, delay time.Duration, current descriptor.Options) (Op, error) {
	if !d.OnWire() {
		return Op{}, fmt.Errorf("%w: %q has no wire key", ErrNothingToPublish, d.ID)
	}
	wire, extra, err := r.ToWire(d, value, current)
	if err != nil {
		return Op{}, fmt.Errorf("encoding %q: %w", d.ID, err)
	}
	if wire == nil || wire == "" {
		return Op{}, fmt.Errorf("%w: %q", ErrNothingToPublish, d.ID)
	}

	payload := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		payload[k] = v
	}
	payload[d.WireKey] = wire

	return Op{Property: d.ID, Value: value, Index: index, Delay: delay, Payload: payload}, nil
}

// tiers groups ops by index, ascending. Ops keep their relative order
// within a tier. A tier's delay is the longest delay of its ops.
func tiers(ops []Op) []Tier {
	slices.SortStableFunc(ops, func(a, b Op) int { return a.Index - b.Index })

	var out []Tier
	for _, op := range ops {
		if n := len(out); n > 0 && out[n-1].Index == op.Index {
			last := &out[n-1]
			last.Ops = append(last.Ops, op)
			last.Delay = max(last.Delay, op.Delay)
			continue
		}
		out = append(out, Tier{Index: op.Index, Delay: op.Delay, Ops: []Op{op}})
	}
	return out
}
