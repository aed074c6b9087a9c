package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
)

// Logger defines the logging interface used by the dispatcher.
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

// Observer receives the outcome of every write.
type Observer interface {
	ObserveWrite(outcome string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveWrite(string, time.Duration) {}

// Write outcomes reported to the Observer.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeLocal     = "local"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Publisher sends commands to the coordinator.
type Publisher interface {
	// Publish sends payload to a device or group.
	Publish(ctx context.Context, target string, payload map[string]any) error
	// Read asks a device to report the given wire keys and returns what it reported.
	Read(ctx context.Context, target string, keys []string) (map[string]any, error)
}

// Store is the property store the dispatcher reads snapshots from and
// acknowledges values in.
type Store interface {
	GetValue(deviceID, property string) (any, bool)
	SetValue(ctx context.Context, deviceID, property string, value any, confirmed bool) error
}

// Codec is the Resolver plus the getter side of transforms.
// *descriptor.Registry implements it.
type Codec interface {
	Resolver
	FromWire(d descriptor.Descriptor, wire any) (any, error)
}

// Target is the device or group a write is addressed to.
type Target struct {
	// ID keys the target's values in the Store.
	ID string
	// Address is the coordinator's name for the target.
	Address string
	// Group targets skip read-after-write.
	Group bool
	Model *descriptor.Model
}

// WriteOptions are per-write overrides of the device's stored options,
// for example a transition_time for this write only.
type WriteOptions struct {
	Options descriptor.Options
}

// Config holds dispatcher settings.
type Config struct {
	// DisableQueue skips cascade delays for every device. Devices can also
	// set the disable_queue option individually.
	DisableQueue bool
}

// Result describes a completed or partially completed write.
type Result struct {
	Plan Plan `json:"plan"`

	// Confirmed lists the properties acknowledged in the store, in order.
	Confirmed []string `json:"confirmed"`

	// Observed holds read-after-write values that differed from what was published.
	Observed map[string]any `json:"observed,omitempty"`
}

// Dispatcher executes writes against the coordinator.
//
// Writes to the same device are not serialised; the last publish wins.
type Dispatcher struct {
	codec     Codec
	publisher Publisher
	store     Store
	cfg       Config
	logger    Logger
	observer  Observer
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// New creates a dispatcher.
func New(codec Codec, publisher Publisher, store Store, cfg Config) *Dispatcher {
	return &Dispatcher{
		codec:     codec,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
		logger:    noopLogger{},
		observer:  noopObserver{},
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetObserver sets the receiver of write outcomes.
func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot returns the target's stored property values with the write's
// overrides applied on top.
func (d *Dispatcher) Snapshot(target Target, overrides descriptor.Options) descriptor.Options {
	current := make(descriptor.Options)
	if target.Model != nil {
		for _, desc := range target.Model.Descriptors {
			if v, ok := d.store.GetValue(target.ID, desc.ID); ok {
				current[desc.ID] = v
			}
		}
	}
	for k, v := range overrides {
		current[k] = v
	}
	return current
}

// Plan compiles a write without executing it.
func (d *Dispatcher) Plan(target Target, property string, value any, opts WriteOptions) (Plan, error) {
	return BuildPlan(d.codec, target.Model, property, value, d.Snapshot(target, opts.Options))
}

// Write sets property to value on target.
//
// The plan's tiers run in index order. Each tier's properties are
// acknowledged in the store as soon as the tier has been published. On a
// publish failure the write stops and ErrPublishFailure is returned with
// the partial Result. Cancelling ctx cancels ops that have not fired yet.
//
// Parameters:
//   - ctx: Cancels the write between and during tiers
//   - target: Device or group to write to
//   - property: Property being written
//   - value: Requested semantic value
//   - opts: Per-write options
//
// Returns:
//   - Result: Operations sent and whether the device confirmed them
//   - error: ErrNothingToPublish, ErrPublishFailure or the context's error
func (d *Dispatcher) Write(ctx context.Context, target Target, property string, value any, opts WriteOptions) (Result, error) {
	start := d.now()
	current := d.Snapshot(target, opts.Options)

	plan, err := BuildPlan(d.codec, target.Model, property, value, current)
	if err != nil {
		d.logger.Warn("write rejected", "target", target.Address, "property", property, "error", err)
		d.observer.ObserveWrite(OutcomeRejected, d.now().Sub(start))
		return Result{}, err
	}

	res := Result{Plan: plan}

	if plan.Local {
		if err := d.store.SetValue(ctx, target.ID, property, value, true); err != nil {
			d.observer.ObserveWrite(OutcomeFailed, d.now().Sub(start))
			return res, fmt.Errorf("storing option %q: %w", property, err)
		}
		res.Confirmed = append(res.Confirmed, property)
		d.observer.ObserveWrite(OutcomeLocal, d.now().Sub(start))
		return res, nil
	}

	queue := !d.cfg.DisableQueue && !current.Bool(descriptor.PropDisableQueue)

	for i, tier := range plan.Tiers {
		if queue && tier.Delay > 0 {
			if err := d.sleep(ctx, tier.Delay); err != nil {
				d.logger.Debug("write cancelled before tier", "target", target.Address, "index", tier.Index, "error", err)
				d.observer.ObserveWrite(OutcomeCancelled, d.now().Sub(start))
				return res, fmt.Errorf("waiting for tier %d: %w", tier.Index, err)
			}
		}

		applied, err := d.publishTier(ctx, target, tier)
		for _, op := range applied {
			d.acknowledge(ctx, target, op.Property, op.Value)
			res.Confirmed = append(res.Confirmed, op.Property)
		}
		if err != nil {
			d.logger.Error("publish failed",
				"target", target.Address,
				"property", property,
				"tier", i,
				"applied", len(applied),
				"error", err,
			)
			d.observer.ObserveWrite(OutcomeFailed, d.now().Sub(start))
			return res, fmt.Errorf("%w: %s on %s: %w", ErrPublishFailure, property, target.Address, err)
		}
	}

	if !target.Group {
		res.Observed = d.readBack(ctx, target, plan)
	}

	d.applySyncRules(ctx, target, property, value, current, &res)

	d.logger.Debug("write confirmed", "target", target.Address, "property", property, "confirmed", res.Confirmed)
	d.observer.ObserveWrite(OutcomeConfirmed, d.now().Sub(start))
	return res, nil
}

// publishTier publishes a tier's ops concurrently and returns the ops that
// were published successfully.
func (d *Dispatcher) publishTier(ctx context.Context, target Target, tier Tier) ([]Op, error) {
	applied := make([]bool, len(tier.Ops))

	g, gctx := errgroup.WithContext(ctx)
	for i, op := range tier.Ops {
		i, op := i, op
		g.Go(func() error {
			if err := d.publisher.Publish(gctx, target.Address, op.Payload); err != nil {
				return fmt.Errorf("%s: %w", op.Property, err)
			}
			applied[i] = true
			return nil
		})
	}
	err := g.Wait()

	var ok []Op
	for i, op := range tier.Ops {
		if applied[i] {
			ok = append(ok, op)
		}
	}
	return ok, err
}

func (d *Dispatcher) acknowledge(ctx context.Context, target Target, property string, value any) {
	if err := d.store.SetValue(ctx, target.ID, property, value, true); err != nil {
		d.logger.Warn("acknowledge failed", "target", target.ID, "property", property, "error", err)
	}
}

// readBack reads the plan's read-after-write properties once the longest
// declared delay has passed and stores observed values that differ from
// what was published. Failures are logged and ignored.
func (d *Dispatcher) readBack(ctx context.Context, target Target, plan Plan) map[string]any {
	var (
		descs []descriptor.Descriptor
		delay time.Duration
	)
	published := make(map[string]any)
	for _, op := range plan.Ops() {
		desc, err := target.Model.Descriptor(op.Property)
		if err != nil || desc.ReadAfterWrite <= 0 {
			continue
		}
		if _, dup := published[desc.ID]; !dup {
			descs = append(descs, desc)
		}
		published[desc.ID] = op.Value
		delay = max(delay, desc.ReadAfterWrite)
	}
	if len(descs) == 0 {
		return nil
	}

	if err := d.sleep(ctx, delay); err != nil {
		return nil
	}

	keys := make([]string, 0, len(descs))
	for _, desc := range descs {
		keys = append(keys, desc.WireKey)
	}
	reported, err := d.publisher.Read(ctx, target.Address, keys)
	if err != nil {
		d.logger.Warn("read-after-write failed", "target", target.Address, "keys", keys, "error", err)
		return nil
	}

	observed := make(map[string]any)
	for _, desc := range descs {
		wire, ok := reported[desc.WireKey]
		if !ok {
			continue
		}
		v, err := d.codec.FromWire(desc, wire)
		if err != nil || sameValue(v, published[desc.ID]) {
			continue
		}
		d.logger.Info("device reported a different value after write",
			"target", target.Address,
			"property", desc.ID,
			"published", published[desc.ID],
			"observed", v,
		)
		d.acknowledge(ctx, target, desc.ID, v)
		observed[desc.ID] = v
	}
	if len(observed) == 0 {
		return nil
	}
	return observed
}

// applySyncRules runs the model's sync rules for a confirmed write and
// stores their results. Sync ops never reach the device.
func (d *Dispatcher) applySyncRules(ctx context.Context, target Target, property string, value any, current descriptor.Options, res *Result) {
	if len(target.Model.Syncs) == 0 {
		return
	}

	after := make(descriptor.Options, len(current)+len(res.Confirmed))
	for k, v := range current {
		after[k] = v
	}
	for _, op := range res.Plan.Ops() {
		after[op.Property] = op.Value
	}
	for k, v := range res.Observed {
		after[k] = v
	}

	for _, id := range target.Model.Syncs {
		rule, err := d.codec.Rule(id)
		if err != nil {
			d.logger.Warn("sync rule unavailable", "rule", id, "error", err)
			continue
		}
		for _, op := range rule(property, value, after) {
			if !target.Model.Has(op.Property) {
				continue
			}
			d.acknowledge(ctx, target, op.Property, op.Value)
			res.Confirmed = append(res.Confirmed, op.Property)
			after[op.Property] = op.Value
		}
	}
}

// sameValue compares semantic values, treating numbers of different Go
// types as equal when their values are.
func sameValue(a, b any) bool {
	fa, aok := descriptor.Number(a)
	fb, bok := descriptor.Number(b)
	if aok && bok {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}
