// Package dispatch turns one semantic property write into the ordered set
// of wire commands that carries it out.
//
// A write is first compiled into a Plan: the main op at index 0 plus any ops
// the model's cascade rules add. Ops are grouped into tiers by index. Ops in
// one tier are published concurrently; each tier waits for its delay after
// the previous tier has completed. BuildPlan is pure and is what the HTTP
// API's dry run returns.
//
// The Dispatcher executes plans: it publishes each tier through a Publisher,
// acknowledges the tier's properties in the Store once it succeeds, reads
// back properties that declare read-after-write, and finally applies the
// model's sync rules to the Store. A failed tier stops the write; properties
// of later tiers are never acknowledged.
//
//	d := dispatch.New(registry, adapter, store, dispatch.Config{})
//	res, err := d.Write(ctx, target, "brightness", 0, dispatch.WriteOptions{
//	    Options: descriptor.Options{"transition_time": 5},
//	})
package dispatch
