package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/descriptor"
	"github.com/nerrad567/gray-logic-zigbee/internal/device"
	"github.com/nerrad567/gray-logic-zigbee/internal/store"
)

// fakeAdapter records commands and lets tests fail them.
type fakeAdapter struct {
	mu           sync.Mutex
	devices      []zigbee.Device
	handler      func(zigbee.Event)
	published    []publishCall
	gets         []string
	configures   int
	configureErr error
	holdConfig   bool // Configure blocks until its context is done
	pingErr      error
	joins        []int
}

type publishCall struct {
	target  string
	payload map[string]any
}

func (f *fakeAdapter) Devices(context.Context) ([]zigbee.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeAdapter) Ping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAdapter) Publish(_ context.Context, target string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishCall{target, payload})
	return nil
}

func (f *fakeAdapter) Read(context.Context, string, []string) (map[string]any, error) {
	return nil, errors.New("no read in tests")
}

func (f *fakeAdapter) Get(_ context.Context, _ string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, keys...)
	return nil
}

func (f *fakeAdapter) Configure(ctx context.Context, _ string, _ *descriptor.ConfigureProcedure) error {
	f.mu.Lock()
	f.configures++
	hold, err := f.holdConfig, f.configureErr
	f.mu.Unlock()
	if hold {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeAdapter) PermitJoin(_ context.Context, seconds int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, seconds)
	return nil
}

func (f *fakeAdapter) SetOnEvent(handler func(zigbee.Event)) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *fakeAdapter) emit(evt zigbee.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

func (f *fakeAdapter) configureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configures
}

func (f *fakeAdapter) publishes() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

func (f *fakeAdapter) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// fakeStore is an in-memory property store.
type fakeStore struct {
	mu           sync.Mutex
	values       map[string]map[string]any
	requested    map[string]map[string]any
	availability map[string]string
	onWrite      func(context.Context, store.UserWrite)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:       make(map[string]map[string]any),
		requested:    make(map[string]map[string]any),
		availability: make(map[string]string),
	}
}

func (f *fakeStore) GetValue(id, prop string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[id][prop]
	return v, ok
}

func (f *fakeStore) SetValue(_ context.Context, id, prop string, value any, confirmed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.values
	if !confirmed {
		m = f.requested
	}
	if m[id] == nil {
		m[id] = make(map[string]any)
	}
	m[id][prop] = value
	return nil
}

func (f *fakeStore) Values(string) []store.Value { return nil }

func (f *fakeStore) Forget(id string) {
	f.mu.Lock()
	delete(f.values, id)
	delete(f.requested, id)
	f.mu.Unlock()
}

func (f *fakeStore) PublishAvailability(id, availability string) {
	f.mu.Lock()
	f.availability[id] = availability
	f.mu.Unlock()
}

func (f *fakeStore) OnUserWrite(h func(context.Context, store.UserWrite)) {
	f.mu.Lock()
	f.onWrite = h
	f.mu.Unlock()
}

func (f *fakeStore) published(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.availability[id]
}

// fakeRepo is an in-memory device.Repository.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]device.Record
}

func newFakeRepo(records ...device.Record) *fakeRepo {
	r := &fakeRepo{records: make(map[string]device.Record)}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *fakeRepo) Get(_ context.Context, id string) (*device.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return &rec, nil
}

func (r *fakeRepo) List(context.Context) ([]device.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []device.Record
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRepo) Upsert(_ context.Context, rec *device.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.records[rec.ID]
	merged := *rec
	merged.ConfiguredKey = prev.ConfiguredKey
	merged.Availability = prev.Availability
	r.records[rec.ID] = merged
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return device.ErrDeviceNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeRepo) update(id string, fn func(*device.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	fn(&rec)
	r.records[id] = rec
	return nil
}

func (r *fakeRepo) Rename(_ context.Context, id, name string) error {
	return r.update(id, func(rec *device.Record) { rec.FriendlyName = name })
}

func (r *fakeRepo) SetConfiguredKey(_ context.Context, id, key string) error {
	return r.update(id, func(rec *device.Record) { rec.ConfiguredKey = key })
}

func (r *fakeRepo) UpdateAvailability(_ context.Context, id, availability string, _ time.Time) error {
	return r.update(id, func(rec *device.Record) { rec.Availability = availability })
}

func (r *fakeRepo) record(id string) (device.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// eventLog records emitted events.
type eventLog struct {
	mu    sync.Mutex
	kinds []string
}

func (e *eventLog) Emit(kind string, _ any) {
	e.mu.Lock()
	e.kinds = append(e.kinds, kind)
	e.mu.Unlock()
}

func (e *eventLog) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
