package container

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/modhost/internal/apiproxy"
	"github.com/any-hub/modhost/internal/module"
	"github.com/any-hub/modhost/internal/surface"
)

type fakeInstance struct {
	mu         sync.Mutex
	destroyErr error
	destroyed  bool
	updates    []map[string]any
}

func (f *fakeInstance) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return f.destroyErr
}

type liveInstance struct {
	fakeInstance
	updateErr error
}

func (l *liveInstance) UpdateProps(_ context.Context, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, data)
	return l.updateErr
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func newTestContainer(t *testing.T, desc module.Descriptor, factory module.Factory) (*Container, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	c := New(desc, module.Definition{Key: "test", Factory: factory, Options: map[string]any{"opt": "v"}}, Options{OnEvent: rec.handle})
	return c, rec
}

func TestInitRejectsInvalidEndpoint(t *testing.T) {
	c, rec := newTestContainer(t, module.Descriptor{
		ID:           "m1",
		APIEndpoints: map[string]string{"getItems": "not a url"},
	}, nil)

	err := c.Init(context.Background())
	if !errors.Is(err, ErrInvalidAPIEndpoint) {
		t.Fatalf("expected ErrInvalidAPIEndpoint, got %v", err)
	}
	if got := c.State().Lifecycle.State; got != StateError {
		t.Fatalf("expected error lifecycle, got %s", got)
	}
	if len(rec.ofType(EventModuleError)) != 1 {
		t.Fatalf("expected a module-error event")
	}
}

func TestInitIsIdempotentAndSeedsStore(t *testing.T) {
	c, rec := newTestContainer(t, module.Descriptor{
		ID:          "m1",
		InitialData: map[string]any{"page": 1},
	}, nil)

	for i := 0; i < 2; i++ {
		if err := c.Init(context.Background()); err != nil {
			t.Fatalf("init failed: %v", err)
		}
	}
	if len(rec.ofType(EventModuleInitialized)) != 1 {
		t.Fatalf("second init should be a no-op")
	}

	state := c.Store().State()
	if state["isLoading"] != false || state["error"] != nil {
		t.Fatalf("unexpected seed state: %v", state)
	}
	if lc, ok := state["lifecycle"].(Lifecycle); !ok || lc.State != StateInitialized {
		t.Fatalf("unexpected lifecycle seed: %v", state["lifecycle"])
	}
	if data := c.State().Data; data["page"] != 1 {
		t.Fatalf("data should be seeded from initial data: %v", data)
	}
}

func TestMountPassesMergedPropsAndForwardsActions(t *testing.T) {
	var got module.Props
	inst := &fakeInstance{}
	c, rec := newTestContainer(t, module.Descriptor{
		ID:           "m1",
		APIEndpoints: map[string]string{"getItems": "https://host/api/items"},
		InitialData:  map[string]any{"page": 1},
	}, func(_ context.Context, target module.Target, props module.Props) (module.Instance, error) {
		got = props
		target.SetContent("mounted")
		props.OnAction(map[string]any{"type": "select", "id": 3})
		return inst, nil
	})

	target := surface.NewRoot("module-m1")
	mounted, err := c.Mount(context.Background(), target, map[string]any{"tab": "orders"})
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if mounted != inst {
		t.Fatalf("mount should return the factory instance")
	}
	if got.ModuleID != "m1" || got.Host["tab"] != "orders" || got.Options["opt"] != "v" {
		t.Fatalf("unexpected props: %+v", got)
	}
	if got.APIEndpoints["getItems"] != "https://host/api/items" || got.Store == nil || got.API == nil {
		t.Fatalf("props should carry endpoints, store and api caller: %+v", got)
	}
	if got.Data["page"] != 1 {
		t.Fatalf("props should carry working data")
	}

	state := c.State()
	if state.Lifecycle.State != StateMounted || state.IsLoading {
		t.Fatalf("unexpected state after mount: %+v", state)
	}

	actions := rec.ofType(EventModuleAction)
	if len(actions) != 1 || actions[0].ModuleID != "m1" {
		t.Fatalf("expected forwarded module-action, got %+v", actions)
	}
	if action, ok := actions[0].Action.(map[string]any); !ok || action["id"] != 3 {
		t.Fatalf("action must be forwarded verbatim, got %#v", actions[0].Action)
	}

	again, err := c.Mount(context.Background(), target, nil)
	if err != nil || again != inst {
		t.Fatalf("mounting a live container should return the live instance")
	}
}

func TestMountFailureSetsErrorAndPropagates(t *testing.T) {
	boom := errors.New("boom")
	c, rec := newTestContainer(t, module.Descriptor{ID: "m1"}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		return nil, boom
	})

	_, err := c.Mount(context.Background(), surface.NewRoot("t"), nil)
	if !errors.Is(err, ErrMountFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped mount failure, got %v", err)
	}
	state := c.State()
	if state.Lifecycle.State != StateError || state.Error == "" || state.IsLoading {
		t.Fatalf("unexpected state after failed mount: %+v", state)
	}
	if len(rec.ofType(EventModuleError)) != 1 {
		t.Fatalf("expected module-error event")
	}
}

func TestMountRecoversFactoryPanic(t *testing.T) {
	c, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		panic("kaboom")
	})
	if _, err := c.Mount(context.Background(), surface.NewRoot("t"), nil); !errors.Is(err, ErrMountFailure) {
		t.Fatalf("panic should surface as mount failure, got %v", err)
	}
}

func TestUnmountClearsTargetAndIsTerminal(t *testing.T) {
	inst := &fakeInstance{}
	c, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, func(_ context.Context, target module.Target, _ module.Props) (module.Instance, error) {
		target.SetContent("content")
		return inst, nil
	})
	root := surface.NewRoot("app")
	target := root.CreateChild("module-m1")

	if ok, err := c.Unmount(context.Background()); ok || err != nil {
		t.Fatalf("unmount without instance should be a false no-op, got %v/%v", ok, err)
	}
	if _, err := c.Mount(context.Background(), target, nil); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	ok, err := c.Unmount(context.Background())
	if !ok || err != nil {
		t.Fatalf("unmount failed: %v/%v", ok, err)
	}
	if !inst.destroyed || !target.IsEmpty() {
		t.Fatalf("unmount should destroy instance and clear target")
	}
	if c.State().Lifecycle.State != StateUnmounted {
		t.Fatalf("expected unmounted, got %s", c.State().Lifecycle.State)
	}
	if _, err := c.Mount(context.Background(), target, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unmounted container must not be resurrected, got %v", err)
	}
}

func TestUnmountFailureSetsError(t *testing.T) {
	boom := errors.New("teardown")
	c, rec := newTestContainer(t, module.Descriptor{ID: "m1"}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		return &fakeInstance{destroyErr: boom}, nil
	})
	target := surface.NewRoot("t")
	if _, err := c.Mount(context.Background(), target, nil); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	ok, err := c.Unmount(context.Background())
	if ok || !errors.Is(err, ErrUnmountFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected unmount failure, got %v/%v", ok, err)
	}
	if c.State().Lifecycle.State != StateError {
		t.Fatalf("expected error lifecycle")
	}
	if len(rec.ofType(EventModuleError)) != 1 {
		t.Fatalf("expected module-error event")
	}
	if !target.IsEmpty() {
		t.Fatalf("target should be cleared even when teardown fails")
	}
}

func TestUpdateDataMergesAndPushesLiveUpdates(t *testing.T) {
	inst := &liveInstance{}
	c, _ := newTestContainer(t, module.Descriptor{ID: "m1", InitialData: map[string]any{"a": 1, "b": 2}}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		return inst, nil
	})

	ok, err := c.UpdateData(context.Background(), map[string]any{"b": 3})
	if !ok || err != nil {
		t.Fatalf("update before mount should auto-init and succeed: %v", err)
	}
	if _, err := c.Mount(context.Background(), surface.NewRoot("t"), nil); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if ok, err := c.UpdateData(context.Background(), map[string]any{"c": 4}); !ok || err != nil {
		t.Fatalf("update failed: %v", err)
	}

	data := c.State().Data
	if data["a"] != 1 || data["b"] != 3 || data["c"] != 4 {
		t.Fatalf("unexpected merged data: %v", data)
	}
	if len(inst.updates) != 1 || inst.updates[0]["b"] != 3 {
		t.Fatalf("live instance should receive merged data, got %v", inst.updates)
	}
}

func TestUpdateDataReportsLiveUpdateFailureButKeepsMerge(t *testing.T) {
	inst := &liveInstance{updateErr: errors.New("stale")}
	c, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		return inst, nil
	})
	if _, err := c.Mount(context.Background(), surface.NewRoot("t"), nil); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	ok, err := c.UpdateData(context.Background(), map[string]any{"x": 1})
	if ok || err == nil {
		t.Fatalf("live update failure should be reported")
	}
	if c.State().Data["x"] != 1 {
		t.Fatalf("merge must not be dropped")
	}
	if _, err := c.UpdateData(context.Background(), nil); err == nil {
		t.Fatalf("nil partial should be rejected")
	}
}

func TestUpdateDataSkipsInstancesWithoutLiveUpdate(t *testing.T) {
	c, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, func(context.Context, module.Target, module.Props) (module.Instance, error) {
		return &fakeInstance{}, nil
	})
	if _, err := c.Mount(context.Background(), surface.NewRoot("t"), nil); err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	if ok, err := c.UpdateData(context.Background(), map[string]any{"x": 1}); !ok || err != nil {
		t.Fatalf("update should succeed without live push: %v", err)
	}
}

func TestCallAPIUsesOwnedCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer srv.Close()

	c, _ := newTestContainer(t, module.Descriptor{ID: "m1", APIEndpoints: map[string]string{"getItems": srv.URL}}, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.CallAPI(ctx, "getItems", nil, true); err != nil {
			t.Fatalf("call failed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one network call, got %d", hits.Load())
	}
	if _, err := c.CallAPI(ctx, "missing", nil, true); !errors.Is(err, apiproxy.ErrUnknownEndpoint) {
		t.Fatalf("expected ErrUnknownEndpoint, got %v", err)
	}
	if removed := c.ClearAPICache("getItems"); removed != 1 {
		t.Fatalf("expected one cache entry removed, got %d", removed)
	}
}

func TestFreshContainersGetDistinctInstanceIDs(t *testing.T) {
	a, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, nil)
	b, _ := newTestContainer(t, module.Descriptor{ID: "m1"}, nil)
	if a.InstanceID() == b.InstanceID() {
		t.Fatalf("each container should get its own instance id")
	}
	if a.ClearAPICache("") != 0 {
		t.Fatalf("clearing an uninitialised container should be a no-op")
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	cases := []struct {
		from, to LifecycleState
		ok       bool
	}{
		{"", StateInitialized, true},
		{StateInitialized, StateMounting, true},
		{StateMounting, StateMounted, true},
		{StateMounted, StateUnmounting, true},
		{StateUnmounting, StateUnmounted, true},
		{StateMounted, StateMounting, false},
		{StateUnmounted, StateInitialized, false},
		{StateMounting, StateError, true},
		{StateUnmounted, StateError, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%q -> %q: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}
