package reconciler

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"monexa/internal/command"
	"monexa/internal/registry"
	"monexa/internal/session"
	"monexa/internal/store"
	"monexa/pkg/protocol"
)

type fakeStore struct {
	devices map[session.Identity]*store.Device
}

func (f *fakeStore) GetDevice(_ context.Context, orgID, deviceID string) (*store.Device, error) {
	d, ok := f.devices[session.Identity{OrgID: orgID, DeviceID: deviceID}]
	if !ok {
		return nil, store.ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

type routedCmd struct {
	orgID   string
	event   string
	blocked bool
	devices []string
}

type fakeRouter struct {
	routed []routedCmd
}

func (f *fakeRouter) Route(_ context.Context, orgID string, cmd protocol.Envelope, targets command.Targets) (*command.Report, error) {
	var blocked bool
	_ = cmd.Decode(&blocked)
	f.routed = append(f.routed, routedCmd{
		orgID: orgID, event: cmd.Event, blocked: blocked, devices: targets.Devices,
	})
	return &command.Report{Delivered: targets.Devices, Unreachable: []string{}}, nil
}

func bindSession(t *testing.T, reg *registry.Registry, id session.Identity) *session.Session {
	t.Helper()
	sess := session.New(nil, 1, time.Second)
	t.Cleanup(func() { _ = sess.Close() })
	if err := reg.Bind(sess, id); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return sess
}

func TestPassPushesBlockStateOnce(t *testing.T) {
	reg := registry.New()
	id := session.Identity{OrgID: "org-1", DeviceID: "host-1"}
	bindSession(t, reg, id)

	st := &fakeStore{devices: map[session.Identity]*store.Device{
		id: {DeviceID: "host-1", OrgID: "org-1", Status: store.StatusOnline, Blocked: true},
	}}
	router := &fakeRouter{}
	r := New(st, reg, router, time.Minute, zap.NewNop())

	ctx := context.Background()
	r.pass(ctx)
	if len(router.routed) != 1 {
		t.Fatalf("routed = %d commands, want 1", len(router.routed))
	}
	if got := router.routed[0]; got.event != protocol.EventSetBlocked || !got.blocked {
		t.Errorf("routed = %+v", got)
	}

	// Unchanged state produces no second push.
	r.pass(ctx)
	if len(router.routed) != 1 {
		t.Errorf("unchanged state re-pushed: %d commands", len(router.routed))
	}

	// A flip pushes again with the new value.
	st.devices[id].Blocked = false
	r.pass(ctx)
	if len(router.routed) != 2 || router.routed[1].blocked {
		t.Errorf("routed after flip = %+v", router.routed)
	}
}

func TestForgetTriggersRepush(t *testing.T) {
	reg := registry.New()
	id := session.Identity{OrgID: "org-1", DeviceID: "host-1"}
	bindSession(t, reg, id)

	st := &fakeStore{devices: map[session.Identity]*store.Device{
		id: {DeviceID: "host-1", OrgID: "org-1", Status: store.StatusOnline, Blocked: true},
	}}
	router := &fakeRouter{}
	r := New(st, reg, router, time.Minute, zap.NewNop())

	ctx := context.Background()
	r.pass(ctx)
	r.Forget(id)
	r.pass(ctx)
	if len(router.routed) != 2 {
		t.Errorf("routed = %d commands, want repush after Forget", len(router.routed))
	}
}

func TestNotePushedSuppressesInitialPush(t *testing.T) {
	reg := registry.New()
	id := session.Identity{OrgID: "org-1", DeviceID: "host-1"}
	bindSession(t, reg, id)

	st := &fakeStore{devices: map[session.Identity]*store.Device{
		id: {DeviceID: "host-1", OrgID: "org-1", Status: store.StatusOnline, Blocked: true},
	}}
	router := &fakeRouter{}
	r := New(st, reg, router, time.Minute, zap.NewNop())

	// The connection handler already pushed at registration.
	r.NotePushed(id, true)
	r.pass(context.Background())
	if len(router.routed) != 0 {
		t.Errorf("redundant push after NotePushed: %+v", router.routed)
	}
}

func TestOfflineStatusForcesDisconnect(t *testing.T) {
	reg := registry.New()
	id := session.Identity{OrgID: "org-1", DeviceID: "host-1"}
	sess := bindSession(t, reg, id)

	st := &fakeStore{devices: map[session.Identity]*store.Device{
		id: {DeviceID: "host-1", OrgID: "org-1", Status: store.StatusOffline},
	}}
	router := &fakeRouter{}
	r := New(st, reg, router, time.Minute, zap.NewNop())

	r.pass(context.Background())

	if reg.IsLive(id) {
		t.Error("identity still live after forced disconnect")
	}
	select {
	case <-sess.Done():
	default:
		t.Error("session not closed by forced disconnect")
	}
	if len(router.routed) != 0 {
		t.Errorf("commands routed to an offline device: %+v", router.routed)
	}
}

func TestUnknownDeviceSkipped(t *testing.T) {
	reg := registry.New()
	id := session.Identity{OrgID: "org-1", DeviceID: "ghost"}
	bindSession(t, reg, id)

	st := &fakeStore{devices: map[session.Identity]*store.Device{}}
	router := &fakeRouter{}
	r := New(st, reg, router, time.Minute, zap.NewNop())

	r.pass(context.Background())
	if len(router.routed) != 0 {
		t.Errorf("commands routed for unknown device: %+v", router.routed)
	}
	if !reg.IsLive(id) {
		t.Error("unknown device disconnected; only offline status forces that")
	}
}

func TestKickCoalesces(t *testing.T) {
	r := New(&fakeStore{}, registry.New(), &fakeRouter{}, time.Minute, zap.NewNop())
	// Kick never blocks, even when one is already pending.
	r.Kick()
	r.Kick()
	r.Kick()
	if len(r.kick) != 1 {
		t.Errorf("pending kicks = %d, want 1", len(r.kick))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := New(&fakeStore{devices: map[session.Identity]*store.Device{}},
		registry.New(), &fakeRouter{}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
