package natsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coordroom/coordroom/internal/frame"
	"github.com/coordroom/coordroom/internal/room"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/tasksvc"
	"github.com/coordroom/coordroom/internal/types"
)

// fakeWS records every frame written to it, enough to observe a Room's
// broadcasts without a live socket, mirroring internal/room's own test
// double.
type fakeWS struct {
	mu   sync.Mutex
	sent []types.Frame
}

func (f *fakeWS) WriteMessage(messageType int, data []byte) error {
	var fr types.Frame
	_ = json.Unmarshal(data, &fr)
	f.mu.Lock()
	f.sent = append(f.sent, fr)
	f.mu.Unlock()
	return nil
}
func (f *fakeWS) WriteControl(messageType int, data []byte, deadline time.Time) error { return nil }
func (f *fakeWS) Close() error                                                        { return nil }

func (f *fakeWS) framesOfType(typ string) []types.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Frame
	for _, fr := range f.sent {
		if fr.Type == typ {
			out = append(out, fr)
		}
	}
	return out
}

// directInjector routes tasksvc.Service.Inject straight into a Room's
// mailbox, same role as internal/room's test double.
type directInjector struct{ room *room.Room }

func (d *directInjector) Inject(ctx context.Context, roomID string, f types.Frame) error {
	d.room.InjectServerFrame(f)
	return nil
}

func newTestRegistry(t *testing.T, ctx context.Context) *room.Registry {
	t.Helper()
	st, err := store.Open(":memory:", store.DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	inj := &directInjector{}
	svc := tasksvc.New(st, inj)
	reg := room.NewRegistry(ctx, room.Config{
		HeartbeatInterval:      time.Hour,
		BlockedSummaryInterval: time.Hour,
		UnblockPingInterval:    time.Hour,
	}, st, svc, nil, nil)
	return reg
}

// startEmbedded brings up an embedded NATS server on port and returns it
// shut down on test cleanup.
func startEmbedded(t *testing.T, port int) *Embedded {
	t.Helper()
	e := NewEmbedded(EmbeddedConfig{Port: port})
	if err := e.Start(); err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

// TestSubscribeRoomWiresRelay verifies that once Registry.Get has run the
// relay binder (SubscribeRoom), a frame published on the room's subject by
// another client reaches the room's connections. The room's periodic
// timers are set to an hour, so any tasks.blockedSummary beyond the ones
// already seen after OnOpen can only have arrived over the relay.
func TestSubscribeRoomWiresRelay(t *testing.T) {
	embedded := startEmbedded(t, 18361)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := newTestRegistry(t, ctx)
	client, err := NewClient(embedded.URL())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	bridge := NewBridge(client, reg)
	reg.SetRelayBinder(bridge.SubscribeRoom)

	r := reg.Get("r1")
	ws := &fakeWS{}
	conn := room.NewConnection("r1", ws)
	r.OnOpen(conn)
	time.Sleep(30 * time.Millisecond)
	baseline := len(ws.framesOfType(types.TypeTasksBlockedSummary))

	publisher, err := NewClient(embedded.URL())
	if err != nil {
		t.Fatalf("new publisher client: %v", err)
	}
	defer publisher.Close()

	summary := frame.Build(types.TypeTasksBlockedSummary, []types.Blocker{}, nil, "")
	data, err := json.Marshal(summary)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := publisher.Publish(subject("r1"), data); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(ws.framesOfType(types.TypeTasksBlockedSummary)) > baseline {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("room never received relayed frame via SubscribeRoom; registry.Get(id) must call the relay binder for this to work")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestSubscribeRoomIdempotent verifies calling SubscribeRoom twice for the
// same room id does not create a second subscription.
func TestSubscribeRoomIdempotent(t *testing.T) {
	embedded := startEmbedded(t, 18362)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := newTestRegistry(t, ctx)
	client, err := NewClient(embedded.URL())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	bridge := NewBridge(client, reg)

	reg.Get("r2")
	if err := bridge.SubscribeRoom("r2"); err != nil {
		t.Fatalf("subscribeRoom: %v", err)
	}
	if err := bridge.SubscribeRoom("r2"); err != nil {
		t.Fatalf("second subscribeRoom call returned error: %v", err)
	}
	if len(bridge.subs) != 1 {
		t.Fatalf("expected exactly one tracked subscription for r2, got %d", len(bridge.subs))
	}
}

// TestRegistryBindsRelayOnCreate verifies Registry.Get calls the relay
// binder as part of room creation, not just when a caller remembers to
// invoke SubscribeRoom manually — this is the wiring the review flagged as
// missing.
func TestRegistryBindsRelayOnCreate(t *testing.T) {
	embedded := startEmbedded(t, 18363)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := newTestRegistry(t, ctx)
	client, err := NewClient(embedded.URL())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	bridge := NewBridge(client, reg)

	var boundIDs []string
	var mu sync.Mutex
	reg.SetRelayBinder(func(roomID string) error {
		mu.Lock()
		boundIDs = append(boundIDs, roomID)
		mu.Unlock()
		return bridge.SubscribeRoom(roomID)
	})

	reg.Get("r3")
	reg.Get("r3") // second Get for an existing room must not re-bind

	mu.Lock()
	defer mu.Unlock()
	if len(boundIDs) != 1 || boundIDs[0] != "r3" {
		t.Fatalf("expected relay binder called exactly once for r3, got %v", boundIDs)
	}
}
