package room

import (
	"context"
	"log"
	"sync"

	"github.com/coordroom/coordroom/internal/docs"
	"github.com/coordroom/coordroom/internal/notify"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/tasksvc"
)

// Registry maps room id to its live Room Actor, creating actors lazily on
// first use, per spec.md §4.E. Grounded on the teacher's
// internal/mcp/connections.go ConnectionManager, generalized from
// per-connection bookkeeping to per-room actor lifecycle.
type Registry struct {
	cfg      Config
	store    store.Store
	tasksvc  *tasksvc.Service
	docs     docs.Collaborator
	notifier notify.Notifier

	snapshots SnapshotStore
	relayBind func(roomID string) error

	mu    sync.RWMutex
	rooms map[string]*Room
	ctx   context.Context
}

func NewRegistry(ctx context.Context, cfg Config, st store.Store, svc *tasksvc.Service, d docs.Collaborator, n notify.Notifier) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    st,
		tasksvc:  svc,
		docs:     d,
		notifier: n,
		rooms:    make(map[string]*Room),
		ctx:      ctx,
	}
}

// SetSnapshotStore attaches on-disk room-state persistence; every Room the
// registry creates from this point on rehydrates from it on first reference
// and saves to it on shutdown.
func (reg *Registry) SetSnapshotStore(s SnapshotStore) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.snapshots = s
}

// SetRelayBinder attaches the hook that wires a freshly created Room into
// the cross-process NATS relay (natsbridge.Bridge.SubscribeRoom). Every
// Room the registry creates from this point on has the hook called against
// its id right after construction, so SetRelay always runs before the
// room's first frame. A binder failure is logged and the room still runs,
// just without relay fan-out, matching SetSnapshotStore's best-effort style.
func (reg *Registry) SetRelayBinder(bind func(roomID string) error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.relayBind = bind
}

// Get returns the Room for id, creating and starting it if this is the
// first reference.
func (reg *Registry) Get(id string) *Room {
	reg.mu.RLock()
	r, ok := reg.rooms[id]
	reg.mu.RUnlock()
	if ok {
		return r
	}

	reg.mu.Lock()
	if r, ok := reg.rooms[id]; ok {
		reg.mu.Unlock()
		return r
	}
	r = New(id, reg.cfg, reg.store, reg.tasksvc, reg.docs, reg.notifier)
	if reg.snapshots != nil {
		r.SetSnapshotStore(reg.snapshots)
	}
	reg.rooms[id] = r
	bind := reg.relayBind
	reg.mu.Unlock()

	// Call the relay binder (natsbridge.Bridge.SubscribeRoom, typically)
	// with the write lock released: SubscribeRoom calls back into Get(id),
	// which would deadlock on reg.mu otherwise. The room is already in
	// reg.rooms by this point, so that nested Get just hits the fast path.
	if bind != nil {
		if err := bind(id); err != nil {
			log.Printf("[ROOM] relay bind for room %s failed: %v", id, err)
		}
	}
	go r.Run(reg.ctx)
	return r
}

// RoomIDs returns a snapshot of the currently tracked room ids, for /healthz.
func (reg *Registry) RoomIDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	return ids
}

// ShutdownAll stops every tracked Room Actor, for graceful process exit.
func (reg *Registry) ShutdownAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range reg.rooms {
		r.Shutdown()
	}
}
