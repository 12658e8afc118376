// Package room implements the Room Actor of spec.md §4.C: exactly one
// instance per live room id, the sole mutator of its connection set,
// timers, ack-reminder map, and persistent Room state. Modeled as a
// goroutine owning a mailbox channel, per spec.md §9's "Stateful singletons
// per room" design note — every mutation to actor-owned state originates
// from the actor's own loop, never from a caller's goroutine directly.
//
// Grounded on the teacher's internal/server/hub.go (connection-set and
// broadcast mechanics, generalized from one global Hub to one actor per
// room id) and internal/server/heartbeat.go (ticker-driven periodic-check
// idiom).
package room

import (
	"context"
	"log"
	"time"

	"github.com/coordroom/coordroom/internal/docs"
	"github.com/coordroom/coordroom/internal/frame"
	"github.com/coordroom/coordroom/internal/notify"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/tasksvc"
	"github.com/coordroom/coordroom/internal/types"
)

// Config holds the periodic intervals spec.md §6 names as Configuration.
type Config struct {
	HeartbeatInterval      time.Duration
	BlockedSummaryInterval time.Duration
	UnblockPingInterval    time.Duration
	MaxQueryHistory        int
	MaxCoordinationPatterns int
}

// DefaultConfig matches spec.md §6's defaults.
var DefaultConfig = Config{
	HeartbeatInterval:       30 * time.Second,
	BlockedSummaryInterval:  20 * time.Second,
	UnblockPingInterval:     10 * time.Second,
	MaxQueryHistory:         100,
	MaxCoordinationPatterns: 50,
}

type ackKey struct {
	agent  string
	taskID string
}

type ackTimer struct {
	cancel   func()
	attempts int
}

// mailItem is the sum type carried on the actor's mailbox. Only the fields
// that belong to kind are populated.
type mailItem struct {
	kind string

	conn *Connection
	data []byte
	err  error

	serverFrame types.Frame
	fromRelay   bool

	tickKind string
	ackKey   ackKey

	activityReply chan bool
}

const (
	kindOpen        = "open"
	kindMessage     = "message"
	kindClose       = "close"
	kindError       = "error"
	kindServerFrame = "serverFrame"
	kindTick        = "tick"
	kindShutdown    = "shutdown"
	kindQueryActivity = "queryActivity"
)

const (
	tickHeartbeat      = "heartbeat"
	tickBlockedSummary = "blockedSummary"
	tickAckReminder    = "ackReminder"
)

// Room is the Room Actor for a single room id.
type Room struct {
	ID string

	cfg      Config
	store    store.Store
	tasksvc  *tasksvc.Service
	docs     docs.Collaborator
	notifier notify.Notifier

	mailbox chan mailItem
	done    chan struct{}

	// actor-owned state; touched only from the run() loop.
	connections map[string]*Connection
	ackTimers   map[ackKey]ackTimer
	state       types.RoomSnapshot

	heartbeatStop      chan struct{}
	blockedSummaryStop chan struct{}
	timersRunning      bool

	droppedDirectedSends int

	relay         Relay
	suppressRelay bool

	snapshots SnapshotStore
}

// Relay is implemented by natsbridge to fan a room's frames out to other
// processes hosting the same logical room id. Left nil in single-process
// deployments, which is spec.md's core design; SPEC_FULL §3 adds it as an
// optional cross-process extension.
type Relay interface {
	Publish(roomID string, f types.Frame)
}

// SetRelay attaches a cross-process relay. Call before Run starts; the
// field is only read from the actor's own goroutine thereafter.
func (r *Room) SetRelay(rl Relay) {
	r.relay = rl
}

// InjectRelayFrame is the entry point natsbridge uses to deliver a frame
// that originated on another process, so this room doesn't republish it
// right back out and bounce it between instances forever.
func (r *Room) InjectRelayFrame(f types.Frame) {
	r.mailbox <- mailItem{kind: kindServerFrame, serverFrame: f, fromRelay: true}
}

// SetSnapshotStore attaches on-disk persistence and immediately attempts to
// rehydrate this room's state from it. Call before Run starts, same as
// SetRelay; a load failure is logged and ignored so a corrupt or missing
// snapshot never blocks room startup.
func (r *Room) SetSnapshotStore(s SnapshotStore) {
	r.snapshots = s
	snap, err := s.Load(r.ID)
	if err != nil {
		log.Printf("[ROOM] snapshot load for room %s: %v", r.ID, err)
		return
	}
	if snap != nil {
		r.state = *snap
	}
}

// New constructs a Room in the stopped state; call Run to start its loop.
func New(id string, cfg Config, st store.Store, svc *tasksvc.Service, d docs.Collaborator, n notify.Notifier) *Room {
	return &Room{
		ID:          id,
		cfg:         cfg,
		store:       st,
		tasksvc:     svc,
		docs:        d,
		notifier:    n,
		mailbox:     make(chan mailItem, 256),
		done:        make(chan struct{}),
		connections: make(map[string]*Connection),
		ackTimers:   make(map[ackKey]ackTimer),
		state: types.RoomSnapshot{
			RoomID:       id,
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
			Preferences:  make(map[string]types.AgentPreference),
		},
	}
}

// Run is the actor's single-threaded loop. Call it in its own goroutine.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.stopTimers()
			r.cancelAllAckTimers()
			r.saveSnapshot()
			return
		case item := <-r.mailbox:
			if item.kind == kindShutdown {
				r.stopTimers()
				r.cancelAllAckTimers()
				r.saveSnapshot()
				return
			}
			r.handle(ctx, item)
		}
	}
}

// Shutdown stops the actor loop; ack-reminder timers are cancelled too since
// the process is going away entirely (not the same as a last-disconnect,
// where reminders are kept running per spec.md §9).
func (r *Room) Shutdown() {
	select {
	case r.mailbox <- mailItem{kind: kindShutdown}:
	default:
	}
	<-r.done
}

func (r *Room) handle(ctx context.Context, item mailItem) {
	r.state.LastActivity = time.Now()
	switch item.kind {
	case kindOpen:
		r.onOpen(ctx, item.conn)
	case kindMessage:
		r.onMessage(ctx, item.conn, item.data)
	case kindClose:
		r.onClose(item.conn)
	case kindError:
		r.onError(item.conn, item.err)
	case kindServerFrame:
		r.suppressRelay = item.fromRelay
		r.processServerFrame(ctx, item.serverFrame)
		r.suppressRelay = false
	case kindTick:
		r.onTick(ctx, item.tickKind, item.ackKey)
	case kindQueryActivity:
		item.activityReply <- (len(r.connections) > 0 || len(r.ackTimers) > 0)
	}
}

// --- public, goroutine-safe entry points (Ingress calls these) ---

func (r *Room) OnOpen(conn *Connection) {
	r.mailbox <- mailItem{kind: kindOpen, conn: conn}
}

func (r *Room) OnMessage(conn *Connection, data []byte) {
	conn.touch()
	r.mailbox <- mailItem{kind: kindMessage, conn: conn, data: data}
}

func (r *Room) OnClose(conn *Connection) {
	r.mailbox <- mailItem{kind: kindClose, conn: conn}
}

func (r *Room) OnError(conn *Connection, err error) {
	r.mailbox <- mailItem{kind: kindError, conn: conn, err: err}
}

// InjectServerFrame is invoked by the HTTP /broadcast path (internal/ingress).
func (r *Room) InjectServerFrame(f types.Frame) {
	r.mailbox <- mailItem{kind: kindServerFrame, serverFrame: f}
}

// HasActivity reports whether the room still has live connections or
// pending ack-reminder timers. The Registry keeps every room it creates
// for the life of the process and does not consult this.
func (r *Room) HasActivity() bool {
	reply := make(chan bool, 1)
	select {
	case r.mailbox <- mailItem{kind: kindQueryActivity, activityReply: reply}:
	default:
		return true // mailbox full or actor gone: fail safe, don't reap
	}
	select {
	case resp := <-reply:
		return resp
	case <-time.After(2 * time.Second):
		return true // fail safe: never reap a room we couldn't confirm is idle
	}
}

func (r *Room) connList(except *Connection) []frame.Sender {
	out := make([]frame.Sender, 0, len(r.connections))
	for _, c := range r.connections {
		if except != nil && c.id == except.id {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Room) broadcast(f types.Frame) {
	frame.Broadcast(r.connList(nil), f)
	r.relayOut(f)
}

func (r *Room) broadcastExcept(f types.Frame, except *Connection) {
	frame.Broadcast(r.connList(except), f)
	r.relayOut(f)
}

// relayOut fans a frame to other processes hosting this room id, unless
// the frame just arrived from the relay itself (avoids an infinite bounce
// between instances) or no relay is configured.
func (r *Room) relayOut(f types.Frame) {
	if r.relay == nil || r.suppressRelay {
		return
	}
	r.relay.Publish(r.ID, f)
}

// sendToAgent implements spec.md §4.C's directed-send-with-fallback: send
// to every connection whose agentName equals name; if none match, broadcast
// to the whole room so observers still see pending work.
func (r *Room) sendToAgent(name string, f types.Frame) {
	var targets []frame.Sender
	for _, c := range r.connections {
		if c.AgentName() == name {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		r.droppedDirectedSends++
		log.Printf("[ROOM] sendToAgent(%s) in room %s: no live connection, falling back to broadcast", name, r.ID)
		r.broadcast(f)
		return
	}
	frame.Broadcast(targets, f)
}

// saveSnapshot writes current room state on clean shutdown, per SPEC_FULL
// §4. Runs on the actor's own goroutine, after timers are already stopped,
// so r.state is not being concurrently mutated.
func (r *Room) saveSnapshot() {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.Save(r.state); err != nil {
		log.Printf("[ROOM] snapshot save for room %s: %v", r.ID, err)
	}
}

// DroppedDirectedSends exposes the fallback counter for /healthz, per
// SPEC_FULL §6's supplemented observability feature.
func (r *Room) DroppedDirectedSends() int {
	return r.droppedDirectedSends
}
