package natsbridge

import (
	"encoding/json"
	"log"

	"github.com/coordroom/coordroom/internal/room"
	"github.com/coordroom/coordroom/internal/types"
)

// subject returns the core-NATS subject a room's frames travel on. No
// wildcard subjects carry anything but frames for exactly one room, so a
// subscriber can scope itself to a single room by subject alone.
func subject(roomID string) string {
	return "room." + roomID
}

// Bridge relays Room frames between this process and NATS, implementing
// room.Relay for the publish direction and driving InjectRelayFrame for
// the receive direction. Grounded on the teacher's NATSBridge, which
// plays the same wiring role between its Hub and internal/nats.
type Bridge struct {
	client   *Client
	registry *room.Registry
	subs     map[string]func()
}

func NewBridge(client *Client, registry *room.Registry) *Bridge {
	return &Bridge{client: client, registry: registry, subs: make(map[string]func())}
}

// Publish implements room.Relay.
func (b *Bridge) Publish(roomID string, f types.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("[NATS-BRIDGE] marshal frame for room %s: %v", roomID, err)
		return
	}
	if err := b.client.Publish(subject(roomID), data); err != nil {
		log.Printf("[NATS-BRIDGE] publish room %s: %v", roomID, err)
	}
}

// SubscribeRoom wires inbound relay traffic for roomID into the local
// actor via InjectRelayFrame. Call once per room as it's created; idempotent.
func (b *Bridge) SubscribeRoom(roomID string) error {
	if _, ok := b.subs[roomID]; ok {
		return nil
	}
	actor := b.registry.Get(roomID)
	sub, err := b.client.Subscribe(subject(roomID), func(data []byte) {
		var f types.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[NATS-BRIDGE] malformed relay frame for room %s: %v", roomID, err)
			return
		}
		actor.InjectRelayFrame(f)
	})
	if err != nil {
		return err
	}
	actor.SetRelay(b)
	b.subs[roomID] = func() { _ = sub.Unsubscribe() }
	return nil
}

func (b *Bridge) Close() {
	for _, unsub := range b.subs {
		unsub()
	}
	b.client.Close()
}
