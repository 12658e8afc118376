// Package frame implements the Frame Codec of spec.md §4.B: typed envelope
// construction, JSON serialization, and the broadcast fan-out helper.
package frame

import (
	"encoding/json"
	"log"

	"github.com/coordroom/coordroom/internal/types"
)

// Build constructs a Frame. payload is marshaled to JSON; meta, if non-nil,
// is marshaled too. Marshal failures of payload/meta are programmer errors
// (the caller passed an unmarshalable value) and are swallowed rather than
// propagated, matching spec.md's codec never raising: a payload that fails
// becomes an empty object, a meta that fails is left out of the frame.
func Build(typ string, payload any, meta any, requestID string) types.Frame {
	f := types.Frame{Type: typ, RequestID: requestID}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			f.Payload = b
		} else {
			f.Payload = json.RawMessage(`{}`)
		}
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			f.Meta = b
		}
	}
	return f
}

// Serialize renders a Frame to UTF-8 JSON.
func Serialize(f types.Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Deserialize parses raw bytes into a Frame. Malformed input yields a
// synthetic error frame instead of raising, per spec.md §4.B.
func Deserialize(data []byte) types.Frame {
	var f types.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		payload, _ := json.Marshal(types.TasksErrorPayload{Message: "Malformed payload"})
		return types.Frame{Type: types.TypeError, Payload: payload}
	}
	return f
}

// Sender is satisfied by anything a Frame can be written to: a WebSocket
// connection, primarily.
type Sender interface {
	Send(data []byte) error
	ID() string
}

// Broadcast serializes f once and writes it to every connection in conns,
// skipping and logging per-connection send errors rather than aborting the
// fan-out.
func Broadcast(conns []Sender, f types.Frame) {
	data, err := Serialize(f)
	if err != nil {
		log.Printf("[FRAME] serialize failed for type %s: %v", f.Type, err)
		return
	}
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			log.Printf("[FRAME] broadcast to %s failed: %v", c.ID(), err)
		}
	}
}
