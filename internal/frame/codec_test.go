package frame

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/coordroom/coordroom/internal/types"
)

func TestBuildSerializeDeserializeRoundTrip(t *testing.T) {
	f := Build(types.TypeTasksCreated, map[string]string{"title": "x"}, nil, "req-1")

	data1, err := Serialize(f)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	back := Deserialize(data1)
	data2, err := Serialize(back)
	if err != nil {
		t.Fatalf("serialize again: %v", err)
	}

	var m1, m2 map[string]any
	if err := json.Unmarshal(data1, &m1); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data2, &m2); err != nil {
		t.Fatal(err)
	}
	if m1["type"] != m2["type"] || m1["requestId"] != m2["requestId"] {
		t.Fatalf("round trip mismatch: %v vs %v", m1, m2)
	}
}

func TestDeserializeMalformedYieldsErrorFrame(t *testing.T) {
	f := Deserialize([]byte(`{not json`))
	if f.Type != types.TypeError {
		t.Fatalf("expected error frame, got type %q", f.Type)
	}
	var payload types.TasksErrorPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.Message != "Malformed payload" {
		t.Fatalf("unexpected message %q", payload.Message)
	}
}

type fakeConn struct {
	id      string
	sent    [][]byte
	failing bool
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(data []byte) error {
	if f.failing {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func TestBroadcastSkipsFailingConnections(t *testing.T) {
	good := &fakeConn{id: "a"}
	bad := &fakeConn{id: "b", failing: true}
	alsoGood := &fakeConn{id: "c"}

	f := Build(types.TypeSystemState, map[string]int{"n": 1}, nil, "")
	Broadcast([]Sender{good, bad, alsoGood}, f)

	if len(good.sent) != 1 || len(alsoGood.sent) != 1 {
		t.Fatalf("expected both healthy connections to receive the frame")
	}
}
