package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func TestHandleSkipsOwnMessages(t *testing.T) {
	r := &RabbitRelay{instance: "a", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	var got []string
	deliver := func(ns, id string, env []byte) { got = append(got, ns+"/"+id+":"+string(env)) }

	own, _ := json.Marshal(Message{Origin: "a", Namespace: "driver", ID: "d1", Envelope: json.RawMessage(`{"event":"x"}`)})
	other, _ := json.Marshal(Message{Origin: "b", Namespace: "rider", ID: "r1", Envelope: json.RawMessage(`{"event":"y"}`)})
	r.handle(own, deliver)
	r.handle(other, deliver)
	r.handle([]byte("not json"), deliver)

	if len(got) != 1 || got[0] != `rider/r1:{"event":"y"}` {
		t.Fatalf("unexpected deliveries %v", got)
	}
}
