package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "WARN")
	log.Info("dropped")
	log.Warn("kept", "ride_id", "r1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["ride_id"] != "r1" {
		t.Fatalf("unexpected record %v", rec)
	}
	if _, ok := rec["source"]; ok {
		t.Fatalf("source should only be added at debug level")
	}
}

func TestUnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "chatty").Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info, got %q", buf.String())
	}
}
