package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewToFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTo(&buf, "chatty")

	logger.Debug("hidden")
	logger.Info("shown", Entry("w-1", "tx-1", "deposit"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" {
		t.Fatalf("unexpected message %v", line["msg"])
	}
	entry, ok := line["entry"].(map[string]any)
	if !ok || entry["tx_id"] != "tx-1" {
		t.Fatalf("expected grouped entry attributes, got %v", line["entry"])
	}
}
