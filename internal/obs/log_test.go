package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEventEmitsStructuredLine(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Warn("secret shorter than recommended", map[string]any{"length": 12})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("unexpected level: %v", entry["level"])
	}
	if entry["msg"] != "secret shorter than recommended" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["length"] != float64(12) {
		t.Fatalf("unexpected field: %v", entry["length"])
	}
	if entry["ts"] == "" {
		t.Fatal("missing timestamp")
	}
}
