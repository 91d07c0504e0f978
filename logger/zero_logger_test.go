package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestZeroLogger_Record(t *testing.T) {
	var out bytes.Buffer
	logger := NewZeroLogger(&out, LevelDebug, true)

	logger.Record(LevelInfo, "db.update", Fields{"count": 1, "sql": "UPDATE [t] SET [a]=:a"})

	var event map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &event); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, out.String())
	}
	if event["level"] != "info" {
		t.Errorf("Expected info level, got %v", event["level"])
	}
	if event["channel"] != "db.update" {
		t.Errorf("Expected channel db.update, got %v", event["channel"])
	}
	if event["sql"] != "UPDATE [t] SET [a]=:a" {
		t.Errorf("Expected sql field, got %v", event["sql"])
	}

	if msg := logger.GetLastMessage(); msg == nil || msg.Channel != "db.update" {
		t.Errorf("Expected stored record, got %v", msg)
	}
}

func TestZeroLogger_Filtering(t *testing.T) {
	var out bytes.Buffer
	logger := NewZeroLogger(&out, LevelInfo, false)

	logger.Debug("hidden")
	logger.Record(LevelDebug, "db.query", nil)
	if out.Len() != 0 {
		t.Errorf("Expected no output, got %q", out.String())
	}

	logger.Error("failed: %v", "boom")
	if !strings.Contains(out.String(), `"message":"failed: boom"`) {
		t.Errorf("Unexpected output %q", out.String())
	}
}
