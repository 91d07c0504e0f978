package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrefixLogger(t *testing.T) {
	var out bytes.Buffer
	base := NewPlaneLoggerTo(&out, LevelInfo, true)
	logger := NewPrefixLogger(base, "replica")

	logger.Info("connected to %s", "db2")

	lastMsg := logger.GetLastMessage()
	if lastMsg == nil {
		t.Fatal("Expected to get stored message")
	}
	if lastMsg.Message != "replica: connected to db2" {
		t.Errorf("Unexpected message %q", lastMsg.Message)
	}

	logger.Record(LevelInfo, "db.delete", Fields{"count": 3})
	lastMsg = logger.GetLastMessage()
	if lastMsg.Fields["source"] != "replica" {
		t.Errorf("Expected source field, got %v", lastMsg.Fields)
	}
	if !strings.Contains(out.String(), `source="replica"`) {
		t.Errorf("Output %q does not carry the source", out.String())
	}
}

func TestPrefixLogger_LevelDelegation(t *testing.T) {
	base := NewPlaneLoggerTo(&bytes.Buffer{}, LevelError, true)
	logger := NewPrefixLogger(base, "x")

	logger.SetLevel(LevelDebug)
	if base.GetLevel() != LevelDebug {
		t.Errorf("Expected level to propagate, got %v", base.GetLevel())
	}

	if NewPrefixLogger(nil, "nil").GetLastMessage() != nil {
		t.Error("nil base must fall back to NopLogger")
	}
}
