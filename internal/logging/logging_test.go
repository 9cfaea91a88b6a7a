package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLogger_LevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "api-server")

	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}

	log.Warn().Msg("kept")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["component"] != "api-server" {
		t.Errorf("expected component api-server, got %v", entry["component"])
	}
	if entry["message"] != "kept" {
		t.Errorf("expected message 'kept', got %v", entry["message"])
	}
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "loud", "seed")

	log.Debug().Msg("dropped")
	log.Info().Msg("kept")

	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("expected exactly one line, got %q", buf.String())
	}
}

func TestAsynqLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewAsynqLogger(newLogger(&buf, "debug", "notify-worker"))

	l.Warn("queue ", "default", " paused")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["message"] != "queue default paused" {
		t.Errorf("unexpected message %v", entry["message"])
	}
	if entry["subsystem"] != "asynq" {
		t.Errorf("expected subsystem asynq, got %v", entry["subsystem"])
	}
}
