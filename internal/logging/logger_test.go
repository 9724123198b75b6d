package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	Component(logger, "sync").WithField("pending", 3).Debug("queue drained")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "queue drained" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["component"] != "sync" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["pending"] != float64(3) {
		t.Errorf("pending = %v", entry["pending"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskly.log")
	var buf bytes.Buffer

	logger, err := New(Config{File: path, MaxSizeMB: 1, MaxBackups: 1, Output: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.Info("persisted entry")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "persisted entry") {
		t.Errorf("log file content = %q", string(data))
	}
	if !strings.Contains(buf.String(), "persisted entry") {
		t.Error("entry missing from primary output")
	}
}
