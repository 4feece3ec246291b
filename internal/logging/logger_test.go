package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerJSONWithDevice(t *testing.T) {
	var buf bytes.Buffer
	logger := ForDevice(newLogger(&buf, "debug", false), "device-1")
	logger.Debug("phase published", "phase", "authenticated")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if line["device_id"] != "device-1" {
		t.Fatalf("expected device_id attribute, got %v", line["device_id"])
	}
}

func TestNewLoggerInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "chatty", true)
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("expected info line in output: %s", out)
	}
}
