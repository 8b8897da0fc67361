package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relayctl.log")
	logger, err := New("debug", "json", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log=%s", data)
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := New("loud", "json", ""); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New("info", "xml", ""); err == nil {
		t.Fatalf("expected format error")
	}
}
