package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #region test-new
func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewWritesJSONFileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "upm.log")
	logger, err := New(config.LoggingConfig{Level: "info", File: file})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("run started", zap.String("run_id", "abc"))
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"abc"`) {
		t.Errorf("sink missing structured field: %s", data)
	}
}

// #endregion test-new
