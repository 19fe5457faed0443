package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLoggerWithFileHonoursLevel(t *testing.T) {
	tests := []struct {
		level     zapcore.Level
		wantDebug bool
	}{
		{zapcore.DebugLevel, true},
		{zapcore.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "logs", "node.log")
			logger, err := NewLoggerWithFile(path, tt.level)
			if err != nil {
				t.Fatalf("logger: %v", err)
			}
			logger.Debug("limit_order_created", zap.Uint64("id", 7))
			logger.Info("node_starting")
			logger.Sync()

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			out := string(data)
			if !strings.Contains(out, `"msg":"node_starting"`) {
				t.Errorf("info entry missing:\n%s", out)
			}
			if got := strings.Contains(out, "limit_order_created"); got != tt.wantDebug {
				t.Errorf("debug entry written = %v, want %v:\n%s", got, tt.wantDebug, out)
			}
			if !strings.Contains(out, `"ts":`) || !strings.Contains(out, `"level":"INFO"`) {
				t.Errorf("unexpected layout:\n%s", out)
			}
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(zapcore.WarnLevel)
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info enabled on a warn logger")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error disabled on a warn logger")
	}
}
