package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Error("Expected error for invalid level")
		}
	})

	t.Run("FileOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "simscore.log")
		l, err := New(Config{Level: "info", Format: "console", File: &FileConfig{Enabled: true, Path: path}})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		l.WithComponent("test").WithRequestID("req-1").Info("hello")
		_ = l.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		for _, want := range []string{`"msg":"hello"`, `"component":"test"`, `"request_id":"req-1"`, `"timestamp"`} {
			if !strings.Contains(string(data), want) {
				t.Errorf("Log line missing %s: %s", want, data)
			}
		}
	})

	t.Run("SetLevelPropagates", func(t *testing.T) {
		l, err := New(Config{Level: "info", Format: "json"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		child := l.WithComponent("server")

		if err := l.SetLevel("error"); err != nil {
			t.Fatalf("SetLevel failed: %v", err)
		}
		if child.Level() != zapcore.ErrorLevel {
			t.Errorf("Child logger should follow parent level, got %s", child.Level())
		}
		if child.Core().Enabled(zapcore.InfoLevel) {
			t.Error("Info should be disabled after raising the level")
		}
		if err := l.SetLevel("verbose"); err == nil {
			t.Error("Expected error for invalid level")
		}
	})
}
