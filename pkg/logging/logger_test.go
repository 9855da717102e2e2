package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Logger = logrus.New()
			if err := Init(tt.level, ""); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Logger.GetLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, Logger.GetLevel())
			}
		})
	}
}

func TestInit_WithNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "logs", "nested", "sentinel.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}
	Info("written to file")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Error("message missing from log file")
	}
}

func TestSetLevel(t *testing.T) {
	Logger = logrus.New()
	SetLevel("warn")
	if Logger.GetLevel() != logrus.WarnLevel {
		t.Errorf("expected warn, got %v", Logger.GetLevel())
	}
	SetLevel("nonsense")
	if Logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected fallback to info, got %v", Logger.GetLevel())
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogger(logrus.WarnLevel)

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	if buf.Len() > 0 {
		t.Errorf("debug/info should be filtered at warn level, got %q", buf.String())
	}

	Warnf("warn %s", "kept")
	if !strings.Contains(buf.String(), "warn kept") {
		t.Error("Warnf message not logged")
	}

	buf.Reset()
	Errorf("error %s", "kept")
	if !strings.Contains(buf.String(), "error kept") {
		t.Error("Errorf message not logged")
	}
}

func TestFatalf(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)
	code := -1
	Logger.ExitFunc = func(c int) { code = c }

	Fatalf("bad override %s", "SENTINEL_X")

	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "bad override SENTINEL_X") {
		t.Errorf("fatal message missing: %q", buf.String())
	}
}

func TestComponentAndFields(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	Component("liveness").WithFields(Fields{
		"state":   "CHALLENGE_TURN",
		"session": "abc",
	}).Info("transition")

	output := buf.String()
	for _, want := range []string{"component=liveness", "state=CHALLENGE_TURN", "session=abc", "transition"} {
		if !strings.Contains(output, want) {
			t.Errorf("output %q missing %q", output, want)
		}
	}
}

func TestWithError(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	WithError(errors.New("sidecar closed")).Error("detect failed")

	if !strings.Contains(buf.String(), "sidecar closed") {
		t.Error("error not in output")
	}
}

func TestUseJSON(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)
	UseJSON()

	WithField("score", 0.5).Info("report")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "report" {
		t.Errorf("unexpected msg field: %v", entry["msg"])
	}
}

func BenchmarkComponentWithFields(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})
	Logger.SetLevel(logrus.InfoLevel)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Component("pipeline").WithFields(Fields{"frame": i}).Info("processed")
	}
}
