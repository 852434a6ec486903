package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferLogger(buf *bytes.Buffer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
		}),
		zapcore.AddSync(buf),
		level,
	)
	l := zap.New(core)
	return &Logger{Logger: l, sugar: l.Sugar()}
}

// ============================================================
// Тесты InitLogger
// ============================================================

func TestInitLogger_Defaults(t *testing.T) {
	logger := InitLogger(LogConfig{})

	if logger == nil || logger.Logger == nil || logger.sugar == nil {
		t.Fatal("InitLogger returned incomplete logger")
	}
}

func TestInitLogger_Formats(t *testing.T) {
	for _, cfg := range []LogConfig{
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "debug", Format: "text", Development: true},
	} {
		if InitLogger(cfg) == nil {
			t.Fatalf("InitLogger returned nil for %+v", cfg)
		}
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "logger_test_*.log")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	logger := InitLogger(LogConfig{
		Level:  "info",
		Format: "json",
		Output: tmpFile.Name(),
	})

	logger.Info("mt5 connected", MT5Login("12345"), BrokerServer("Broker-Live"))
	logger.Sync()

	content, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("Log entry is not valid JSON: %v", err)
	}
	if entry["mt5_login"] != "12345" || entry["broker_server"] != "Broker-Live" {
		t.Errorf("domain fields missing: %v", entry)
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	// fallback на stderr, без паники
	logger := InitLogger(LogConfig{
		Level:  "info",
		Output: "/nonexistent/directory/log.txt",
	})
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	logger := GetGlobalLogger()
	if logger == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if GetGlobalLogger() != logger || L() != logger {
		t.Error("global logger should be created once")
	}

	custom := InitLogger(LogConfig{Level: "warn"})
	SetGlobalLogger(custom)
	if L() != custom {
		t.Error("SetGlobalLogger did not set the logger")
	}
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetGlobalLogger(bufferLogger(&buf, zapcore.DebugLevel))

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	Infof("poll %s attempt %d", "deploy", 3)

	output := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message", "poll deploy attempt 3"} {
		if !strings.Contains(output, want) {
			t.Errorf("%q not found in output", want)
		}
	}
}

// ============================================================
// Поля и дочерние логгеры
// ============================================================

func TestLogger_WithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf, zapcore.InfoLevel)

	child := logger.WithComponent("mt5").WithRequestID("req-1").WithUserID(7)
	if child == logger {
		t.Fatal("With helpers should return a new logger")
	}
	child.Info("connect")

	for _, want := range []string{`"component":"mt5"`, `"request_id":"req-1"`, `"user_id":7`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("%s not found in %s", want, buf.String())
		}
	}
}

func TestFieldConstructors(t *testing.T) {
	var buf bytes.Buffer
	logger := bufferLogger(&buf, zapcore.InfoLevel)

	logger.Info("test",
		MT5Login("12345"),
		BrokerServer("Broker-Live"),
		RemoteAccount("acc-1"),
		Stage("provision"),
		Attempt(4),
		Latency(1500*time.Microsecond),
	)

	output := buf.String()
	for _, want := range []string{
		`"mt5_login":"12345"`,
		`"broker_server":"Broker-Live"`,
		`"remote_account_id":"acc-1"`,
		`"stage":"provision"`,
		`"attempt":4`,
		`"latency_ms":1.5`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("%s not found in %s", want, output)
		}
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	if l.Sugar() == nil {
		t.Fatal("Sugar returned nil")
	}
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: "/dev/null"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("poll", Stage("deploy"), Attempt(i))
	}
}
