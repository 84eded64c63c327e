package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

// captureLogOutputWithInit captures output by reinitializing the logger
// to write to a buffer. This tests the actual InitLogger ReplaceAttr logic.
func captureLogOutputWithInit(level Level, format Format, f func()) string {
	var buf bytes.Buffer
	prev := SetOutput(&buf)

	InitLogger(level, format)
	f()

	SetOutput(prev)
	InitLogger(LevelInfo, FormatJSON)
	return buf.String()
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		format Format
	}{
		{"Debug level JSON format", LevelDebug, FormatJSON},
		{"Info level JSON format", LevelInfo, FormatJSON},
		{"Warn level JSON format", LevelWarn, FormatJSON},
		{"Error level JSON format", LevelError, FormatJSON},
		{"Info level Text format", LevelInfo, FormatText},
		{"Info level Auto format", LevelInfo, FormatAuto},
		{"Default level (invalid value)", Level(999), FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level, tt.format)
			if GetLogger() == nil {
				t.Error("Expected logger to be initialized, got nil")
			}
		})
	}
	InitLogger(LevelInfo, FormatJSON)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   Level
		wantOK bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{" error ", LevelError, true},
		{"loud", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in     string
		want   Format
		wantOK bool
	}{
		{"json", FormatJSON, true},
		{"Text", FormatText, true},
		{"auto", FormatAuto, true},
		{"", FormatAuto, true},
		{"xml", FormatAuto, false},
	}
	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFormat(%q) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	if got := resolveFormat(FormatAuto, &buf); got != FormatJSON {
		t.Errorf("resolveFormat(auto, buffer) = %v, want FormatJSON", got)
	}
	if got := resolveFormat(FormatText, &buf); got != FormatText {
		t.Errorf("resolveFormat(text, buffer) = %v, want FormatText", got)
	}
}

func TestInitLoggerTextOutput(t *testing.T) {
	output := captureLogOutputWithInit(LevelDebug, FormatText, func() {
		Debug("text message", "k", "v")
	})
	if !strings.Contains(output, "msg=\"text message\"") || !strings.Contains(output, "k=v") {
		t.Errorf("text output = %q", output)
	}
}

func TestInitLoggerLevelFilter(t *testing.T) {
	output := captureLogOutputWithInit(LevelWarn, FormatJSON, func() {
		Info("hidden")
		Warn("shown")
	})
	if strings.Contains(output, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(output, "shown") {
		t.Error("warn message missing")
	}
}

func TestReplaceAttrTimestamp(t *testing.T) {
	output := captureLogOutputWithInit(LevelInfo, FormatJSON, func() {
		Info("stamp")
	})
	// RFC3339 timestamps carry a 'T' separator and no fractional seconds.
	if !strings.Contains(output, `"time":"`) {
		t.Fatalf("no time attribute in %q", output)
	}
	start := strings.Index(output, `"time":"`) + len(`"time":"`)
	end := strings.Index(output[start:], `"`)
	if _, err := time.Parse(time.RFC3339, output[start:start+end]); err != nil {
		t.Errorf("time %q is not RFC3339: %v", output[start:start+end], err)
	}
}

func TestOr(t *testing.T) {
	if Or(nil) != GetLogger() {
		t.Error("Or(nil) should return the global logger")
	}
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Or(l) != l {
		t.Error("Or(l) should return l")
	}
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"with request ID", WithRequestID(context.Background(), "req-1"), "req-1"},
		{"without request ID", context.Background(), ""},
		{"wrong type", context.WithValue(context.Background(), RequestIDKey, 42), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetRequestID(tt.ctx); got != tt.want {
				t.Errorf("GetRequestID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	output := captureLogOutput(func() {
		ctx := WithRequestID(context.Background(), "req-ctx")
		InfoContext(ctx, "with id")
	})
	if !strings.Contains(output, `"request_id":"req-ctx"`) {
		t.Errorf("output missing request_id: %q", output)
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func()
		want    string
	}{
		{"Debug", func() { Debug("debug message", "key", "value") }, "debug message"},
		{"Info", func() { Info("info message", "key", "value") }, "info message"},
		{"Warn", func() { Warn("warn message", "key", "value") }, "warn message"},
		{"Error", func() { Error("error message", "key", "value") }, "error message"},
		{"DebugContext", func() { DebugContext(context.Background(), "ctx debug") }, "ctx debug"},
		{"WarnContext", func() { WarnContext(context.Background(), "ctx warn") }, "ctx warn"},
		{"ErrorContext", func() { ErrorContext(context.Background(), "ctx error") }, "ctx error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(tt.logFunc)
			if !strings.Contains(output, tt.want) {
				t.Errorf("Expected output to contain %q, got: %s", tt.want, output)
			}
		})
	}
}

func TestDomainEvents(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func()
		want    []string
	}{
		{
			name:    "WALOpened",
			logFunc: func() { WALOpened(nil, "/tmp/x.db-wal", 3, 4096) },
			want:    []string{`"msg":"wal_opened"`, `"frames":3`, `"page_size":4096`},
		},
		{
			name:    "EvidencePreserved",
			logFunc: func() { EvidencePreserved(nil, "a-wal", "a-wal.bak", "abcd", true) },
			want:    []string{`"msg":"evidence_preserved"`, `"backup":"a-wal.bak"`, `"reused":true`},
		},
		{
			name:    "PageSkipped",
			logFunc: func() { PageSkipped(nil, 7, errors.New("cycle"), "table", "t") },
			want:    []string{`"msg":"page_skipped"`, `"page":7`, `"error":"cycle"`, `"table":"t"`},
		},
		{
			name:    "WebSocketEvent",
			logFunc: func() { WebSocketEvent("connected", 2) },
			want:    []string{`"msg":"websocket_event"`, `"client_count":2`},
		},
		{
			name:    "ServerStartup",
			logFunc: func() { ServerStartup("stream", "127.0.0.1:8765") },
			want:    []string{`"msg":"server_startup"`, `"addr":"127.0.0.1:8765"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(tt.logFunc)
			for _, w := range tt.want {
				if !strings.Contains(output, w) {
					t.Errorf("output missing %s: %s", w, output)
				}
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		existingHeader string
		checkFunc      func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name: "Generate new request ID",
			checkFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				reqID := w.Header().Get("X-Request-ID")
				if _, err := uuid.Parse(reqID); err != nil {
					t.Errorf("request ID %q is not a UUID: %v", reqID, err)
				}
			},
		},
		{
			name:           "Replace malformed request ID",
			existingHeader: "bad id\r\nX-Injected: 1",
			checkFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				if _, err := uuid.Parse(w.Header().Get("X-Request-ID")); err != nil {
					t.Errorf("malformed request ID was not replaced: %q", w.Header().Get("X-Request-ID"))
				}
			},
		},
		{
			name:           "Use existing request ID from header",
			existingHeader: "existing-req-id-123",
			checkFunc: func(t *testing.T, w *httptest.ResponseRecorder) {
				if reqID := w.Header().Get("X-Request-ID"); reqID != "existing-req-id-123" {
					t.Errorf("Expected request ID 'existing-req-id-123', got '%s'", reqID)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if GetRequestID(r.Context()) == "" {
					t.Error("Expected request ID in context")
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.existingHeader != "" {
				req.Header.Set("X-Request-ID", tt.existingHeader)
			}
			w := httptest.NewRecorder()
			RequestIDMiddleware(handler).ServeHTTP(w, req)

			tt.checkFunc(t, w)
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus string
	}{
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantStatus: `"status_code":404`,
		},
		{
			name: "implicit status from Write",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("ok"))
			},
			wantStatus: `"bytes":2`,
		},
		{
			name:       "no write at all",
			handler:    func(w http.ResponseWriter, r *http.Request) {},
			wantStatus: `"status_code":200`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(func() {
				req := httptest.NewRequest("GET", "/summary", nil)
				w := httptest.NewRecorder()
				CombinedMiddleware(tt.handler).ServeHTTP(w, req)
			})
			if !strings.Contains(output, tt.wantStatus) {
				t.Errorf("output missing %s: %s", tt.wantStatus, output)
			}
			if !strings.Contains(output, `"path":"/summary"`) {
				t.Errorf("output missing path: %s", output)
			}
		})
	}
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	sr := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := sr.Hijack(); !errors.Is(err, http.ErrNotSupported) {
		t.Errorf("Hijack() error = %v, want ErrNotSupported", err)
	}
}

func TestStatusRecorderWriteHeaderOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	sr.WriteHeader(http.StatusTeapot)
	sr.WriteHeader(http.StatusInternalServerError)
	if sr.status != http.StatusTeapot || rec.Code != http.StatusTeapot {
		t.Errorf("status = %d/%d, want %d", sr.status, rec.Code, http.StatusTeapot)
	}
}

func TestValidRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc-123_x.y", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := validRequestID(tt.id); got != tt.want {
			t.Errorf("validRequestID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
