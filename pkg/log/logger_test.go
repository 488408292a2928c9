package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/YuminosukeSato/newsclf/pkg/errors"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestZerologLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelInfo, false).With(ModelNameKey, "random_forest")

	logger.Debug("hidden")
	logger.Info("training finished", AccuracyKey, 0.93, SamplesKey, 100)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["message"] != "training finished" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry[ModelNameKey] != "random_forest" {
		t.Errorf("%s = %v", ModelNameKey, entry[ModelNameKey])
	}
	if entry[AccuracyKey] != 0.93 {
		t.Errorf("%s = %v", AccuracyKey, entry[AccuracyKey])
	}
	if !logger.Enabled(context.Background(), LevelWarn) || logger.Enabled(context.Background(), LevelDebug) {
		t.Error("Enabled() does not follow the configured level")
	}
}

func TestZerologLoggerLeadingError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(&buf, LevelDebug, false)

	logger.Error("predict failed", errors.NewNotFittedError("LogisticRegression", "Predict"), OperationKey, OperationPredict)

	out := buf.String()
	if !strings.Contains(out, `"error":"newsclf: LogisticRegression: this model is not fitted yet`) {
		t.Errorf("error field missing: %s", out)
	}
	if !strings.Contains(out, `"type":"NotFittedError"`) {
		t.Errorf("structured error detail missing: %s", out)
	}
	if !strings.Contains(out, `"ml.operation":"predict"`) {
		t.Errorf("operation field missing: %s", out)
	}
}

func TestCloudHandlerAddsStacktrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(NewCloudHandler(&buf, LevelInfo)))

	logger.Error("load failed", errors.Wrap(errors.ErrModelNotLoaded, "serve"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["severity"] != "ERROR" {
		t.Errorf("severity = %v, want ERROR", entry["severity"])
	}
	if entry["message"] != "load failed" {
		t.Errorf("message = %v", entry["message"])
	}
	if s, _ := entry[StacktraceAttrKey].(string); s == "" {
		t.Error("expected stacktrace attribute")
	}
}

func TestSetupRoutesWarnings(t *testing.T) {
	var buf bytes.Buffer
	prev := currentProvider()
	defer SetProvider(prev)
	defer errors.SetZerologWarnFunc(nil)

	if _, err := Setup(Options{Level: "info", Format: FormatJSON, Output: &buf}); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	errors.Warn(errors.NewConvergenceWarning("lbfgs", 5, ""))

	out := buf.String()
	if !strings.Contains(out, "lbfgs failed to converge") {
		t.Errorf("warning not logged: %s", out)
	}
	if !strings.Contains(out, `"ml.component":"warnings"`) {
		t.Errorf("component missing: %s", out)
	}
}

func TestNewProviderRejectsUnknownFormat(t *testing.T) {
	if _, err := NewProvider(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewProvider(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestTestLoggerWith(t *testing.T) {
	provider, captured := NewTestLoggerProvider(LevelDebug)
	prev := currentProvider()
	SetProvider(provider)
	defer SetProvider(prev)

	GetLoggerWithName("server").With(RequestIDKey, "abc").Info("request", PredsKey, 1)

	if !captured.ContainsField(ComponentKey, "server") {
		t.Error("component field missing")
	}
	if !captured.ContainsField(RequestIDKey, "abc") {
		t.Error("request id field missing")
	}
	if !captured.ContainsField(PredsKey, 1.0) {
		t.Error("preds field missing")
	}
}
