package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Development(t *testing.T) {
	log, err := New(Options{Development: true})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should log debug by default")
	}
	log.Info("test message")
}

func TestNew_Production(t *testing.T) {
	log, err := New(Options{Version: "v1.2.3"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("production logger should not log debug by default")
	}
}

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level     string
		debugOn   bool
		infoOn    bool
		wantError bool
	}{
		{level: "debug", debugOn: true, infoOn: true},
		{level: "info", infoOn: true},
		{level: "warn"},
		{level: "error"},
		{level: "loud", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(Options{Level: tt.level})
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := log.Core().Enabled(zapcore.DebugLevel); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := log.Core().Enabled(zapcore.InfoLevel); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
		})
	}
}
