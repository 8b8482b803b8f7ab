package tray

import (
	"testing"

	"github.com/petems/voicewatch/internal/app"
	"github.com/petems/voicewatch/internal/engine"
)

func TestLevelBar(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0, "▯▯▯▯"},
		{0.5, "▮▮▯▯"},
		{1, "▮▮▮▮"},
		{3, "▮▮▮▮"},
		{-1, "▯▯▯▯"},
	}
	for _, tt := range tests {
		if got := levelBar(tt.level, 4); got != tt.want {
			t.Errorf("levelBar(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestEmojiForStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  app.Status
		showErr bool
		want    string
	}{
		{"listening", app.Status{Online: true, State: engine.StateListening}, false, "🟢"},
		{"offline", app.Status{Online: false, State: engine.StateListening}, false, "🟡"},
		{"recovering", app.Status{Online: true, State: engine.StateRecovering}, false, "🔴"},
		{"calibrating", app.Status{Online: true, State: engine.StateCalibrating}, false, "🟡"},
		{"error", app.Status{Online: true, State: engine.StateListening}, true, "⚪️"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := emojiForStatus(tt.status, tt.showErr); got != tt.want {
				t.Errorf("emojiForStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleFor(t *testing.T) {
	s := app.Status{Level: 0.25, Online: true, State: engine.StateListening}
	if got, want := titleFor(s, false), "🎤 🟢 ▮▮▯▯▯▯▯▯"; got != want {
		t.Errorf("titleFor() = %q, want %q", got, want)
	}
}

func TestLabels(t *testing.T) {
	if got := gainLabel(1.5); got != "Gain: 1.5x" {
		t.Errorf("gainLabel() = %q", got)
	}
	if got := deviceLabel("USB Mic", true); got != "USB Mic (default)" {
		t.Errorf("deviceLabel() = %q", got)
	}
	if got := backendLabel(false); got != "Backend: offline" {
		t.Errorf("backendLabel() = %q", got)
	}
	if got := truncate("selamat pagi semua", 8); got != "selamat…" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("halo", 8); got != "halo" {
		t.Errorf("truncate() = %q", got)
	}
}
