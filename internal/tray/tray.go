package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/petems/voicewatch/internal/app"
	"github.com/petems/voicewatch/internal/engine"
	"github.com/petems/voicewatch/internal/logging"
)

const (
	refreshInterval = 150 * time.Millisecond
	meterWidth      = 8
	transcriptWidth = 48
)

// gainPresets are the gain submenu entries.
var gainPresets = []float64{0.5, 1, 1.5, 2, 3, 5, 10}

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger

	mu       sync.Mutex
	ready    bool
	errMsg   string
	errUntil time.Time

	// Menu items
	mState   *systray.MenuItem
	mBackend *systray.MenuItem
	mLast    *systray.MenuItem
	mDevices *systray.MenuItem
	mGain    *systray.MenuItem
	mRestart *systray.MenuItem
	mCopy    *systray.MenuItem
}

func New(application *app.App, logger zerolog.Logger, version, commit string) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     logger.With().Str("component", "tray").Logger(),
	}
}

// Status update methods for the app to call

func (u *UI) SetTranscript(text string) {
	u.mu.Lock()
	ready := u.ready
	u.mu.Unlock()
	if ready {
		u.mLast.SetTitle("Last: " + truncate(text, transcriptWidth))
		u.mCopy.Enable()
	}
}

func (u *UI) SetError(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errMsg = msg
	u.errUntil = time.Now().Add(10 * time.Second)
}

// Run blocks until Quit is chosen or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(func() { u.onReady(ctx) }, u.onExit)
	return nil
}

func (u *UI) onReady(ctx context.Context) {
	systray.SetTitle(titleFor(u.app.Status(), false))
	systray.SetTooltip("Continuous speech recognition")

	u.mState = systray.AddMenuItem("State: starting", "Capture state")
	u.mState.Disable()
	u.mBackend = systray.AddMenuItem("Backend: online", "Recognition backend")
	u.mBackend.Disable()
	u.mLast = systray.AddMenuItem("Last: (nothing yet)", "Most recent transcript")
	u.mLast.Disable()
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	u.mGain = systray.AddMenuItem(gainLabel(u.app.Status().Gain), "Manual input gain")
	u.buildGainMenu()

	systray.AddSeparator()
	u.mRestart = systray.AddMenuItem("Restart Listening", "Reopen the microphone")
	u.mCopy = systray.AddMenuItem("Copy Last Transcript", "Copy to clipboard")
	u.mCopy.Disable()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About voicewatch")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()

	// Event loop
	go u.refresh(ctx)
	go u.handleEvents(ctx, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(ctx context.Context, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mRestart.ClickedCh:
			if err := u.app.Restart(ctx); err != nil {
				u.log.Error().Err(err).Msg("Failed to restart listening")
			}
		case <-u.mCopy.ClickedCh:
			u.copyLast()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		case <-ctx.Done():
			return
		}
	}
}

// refresh polls the app and redraws the title meter and status items.
func (u *UI) refresh(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var lastTitle, lastState, lastBackend string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := u.app.Status()
		u.mu.Lock()
		showErr := u.errMsg != "" && time.Now().Before(u.errUntil)
		u.mu.Unlock()

		if title := titleFor(s, showErr); title != lastTitle {
			systray.SetTitle(title)
			lastTitle = title
		}
		if state := "State: " + s.State.String(); state != lastState {
			u.mState.SetTitle(state)
			lastState = state
		}
		if backend := backendLabel(s.Online); backend != lastBackend {
			u.mBackend.SetTitle(backend)
			lastBackend = backend
		}
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	current := u.app.Status().Device
	deviceItems := make(map[int]*systray.MenuItem)

	defaultItem := u.mDevices.AddSubMenuItem("System Default", "")
	if current == nil {
		defaultItem.Check()
	}
	deviceItems[-1] = defaultItem
	go u.watchDevice(defaultItem, nil, "System Default", deviceItems)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(deviceLabel(dev.Name, dev.Default), "")
		if current != nil && *current == dev.Index {
			item.Check()
		}
		deviceItems[dev.Index] = item

		idx := dev.Index
		go u.watchDevice(item, &idx, dev.Name, deviceItems)
	}
}

func (u *UI) watchDevice(menuItem *systray.MenuItem, index *int, name string, items map[int]*systray.MenuItem) {
	key := -1
	if index != nil {
		key = *index
	}
	for range menuItem.ClickedCh {
		// Uncheck all other items
		for k, itm := range items {
			if k != key {
				itm.Uncheck()
			}
		}
		menuItem.Check()
		if err := u.app.SetDevice(index); err != nil {
			u.log.Error().Err(err).Msg("Failed to save audio device")
		}
		u.log.Info().Str("device", name).Msg("Changed audio device")
	}
}

func (u *UI) buildGainMenu() {
	current := u.app.Status().Gain
	gainItems := make(map[float64]*systray.MenuItem)

	for _, g := range gainPresets {
		item := u.mGain.AddSubMenuItem(fmt.Sprintf("%gx", g), "")
		if g == current {
			item.Check()
		}
		gainItems[g] = item

		go func(gain float64, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				for v, itm := range gainItems {
					if v != gain {
						itm.Uncheck()
					}
				}
				menuItem.Check()
				if err := u.app.SetGain(gain); err != nil {
					u.log.Error().Err(err).Msg("Failed to save gain")
				}
				u.mGain.SetTitle(gainLabel(gain))
			}
		}(g, item)
	}
}

func (u *UI) copyLast() {
	last, ok := u.app.LastTranscript()
	if !ok {
		return
	}
	if err := clipboard.WriteAll(last.Text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy transcript")
		return
	}
	u.log.Debug().Msg("Copied last transcript")
}

func (u *UI) openLogs() {
	path := logging.Path()
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	u.log.Info().Str("version", u.version).Str("commit", u.commit).Msg("voicewatch")
}

func (u *UI) onExit() {
	u.mu.Lock()
	u.ready = false
	u.mu.Unlock()
}

// titleFor renders the tray title: microphone, status dot, level meter.
func titleFor(s app.Status, showErr bool) string {
	return fmt.Sprintf("🎤 %s %s", emojiForStatus(s, showErr), levelBar(s.Level, meterWidth))
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(s app.Status, showErr bool) string {
	switch {
	case showErr:
		return "⚪️" // White - error
	case s.State == engine.StateRecovering || s.State == engine.StateStopped:
		return "🔴" // Red - no microphone
	case !s.Online:
		return "🟡" // Yellow - backend offline
	case s.State == engine.StateListening:
		return "🟢" // Green - listening
	default:
		return "🟡"
	}
}

// levelBar draws level in [0, 1] as width cells.
func levelBar(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return strings.Repeat("▮", filled) + strings.Repeat("▯", width-filled)
}

func gainLabel(g float64) string {
	return fmt.Sprintf("Gain: %gx", g)
}

func backendLabel(online bool) string {
	if online {
		return "Backend: online"
	}
	return "Backend: offline"
}

func deviceLabel(name string, isDefault bool) string {
	if isDefault {
		return name + " (default)"
	}
	return name
}

func truncate(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-1]) + "…"
}
