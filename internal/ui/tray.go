// Package ui runs the system tray menu for the desktop build.
package ui

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/reelframe/reelframe-agent/internal/timeline"
)

// SessionSource reports what the tray should display.
type SessionSource interface {
	State() timeline.SessionState
	ProjectCount() int
	ExitProject()
}

type Tray struct {
	session SessionSource
	apiURL  string
	logger  *slog.Logger

	statusItem   *systray.MenuItem
	projectsItem *systray.MenuItem
	exitItem     *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Session SessionSource
	APIURL  string
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		session: cfg.Session,
		apiURL:  cfg.APIURL,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		stop:    make(chan struct{}),
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	icon, err := iconPNG()
	if err != nil {
		t.logger.Warn("tray icon unavailable", "error", err)
	} else {
		systray.SetIcon(icon)
	}
	systray.SetTitle("Reelframe")
	systray.SetTooltip("Reelframe " + t.apiURL)

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current session")
	t.statusItem.Disable()

	t.projectsItem = systray.AddMenuItem("Projects: 0", "Projects in this session")
	t.projectsItem.Disable()

	apiItem := systray.AddMenuItem("API: "+t.apiURL, "Local API address")
	apiItem.Disable()

	systray.AddSeparator()

	t.exitItem = systray.AddMenuItem("Close Project", "Return to the project list")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Reelframe")

	t.refresh()

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-t.exitItem.ClickedCh:
				t.session.ExitProject()
				t.refresh()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.stop:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.session.State()
	t.statusItem.SetTitle("Status: " + statusLabel(st))
	t.projectsItem.SetTitle(fmt.Sprintf("Projects: %d", t.session.ProjectCount()))
	if st.Active {
		t.exitItem.Enable()
	} else {
		t.exitItem.Disable()
	}
}

// statusLabel summarizes a session state in a few words.
func statusLabel(st timeline.SessionState) string {
	switch {
	case st.LastError != "":
		return "Error"
	case st.Exporting:
		return "Exporting"
	case !st.Active:
		return "Idle"
	case len(st.Selection) > 0:
		return fmt.Sprintf("Editing (%d selected)", len(st.Selection))
	default:
		return "Editing"
	}
}

func (t *Tray) Quit() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	systray.Quit()
}
