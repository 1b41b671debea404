package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dock108/aicli-companion/internal/supervisor"
)

// Options configures the dashboard.
type Options struct {
	// Start is the template passed to every start action.
	Start supervisor.StartOptions
	// LocalIP is shown next to the port for pairing mobile clients.
	LocalIP string
	// MaxLogEntries caps the dashboard's log copy.
	MaxLogEntries int
}

// Run starts the dashboard and blocks until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, opts Options) error {
	logs, cancel := ctrl.SubscribeLogs(logBuffer)
	defer cancel()

	p := tea.NewProgram(NewModel(ctrl, opts, logs), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
