package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#00D4FF") // Cyan
	SecondaryColor = lipgloss.Color("#6C757D") // Gray
	AccentColor    = lipgloss.Color("#7C3AED") // Purple accent

	SuccessColor = lipgloss.Color("#10B981") // Green
	ErrorColor   = lipgloss.Color("#EF4444") // Red
	WarningColor = lipgloss.Color("#F59E0B") // Yellow/Amber
	InfoColor    = lipgloss.Color("#3B82F6") // Blue

	TextColor    = lipgloss.Color("#E5E7EB") // Light gray text
	MutedColor   = lipgloss.Color("#9CA3AF") // Muted text
	DimColor     = lipgloss.Color("#6B7280") // Dim text
	SurfaceColor = lipgloss.Color("#374151") // Surface/card background
	BorderColor  = lipgloss.Color("#4B5563") // Border gray
)

var (
	// TitleStyle is the main application title style
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// BoxStyle is the status panel container
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	// LogBoxStyle frames the log viewport
	LogBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(AccentColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(DimColor)

	timestampStyle = lipgloss.NewStyle().
			Foreground(DimColor)
)

// Status badge styles
var (
	SuccessBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(SuccessColor).
			Bold(true).
			Padding(0, 1)

	ErrorBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ErrorColor).
			Bold(true).
			Padding(0, 1)

	WarningBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(WarningColor).
			Bold(true).
			Padding(0, 1)

	InfoBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(InfoColor).
			Bold(true).
			Padding(0, 1)

	MutedBadge = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1)
)

// Success returns success-colored text
func Success(text string) string {
	return lipgloss.NewStyle().Foreground(SuccessColor).Render(text)
}

// Error returns error-colored text
func Error(text string) string {
	return lipgloss.NewStyle().Foreground(ErrorColor).Render(text)
}

// Warning returns warning-colored text
func Warning(text string) string {
	return lipgloss.NewStyle().Foreground(WarningColor).Render(text)
}

// Muted returns muted text
func Muted(text string) string {
	return lipgloss.NewStyle().Foreground(MutedColor).Render(text)
}
