package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/jonandersen/apca/internal/output"
)

// Palette (256-color codes).
const (
	ColorPrimary    = lipgloss.Color("39")
	ColorMuted      = lipgloss.Color("241")
	ColorBackground = lipgloss.Color("236")
	ColorSelected   = lipgloss.Color("57")
	ColorSelectedFg = lipgloss.Color("229")
	ColorGain       = lipgloss.Color("82")
	ColorLoss       = lipgloss.Color("196")
	ColorWarning    = lipgloss.Color("220")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorBackground).
			Padding(0, 1)

	ContentStyle = lipgloss.NewStyle().Padding(1, 2)

	KeyStyle  = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	DescStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	SummaryStyle = lipgloss.NewStyle().Bold(true)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	ValueStyle   = lipgloss.NewStyle().Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorLoss)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1)
)

var (
	paperBadge = lipgloss.NewStyle().Foreground(ColorGain).Background(ColorBackground).Bold(true)
	liveBadge  = lipgloss.NewStyle().Foreground(ColorBackground).Background(ColorLoss).Bold(true).Padding(0, 1)

	gainStyle = lipgloss.NewStyle().Foreground(ColorGain)
	lossStyle = lipgloss.NewStyle().Foreground(ColorLoss)
)

// TableStyles returns the styles shared by the position, quote and order
// tables.
func TableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(ColorSelectedFg).
		Background(ColorSelected).
		Bold(true)
	return s
}

// envBadge marks the header with the trading environment. Live trading
// gets the loud one.
func envBadge(paper bool) string {
	if paper {
		return paperBadge.Render("paper")
	}
	return liveBadge.Render("LIVE")
}

func tabStyle(active bool) lipgloss.Style {
	s := lipgloss.NewStyle().Padding(0, 1)
	if active {
		return s.Bold(true).Foreground(ColorPrimary)
	}
	return s.Foreground(ColorMuted)
}

// gainLoss renders a signed money amount, green for gains and red for
// losses. Zero stays muted.
func gainLoss(d decimal.Decimal) string {
	s := output.GainLoss(d)
	switch d.Sign() {
	case 1:
		return gainStyle.Render(s)
	case -1:
		return lossStyle.Render(s)
	default:
		return LabelStyle.Render(s)
	}
}

// field renders "Label: value" for summary lines.
func field(label, value string) string {
	return LabelStyle.Render(label+": ") + ValueStyle.Render(value)
}

func errorLine(err error) string {
	return ErrorStyle.Render(fmt.Sprintf("Error: %v", err))
}
