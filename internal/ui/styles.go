// Package ui renders the one-shot command reports.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"swarmbot.klederson.com/internal/bluetooth"
	"swarmbot.klederson.com/internal/heading"
	"swarmbot.klederson.com/internal/packet"
)

// Matrix color palette
var (
	ColorMatrixGreen = lipgloss.Color("#00FF41")
	ColorGreen       = lipgloss.Color("#00CC33")
	ColorMidGreen    = lipgloss.Color("#008F11")
	ColorDimGreen    = lipgloss.Color("#004A0A")
	ColorBeacon      = lipgloss.Color("#00FFAA")
	ColorBorderNorm  = lipgloss.Color("#00AA22")
	ColorWarning     = lipgloss.Color("#FFAA00")
)

// Pre-built styles
var (
	StylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorderNorm).
			Padding(0, 1)

	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorMatrixGreen).
			Bold(true)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorMidGreen).
			Width(10)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorGreen)

	StyleBeacon = lipgloss.NewStyle().
			Foreground(ColorBeacon).
			Bold(true)

	StyleBystander = lipgloss.NewStyle().
			Foreground(ColorDimGreen)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)
)

type row struct{ label, value string }

func panel(title string, rows []row) string {
	lines := []string{StyleTitle.Render(title)}
	for _, r := range rows {
		lines = append(lines, StyleLabel.Render(r.label)+StyleValue.Render(r.value))
	}
	return StylePanel.Render(strings.Join(lines, "\n"))
}

// RenderPacket shows a decoded advertisement.
func RenderPacket(d packet.Decoded) string {
	s := d.State
	rows := []row{
		{"form", d.Variant.String()},
		{"raw", fmt.Sprintf("% X", d.Raw)},
		{"x", fmt.Sprintf("%.2f m", s.X)},
		{"y", fmt.Sprintf("%.2f m", s.Y)},
	}
	if d.HasHead {
		rows = append(rows, row{"heading", fmt.Sprintf("%.0f° %s", s.Heading, heading.Direction(s.Heading))})
	}
	rows = append(rows,
		row{"battery", fmt.Sprintf("%d/255", s.Battery)},
		row{"sound", fmt.Sprintf("%d", s.Sound)},
	)
	return panel("Bot advertisement", rows)
}

// RenderCalibration shows a hard-iron correction.
func RenderCalibration(c heading.Calibration) string {
	v := func(x heading.Vector) string { return fmt.Sprintf("%.1f  %.1f  %.1f", x.X, x.Y, x.Z) }
	rows := []row{
		{"offset", v(c.Offset)},
		{"scale", fmt.Sprintf("%.5f  %.5f  %.5f", c.Scale.X, c.Scale.Y, c.Scale.Z)},
		{"samples", humanize.Comma(int64(c.Samples))},
	}
	out := panel("Compass calibration", rows)
	if !c.Calibrated {
		out += "\n" + StyleWarning.Render("not calibrated")
	}
	return out
}

// RenderSurvey lists the devices heard, beacons highlighted. now is the
// reference for the "last seen" column.
func RenderSurvey(devices []bluetooth.Device, now time.Time) string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render(fmt.Sprintf("%d devices", len(devices))))
	for _, d := range devices {
		style := StyleBystander
		if d.Beacon {
			style = StyleBeacon
		}
		b.WriteString("\n")
		b.WriteString(style.Render(fmt.Sprintf("%-18s %-16s %6.1f dBm %5.2f m %4d  %s",
			d.DisplayName(), d.Address, d.RSSI, d.Distance, d.Samples,
			humanize.RelTime(d.LastSeen, now, "ago", "from now"),
		)))
	}
	return StylePanel.Render(b.String())
}
