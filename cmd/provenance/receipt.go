package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bigkaa/provenance/internal/domain/model"
)

var (
	accentColor = lipgloss.Color("#50FA7B")
	mutedColor  = lipgloss.Color("#6272A4")
	fgColor     = lipgloss.Color("#F8F8F2")

	receiptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	receiptTitleStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	receiptLabelStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Width(12)

	receiptValueStyle = lipgloss.NewStyle().
				Foreground(fgColor)
)

// renderReceipt оформляет подтверждённую запись для терминала.
func renderReceipt(v model.RecordView, backend string) string {
	location := "не определена"
	if v.Latitude != nil && v.Longitude != nil {
		location = fmt.Sprintf("%.6f, %.6f", *v.Latitude, *v.Longitude)
	}
	timestamp := ""
	if v.Timestamp != nil {
		timestamp = v.Timestamp.UTC().Format(time.RFC3339)
	}

	rows := [][2]string{
		{"Файл", v.FileName},
		{"SHA-256", v.FileHash},
		{"Время", timestamp},
		{"Координаты", location},
		{"CID", v.IPFSCID + " (" + backend + ")"},
		{"Транзакция", v.TransactionHash},
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, receiptTitleStyle.Render("✓ Запись подтверждена реестром"))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			receiptLabelStyle.Render(r[0]),
			receiptValueStyle.Render(r[1]),
		))
	}
	return receiptStyle.Render(strings.Join(lines, "\n"))
}
