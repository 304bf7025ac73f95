package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/gomlx/go-dataquality/tagging"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	errorStyle  = numberStyle.Foreground(lipgloss.Color("214"))
)

// renderTable renders rows under the given title. Columns after the first are right aligned.
func renderTable(title string, headers []string, rows [][]string, highlightRow int) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			case row == highlightRow:
				return errorStyle
			default:
				return numberStyle
			}
		})
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), t.Render())
}

// renderSpanSummary renders the counts per error type, and the error rate.
func renderSpanSummary(scheme tagging.Scheme, summary spanerrors.Summary) string {
	errorTypes := []spanerrors.ErrorType{
		spanerrors.None, spanerrors.WrongTag, spanerrors.MissedLabel, spanerrors.SpanShift, spanerrors.GhostSpan,
	}
	rows := make([][]string, 0, len(errorTypes)+1)
	for _, errorType := range errorTypes {
		count := summary.Counts[errorType]
		share := 0.0
		if summary.Total > 0 {
			share = float64(count) / float64(summary.Total)
		}
		rows = append(rows, []string{errorType.String(), strconv.Itoa(count), formatPercent(share)})
	}
	rows = append(rows, []string{"error rate", strconv.Itoa(summary.Total - summary.Counts[spanerrors.None]),
		formatPercent(summary.ErrorRate())})
	return renderTable(schemeTitle(scheme), []string{"error type", "spans", "share"}, rows, len(rows)-1)
}

// renderCounts renders a two-column table of named counts.
func renderCounts(title string, names []string, counts []int) string {
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, strconv.Itoa(counts[i])}
	}
	return renderTable(title, []string{"", "count"}, rows, -1)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", 100*v)
}
