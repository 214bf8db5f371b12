package main

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
