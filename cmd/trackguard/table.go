package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"trackguard/internal/staging"
)

// draftTable renders staged drafts with numeric columns right-aligned.
func draftTable(drafts []*staging.PendingSubmission) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Page", "Track", "Key", "Scale", "BPM", "Updated"})

	for _, d := range drafts {
		tw.AppendRow(table.Row{
			d.ID,
			d.PageURL,
			draftTrackLabel(d),
			valueOrDash(d.KeyName),
			valueOrDash(d.Scale),
			formatBPM(d.BPM),
			d.UpdatedAt.Local().Format(time.RFC3339),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func draftTrackLabel(d *staging.PendingSubmission) string {
	switch {
	case d.TrackName != "" && d.TrackID != "":
		return fmt.Sprintf("%s (#%s)", d.TrackName, d.TrackID)
	case d.TrackName != "":
		return d.TrackName
	case d.TrackID != "":
		return "#" + d.TrackID
	default:
		return "-"
	}
}

func formatBPM(bpm int) string {
	if bpm <= 0 {
		return "-"
	}
	return strconv.Itoa(bpm)
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
