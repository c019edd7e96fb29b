package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/interaction"
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderRecord(w io.Writer, record content.CanonicalRecord) {
	writer := table.NewWriter()
	writer.SetOutputMirror(w)
	writer.SetStyle(table.StyleLight)
	writer.SetTitle(recordTitle(record))
	writer.AppendHeader(table.Row{"Field", "Value", "Source"})

	names := make([]string, 0, len(record.Fields))
	for name := range record.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writer.AppendRow(table.Row{name, formatValue(record.Fields[name]), string(record.Sources[name])})
	}
	writer.Render()
}

func recordTitle(record content.CanonicalRecord) string {
	var flags []string
	if record.Placeholder {
		flags = append(flags, "placeholder")
	}
	if record.Stale {
		flags = append(flags, "stale")
	}
	if !record.CapturedAt.IsZero() {
		flags = append(flags, "captured "+record.CapturedAt.Format(time.RFC3339))
	}
	title := fmt.Sprintf("%s %s", record.Kind, record.ID)
	if len(flags) > 0 {
		title += " (" + strings.Join(flags, ", ") + ")"
	}
	return title
}

func renderOutcome(w io.Writer, id content.ResourceID, outcome interaction.Outcome) {
	writer := table.NewWriter()
	writer.SetOutputMirror(w)
	writer.SetStyle(table.StyleLight)
	writer.AppendHeader(table.Row{"ID", "Action", "Applied", "Count", "Liked"})
	writer.AppendRow(table.Row{id.String(), string(outcome.Action), outcome.Applied, outcome.State.Count(), outcome.State.LocallyLiked})
	writer.Render()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

// parseAssignments turns key=value arguments into record fields. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseAssignments(args []string) (content.Record, error) {
	fields := make(content.Record, len(args))
	for _, arg := range args {
		key, raw, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			decoded = raw
		}
		fields[key] = decoded
	}
	return fields, nil
}

// parseParams turns key=value arguments into template parameters.
func parseParams(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		params[key] = value
	}
	return params, nil
}
