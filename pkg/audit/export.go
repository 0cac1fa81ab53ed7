package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ExportFormat names an export encoding.
type ExportFormat string

const (
	ExportJSON   ExportFormat = "json"
	ExportNDJSON ExportFormat = "ndjson"
	ExportCSV    ExportFormat = "csv"
)

// ParseExportFormat accepts json, ndjson, or csv. Empty means json.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ExportJSON, nil
	case ExportJSON, ExportNDJSON, ExportCSV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format: %s", s)
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportCSV:
		return "text/csv; charset=utf-8"
	case ExportNDJSON:
		return "application/x-ndjson"
	}
	return "application/json"
}

// Export writes events to w.
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportJSON:
		if events == nil {
			events = []*Event{}
		}
		return json.NewEncoder(w).Encode(events)
	case ExportNDJSON:
		enc := json.NewEncoder(w)
		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		return nil
	case ExportCSV:
		return exportCSV(w, events)
	}
	return fmt.Errorf("unsupported export format: %s", format)
}

func exportCSV(w io.Writer, events []*Event) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "timestamp", "event_type", "status", "actor", "target", "ip_address", "request_id", "message", "metadata"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.Type),
			string(event.Status),
			event.Actor,
			event.Target,
			event.IPAddress,
			event.RequestID,
			event.Message,
			formatMetadata(event.Metadata),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, metadata[k])
	}
	return strings.Join(pairs, ";")
}
