package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

var csvHeader = []string{
	"id", "tenant_id", "provider", "model",
	"input_units", "output_units", "cost_amount", "currency",
	"cache_hit", "occurred_at",
}

// Export serializes records for download. CSV quotes every field; JSON
// is the pretty-printed record array. Zero records is valid output: a
// header-only CSV or an empty JSON array.
func Export(records []*UsageRecord, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatCSV:
		return exportCSV(records), nil
	case FormatJSON:
		if records == nil {
			records = []*UsageRecord{}
		}
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal export: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportCSV writes rows by hand rather than through encoding/csv so
// every field is quoted, not just the ones that need it.
func exportCSV(records []*UsageRecord) []byte {
	var buf bytes.Buffer
	writeRow(&buf, csvHeader)
	for _, r := range records {
		cacheHit := ""
		if r.CacheHit != nil {
			cacheHit = strconv.FormatBool(*r.CacheHit)
		}
		writeRow(&buf, []string{
			r.ID, r.TenantID, r.Provider, r.Model,
			strconv.FormatInt(r.InputUnits, 10),
			strconv.FormatInt(r.OutputUnits, 10),
			strconv.FormatFloat(r.CostAmount, 'f', -1, 64),
			r.Currency,
			cacheHit,
			r.OccurredAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}
