package formatter

import (
	"encoding/json"
	"io"

	"github.com/boshu2/ambient/internal/telemetry"
)

// JSONLFormatter writes telemetry records as JSON Lines, one object per line.
type JSONLFormatter struct {
	// Pretty enables indented JSON (not recommended for JSONL).
	Pretty bool
}

// NewJSONLFormatter creates a new JSONL formatter.
func NewJSONLFormatter() *JSONLFormatter {
	return &JSONLFormatter{
		Pretty: false,
	}
}

// Format writes rec as a single JSON line.
func (jf *JSONLFormatter) Format(w io.Writer, rec telemetry.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	if jf.Pretty {
		encoder.SetIndent("", "  ")
	}

	return encoder.Encode(rec)
}

// Extension returns the file extension for JSONL.
func (jf *JSONLFormatter) Extension() string {
	return ".jsonl"
}
