package formatter

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/boshu2/ambient/internal/telemetry"
)

func TestNewJSONLFormatter(t *testing.T) {
	f := NewJSONLFormatter()
	if f == nil {
		t.Fatal("NewJSONLFormatter returned nil")
	}
	if f.Pretty {
		t.Error("Pretty should be false by default")
	}
}

func TestJSONLFormatter_Extension(t *testing.T) {
	f := NewJSONLFormatter()
	if ext := f.Extension(); ext != ".jsonl" {
		t.Errorf("Extension() = %q, want .jsonl", ext)
	}
}

func TestJSONLFormatter_Format(t *testing.T) {
	f := NewJSONLFormatter()
	rec := telemetry.Record{
		Timestamp: time.Date(2026, 1, 25, 10, 0, 0, 0, time.UTC),
		RunID:     "run-001",
		Type:      "cycle_completed",
		Data:      map[string]any{"proposals": 3},
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, rec); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var output map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &output); err != nil {
		t.Fatalf("Failed to parse output: %v\nOutput: %s", err, buf.String())
	}

	if output["run_id"] != "run-001" {
		t.Errorf("run_id = %v, want run-001", output["run_id"])
	}
	if output["type"] != "cycle_completed" {
		t.Errorf("type = %v, want cycle_completed", output["type"])
	}
}

func TestJSONLFormatter_Format_Pretty(t *testing.T) {
	f := NewJSONLFormatter()
	f.Pretty = true

	rec := telemetry.Record{RunID: "pretty-test", Type: "note"}

	var buf bytes.Buffer
	if err := f.Format(&buf, rec); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Errorf("Pretty output should contain indentation:\n%s", buf.String())
	}
}

func TestJSONLFormatter_Format_EmptyData(t *testing.T) {
	f := NewJSONLFormatter()
	rec := telemetry.Record{RunID: "empty", Type: "note"}

	var buf bytes.Buffer
	if err := f.Format(&buf, rec); err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var output map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &output); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
}
