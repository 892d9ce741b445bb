package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestReportPrint_NoDataFieldsReadAsNoData(t *testing.T) {
	// GIVEN a report for a worker that never failed
	report := Compute(nil, Window{Start: at(0)}, []string{"quiet"})

	var buf bytes.Buffer
	report.Print(&buf)

	out := buf.String()
	if !strings.Contains(out, "quiet:") {
		t.Fatalf("expected worker section, got:\n%s", out)
	}
	if !strings.Contains(out, "MTTR         : no data") {
		t.Fatalf("expected MTTR reported as no data, got:\n%s", out)
	}
	if !strings.Contains(out, "Availability : 1.0000") {
		t.Fatalf("expected availability 1.0000, got:\n%s", out)
	}
}

func TestReportWriteJSON_OmitsNoDataFields(t *testing.T) {
	// GIVEN a worker with failures and one without data
	events := []Event{
		failure("flaky", 10),
		repair("flaky", 14),
	}
	report := Compute(events, Window{Start: at(0)}, []string{"flaky", "quiet"})

	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Workers map[string]map[string]any `json:"workers"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}

	if _, ok := decoded.Workers["flaky"]["mttr_seconds"]; !ok {
		t.Error("expected mttr_seconds for flaky")
	}
	if _, ok := decoded.Workers["quiet"]["mttr_seconds"]; ok {
		t.Error("no-data MTTR must be omitted, not serialized as zero")
	}
}
