package metrics

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relayctl/internal/model"
)

func TestAppendCSV_WritesHeaderOnce(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "cycles.csv")

	m1 := model.CycleResult{Timestamp: time.Unix(1, 0).UTC(), NodeID: "n1", IP: "1.2.3.4", Outcome: model.OutcomeOK, Attempts: 1}
	m2 := model.CycleResult{Timestamp: time.Unix(2, 0).UTC(), NodeID: "n1", Outcome: model.OutcomeSkipped, Error: "no route, to host"}

	if err := AppendCSV(path, []model.CycleResult{m1}); err != nil {
		t.Fatalf("AppendCSV #1: %v", err)
	}
	if err := AppendCSV(path, []model.CycleResult{m2}); err != nil {
		t.Fatalf("AppendCSV #2: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%d\n%s", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "timestamp,") {
		t.Fatalf("missing header: %q", lines[0])
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items=%d", len(items))
	}
	if items[1].Error != "no route, to host" || items[1].Outcome != model.OutcomeSkipped {
		t.Fatalf("item=%+v", items[1])
	}
}

func TestWriteCSV_ReadBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	in := []model.CycleResult{{
		Timestamp:       time.Unix(10, 0).UTC(),
		NodeID:          "n1",
		IP:              "1.2.3.4",
		Outcome:         model.OutcomeRejected,
		Attempts:        2,
		Reauthenticated: true,
		Duration:        1500 * time.Microsecond,
	}}
	if err := WriteCSV(&buf, in); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out, err := readCSV(&buf)
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}
	if len(out) != 1 || out[0].Attempts != 2 || !out[0].Reauthenticated || out[0].Duration != 1500*time.Microsecond {
		t.Fatalf("out=%+v", out)
	}
}

func TestReadCSV_ShortRecord(t *testing.T) {
	t.Parallel()

	if _, err := readCSV(strings.NewReader("timestamp,node_id\n1,2\n")); err == nil {
		t.Fatalf("expected error")
	}
}
