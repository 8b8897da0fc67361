package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"relayctl/internal/model"
)

var header = []string{
	"timestamp",
	"node_id",
	"ip",
	"outcome",
	"attempts",
	"reauthenticated",
	"duration_ms",
	"error",
}

// WriteCSV writes cycle results to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.CycleResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// AppendCSV appends cycle results to path, writing the header when the file
// is new. Not safe for concurrent writers; the agent is single-threaded.
func AppendCSV(path string, items []model.CycleResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeRecords(writer *csv.Writer, items []model.CycleResult) error {
	for _, m := range items {
		record := []string{
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.NodeID,
			m.IP,
			m.Outcome,
			strconv.Itoa(m.Attempts),
			strconv.FormatBool(m.Reauthenticated),
			strconv.FormatFloat(float64(m.Duration.Microseconds())/1000.0, 'f', 3, 64),
			m.Error,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}
