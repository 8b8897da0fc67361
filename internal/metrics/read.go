package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"relayctl/internal/model"
)

// ReadCSV loads cycle results from a CSV file.
func ReadCSV(path string) ([]model.CycleResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.CycleResult, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.CycleResult, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		attempts, _ := strconv.Atoi(rec[4])
		reauth, _ := strconv.ParseBool(rec[5])
		ms, _ := strconv.ParseFloat(rec[6], 64)
		items = append(items, model.CycleResult{
			Timestamp:       ts,
			NodeID:          rec[1],
			IP:              rec[2],
			Outcome:         rec[3],
			Attempts:        attempts,
			Reauthenticated: reauth,
			Duration:        time.Duration(ms * float64(time.Millisecond)),
			Error:           rec[7],
		})
	}

	return items, nil
}
