package metrics

import (
	"math"
	"sort"
	"time"

	"relayctl/internal/model"
)

// Summary is a basic statistics snapshot over heartbeat cycles.
type Summary struct {
	Count         int
	From          time.Time
	To            time.Time
	OK            int
	Skipped       int
	Rejected      int
	Failed        int
	Reauths       int
	SuccessRatio  float64
	AvgDurationMs float64
	P95DurationMs float64
	LastOutcome   string
	LastOKAt      time.Time
	DistinctIPs   int
}

// Summarize computes summary metrics for cycles at or after since.
func Summarize(items []model.CycleResult, since time.Time) Summary {
	filtered := make([]model.CycleResult, 0, len(items))
	for _, m := range items {
		if m.Timestamp.After(since) || m.Timestamp.Equal(since) {
			filtered = append(filtered, m)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	s := Summary{Count: len(filtered), From: filtered[0].Timestamp, To: filtered[0].Timestamp}
	values := make([]float64, 0, len(filtered))
	ips := map[string]struct{}{}
	var sum float64
	var last time.Time

	for _, m := range filtered {
		ms := float64(m.Duration.Microseconds()) / 1000.0
		values = append(values, ms)
		sum += ms
		switch m.Outcome {
		case model.OutcomeOK:
			s.OK++
			if m.Timestamp.After(s.LastOKAt) {
				s.LastOKAt = m.Timestamp
			}
		case model.OutcomeSkipped:
			s.Skipped++
		case model.OutcomeRejected:
			s.Rejected++
		default:
			s.Failed++
		}
		if m.Reauthenticated {
			s.Reauths++
		}
		if m.IP != "" {
			ips[m.IP] = struct{}{}
		}
		if m.Timestamp.Before(s.From) {
			s.From = m.Timestamp
		}
		if m.Timestamp.After(s.To) {
			s.To = m.Timestamp
		}
		if !m.Timestamp.Before(last) {
			last = m.Timestamp
			s.LastOutcome = m.Outcome
		}
	}

	sort.Float64s(values)
	count := float64(len(filtered))
	s.SuccessRatio = float64(s.OK) / count
	s.AvgDurationMs = sum / count
	s.P95DurationMs = percentile(values, 0.95)
	s.DistinctIPs = len(ips)
	return s
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
