package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"relayctl/internal/model"
)

// Memory is an in-process Registry guarded by a single mutex.
type Memory struct {
	mu      sync.Mutex
	records map[string]model.NodeRecord
	order   []string // node ids in insertion order
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]model.NodeRecord)}
}

func (m *Memory) Upsert(ctx context.Context, nodeID, ip string, port int, now time.Time) error {
	if nodeID == "" {
		return errors.New("node id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[nodeID]
	if !exists {
		m.order = append(m.order, nodeID)
	}
	rec.NodeID = nodeID
	rec.IP = ip
	rec.Port = port
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	m.records[nodeID] = rec
	return nil
}

func (m *Memory) ListActive(ctx context.Context, now time.Time, ttl time.Duration) ([]model.NodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, len(m.order))
	copy(keys, m.order)

	kept := m.order[:0]
	out := make([]model.NodeRecord, 0, len(keys))
	for _, id := range keys {
		rec, ok := m.records[id]
		if !ok {
			continue
		}
		if !rec.Live(now, ttl) {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
		out = append(out, rec)
	}
	m.order = kept

	m.checkLocked()
	return out, nil
}

// checkLocked panics when the ordering index and the record map disagree.
// That can only happen through a locking bug.
func (m *Memory) checkLocked() {
	if len(m.order) != len(m.records) {
		panic(fmt.Sprintf("registry inconsistency: %d ordered ids, %d records", len(m.order), len(m.records)))
	}
	seen := make(map[string]struct{}, len(m.order))
	for _, id := range m.order {
		if _, dup := seen[id]; dup {
			panic(fmt.Sprintf("registry inconsistency: duplicate node id %q", id))
		}
		seen[id] = struct{}{}
		if _, ok := m.records[id]; !ok {
			panic(fmt.Sprintf("registry inconsistency: ordered id %q has no record", id))
		}
	}
}
