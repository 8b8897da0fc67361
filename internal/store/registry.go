package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"relayctl/internal/model"
)

// Snapshot is the on-disk copy of the coordinator's node registry.
// It is written on shutdown and replayed on start.
type Snapshot struct {
	UpdatedAt time.Time  `yaml:"updated_at"`
	Nodes     []NodeInfo `yaml:"nodes"`
}

// NodeInfo is a minimal record for snapshot persistence.
type NodeInfo struct {
	ID       string    `yaml:"id"`
	IP       string    `yaml:"ip"`
	Port     int       `yaml:"port"`
	LastSeen time.Time `yaml:"last_seen"`
}

// FromRecords converts registry records into snapshot entries.
func FromRecords(recs []model.NodeRecord) []NodeInfo {
	nodes := make([]NodeInfo, 0, len(recs))
	for _, r := range recs {
		nodes = append(nodes, NodeInfo{ID: r.NodeID, IP: r.IP, Port: r.Port, LastSeen: r.LastSeen.UTC()})
	}
	return nodes
}

// Records converts snapshot entries back into registry records.
func (s *Snapshot) Records() []model.NodeRecord {
	if s == nil {
		return nil
	}
	recs := make([]model.NodeRecord, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			continue
		}
		recs = append(recs, model.NodeRecord{NodeID: n.ID, IP: n.IP, Port: n.Port, LastSeen: n.LastSeen})
	}
	return recs
}

// LoadSnapshot loads the snapshot from disk. If the file is missing, returns an empty snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

// SaveSnapshot writes the snapshot to disk atomically.
func SaveSnapshot(path string, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	snap.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
