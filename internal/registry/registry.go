// Package registry holds the coordinator's relay liveness records.
//
// Records are keyed by node id and pruned lazily: every ListActive call
// deletes the records that fell out of the liveness window before returning
// the rest. There is no background eviction.
package registry

import (
	"context"
	"time"

	"relayctl/internal/model"
)

// DefaultTTL is the liveness window for a node record.
const DefaultTTL = 1800 * time.Second

// Registry is the node liveness store. Implementations serialize Upsert and
// ListActive against each other for the whole read-modify-write.
type Registry interface {
	// Upsert inserts or overwrites the record for nodeID with last_seen=now.
	// An older now never moves last_seen backwards.
	Upsert(ctx context.Context, nodeID, ip string, port int, now time.Time) error
	// ListActive removes every record with now-last_seen >= ttl and returns
	// the survivors in insertion order.
	ListActive(ctx context.Context, now time.Time, ttl time.Duration) ([]model.NodeRecord, error)
}
