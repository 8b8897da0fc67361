package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relayctl/internal/model"
)

// ErrInconsistent reports that the backing store holds records without an
// ordering entry or vice versa.
var ErrInconsistent = errors.New("registry inconsistency")

// Redis is a Registry kept in two hashes (address, last_seen stamp) and a
// sorted set (insertion order). Each operation is one Lua script, so Redis
// runs it atomically against every other client.
type Redis struct {
	rdb      redis.UniversalClient
	nodesKey string
	seenKey  string
	orderKey string
	seqKey   string
}

type redisRecord struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// KEYS: nodes, seen, order, seq. ARGV: id, record, stamp.
var upsertScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[2], ARGV[1])
if not prev then
  local seq = redis.call('INCR', KEYS[4])
  redis.call('ZADD', KEYS[3], seq, ARGV[1])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if (not prev) or ARGV[3] > prev then
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
end
return 1
`)

// KEYS: nodes, seen, order. ARGV: cutoff stamp. Returns id, record, stamp
// triples for live nodes in insertion order.
var listActiveScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[3], 0, -1)
local recs = redis.call('HGETALL', KEYS[1])
local stamps = redis.call('HGETALL', KEYS[2])
if #ids * 2 ~= #recs or #ids * 2 ~= #stamps then
  return redis.error_reply('ERR registry inconsistency: ' .. #ids .. ' ordered ids, ' .. (#recs / 2) .. ' records')
end
local byID, seen = {}, {}
for i = 1, #recs, 2 do byID[recs[i]] = recs[i + 1] end
for i = 1, #stamps, 2 do seen[stamps[i]] = stamps[i + 1] end
local out = {}
for _, id in ipairs(ids) do
  local rec, stamp = byID[id], seen[id]
  if (not rec) or (not stamp) then
    return redis.error_reply('ERR registry inconsistency: ordered id ' .. id .. ' has no record')
  end
  if stamp <= ARGV[1] then
    redis.call('HDEL', KEYS[1], id)
    redis.call('HDEL', KEYS[2], id)
    redis.call('ZREM', KEYS[3], id)
  else
    out[#out + 1] = id
    out[#out + 1] = rec
    out[#out + 1] = stamp
  end
end
return out
`)

// NewRedis returns a Registry using keys under prefix (e.g. "relayctl").
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "relayctl"
	}
	return &Redis{
		rdb:      rdb,
		nodesKey: prefix + ":nodes",
		seenKey:  prefix + ":seen",
		orderKey: prefix + ":order",
		seqKey:   prefix + ":seq",
	}
}

func (r *Redis) Upsert(ctx context.Context, nodeID, ip string, port int, now time.Time) error {
	if nodeID == "" {
		return errors.New("node id is required")
	}
	data, err := json.Marshal(redisRecord{IP: ip, Port: port})
	if err != nil {
		return err
	}
	keys := []string{r.nodesKey, r.seenKey, r.orderKey, r.seqKey}
	if err := upsertScript.Run(ctx, r.rdb, keys, nodeID, data, encodeStamp(now)).Err(); err != nil {
		return fmt.Errorf("upsert %s: %w", nodeID, err)
	}
	return nil
}

func (r *Redis) ListActive(ctx context.Context, now time.Time, ttl time.Duration) ([]model.NodeRecord, error) {
	keys := []string{r.nodesKey, r.seenKey, r.orderKey}
	vals, err := listActiveScript.Run(ctx, r.rdb, keys, encodeStamp(now.Add(-ttl))).StringSlice()
	if err != nil {
		if strings.Contains(err.Error(), "registry inconsistency") {
			return nil, fmt.Errorf("%w: %s", ErrInconsistent, strings.TrimPrefix(err.Error(), "ERR registry inconsistency: "))
		}
		return nil, err
	}
	if len(vals)%3 != 0 {
		return nil, fmt.Errorf("list active: unexpected reply length %d", len(vals))
	}

	out := make([]model.NodeRecord, 0, len(vals)/3)
	for i := 0; i < len(vals); i += 3 {
		id := vals[i]
		var rec redisRecord
		if err := json.Unmarshal([]byte(vals[i+1]), &rec); err != nil {
			return nil, fmt.Errorf("decode record %q: %w", id, err)
		}
		seen, err := decodeStamp(vals[i+2])
		if err != nil {
			return nil, fmt.Errorf("decode last_seen %q: %w", id, err)
		}
		out = append(out, model.NodeRecord{NodeID: id, IP: rec.IP, Port: rec.Port, LastSeen: seen})
	}
	return out, nil
}

// encodeStamp renders t as a fixed-width decimal whose byte order matches
// time order, so the scripts compare stamps as strings. Lua numbers are
// doubles and cannot hold nanosecond times exactly.
func encodeStamp(t time.Time) string {
	return fmt.Sprintf("%020d", uint64(t.UnixNano())^(1<<63))
}

func decodeStamp(s string) (time.Time, error) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(u^(1<<63))), nil
}
