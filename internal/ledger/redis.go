package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEvaler is the part of a redis client the ledger needs
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler adapts a go-redis client to RedisEvaler
type GoRedisEvaler struct {
	c *redis.Client
}

// NewGoRedisEvaler connects to the redis server at addr
func NewGoRedisEvaler(addr, password string, db int) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Eval runs a Lua script
func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Ping checks the connection
func (g *GoRedisEvaler) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

// Close closes the client
func (g *GoRedisEvaler) Close() error {
	return g.c.Close()
}

// applyScript applies a change once per commit marker.
// Returns {status, cents}: status 0 applied, 1 already applied (cents is the
// first result), -1 rejected by the floor (cents is the current allocation).
const applyScript = `
local allocKey = KEYS[1]
local markerKey = KEYS[2]
local delta = tonumber(ARGV[1])
local ttlSeconds = tonumber(ARGV[2])
local floor = tonumber(ARGV[3])
local prior = redis.call('GET', markerKey)
if prior then
  return {1, tonumber(prior)}
end
local current = tonumber(redis.call('HGET', allocKey, 'cents') or '0')
if current + delta < floor then
  return {-1, current}
end
local updated = redis.call('HINCRBY', allocKey, 'cents', delta)
if ttlSeconds > 0 then
  redis.call('SET', markerKey, updated, 'NX', 'EX', ttlSeconds)
else
  redis.call('SET', markerKey, updated, 'NX')
end
return {0, updated}
`

const balanceScript = `
local cents = redis.call('HGET', KEYS[1], 'cents')
if not cents then
  return {0, 0}
end
return {1, tonumber(cents)}
`

// AllocationKey is the hash holding a target's allocation
func AllocationKey(targetKey string) string { return fmt.Sprintf("alloc:%s", targetKey) }

// CommitMarkerKey marks a commit as applied
func CommitMarkerKey(targetKey, commitID string) string {
	return fmt.Sprintf("alloc-commit:%s:%s", targetKey, commitID)
}

// RedisLedger keeps allocations in redis hashes
type RedisLedger struct {
	client    RedisEvaler
	markerTTL time.Duration
	floor     int64
}

// NewRedisLedger returns a ledger on client. markerTTL bounds how long commit
// markers live; it should comfortably exceed the longest retry window.
func NewRedisLedger(client RedisEvaler, markerTTL time.Duration, floor int64) *RedisLedger {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisLedger{client: client, markerTTL: markerTTL, floor: floor}
}

// Apply adds the change to the target allocation
func (r *RedisLedger) Apply(ctx context.Context, p ApplyParams) (ApplyResult, error) {
	if err := validateParams(p); err != nil {
		return ApplyResult{}, err
	}

	keys := []string{AllocationKey(p.TargetKey), CommitMarkerKey(p.TargetKey, p.CommitID)}
	args := []interface{}{p.DeltaCents, int64(r.markerTTL.Seconds()), r.floor}
	reply, err := r.client.Eval(ctx, applyScript, keys, args...)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("redis eval key=%s commit=%s: %w", p.TargetKey, p.CommitID, err)
	}

	status, cents, err := parsePair(reply)
	if err != nil {
		return ApplyResult{}, err
	}
	if status < 0 {
		return ApplyResult{}, fmt.Errorf("%w: %s holds %d cents", ErrInsufficientBalance, p.TargetKey, cents)
	}
	return ApplyResult{TargetKey: p.TargetKey, AllocatedCents: cents}, nil
}

// Balance returns the allocation of a target
func (r *RedisLedger) Balance(ctx context.Context, targetKey string) (int64, error) {
	reply, err := r.client.Eval(ctx, balanceScript, []string{AllocationKey(targetKey)})
	if err != nil {
		return 0, fmt.Errorf("redis eval key=%s: %w", targetKey, err)
	}
	found, cents, err := parsePair(reply)
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, targetKey)
	}
	return cents, nil
}

func parsePair(reply interface{}) (int64, int64, error) {
	pair, ok := reply.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis reply %T", reply)
	}
	a, okA := pair[0].(int64)
	b, okB := pair[1].(int64)
	if !okA || !okB {
		return 0, 0, fmt.Errorf("unexpected redis reply %v", pair)
	}
	return a, b, nil
}
