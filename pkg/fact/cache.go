package fact

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riverline-labs/tenor/pkg/bundle"
)

var errUncacheableKind = errors.New("fact cache: kind is not cacheable")

// RedisCache scopes adapter results per (contract_id, snapshot_id, fact_id)
// so a value fetched for one snapshot never leaks across contracts or
// across a per_step flow's repeated snapshot recaptures.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing redis client with a fixed entry TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

type cachedValue struct {
	Kind bundle.Kind     `json:"kind"`
	Raw  json.RawMessage `json:"raw"`
}

func (c *RedisCache) key(contractID, snapshotID, factID string) string {
	return "tenor:factcache:" + contractID + ":" + snapshotID + ":" + factID
}

// Get is best-effort: a Redis error or miss is reported as "not cached"
// rather than propagated, since the cache is a latency optimization, not
// a correctness dependency — the provider always falls back to the
// adapter on a miss.
func (c *RedisCache) Get(contractID, snapshotID, factID string) (bundle.Value, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(contractID, snapshotID, factID)).Bytes()
	if err != nil {
		return bundle.Value{}, false
	}
	var cv cachedValue
	if err := json.Unmarshal(raw, &cv); err != nil {
		return bundle.Value{}, false
	}
	var decoded any
	if err := json.Unmarshal(cv.Raw, &decoded); err != nil {
		return bundle.Value{}, false
	}
	v, err := bundle.DecodeValue(decoded, decodeType(cv.Kind))
	if err != nil {
		return bundle.Value{}, false
	}
	return v, true
}

// decodeType rebuilds the minimal Type DecodeValue needs to accept a value
// of kind k with no re-imposed bounds: the cache stores values that already
// passed their declared type's checks once at fetch time, so replaying
// those bounds here would only make every non-default Int wrongly look
// like a miss (IntMin/IntMax default to 0, unlike the >0-guarded
// MaxBytes/MaxLen checks for other kinds).
func decodeType(k bundle.Kind) bundle.Type {
	t := bundle.Type{Kind: k}
	if k == bundle.KindInt {
		t.IntMin, t.IntMax = math.MinInt64, math.MaxInt64
	}
	return t
}

// Put is best-effort; a write failure is silently dropped.
func (c *RedisCache) Put(contractID, snapshotID, factID string, v bundle.Value) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Re-encode the value's own kind-specific field through its wire form
	// so Get can round-trip it with DecodeValue. Scalars marshal directly;
	// composite kinds are handled by encodeWireValue.
	wire, err := encodeWireValue(v)
	if err != nil {
		return
	}
	payload, err := json.Marshal(cachedValue{Kind: v.Kind, Raw: wire})
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(contractID, snapshotID, factID), payload, c.ttl)
}

func encodeWireValue(v bundle.Value) (json.RawMessage, error) {
	switch v.Kind {
	case bundle.KindBool:
		return json.Marshal(v.Bool)
	case bundle.KindInt:
		return json.Marshal(v.Int)
	case bundle.KindDecimal:
		return json.Marshal(v.Decimal.Rat().FloatString(18))
	case bundle.KindText:
		return json.Marshal(v.Text)
	case bundle.KindDate:
		return json.Marshal(v.Date.Format("2006-01-02"))
	case bundle.KindDateTime:
		return json.Marshal(v.DateTime.Format(time.RFC3339))
	default:
		// Enum, Money, Duration, Record, and List values are not cached:
		// the cached entry keeps only the kind, not the variant set or the
		// composite shape, so the cache skips them rather than risk a lossy
		// round-trip; Get on these kinds always misses and the
		// provider re-fetches from the adapter.
		return nil, errUncacheableKind
	}
}
