package valkey

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/valkey-io/valkey-go"
)

// ErrMiss is returned by Get for an absent or expired key.
var ErrMiss = errors.New("valkey: cache miss")

const (
	keyPrefix        = "saferoute:"
	generationPrefix = keyPrefix + "gen:"

	// Client-side cache lifetime for generation counters. The server sends
	// an invalidation as soon as a counter is bumped, so this only bounds
	// memory.
	localTTL = time.Minute
)

// Cache stores classified avoid links and the generation counters that
// invalidate them. Generation reads go through valkey-go's server-assisted
// client-side cache; every request reads the counter, only ingestion bumps
// it.
type Cache struct {
	client valkey.Client
}

// New connects to the Valkey server at addr.
func New(addr string) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "valkey: connect %s", addr)
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, eris.Wrapf(err, "valkey: get %s", key)
	}
	return b, nil
}

// Set stores value under key for ttlSeconds; a non-positive ttl stores
// nothing, since avoid answers must eventually follow the incident store.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		return nil
	}
	cmd := c.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(value)).
		Ex(time.Duration(ttlSeconds) * time.Second).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return eris.Wrapf(err, "valkey: set %s", key)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(keyPrefix+key).Build()).Error(); err != nil {
		return eris.Wrapf(err, "valkey: delete %s", key)
	}
	return nil
}

// Generation returns the current value of a named generation counter.
// A counter that was never bumped is 0.
func (c *Cache) Generation(ctx context.Context, name string) (int64, error) {
	cmd := c.client.B().Get().Key(generationPrefix + name).Cache()
	n, err := c.client.DoCache(ctx, cmd, localTTL).AsInt64()
	if valkey.IsValkeyNil(err) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "valkey: generation %s", name)
	}
	return n, nil
}

// BumpGeneration increments a named generation counter. Keys built from
// the previous value are never read again and expire on their TTL.
func (c *Cache) BumpGeneration(ctx context.Context, name string) (int64, error) {
	n, err := c.client.Do(ctx, c.client.B().Incr().Key(generationPrefix+name).Build()).AsInt64()
	if err != nil {
		return 0, eris.Wrapf(err, "valkey: bump generation %s", name)
	}
	return n, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *Cache) Close() {
	c.client.Close()
}
