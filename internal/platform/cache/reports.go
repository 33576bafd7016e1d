package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "ledger:version"
	// BumpChannel carries "<business_id>:<version>" after every write that invalidates reports.
	BumpChannel = "ledger.bump"
)

// Reports caches read-only rollups as JSON under a per-business version. A write bumps the
// version, so stale entries are never read again and simply expire.
type Reports struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReports instantiates the cache helper. A nil client yields a passthrough cache.
func NewReports(client *redis.Client, ttl time.Duration) *Reports {
	return &Reports{client: client, ttl: ttl}
}

func versionKey(businessID int64) string {
	return versionKeyPrefix + ":" + strconv.FormatInt(businessID, 10)
}

// Version returns the business's cache version, initialising it when missing.
func (c *Reports) Version(ctx context.Context, businessID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(businessID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX so two first readers agree on the initial version.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes "ledger:<business>:<parts...>:<version>".
func (c *Reports) BuildKey(ctx context.Context, businessID int64, parts ...string) (string, error) {
	base := "ledger:" + strconv.FormatInt(businessID, 10)
	if len(parts) > 0 {
		base += ":" + strings.Join(parts, ":")
	}
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, businessID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Values always round-trip
// through JSON so cached and fresh results decode identically.
func (c *Reports) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates a business's reports and publishes the new version.
func (c *Reports) Bump(ctx context.Context, businessID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(businessID)).Result()
	if err != nil {
		return err
	}
	payload := strconv.FormatInt(businessID, 10) + ":" + strconv.FormatInt(ver, 10)
	return c.client.Publish(ctx, BumpChannel, payload).Err()
}

// ListenForInvalidation subscribes to bump events from other replicas sharing the Redis
// instance and calls fn for each. It returns once the subscription is confirmed.
func (c *Reports) ListenForInvalidation(ctx context.Context, fn func(businessID, version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				biz, ver, ok := parseBump(msg.Payload)
				if ok && fn != nil {
					fn(biz, ver)
				}
			}
		}
	}()
	return nil
}

func parseBump(payload string) (int64, int64, bool) {
	left, right, found := strings.Cut(payload, ":")
	if !found {
		return 0, 0, false
	}
	biz, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	ver, err := strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return biz, ver, true
}
