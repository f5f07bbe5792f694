package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/logger"
)

const (
	cacheKeyPrefix = "schemagate:meta:"
	// cached marker for entities which do not exist
	notFoundMarker = "-"
)

// Cached is a Reader which keeps the results of another Reader in redis. Missing entities
// are cached as well. Redis failures are logged and fall through to the underlying Reader.
type Cached struct {
	next   Reader
	client *redis.Client
	ttl    time.Duration
}

// NewCached returns a redis read-through cache for next with the given time to live
func NewCached(next Reader, client *redis.Client, ttl time.Duration) *Cached {
	return &Cached{next: next, client: client, ttl: ttl}
}

func cacheKey(parts ...string) string {
	return cacheKeyPrefix + strings.Join(parts, ":")
}

// readThrough returns the cached value for key or loads and caches it
func readThrough[T any](ctx context.Context, c *Cached, key string, load func() (T, error)) (T, error) {
	var value T
	rlog := logger.FromContext(ctx)
	data, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && data == notFoundMarker:
		return value, fmt.Errorf("%s: %w", strings.TrimPrefix(key, cacheKeyPrefix), ErrNotFound)
	case err == nil:
		if err = json.Unmarshal([]byte(data), &value); err == nil {
			return value, nil
		}
		rlog.WithError(err).Warnln("Error 4410: cannot parse cached", key)
	case err != redis.Nil:
		rlog.WithError(err).Warnln("Error 4411: cannot read cache", key)
	}

	value, err = load()
	raw := notFoundMarker
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return value, err
		}
	} else {
		body, merr := json.Marshal(value)
		if merr != nil {
			return value, nil
		}
		raw = string(body)
	}
	if serr := c.client.Set(ctx, key, raw, c.ttl).Err(); serr != nil {
		rlog.WithError(serr).Warnln("Error 4412: cannot write cache", key)
	}
	return value, err
}

// ProjectByName implements Reader
func (c *Cached) ProjectByName(ctx context.Context, name string) (*Project, error) {
	return readThrough(ctx, c, cacheKey("project", strings.ToLower(name)), func() (*Project, error) {
		return c.next.ProjectByName(ctx, name)
	})
}

// ModuleByName implements Reader
func (c *Cached) ModuleByName(ctx context.Context, projectID, name string) (*Module, error) {
	return readThrough(ctx, c, cacheKey("module", projectID, name), func() (*Module, error) {
		return c.next.ModuleByName(ctx, projectID, name)
	})
}

// Modules implements Reader
func (c *Cached) Modules(ctx context.Context, projectID string) ([]Module, error) {
	return readThrough(ctx, c, cacheKey("modules", projectID), func() ([]Module, error) {
		return c.next.Modules(ctx, projectID)
	})
}

// Resource implements Reader
func (c *Cached) Resource(ctx context.Context, moduleID string, method core.Method) (*Resource, error) {
	return readThrough(ctx, c, cacheKey("resource", moduleID, string(method)), func() (*Resource, error) {
		return c.next.Resource(ctx, moduleID, method)
	})
}

// Resources implements Reader
func (c *Cached) Resources(ctx context.Context, moduleID string) ([]Resource, error) {
	return readThrough(ctx, c, cacheKey("resources", moduleID), func() ([]Resource, error) {
		return c.next.Resources(ctx, moduleID)
	})
}

// BusinessLogic implements Reader
func (c *Cached) BusinessLogic(ctx context.Context, resourceID string, trigger core.Trigger) (*BusinessLogic, error) {
	return readThrough(ctx, c, cacheKey("logic", resourceID, string(trigger)), func() (*BusinessLogic, error) {
		return c.next.BusinessLogic(ctx, resourceID, trigger)
	})
}

// Invalidate removes all cached metadata
func Invalidate(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cannot scan cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}
