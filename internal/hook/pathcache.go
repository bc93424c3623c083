package hook

import (
	"context"
	"fmt"
)

// ResolveFunc maps a raw chunk name to a normalized path
type ResolveFunc func(ctx context.Context, raw string) (string, error)

// PathCache memoizes raw -> normalized path resolutions.
// Failed resolutions are not memoized; each failing raw id is reported once
// until the next Clear.
type PathCache struct {
	entries map[string]string
	failed  map[string]struct{}
	resolve ResolveFunc
	onError func(ctx context.Context, raw string, err error)
}

// NewPathCache creates a cache in front of resolve
func NewPathCache(resolve ResolveFunc) *PathCache {
	return &PathCache{
		entries: make(map[string]string),
		failed:  make(map[string]struct{}),
		resolve: resolve,
	}
}

// Resolve returns the normalized path for raw, or "" when it cannot be resolved
func (c *PathCache) Resolve(ctx context.Context, raw string) string {
	if path, ok := c.entries[raw]; ok {
		return path
	}

	path, err := c.resolve(ctx, raw)
	if err == nil && path == "" {
		err = fmt.Errorf("empty path")
	}
	if err != nil {
		if _, seen := c.failed[raw]; !seen {
			c.failed[raw] = struct{}{}
			if c.onError != nil {
				c.onError(ctx, raw, err)
			}
		}
		return ""
	}

	delete(c.failed, raw)
	c.entries[raw] = path
	return path
}

// Clear drops every entry and forgets reported failures
func (c *PathCache) Clear() {
	c.entries = make(map[string]string)
	c.failed = make(map[string]struct{})
}

// Len returns the number of memoized entries
func (c *PathCache) Len() int {
	return len(c.entries)
}
