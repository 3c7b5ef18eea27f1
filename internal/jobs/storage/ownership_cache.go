package storage

import (
	"context"
	"log/slog"
	"time"
)

const ownerKeyPrefix = "docproc:project_owner:"

// OwnerLookup resolves a project's owner
type OwnerLookup interface {
	ProjectOwner(ctx context.Context, projectID string) (string, error)
}

// KV is the cache surface CachedOwnership needs
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedOwnership caches project owners in front of an OwnerLookup.
// Cache failures fall through to the lookup.
type CachedOwnership struct {
	next   OwnerLookup
	cache  KV
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedOwnership(next OwnerLookup, cache KV, ttl time.Duration, logger *slog.Logger) *CachedOwnership {
	return &CachedOwnership{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedOwnership) ProjectOwner(ctx context.Context, projectID string) (string, error) {
	key := ownerKeyPrefix + projectID

	owner, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Ownership cache read failed",
			slog.String("project_id", projectID),
			slog.Any("error", err),
		)
	}
	if ok {
		return owner, nil
	}

	owner, err = c.next.ProjectOwner(ctx, projectID)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, owner, c.ttl); err != nil {
		c.logger.Warn("Ownership cache write failed",
			slog.String("project_id", projectID),
			slog.Any("error", err),
		)
	}

	return owner, nil
}
