// Package domain defines the snapshot build and cache surface.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nimbase/controlplane/pkg/snapshotclient"
)

// Meta describes how a snapshot was served.
type Meta struct {
	GeneratedAt time.Time     `json:"generated_at"`
	TTL         time.Duration `json:"ttl"`
	CacheHit    bool          `json:"cache_hit"`
}

type Service interface {
	// Get serves the snapshot for the project, from the server-side cache
	// when fresh. Errors are never cached.
	Get(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, Meta, error)
	// Build assembles a fresh snapshot straight from the database, bypassing
	// the cache.
	Build(ctx context.Context, projectID snowflake.ID) (*snapshotclient.Snapshot, error)
	// Invalidate drops the cached snapshot for the project.
	Invalidate(projectID snowflake.ID)
	// Sweep evicts expired cache entries.
	Sweep()
}
