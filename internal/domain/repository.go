package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SceneSnapshot is an opaque scene document keyed by a short human-typed
// identifier. The orchestrator passes it through verbatim.
type SceneSnapshot struct {
	Key       string
	Document  json.RawMessage
	UpdatedAt time.Time
}

// SceneRepository persists scene snapshots.
type SceneRepository interface {
	Save(ctx context.Context, key string, doc json.RawMessage) error
	Get(ctx context.Context, key string) (*SceneSnapshot, error)
}
