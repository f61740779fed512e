package archive

import (
	"context"
	"time"
)

// Kind labels what a stored snapshot captured.
type Kind string

const (
	KindJoin    Kind = "join"
	KindChannel Kind = "channel"
	KindFeed    Kind = "feed"
)

type SnapshotInput struct {
	RoomID     string
	Kind       Kind
	Payload    []byte
	CapturedAt time.Time
}

type Snapshot struct {
	ID         string
	RoomID     string
	Kind       Kind
	Payload    []byte
	CapturedAt time.Time
	CreatedAt  time.Time
}

// Recorder persists raw remote snapshots for after-the-fact auditing.
// Sessions treat it as fire-and-forget: a failed save is logged, never fatal.
type Recorder interface {
	SaveSnapshot(ctx context.Context, input SnapshotInput) error
	ListSnapshotsByRoom(ctx context.Context, roomID string) ([]Snapshot, error)
}
