package archive

import (
	"context"

	"github.com/deoncarlette/AutoMod/internal/archive"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(pool *pgxpool.Pool) archive.Recorder {
	return &PostgresRecorder{pool: pool}
}

func (r *PostgresRecorder) SaveSnapshot(ctx context.Context, input archive.SnapshotInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_snapshots (room_id, kind, payload, captured_at)
		 VALUES ($1, $2, $3, $4)`,
		input.RoomID, string(input.Kind), input.Payload, input.CapturedAt)
	return err
}

func (r *PostgresRecorder) ListSnapshotsByRoom(ctx context.Context, roomID string) ([]archive.Snapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, kind, payload, captured_at, created_at
		 FROM room_snapshots WHERE room_id = $1 ORDER BY captured_at ASC`,
		roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []archive.Snapshot
	for rows.Next() {
		var s archive.Snapshot
		var kind string
		if err := rows.Scan(&s.ID, &s.RoomID, &kind, &s.Payload, &s.CapturedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Kind = archive.Kind(kind)
		list = append(list, s)
	}
	return list, rows.Err()
}
