package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS progress_events (
	id          UUID PRIMARY KEY,
	learner_id  TEXT NOT NULL,
	grade_id    TEXT NOT NULL DEFAULT '',
	unit_id     TEXT NOT NULL DEFAULT '',
	chapter_id  TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	data        JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS progress_events_learner_idx
	ON progress_events (learner_id, created_at DESC);
`

// Postgres inserts events into the progress_events table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the progress_events table if it does not exist.
func (l *Postgres) EnsureSchema(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if _, err := l.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create progress_events: %w", err)
	}
	return nil
}

func (l *Postgres) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	event, err := event.Normalize()
	if err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO progress_events (id, learner_id, grade_id, unit_id, chapter_id, event_type, data, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		event.ID,
		event.LearnerID,
		event.GradeID,
		event.UnitID,
		event.ChapterID,
		string(event.Type),
		string(data),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"learner_id", event.LearnerID,
		"chapter_id", event.ChapterID,
	)
	return nil
}

// Recent returns a learner's latest events, newest first.
func (l *Postgres) Recent(ctx context.Context, learnerID string, limit int) ([]Event, error) {
	if l == nil || l.pool == nil {
		return nil, fmt.Errorf("event logger pool is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := l.pool.Query(ctx,
		`SELECT id::text, learner_id, grade_id, unit_id, chapter_id, event_type, data, created_at
		 FROM progress_events
		 WHERE learner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		learnerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e    Event
			typ  string
			data []byte
		)
		if err := row.Scan(&e.ID, &e.LearnerID, &e.GradeID, &e.UnitID, &e.ChapterID, &typ, &data, &e.CreatedAt); err != nil {
			return Event{}, err
		}
		e.Type = Type(typ)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return Event{}, fmt.Errorf("decode event data: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}
