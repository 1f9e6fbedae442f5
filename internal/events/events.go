// Package events records learner progress events.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names a progress event.
type Type string

const (
	ChapterStarted   Type = "chapter_started"
	AnswerRecorded   Type = "answer_recorded"
	QuizSubmitted    Type = "quiz_submitted"
	ChapterCompleted Type = "chapter_completed"
	UnitCompleted    Type = "unit_completed"
	RetakeStarted    Type = "retake_started"
)

// Event is one progress event for one learner.
type Event struct {
	ID        string         `json:"id"`
	LearnerID string         `json:"learnerId"`
	GradeID   string         `json:"gradeId,omitempty"`
	UnitID    string         `json:"unitId,omitempty"`
	ChapterID string         `json:"chapterId,omitempty"`
	Type      Type           `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Normalize checks required fields and fills in the ID and timestamp.
func (e Event) Normalize() (Event, error) {
	if e.Type == "" {
		return e, fmt.Errorf("event type is required")
	}
	if e.LearnerID == "" {
		return e, fmt.Errorf("learner id is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return e, nil
}

// Logger records events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// History reads back a learner's events.
type History interface {
	Recent(ctx context.Context, learnerID string, limit int) ([]Event, error)
}

// Nop ignores all events.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) error {
	return nil
}

// Memory keeps events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{events: []Event{}}
}

func (l *Memory) LogEvent(_ context.Context, event Event) error {
	event, err := event.Normalize()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of everything logged so far.
func (l *Memory) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// Recent returns a learner's latest events, newest first.
func (l *Memory) Recent(_ context.Context, learnerID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Event{}
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if l.events[i].LearnerID == learnerID {
			out = append(out, l.events[i])
		}
	}
	return out, nil
}

// Types returns the logged event types in order.
func (l *Memory) Types() []Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

// Multi fans an event out to several loggers. The event is normalized once
// so every logger sees the same ID.
type Multi []Logger

func (m Multi) LogEvent(ctx context.Context, event Event) error {
	event, err := event.Normalize()
	if err != nil {
		return err
	}
	var errs []error
	for _, l := range m {
		if err := l.LogEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log records event and only logs failures. Progress has already been
// persisted upstream by the time events are written.
func Log(ctx context.Context, l Logger, event Event) {
	if l == nil {
		return
	}
	if err := l.LogEvent(ctx, event); err != nil {
		slog.Warn("failed to log progress event",
			"type", event.Type,
			"learner_id", event.LearnerID,
			"chapter_id", event.ChapterID,
			"error", err,
		)
	}
}
