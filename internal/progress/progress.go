// Package progress models a learner's state against a single chapter.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Status is a learner's position in the chapter lifecycle.
type Status string

const (
	StatusLocked     Status = "locked"
	StatusAccessible Status = "accessible"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Trigger names what caused a transition.
type Trigger string

const (
	TriggerUnlock              Trigger = "unlock"
	TriggerOpen                Trigger = "open"
	TriggerAnswer              Trigger = "answer"
	TriggerSubmit              Trigger = "submit"
	TriggerCompleteWithoutQuiz Trigger = "complete_without_quiz"
)

// NoQuizScore is stored when a chapter without questions is completed.
const NoQuizScore = 100

// ErrLocked is returned when a locked chapter is opened or completed.
var ErrLocked = errors.New("must complete previous chapters")

// ParseStatus converts a wire status. An empty status means no progress has
// been recorded yet and is treated as locked.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "":
		return StatusLocked, nil
	case StatusLocked, StatusAccessible, StatusInProgress, StatusCompleted:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown progress status %q", s)
	}
}

// Transition records a state change.
type Transition struct {
	From    Status
	To      Status
	Trigger Trigger
}

// Changed reports whether the transition moved to a different status.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Progress is one learner's record for one chapter. Values are immutable;
// transitions return an updated copy.
type Progress struct {
	ChapterID   string     `json:"chapterId"`
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Score       *int       `json:"score,omitempty"`
}

// Validate checks the record's invariants.
func (p Progress) Validate() error {
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	if p.Score != nil && (*p.Score < 0 || *p.Score > 100) {
		return fmt.Errorf("score %d out of range [0,100]", *p.Score)
	}
	if p.Status == StatusCompleted {
		if p.CompletedAt == nil {
			return fmt.Errorf("completed chapter %s has no completion time", p.ChapterID)
		}
		if p.Score == nil {
			return fmt.Errorf("completed chapter %s has no score", p.ChapterID)
		}
	}
	return nil
}

// IsCompleted reports whether the chapter is completed.
func (p Progress) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// Unlock moves a locked record to accessible. It is only used by the
// sequencing policy when deriving statuses; other statuses are unchanged.
func (p Progress) Unlock() (Progress, Transition) {
	t := Transition{From: p.Status, To: p.Status, Trigger: TriggerUnlock}
	if p.Status == StatusLocked || p.Status == "" {
		p.Status = StatusAccessible
		t.To = StatusAccessible
	}
	return p, t
}

// Start marks the chapter as opened.
func (p Progress) Start(now time.Time) (Progress, Transition, error) {
	return p.begin(now, TriggerOpen)
}

// RecordAnswer marks the chapter as in progress once an answer is recorded.
func (p Progress) RecordAnswer(now time.Time) (Progress, Transition, error) {
	return p.begin(now, TriggerAnswer)
}

func (p Progress) begin(now time.Time, trigger Trigger) (Progress, Transition, error) {
	t := Transition{From: p.Status, To: p.Status, Trigger: trigger}
	switch p.Status {
	case StatusLocked, "":
		return p, t, ErrLocked
	case StatusAccessible:
		p.Status = StatusInProgress
		if p.StartedAt == nil {
			p.StartedAt = timePtr(now)
		}
		t.To = StatusInProgress
	}
	return p, t, nil
}

// Complete marks the chapter as completed with the given score. Completing an
// already completed chapter replaces its score and completion time.
func (p Progress) Complete(score int, now time.Time, trigger Trigger) (Progress, Transition, error) {
	t := Transition{From: p.Status, To: p.Status, Trigger: trigger}
	if p.Status == StatusLocked || p.Status == "" {
		return p, t, ErrLocked
	}
	if score < 0 || score > 100 {
		return p, t, fmt.Errorf("score %d out of range [0,100]", score)
	}
	if p.StartedAt == nil {
		p.StartedAt = timePtr(now)
	}
	p.Status = StatusCompleted
	p.CompletedAt = timePtr(now)
	p.Score = &score
	t.To = StatusCompleted
	return p, t, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
