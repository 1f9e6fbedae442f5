package chapterapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/sequence"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// MemoryService is an in-process chapter service backed by a YAML catalogue.
// It keeps each learner's progress in memory and enforces chapter locks the
// way the remote service does.
type MemoryService struct {
	catalogue *curriculum.Loader
	now       func() time.Time

	mu      sync.Mutex
	records map[string]map[string]progress.Progress // learner ID -> chapter ID
}

// NewMemoryService creates a service over the given catalogue.
func NewMemoryService(catalogue *curriculum.Loader) *MemoryService {
	return &MemoryService{
		catalogue: catalogue,
		now:       time.Now,
		records:   make(map[string]map[string]progress.Progress),
	}
}

// SetClock replaces the service clock.
func (m *MemoryService) SetClock(now func() time.Time) {
	m.now = now
}

func learnerID(ctx context.Context) (string, error) {
	s, ok := session.FromContext(ctx)
	if !ok || s.User.ID == "" {
		return "", statusError(http.StatusUnauthorized, "")
	}
	return s.User.ID, nil
}

// FetchChapter returns one chapter with the learner's derived progress.
func (m *MemoryService) FetchChapter(ctx context.Context, id string) (Detail, error) {
	learner, err := learnerID(ctx)
	if err != nil {
		return Detail{}, err
	}
	ch, ok := m.catalogue.GetChapter(id)
	if !ok {
		return Detail{}, statusError(http.StatusNotFound, "Chapter not found")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Detail{Chapter: ch, Progress: m.derived(learner, ch)}, nil
}

// ListChapters returns one page of the grade's chapters in sequence order.
func (m *MemoryService) ListChapters(ctx context.Context, gradeID string, opts ListOptions) (Page, error) {
	learner, err := learnerID(ctx)
	if err != nil {
		return Page{}, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = defaultPageLimit
	}
	opts.Limit = min(opts.Limit, maxPageLimit)

	matched := m.catalogue.Search(gradeID, opts.UnitID, opts.Search)

	m.mu.Lock()
	entries := sequence.Derive(m.catalogue.Chapters(gradeID, opts.UnitID), m.records[learner])
	m.mu.Unlock()

	status := make(map[string]progress.Progress, len(entries))
	for _, e := range entries {
		status[e.Chapter.ID] = e.Progress
	}

	page := Page{
		Page:     opts.Page,
		Limit:    opts.Limit,
		Total:    len(matched),
		Chapters: []Detail{},
	}
	page.TotalPages = (page.Total + opts.Limit - 1) / opts.Limit

	start := (opts.Page - 1) * opts.Limit
	if start >= len(matched) {
		return page, nil
	}
	end := min(start+opts.Limit, len(matched))
	for _, ch := range matched[start:end] {
		page.Chapters = append(page.Chapters, Detail{Chapter: ch, Progress: status[ch.ID]})
	}
	return page, nil
}

// Start moves an accessible chapter to in progress.
func (m *MemoryService) Start(ctx context.Context, gradeID, chapterID string) (progress.Progress, error) {
	return m.apply(ctx, gradeID, chapterID, func(p progress.Progress, _ curriculum.Chapter, now time.Time) (progress.Progress, error) {
		next, _, err := p.Start(now)
		return next, err
	})
}

// Submit scores the answers against the catalogue and completes the chapter.
func (m *MemoryService) Submit(ctx context.Context, gradeID, chapterID string, answers quiz.Answers) (Submission, error) {
	var score int
	p, err := m.apply(ctx, gradeID, chapterID, func(p progress.Progress, ch curriculum.Chapter, now time.Time) (progress.Progress, error) {
		if err := quiz.ValidateAnswers(ch.Questions, answers); err != nil {
			return p, &Error{Status: http.StatusBadRequest, Message: "Invalid answers", Err: err}
		}
		score = quiz.Score(ch.Questions, answers)
		return complete(p, score, now, progress.TriggerSubmit)
	})
	if err != nil {
		return Submission{}, err
	}
	return Submission{Progress: p, Score: score}, nil
}

// Complete records a completion with the given score. Repeating a completion
// with the same score leaves the stored record untouched.
func (m *MemoryService) Complete(ctx context.Context, gradeID, chapterID string, score int) (progress.Progress, error) {
	return m.apply(ctx, gradeID, chapterID, func(p progress.Progress, _ curriculum.Chapter, now time.Time) (progress.Progress, error) {
		return complete(p, score, now, progress.TriggerCompleteWithoutQuiz)
	})
}

func complete(p progress.Progress, score int, now time.Time, trigger progress.Trigger) (progress.Progress, error) {
	if score < 0 || score > 100 {
		return p, &Error{
			Status:  http.StatusBadRequest,
			Message: "Score must be between 0 and 100",
			Err:     curriculum.NewValidationError(fmt.Errorf("score %d out of range [0,100]", score)),
		}
	}
	if p.IsCompleted() && p.Score != nil && *p.Score == score {
		return p, nil
	}
	next, _, err := p.Complete(score, now, trigger)
	return next, err
}

type mutation func(p progress.Progress, ch curriculum.Chapter, now time.Time) (progress.Progress, error)

func (m *MemoryService) apply(ctx context.Context, gradeID, chapterID string, fn mutation) (progress.Progress, error) {
	learner, err := learnerID(ctx)
	if err != nil {
		return progress.Progress{}, err
	}
	if err := ctx.Err(); err != nil {
		return progress.Progress{}, &Error{Message: msgUnreachable, Err: err}
	}
	ch, ok := m.catalogue.GetChapter(chapterID)
	if !ok || (gradeID != "" && !strings.EqualFold(ch.GradeID, gradeID)) {
		return progress.Progress{}, statusError(http.StatusNotFound, "Chapter not found")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.derived(learner, ch)
	next, err := fn(current, ch, m.now())
	if err != nil {
		if errors.Is(err, progress.ErrLocked) {
			return progress.Progress{}, statusError(http.StatusForbidden, "You must complete previous chapters first")
		}
		return progress.Progress{}, err
	}

	if m.records[learner] == nil {
		m.records[learner] = make(map[string]progress.Progress)
	}
	m.records[learner][ch.ID] = next
	return next, nil
}

// derived returns the learner's effective progress on ch. Callers hold m.mu.
func (m *MemoryService) derived(learner string, ch curriculum.Chapter) progress.Progress {
	unit := m.catalogue.Chapters(ch.GradeID, ch.UnitID)
	for _, e := range sequence.Derive(unit, m.records[learner]) {
		if e.Chapter.ID == ch.ID {
			return e.Progress
		}
	}
	return progress.Progress{ChapterID: ch.ID, Status: progress.StatusLocked}
}
