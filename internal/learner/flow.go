// Package learner is the chapter flow shared by students and reviewers.
//
// Students move through the progress lifecycle and every transition is
// persisted through the chapter service. Reviewers (teachers and admins)
// see every chapter unlocked and their transitions stay local.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/events"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/sequence"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const (
	// unitPageLimit is the largest page the chapter service serves.
	unitPageLimit = 100
	// studyIdleTTL is how long an untouched study is kept.
	studyIdleTTL = 30 * time.Minute
)

var (
	// ErrBusy is returned while another change to the same study is in flight.
	ErrBusy = errors.New("another request for this chapter is still in progress")
	// ErrNoGrade is returned when the session user has no grade.
	ErrNoGrade = errors.New("no grade assigned to the current user")
	// ErrHasQuiz is returned when completing a quiz chapter without answers.
	ErrHasQuiz = errors.New("chapter has a quiz; submit answers to complete it")
)

// Option configures a Flow.
type Option func(*Flow)

// WithClock sets the clock used for local transitions.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithEvents sets where progress events are recorded.
func WithEvents(l events.Logger) Option {
	return func(f *Flow) { f.events = l }
}

// Flow drives learners through chapters.
type Flow struct {
	api    chapterapi.Service
	events events.Logger
	now    func() time.Time

	mu      sync.Mutex
	studies map[studyKey]*openStudy
}

type openStudy struct {
	study   *Study
	touched time.Time
}

type studyKey struct {
	learnerID string
	chapterID string
}

// NewFlow creates a flow over the given chapter service.
func NewFlow(api chapterapi.Service, opts ...Option) *Flow {
	f := &Flow{
		api:     api,
		events:  events.Nop{},
		now:     time.Now,
		studies: make(map[studyKey]*openStudy),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// UnitView is a listing of chapters with their effective progress.
type UnitView struct {
	Entries    []sequence.Entry `json:"entries"`
	Summary    sequence.Summary `json:"summary"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
}

// Chapters lists the chapters of the session user's grade.
//
// When the listing covers whole units, locks are derived locally from the
// stored records. Filtered or partial pages keep the statuses the service
// reported, since a chapter's predecessor may not be on the page.
func (f *Flow) Chapters(ctx context.Context, sess session.Session, opts chapterapi.ListOptions) (UnitView, error) {
	if sess.User.GradeID == "" {
		return UnitView{}, ErrNoGrade
	}
	page, err := f.api.ListChapters(ctx, sess.User.GradeID, opts)
	if err != nil {
		return UnitView{}, fmt.Errorf("listing chapters: %w", err)
	}

	var entries []sequence.Entry
	switch {
	case sess.User.Role.Reviewer():
		entries = make([]sequence.Entry, len(page.Chapters))
		for i, d := range page.Chapters {
			entries[i] = sequence.Entry{Chapter: d.Chapter, Progress: reviewerProgress(d.Chapter.ID)}
		}
	case opts.Search == "" && page.TotalPages <= 1:
		entries = sequence.Derive(page.ChapterList(), page.Records())
	default:
		entries = make([]sequence.Entry, len(page.Chapters))
		for i, d := range page.Chapters {
			entries[i] = sequence.Entry{Chapter: d.Chapter, Progress: d.Progress}
		}
	}

	return UnitView{
		Entries:    entries,
		Summary:    sequence.Summarize(entries),
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}, nil
}

// View fetches a chapter without changing its progress. Reviewers see every
// chapter as accessible.
func (f *Flow) View(ctx context.Context, sess session.Session, chapterID string) (chapterapi.Detail, error) {
	detail, err := f.api.FetchChapter(ctx, chapterID)
	if err != nil {
		return chapterapi.Detail{}, fmt.Errorf("fetching chapter %s: %w", chapterID, err)
	}
	if sess.User.Role.Reviewer() {
		detail.Progress = reviewerProgress(chapterID)
	}
	return detail, nil
}

// Open fetches a chapter and starts it. Students cannot open locked
// chapters. An already open study for the same learner and chapter is
// replaced.
func (f *Flow) Open(ctx context.Context, sess session.Session, chapterID string) (*Study, error) {
	detail, err := f.api.FetchChapter(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("fetching chapter %s: %w", chapterID, err)
	}

	s := &Study{
		flow:     f,
		sess:     sess,
		chapter:  detail.Chapter,
		progress: detail.Progress,
		attempt:  quiz.NewAttempt(detail.Chapter.Questions),
	}
	if s.reviewer() {
		s.progress = reviewerProgress(detail.Chapter.ID)
	}
	if err := s.start(ctx, progress.TriggerOpen); err != nil {
		return nil, err
	}

	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, o := range f.studies {
		if now.Sub(o.touched) > studyIdleTTL {
			delete(f.studies, k)
		}
	}
	f.studies[studyKey{sess.User.ID, chapterID}] = &openStudy{study: s, touched: now}
	return s, nil
}

// Resume returns the learner's open study of a chapter, opening it if needed.
// Studies are released once the chapter is completed or after sitting idle.
func (f *Flow) Resume(ctx context.Context, sess session.Session, chapterID string) (*Study, error) {
	now := f.now()
	key := studyKey{sess.User.ID, chapterID}
	f.mu.Lock()
	o, ok := f.studies[key]
	if ok && now.Sub(o.touched) <= studyIdleTTL {
		o.touched = now
		f.mu.Unlock()
		return o.study, nil
	}
	delete(f.studies, key)
	f.mu.Unlock()
	return f.Open(ctx, sess, chapterID)
}

// OpenStudies returns how many studies are held.
func (f *Flow) OpenStudies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.studies)
}

func (f *Flow) drop(s *Study) {
	key := studyKey{s.sess.User.ID, s.chapter.ID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.studies[key]; ok && o.study == s {
		delete(f.studies, key)
	}
}

// Forget drops every open study of a learner.
func (f *Flow) Forget(learnerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.studies {
		if k.learnerID == learnerID {
			delete(f.studies, k)
		}
	}
}

func (f *Flow) record(ctx context.Context, s *Study, typ events.Type, data map[string]any) {
	if s.reviewer() {
		return
	}
	events.Log(ctx, f.events, events.Event{
		LearnerID: s.sess.User.ID,
		GradeID:   s.gradeID(),
		UnitID:    s.chapter.UnitID,
		ChapterID: s.chapter.ID,
		Type:      typ,
		Data:      data,
		CreatedAt: f.now().UTC(),
	})
}

// step works out where the learner goes after completing chapterID. A
// failure here does not undo the completion, so it is logged and skipped.
func (f *Flow) step(ctx context.Context, s *Study) *sequence.Step {
	chapters, err := f.unitChapters(ctx, s.gradeID(), s.chapter.UnitID)
	if err != nil {
		slog.Warn("listing unit after completion failed",
			"chapter_id", s.chapter.ID,
			"unit_id", s.chapter.UnitID,
			"error", err,
		)
		return nil
	}
	st, err := sequence.Next(chapters, s.chapter.ID)
	if err != nil {
		slog.Warn("completed chapter missing from its unit",
			"chapter_id", s.chapter.ID,
			"unit_id", s.chapter.UnitID,
			"error", err,
		)
		return nil
	}
	return &st
}

// unitChapters lists every chapter of a unit, following the pagination.
func (f *Flow) unitChapters(ctx context.Context, gradeID, unitID string) ([]curriculum.Chapter, error) {
	var chapters []curriculum.Chapter
	for n := 1; ; n++ {
		page, err := f.api.ListChapters(ctx, gradeID, chapterapi.ListOptions{
			UnitID: unitID,
			Page:   n,
			Limit:  unitPageLimit,
		})
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, page.ChapterList()...)
		if n >= page.TotalPages || len(page.Chapters) == 0 {
			return chapters, nil
		}
	}
}

func reviewerProgress(chapterID string) progress.Progress {
	return progress.Progress{ChapterID: chapterID, Status: progress.StatusAccessible}
}

// chapterGrade prefers the chapter's own grade over the session's.
func chapterGrade(ch curriculum.Chapter, sess session.Session) string {
	if ch.GradeID != "" {
		return ch.GradeID
	}
	return sess.User.GradeID
}
