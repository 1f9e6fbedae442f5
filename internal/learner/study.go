package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/events"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/sequence"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

// Outcome is the result of completing a chapter. Result is the local
// per-question breakdown; it is nil when the service scored the answers
// differently, since the breakdown would no longer match Score.
type Outcome struct {
	Score    int               `json:"score"`
	Result   *quiz.Result      `json:"result,omitempty"`
	Progress progress.Progress `json:"progress"`
	Step     *sequence.Step    `json:"step,omitempty"`
}

// Study is one learner working through one chapter. Changes are serialized:
// while one is in flight, others fail with ErrBusy.
type Study struct {
	flow *Flow
	sess session.Session
	busy atomic.Bool

	mu       sync.Mutex
	chapter  curriculum.Chapter
	progress progress.Progress
	attempt  *quiz.Attempt
}

// Chapter returns the chapter being studied.
func (s *Study) Chapter() curriculum.Chapter {
	return s.chapter
}

// Progress returns the current progress record.
func (s *Study) Progress() progress.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Answers returns the answers recorded so far.
func (s *Study) Answers() quiz.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Answers()
}

// Preview scores the current answers without submitting them.
func (s *Study) Preview() quiz.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Preview()
}

func (s *Study) reviewer() bool {
	return s.sess.User.Role.Reviewer()
}

func (s *Study) gradeID() string {
	return chapterGrade(s.chapter, s.sess)
}

func (s *Study) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (s *Study) release() {
	s.busy.Store(false)
}

// start moves the chapter to in progress. For students the service owns the
// lock: a record reported as locked is still sent, and a 403 comes back as
// progress.ErrLocked.
func (s *Study) start(ctx context.Context, trigger progress.Trigger) error {
	current := s.Progress()
	if current.Status == progress.StatusInProgress || current.IsCompleted() {
		return nil
	}

	var next progress.Progress
	if s.reviewer() {
		begin := current.Start
		if trigger == progress.TriggerAnswer {
			begin = current.RecordAnswer
		}
		n, _, err := begin(s.flow.now())
		if err != nil {
			return fmt.Errorf("opening chapter %s: %w", s.chapter.ID, err)
		}
		next = n
	} else {
		n, err := s.flow.api.Start(ctx, s.gradeID(), s.chapter.ID)
		if err != nil {
			return fmt.Errorf("starting chapter %s: %w", s.chapter.ID, err)
		}
		next = n
	}

	s.mu.Lock()
	s.progress = next
	s.mu.Unlock()
	s.flow.record(ctx, s, events.ChapterStarted, map[string]any{"trigger": string(trigger)})
	return nil
}

// Answer records the chosen option for a question.
func (s *Study) Answer(ctx context.Context, index int, value string) error {
	return s.AnswerAll(ctx, quiz.Answers{index: value})
}

// AnswerAll records several answers at once. Nothing is recorded when any
// answer is invalid.
func (s *Study) AnswerAll(ctx context.Context, answers quiz.Answers) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if len(answers) == 0 {
		return nil
	}
	if err := quiz.ValidateAnswers(s.chapter.Questions, answers); err != nil {
		return err
	}
	s.mu.Lock()
	_, submitted := s.attempt.Submitted()
	s.mu.Unlock()
	if submitted {
		return quiz.ErrSubmitted
	}

	if err := s.start(ctx, progress.TriggerAnswer); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.attempt.SelectAll(answers)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("answering chapter %s: %w", s.chapter.ID, err)
	}

	s.flow.record(ctx, s, events.AnswerRecorded, map[string]any{"count": len(answers)})
	return nil
}

// Submit scores the attempt and completes the chapter. A chapter without
// questions is completed with the no-quiz score instead.
func (s *Study) Submit(ctx context.Context) (Outcome, error) {
	if !s.chapter.HasQuiz() {
		return s.CompleteWithoutQuiz(ctx)
	}
	if err := s.acquire(); err != nil {
		return Outcome{}, err
	}
	defer s.release()

	s.mu.Lock()
	if _, done := s.attempt.Submitted(); done {
		s.mu.Unlock()
		return Outcome{}, quiz.ErrSubmitted
	}
	if !s.attempt.Ready() {
		s.mu.Unlock()
		return Outcome{}, quiz.ErrIncomplete
	}
	result := s.attempt.Preview()
	answers := s.attempt.Answers()
	current := s.progress
	s.mu.Unlock()

	score, detail := result.Score, &result
	var p progress.Progress
	if s.reviewer() {
		next, _, err := current.Complete(result.Score, s.flow.now(), progress.TriggerSubmit)
		if err != nil {
			return Outcome{}, fmt.Errorf("completing chapter %s: %w", s.chapter.ID, err)
		}
		p = next
	} else {
		sub, err := s.flow.api.Submit(ctx, s.gradeID(), s.chapter.ID, answers)
		if err != nil {
			return Outcome{}, fmt.Errorf("submitting chapter %s: %w", s.chapter.ID, err)
		}
		if sub.Score != result.Score {
			slog.Warn("service score differs from local score",
				"chapter_id", s.chapter.ID,
				"local", result.Score,
				"service", sub.Score,
			)
			score, detail = sub.Score, nil
		}
		p = sub.Progress
	}

	s.mu.Lock()
	s.attempt.Submit()
	s.progress = p
	s.mu.Unlock()

	data := map[string]any{"score": score, "total": result.Total}
	if detail != nil {
		data["correct"] = detail.Correct
	}
	s.flow.record(ctx, s, events.QuizSubmitted, data)
	return s.finish(ctx, score, detail, p), nil
}

// CompleteWithoutQuiz completes a chapter that has no questions.
func (s *Study) CompleteWithoutQuiz(ctx context.Context) (Outcome, error) {
	if s.chapter.HasQuiz() {
		return Outcome{}, ErrHasQuiz
	}
	if err := s.acquire(); err != nil {
		return Outcome{}, err
	}
	defer s.release()

	s.mu.Lock()
	current := s.progress
	s.mu.Unlock()

	var p progress.Progress
	if s.reviewer() {
		next, _, err := current.Complete(progress.NoQuizScore, s.flow.now(), progress.TriggerCompleteWithoutQuiz)
		if err != nil {
			return Outcome{}, fmt.Errorf("completing chapter %s: %w", s.chapter.ID, err)
		}
		p = next
	} else {
		next, err := s.flow.api.Complete(ctx, s.gradeID(), s.chapter.ID, progress.NoQuizScore)
		if err != nil {
			return Outcome{}, fmt.Errorf("completing chapter %s: %w", s.chapter.ID, err)
		}
		p = next
	}

	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()

	return s.finish(ctx, progress.NoQuizScore, &quiz.Result{Score: progress.NoQuizScore, Incorrect: []int{}}, p), nil
}

// finish records the completion and releases the study; a later request
// for the chapter opens a fresh one.
func (s *Study) finish(ctx context.Context, score int, detail *quiz.Result, p progress.Progress) Outcome {
	s.flow.drop(s)
	s.flow.record(ctx, s, events.ChapterCompleted, map[string]any{"score": score})
	out := Outcome{Score: score, Result: detail, Progress: p, Step: s.flow.step(ctx, s)}
	if out.Step != nil && out.Step.UnitComplete {
		s.flow.record(ctx, s, events.UnitCompleted, nil)
	}
	return out
}

// Retake clears the attempt so the quiz can be answered again. The stored
// completion and score stay until the next submission replaces them.
func (s *Study) Retake(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	s.attempt.Reset()
	s.mu.Unlock()

	s.flow.record(ctx, s, events.RetakeStarted, nil)
	return nil
}
