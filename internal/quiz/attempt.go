package quiz

import (
	"errors"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
)

var (
	// ErrIncomplete is returned when submitting before every question is answered.
	ErrIncomplete = errors.New("all questions must be answered before submitting")
	// ErrSubmitted is returned when changing answers after submission.
	ErrSubmitted = errors.New("attempt already submitted; retake to answer again")
)

// Attempt tracks one pass through a chapter quiz. It is not safe for
// concurrent use.
type Attempt struct {
	questions []curriculum.Question
	answers   Answers
	result    *Result
}

// NewAttempt starts an empty attempt over the given questions.
func NewAttempt(questions []curriculum.Question) *Attempt {
	return &Attempt{
		questions: questions,
		answers:   Answers{},
	}
}

// Select records the chosen option for a question, replacing any earlier choice.
func (a *Attempt) Select(index int, value string) error {
	if a.result != nil {
		return ErrSubmitted
	}
	if err := ValidateAnswers(a.questions, Answers{index: value}); err != nil {
		return err
	}
	a.answers[index] = value
	return nil
}

// SelectAll records several choices. Nothing is recorded when any of them is
// invalid.
func (a *Attempt) SelectAll(answers Answers) error {
	if a.result != nil {
		return ErrSubmitted
	}
	if err := ValidateAnswers(a.questions, answers); err != nil {
		return err
	}
	for i, v := range answers {
		a.answers[i] = v
	}
	return nil
}

// Answers returns a copy of the recorded answers.
func (a *Attempt) Answers() Answers {
	return a.answers.Clone()
}

// Preview scores the current answers without submitting.
func (a *Attempt) Preview() Result {
	return Evaluate(a.questions, a.answers)
}

// Ready reports whether every question has been answered.
func (a *Attempt) Ready() bool {
	return Complete(a.questions, a.answers)
}

// Submit scores the attempt. All questions must be answered.
func (a *Attempt) Submit() (Result, error) {
	if a.result != nil {
		return *a.result, ErrSubmitted
	}
	if !a.Ready() {
		return Result{}, ErrIncomplete
	}
	r := Evaluate(a.questions, a.answers)
	a.result = &r
	return r, nil
}

// Submitted returns the submitted result, if any.
func (a *Attempt) Submitted() (Result, bool) {
	if a.result == nil {
		return Result{}, false
	}
	return *a.result, true
}

// Reset clears answers and the submitted result so the quiz can be retaken.
func (a *Attempt) Reset() {
	a.answers = Answers{}
	a.result = nil
}
