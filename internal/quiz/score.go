// Package quiz scores chapter quizzes. Scoring functions are pure.
package quiz

import (
	"errors"
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
)

// Answers maps a question index to the chosen option value.
type Answers map[int]string

// Clone returns a copy of the answers.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Result is the outcome of scoring a set of answers.
type Result struct {
	Score     int   `json:"score"`
	Correct   int   `json:"correct"`
	Total     int   `json:"total"`
	Incorrect []int `json:"incorrect"`
}

// Score returns round(correct / total * 100), rounding halves up. An empty
// question list scores 0 and unanswered questions count as incorrect.
func Score(questions []curriculum.Question, answers Answers) int {
	return Evaluate(questions, answers).Score
}

// Evaluate scores the answers and reports which questions were missed.
func Evaluate(questions []curriculum.Question, answers Answers) Result {
	r := Result{Total: len(questions), Incorrect: []int{}}
	for i, q := range questions {
		if v, ok := answers[i]; ok && v == q.CorrectAnswer {
			r.Correct++
			continue
		}
		r.Incorrect = append(r.Incorrect, i)
	}
	r.Score = percent(r.Correct, r.Total)
	return r
}

// percent computes round(100*n/d) in integers so .5 always rounds up.
func percent(n, d int) int {
	if d == 0 {
		return 0
	}
	return (200*n + d) / (2 * d)
}

// Complete reports whether every question has an answer.
func Complete(questions []curriculum.Question, answers Answers) bool {
	for i := range questions {
		if _, ok := answers[i]; !ok {
			return false
		}
	}
	return true
}

// Unanswered returns the indices of questions without an answer.
func Unanswered(questions []curriculum.Question, answers Answers) []int {
	missing := []int{}
	for i := range questions {
		if _, ok := answers[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// ValidateAnswers rejects answers for questions that do not exist and values
// that are not among the question's options.
func ValidateAnswers(questions []curriculum.Question, answers Answers) error {
	var fields []curriculum.FieldError
	keys := make([]int, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, i := range keys {
		field := fmt.Sprintf("answers[%d]", i)
		if i < 0 || i >= len(questions) {
			fields = append(fields, curriculum.FieldError{Field: field, Error: "no such question"})
			continue
		}
		if !questions[i].HasOption(answers[i]) {
			fields = append(fields, curriculum.FieldError{Field: field, Error: "answer is not one of the options"})
		}
	}
	if len(fields) > 0 {
		return curriculum.NewValidationError(errors.New("invalid answers"), fields...)
	}
	return nil
}
