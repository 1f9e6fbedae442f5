// Package chapterapi is the only component that talks to the chapter service.
// Each call is a single round trip; nothing is retried locally.
package chapterapi

import (
	"context"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
)

// Service is the chapter service as seen by the learner flow.
type Service interface {
	FetchChapter(ctx context.Context, id string) (Detail, error)
	ListChapters(ctx context.Context, gradeID string, opts ListOptions) (Page, error)
	Start(ctx context.Context, gradeID, chapterID string) (progress.Progress, error)
	Submit(ctx context.Context, gradeID, chapterID string, answers quiz.Answers) (Submission, error)
	Complete(ctx context.Context, gradeID, chapterID string, score int) (progress.Progress, error)
}

// Detail is a chapter together with the learner's progress on it.
type Detail struct {
	Chapter  curriculum.Chapter `json:"chapter"`
	Progress progress.Progress  `json:"progress"`
}

// ListOptions narrows a chapter listing.
type ListOptions struct {
	UnitID string
	Page   int
	Limit  int
	Search string
}

// Page is one page of a chapter listing.
type Page struct {
	Chapters   []Detail `json:"chapters"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
}

// Records indexes the listed progress by chapter ID.
func (p Page) Records() map[string]progress.Progress {
	out := make(map[string]progress.Progress, len(p.Chapters))
	for _, d := range p.Chapters {
		out[d.Chapter.ID] = d.Progress
	}
	return out
}

// ChapterList returns the listed chapters without progress.
func (p Page) ChapterList() []curriculum.Chapter {
	out := make([]curriculum.Chapter, len(p.Chapters))
	for i, d := range p.Chapters {
		out[i] = d.Chapter
	}
	return out
}

// Submission is the service's verdict on a submitted quiz.
type Submission struct {
	Progress progress.Progress `json:"progress"`
	Score    int               `json:"score"`
}
