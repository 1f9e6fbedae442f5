// Package sequence orders chapters within a unit and decides which chapters
// a learner may open. Sequencing never crosses unit boundaries.
package sequence

import (
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
)

// Entry pairs a chapter with the learner's effective progress.
type Entry struct {
	Chapter  curriculum.Chapter `json:"chapter"`
	Progress progress.Progress  `json:"progress"`
}

// Step is the result of advancing past a completed chapter.
// UnitComplete is a normal outcome, not an error.
type Step struct {
	Next         *curriculum.Chapter `json:"next,omitempty"`
	UnitComplete bool                `json:"unitComplete"`
}

// Summary aggregates progress over a set of entries.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Locked     int `json:"locked"`
	Percent    int `json:"percent"`
}

// Order returns a copy of chapters sorted by chapter number ascending.
// Chapters with equal numbers keep their relative order.
func Order(chapters []curriculum.Chapter) []curriculum.Chapter {
	out := make([]curriculum.Chapter, len(chapters))
	copy(out, chapters)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChapterNumber < out[j].ChapterNumber
	})
	return out
}

// units groups chapters by unit, preserving the order in which units first
// appear, and orders each group.
func units(chapters []curriculum.Chapter) [][]curriculum.Chapter {
	index := map[string]int{}
	var groups [][]curriculum.Chapter
	for _, c := range chapters {
		i, ok := index[c.UnitID]
		if !ok {
			i = len(groups)
			index[c.UnitID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	for i := range groups {
		groups[i] = Order(groups[i])
	}
	return groups
}

// Derive computes each chapter's effective status from the stored records.
//
// The first chapter of a unit is never locked. A later chapter is locked
// while its predecessor is not completed, unless its own record shows it was
// already started or completed. A chapter is never reported accessible while
// its predecessor is incomplete.
func Derive(chapters []curriculum.Chapter, records map[string]progress.Progress) []Entry {
	entries := make([]Entry, 0, len(chapters))
	for _, group := range units(chapters) {
		prevCompleted := true
		for _, c := range group {
			p, ok := records[c.ID]
			if !ok {
				p = progress.Progress{ChapterID: c.ID, Status: progress.StatusLocked}
			}
			p.ChapterID = c.ID

			switch p.Status {
			case progress.StatusInProgress, progress.StatusCompleted:
			default:
				if prevCompleted {
					p, _ = p.Unlock()
				} else {
					p.Status = progress.StatusLocked
				}
			}

			entries = append(entries, Entry{Chapter: c, Progress: p})
			prevCompleted = p.IsCompleted()
		}
	}
	return entries
}

// Next returns the chapter following completedID in the same unit. When
// completedID is the last chapter of its unit, the step reports UnitComplete.
func Next(chapters []curriculum.Chapter, completedID string) (Step, error) {
	group, pos, err := locate(chapters, completedID)
	if err != nil {
		return Step{}, err
	}
	if pos == len(group)-1 {
		return Step{UnitComplete: true}, nil
	}
	next := group[pos+1]
	return Step{Next: &next}, nil
}

// Previous returns the chapter preceding id in the same unit, if any.
func Previous(chapters []curriculum.Chapter, id string) (curriculum.Chapter, bool, error) {
	group, pos, err := locate(chapters, id)
	if err != nil {
		return curriculum.Chapter{}, false, err
	}
	if pos == 0 {
		return curriculum.Chapter{}, false, nil
	}
	return group[pos-1], true, nil
}

func locate(chapters []curriculum.Chapter, id string) ([]curriculum.Chapter, int, error) {
	var unitID string
	found := false
	for _, c := range chapters {
		if c.ID == id {
			unitID = c.UnitID
			found = true
			break
		}
	}
	if !found {
		return nil, 0, fmt.Errorf("chapter %s not in list", id)
	}

	var group []curriculum.Chapter
	for _, c := range chapters {
		if c.UnitID == unitID {
			group = append(group, c)
		}
	}
	group = Order(group)
	for i, c := range group {
		if c.ID == id {
			return group, i, nil
		}
	}
	return nil, 0, fmt.Errorf("chapter %s not in list", id)
}

// Summarize counts entries by status. Percent is the rounded share of
// completed chapters.
func Summarize(entries []Entry) Summary {
	s := Summary{Total: len(entries)}
	for _, e := range entries {
		switch e.Progress.Status {
		case progress.StatusCompleted:
			s.Completed++
		case progress.StatusInProgress:
			s.InProgress++
		case progress.StatusLocked:
			s.Locked++
		}
	}
	if s.Total > 0 {
		s.Percent = (200*s.Completed + s.Total) / (2 * s.Total)
	}
	return s
}
