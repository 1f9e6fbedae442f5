package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Loader loads and caches unit and chapter definitions from the filesystem.
// Each YAML file describes one unit and its chapters.
type Loader struct {
	rootDir  string
	units    map[string]Unit
	chapters map[string]Chapter
	mu       sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:  rootDir,
		units:    make(map[string]Unit),
		chapters: make(map[string]Chapter),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "units", len(l.units), "chapters", len(l.chapters))
	return l, nil
}

// GetChapter returns a chapter by ID.
func (l *Loader) GetChapter(id string) (Chapter, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.chapters[id]
	return c, ok
}

// GetUnit returns a unit by ID, without its chapters.
func (l *Loader) GetUnit(id string) (Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[id]
	return u, ok
}

// Units returns the units of a grade ordered by unit number.
func (l *Loader) Units(gradeID string) []Unit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	units := make([]Unit, 0, len(l.units))
	for _, u := range l.units {
		if gradeID == "" || u.GradeID == gradeID {
			units = append(units, u)
		}
	}
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].UnitNumber != units[j].UnitNumber {
			return units[i].UnitNumber < units[j].UnitNumber
		}
		return units[i].ID < units[j].ID
	})
	return units
}

// Chapters returns the chapters of a grade, optionally narrowed to one unit,
// ordered by unit number and then chapter number.
func (l *Loader) Chapters(gradeID, unitID string) []Chapter {
	return l.Search(gradeID, unitID, "")
}

// Search is Chapters filtered by a case-insensitive match on title or description.
func (l *Loader) Search(gradeID, unitID, query string) []Chapter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// A Caser is stateful, so each search gets its own.
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))
	out := make([]Chapter, 0)
	for _, c := range l.chapters {
		if gradeID != "" && c.GradeID != gradeID {
			continue
		}
		if unitID != "" && c.UnitID != unitID {
			continue
		}
		if needle != "" &&
			!strings.Contains(fold.String(c.Title), needle) &&
			!strings.Contains(fold.String(c.Description), needle) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := l.units[out[i].UnitID].UnitNumber, l.units[out[j].UnitID].UnitNumber
		if ui != uj {
			return ui < uj
		}
		if out[i].ChapterNumber != out[j].ChapterNumber {
			return out[i].ChapterNumber < out[j].ChapterNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadUnit(path)
		}
		return nil
	})
}

func (l *Loader) loadUnit(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var unit Unit
	if err := yaml.Unmarshal(data, &unit); err != nil {
		slog.Warn("skipping invalid unit YAML", "path", path, "error", err)
		return nil
	}

	if unit.ID == "" {
		return nil // Not a unit file
	}

	chapters := unit.Chapters
	unit.Chapters = nil

	l.mu.Lock()
	defer l.mu.Unlock()

	l.units[unit.ID] = unit
	for _, c := range chapters {
		if c.UnitID == "" {
			c.UnitID = unit.ID
		}
		if c.GradeID == "" {
			c.GradeID = unit.GradeID
		}
		if err := ValidateChapter(c); err != nil {
			slog.Warn("skipping invalid chapter", "path", path, "chapter_id", c.ID, "error", err)
			continue
		}
		l.chapters[c.ID] = c
	}

	return nil
}
