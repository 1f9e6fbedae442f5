package curriculum_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
)

func TestLoader_LoadChapters(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	chapters := loader.Chapters("grade-7", "")
	if len(chapters) != 3 {
		t.Fatalf("Chapters() = %d chapters, want 3", len(chapters))
	}
}

func TestLoader_ChaptersOrderedByNumber(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	chapters := loader.Chapters("grade-7", "unit-algebra")
	want := []string{"ch-1", "ch-2", "ch-3"}
	for i, c := range chapters {
		if c.ID != want[i] {
			t.Errorf("chapters[%d].ID = %q, want %q", i, c.ID, want[i])
		}
	}
}

func TestLoader_GetChapter_InheritsUnitAndGrade(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	c, found := loader.GetChapter("ch-2")
	if !found {
		t.Fatal("GetChapter(ch-2) not found")
	}
	if c.UnitID != "unit-algebra" {
		t.Errorf("UnitID = %q, want unit-algebra", c.UnitID)
	}
	if c.GradeID != "grade-7" {
		t.Errorf("GradeID = %q, want grade-7", c.GradeID)
	}
	if !c.HasQuiz() {
		t.Error("ch-2 should have a quiz")
	}
}

func TestLoader_GetChapter_NotFound(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	_, found := loader.GetChapter("NONEXISTENT")
	if found {
		t.Error("GetChapter(NONEXISTENT) should not be found")
	}
}

func TestLoader_SkipsInvalidChapters(t *testing.T) {
	dir := setupTestCurriculum(t)

	os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`
id: unit-broken
grade_id: grade-7
unit_number: 9
chapters:
  - id: bad-1
    title: "Bad question"
    chapter_number: 1
    content:
      - type: text
        body: "x"
    questions:
      - question_text: "Pick one"
        options: ["A", "B", "C", "D"]
        correct_answer: "E"
`), 0o644)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, found := loader.GetChapter("bad-1"); found {
		t.Error("chapter with an answer outside its options should be skipped")
	}
	if _, found := loader.GetUnit("unit-broken"); !found {
		t.Error("unit itself should still load")
	}
}

func TestLoader_Search(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"empty query", "", 3},
		{"case folded title", "LINEAR", 1},
		{"description match", "brackets", 1},
		{"no match", "geometry", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := loader.Search("grade-7", "", tt.query)
			if len(got) != tt.want {
				t.Errorf("Search(%q) = %d chapters, want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestLoader_Units(t *testing.T) {
	dir := setupTestCurriculum(t)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	units := loader.Units("grade-7")
	if len(units) != 1 {
		t.Fatalf("Units() = %d, want 1", len(units))
	}
	if units[0].Chapters != nil {
		t.Error("Units() should not carry chapters")
	}
	if len(loader.Units("grade-8")) != 0 {
		t.Error("Units(grade-8) should be empty")
	}
}

func TestLoader_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if got := loader.Chapters("", ""); len(got) != 0 {
		t.Errorf("Chapters() = %d, want 0 for empty dir", len(got))
	}
}

func TestLoader_SkipsNonUnitYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte("title: just notes\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "garbage.yaml"), []byte("id: [unclosed"), 0o644)

	loader, err := curriculum.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if got := loader.Units(""); len(got) != 0 {
		t.Errorf("Units() = %d, want 0", len(got))
	}
}

func setupTestCurriculum(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	unitDir := filepath.Join(dir, "grade-7", "algebra")
	os.MkdirAll(unitDir, 0o755)

	os.WriteFile(filepath.Join(unitDir, "unit.yaml"), []byte(`
id: unit-algebra
grade_id: grade-7
title: "Algebra"
unit_number: 1
chapters:
  - id: ch-3
    title: "Linear Equations"
    chapter_number: 3
    content:
      - type: video
        url: "https://videos.example.com/linear.mp4"
        order: 1
  - id: ch-1
    title: "Variables"
    chapter_number: 1
    content:
      - type: text
        body: "A variable stands for an unknown value."
        order: 1
  - id: ch-2
    title: "Expressions"
    description: "Expanding brackets and collecting like terms"
    chapter_number: 2
    content:
      - type: mixed
        body: "Worked examples"
        order: 1
      - type: pdf
        url: "https://files.example.com/expressions.pdf"
        order: 2
    questions:
      - question_text: "Simplify 2x + 3x"
        options: ["5x", "6x", "5", "x"]
        correct_answer: "5x"
      - question_text: "Expand 2(x + 1)"
        options: ["2x + 1", "2x + 2", "x + 2", "2x"]
        correct_answer: "2x + 2"
`), 0o644)

	return dir
}
