package curriculum

// ContentType is the kind of a chapter content item.
type ContentType string

const (
	ContentVideo ContentType = "video"
	ContentText  ContentType = "text"
	ContentPDF   ContentType = "pdf"
	ContentMixed ContentType = "mixed"
)

// ContentItem is one ordered piece of chapter content.
type ContentItem struct {
	Type  ContentType `json:"type" yaml:"type" validate:"required,oneof=video text pdf mixed"`
	Title string      `json:"title,omitempty" yaml:"title"`
	URL   string      `json:"url,omitempty" yaml:"url" validate:"omitempty,url"`
	Body  string      `json:"body,omitempty" yaml:"body"`
	Order int         `json:"order" yaml:"order" validate:"gte=0"`
}

// Question is a four-option multiple choice question.
// CorrectAnswer holds the option value, not its index.
type Question struct {
	QuestionText  string   `json:"questionText" yaml:"question_text" validate:"required"`
	Options       []string `json:"options" yaml:"options" validate:"len=4,dive,required"`
	CorrectAnswer string   `json:"correctAnswer" yaml:"correct_answer" validate:"required"`
}

// HasOption reports whether v is one of the question's options.
func (q Question) HasOption(v string) bool {
	for _, o := range q.Options {
		if o == v {
			return true
		}
	}
	return false
}

// Chapter is a unit of content with optional quiz questions.
type Chapter struct {
	ID            string        `json:"id" yaml:"id" validate:"required"`
	Title         string        `json:"title" yaml:"title" validate:"required"`
	Description   string        `json:"description,omitempty" yaml:"description"`
	GradeID       string        `json:"gradeId,omitempty" yaml:"grade_id"`
	UnitID        string        `json:"unitId" yaml:"unit_id" validate:"required"`
	ChapterNumber int           `json:"chapterNumber" yaml:"chapter_number" validate:"gte=1"`
	Content       []ContentItem `json:"content" yaml:"content" validate:"min=1,dive"`
	Questions     []Question    `json:"questions" yaml:"questions" validate:"dive"`
}

// HasQuiz reports whether the chapter carries any questions.
func (c Chapter) HasQuiz() bool {
	return len(c.Questions) > 0
}

// Unit is an ordered grouping of chapters within a grade.
type Unit struct {
	ID         string    `yaml:"id"`
	GradeID    string    `yaml:"grade_id"`
	Title      string    `yaml:"title"`
	UnitNumber int       `yaml:"unit_number"`
	Chapters   []Chapter `yaml:"chapters"`
}
