package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const maxBodyBytes = 64 << 10

type listQuery struct {
	UnitID string `json:"unitId" validate:"omitempty,max=128"`
	Page   int    `json:"page" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Search string `json:"search" validate:"omitempty,max=200"`
}

type answersRequest struct {
	Answers quiz.Answers `json:"answers"`
}

type eventsQuery struct {
	Limit int `json:"limit" validate:"gte=0,lte=200"`
}

// chapterView is a chapter as shown to a learner. Students do not see the
// correct answers.
type chapterView struct {
	ID            string                   `json:"id"`
	Title         string                   `json:"title"`
	Description   string                   `json:"description,omitempty"`
	GradeID       string                   `json:"gradeId,omitempty"`
	UnitID        string                   `json:"unitId"`
	ChapterNumber int                      `json:"chapterNumber"`
	Content       []curriculum.ContentItem `json:"content"`
	Questions     []questionView           `json:"questions"`
	Progress      progress.Progress        `json:"progress"`
}

type questionView struct {
	QuestionText  string   `json:"questionText"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
}

func newChapterView(d chapterapi.Detail, role session.Role) chapterView {
	c := d.Chapter
	v := chapterView{
		ID:            c.ID,
		Title:         c.Title,
		Description:   c.Description,
		GradeID:       c.GradeID,
		UnitID:        c.UnitID,
		ChapterNumber: c.ChapterNumber,
		Content:       c.Content,
		Questions:     make([]questionView, len(c.Questions)),
		Progress:      d.Progress,
	}
	if v.Content == nil {
		v.Content = []curriculum.ContentItem{}
	}
	for i, q := range c.Questions {
		v.Questions[i] = questionView{QuestionText: q.QuestionText, Options: q.Options}
		if role.Reviewer() {
			v.Questions[i].CorrectAnswer = q.CorrectAnswer
		}
	}
	return v
}

func currentSession(r *http.Request) session.Session {
	s, _ := session.FromContext(r.Context())
	return s
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, curriculum.NewValidationError(errors.New("invalid input"),
			curriculum.FieldError{Field: key, Error: "must be a whole number"})
	}
	return i, nil
}

// decodeAnswers reads an optional {"answers": {...}} body.
func decodeAnswers(w http.ResponseWriter, r *http.Request) (quiz.Answers, error) {
	var req answersRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, curriculum.NewValidationError(fmt.Errorf("invalid request body: %w", err))
	}
	return req.Answers, nil
}

func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := listQuery{
		UnitID: r.URL.Query().Get("unitId"),
		Page:   page,
		Limit:  limit,
		Search: r.URL.Query().Get("search"),
	}
	if err := curriculum.Check(q); err != nil {
		writeError(w, r, err)
		return
	}

	sess := currentSession(r)
	view, err := s.flow.Chapters(r.Context(), sess, chapterapi.ListOptions{
		UnitID: q.UnitID,
		Page:   q.Page,
		Limit:  q.Limit,
		Search: q.Search,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	chapters := make([]chapterView, len(view.Entries))
	for i, e := range view.Entries {
		chapters[i] = newChapterView(chapterapi.Detail{Chapter: e.Chapter, Progress: e.Progress}, sess.User.Role)
	}
	writeData(w, map[string]any{
		"chapters": chapters,
		"summary":  view.Summary,
		"pagination": map[string]int{
			"page":       view.Page,
			"limit":      view.Limit,
			"total":      view.Total,
			"totalPages": view.TotalPages,
		},
	})
}

func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	d, err := s.flow.View(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, newChapterView(d, sess.User.Role))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	study, err := s.flow.Open(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"progress": study.Progress()})
}

func (s *Server) handleAnswers(w http.ResponseWriter, r *http.Request) {
	answers, err := decodeAnswers(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	study, err := s.flow.Resume(r.Context(), currentSession(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := study.AnswerAll(r.Context(), answers); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{
		"progress": study.Progress(),
		"answers":  study.Answers(),
		"preview":  study.Preview(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	answers, err := decodeAnswers(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	study, err := s.flow.Resume(r.Context(), currentSession(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := study.AnswerAll(r.Context(), answers); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := study.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	study, err := s.flow.Resume(r.Context(), currentSession(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := study.CompleteWithoutQuiz(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, out)
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	study, err := s.flow.Resume(r.Context(), currentSession(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := study.Retake(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{
		"progress": study.Progress(),
		"answers":  study.Answers(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := currentSession(r)
	s.flow.Forget(sess.User.ID)
	if err := s.sessions.Logout(r.Context(), sess.Token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "logged out"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := curriculum.Check(eventsQuery{Limit: limit}); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.history.Recent(r.Context(), currentSession(r).User.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"events": list})
}
