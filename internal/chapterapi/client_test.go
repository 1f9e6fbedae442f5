package chapterapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const chapterJSON = `{
  "id": "ch-2",
  "title": "Expressions",
  "gradeId": "grade-7",
  "unitId": "unit-algebra",
  "chapterNumber": 2,
  "content": [{"type": "text", "body": "Collect like terms", "order": 1}],
  "questions": [
    {"questionText": "2x + 3x", "options": ["5x", "6x", "5", "x"], "correctAnswer": "5x"}
  ],
  "progress": {"status": "in_progress", "startedAt": "2026-03-01T10:00:00Z"}
}`

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestClient_FetchChapter(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": `+chapterJSON+`}`)
	}))
	defer server.Close()

	client := chapterapi.NewClient(server.URL)
	ctx := session.WithSession(t.Context(), session.Session{Token: "tok-1", User: session.User{ID: "s1"}})

	d, err := client.FetchChapter(ctx, "ch-2")
	if err != nil {
		t.Fatalf("FetchChapter() error = %v", err)
	}
	if gotPath != "/chapters/ch-2" {
		t.Errorf("path = %q, want /chapters/ch-2", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", gotAuth)
	}
	if d.Chapter.Title != "Expressions" || len(d.Chapter.Questions) != 1 {
		t.Errorf("chapter = %+v", d.Chapter)
	}
	if d.Progress.Status != progress.StatusInProgress {
		t.Errorf("status = %q, want in_progress", d.Progress.Status)
	}
	if d.Progress.ChapterID != "ch-2" {
		t.Errorf("progress chapter id = %q, want ch-2", d.Progress.ChapterID)
	}
}

func TestClient_FetchChapter_MissingProgressIsLocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"id": "ch-1", "title": "Variables", "unitId": "u", "chapterNumber": 1}}`)
	}))
	defer server.Close()

	d, err := chapterapi.NewClient(server.URL).FetchChapter(t.Context(), "ch-1")
	if err != nil {
		t.Fatalf("FetchChapter() error = %v", err)
	}
	if d.Progress.Status != progress.StatusLocked {
		t.Errorf("status = %q, want locked", d.Progress.Status)
	}
}

func TestClient_FetchChapter_RejectsMalformedChapter(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing unit", `{"id": "ch-1", "title": "T", "chapterNumber": 1}`},
		{"unknown status", `{"id": "ch-1", "title": "T", "unitId": "u", "chapterNumber": 1, "progress": {"status": "done"}}`},
		{"completed without score", `{"id": "ch-1", "title": "T", "unitId": "u", "chapterNumber": 1, "progress": {"status": "completed", "completedAt": "2026-03-01T10:00:00Z"}}`},
		{"not an object", `"ch-1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusOK, `{"success": true, "data": `+tt.data+`}`)
			}))
			defer server.Close()

			_, err := chapterapi.NewClient(server.URL).FetchChapter(t.Context(), "ch-1")
			if err == nil {
				t.Fatal("FetchChapter() should fail")
			}
			if got := chapterapi.Message(err, ""); got != "invalid response from the chapter service" {
				t.Errorf("Message() = %q", got)
			}
		})
	}
}

func TestClient_ErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantLocked  bool
		wantMissing bool
	}{
		{
			name:        "locked with message",
			status:      http.StatusForbidden,
			body:        `{"success": false, "message": "You must complete previous chapters first"}`,
			wantMessage: "You must complete previous chapters first",
			wantLocked:  true,
		},
		{
			name:        "locked without body",
			status:      http.StatusForbidden,
			body:        ``,
			wantMessage: "You must complete previous chapters first",
			wantLocked:  true,
		},
		{
			name:        "not found",
			status:      http.StatusNotFound,
			body:        `{"success": false, "message": "Chapter not found"}`,
			wantMessage: "Chapter not found",
			wantMissing: true,
		},
		{
			name:        "server error without message",
			status:      http.StatusInternalServerError,
			body:        `<html>oops</html>`,
			wantMessage: "request failed with status 500",
		},
		{
			name:        "ok but not successful",
			status:      http.StatusOK,
			body:        `{"success": false, "message": "Grade is archived"}`,
			wantMessage: "Grade is archived",
		},
		{
			name:        "ok but not successful without message",
			status:      http.StatusOK,
			body:        `{"success": false}`,
			wantMessage: "the chapter service rejected the request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.body)
			}))
			defer server.Close()

			_, err := chapterapi.NewClient(server.URL).Start(t.Context(), "grade-7", "ch-2")
			if err == nil {
				t.Fatal("Start() should fail")
			}
			if got := chapterapi.Message(err, "fallback"); got != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", got, tt.wantMessage)
			}
			if got := chapterapi.IsLocked(err); got != tt.wantLocked {
				t.Errorf("IsLocked() = %v, want %v", got, tt.wantLocked)
			}
			if got := chapterapi.IsNotFound(err); got != tt.wantMissing {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.wantMissing)
			}
		})
	}
}

func TestClient_DoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, `{"success": false}`)
	}))
	defer server.Close()

	_, err := chapterapi.NewClient(server.URL).Complete(t.Context(), "grade-7", "ch-1", 100)
	if err == nil {
		t.Fatal("Complete() should fail")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := chapterapi.NewClient(url).FetchChapter(t.Context(), "ch-1")
	if err == nil {
		t.Fatal("FetchChapter() should fail")
	}
	if got := chapterapi.Message(err, ""); got != "unable to reach the chapter service" {
		t.Errorf("Message() = %q", got)
	}
	if chapterapi.StatusOf(err) != 0 {
		t.Errorf("StatusOf() = %d, want 0", chapterapi.StatusOf(err))
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := chapterapi.NewClient(server.URL).Start(ctx, "grade-7", "ch-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() error = %v, want deadline exceeded", err)
	}
}

func TestClient_ListChapters(t *testing.T) {
	var query map[string]string
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {
			"chapters": [`+chapterJSON+`, {"id": "ch-3", "title": "Linear", "unitId": "unit-algebra", "chapterNumber": 3}],
			"pagination": {"page": 2, "limit": 2, "total": 5, "totalPages": 3}
		}}`)
	}))
	defer server.Close()

	page, err := chapterapi.NewClient(server.URL).ListChapters(t.Context(), "grade-7", chapterapi.ListOptions{
		UnitID: "unit-algebra",
		Page:   2,
		Limit:  2,
		Search: "linear",
	})
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if path != "/chapters/grade-7/chapters" {
		t.Errorf("path = %q", path)
	}
	want := map[string]string{"unitId": "unit-algebra", "page": "2", "limit": "2", "search": "linear"}
	for k, v := range want {
		if query[k] != v {
			t.Errorf("query %s = %q, want %q", k, query[k], v)
		}
	}
	if len(page.Chapters) != 2 || page.Total != 5 || page.TotalPages != 3 {
		t.Errorf("page = %+v", page)
	}
	records := page.Records()
	if records["ch-3"].Status != progress.StatusLocked {
		t.Errorf("ch-3 status = %q, want locked", records["ch-3"].Status)
	}
}

func TestClient_ListChapters_BareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Query()) != 0 {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": [`+chapterJSON+`]}`)
	}))
	defer server.Close()

	page, err := chapterapi.NewClient(server.URL).ListChapters(t.Context(), "grade-7", chapterapi.ListOptions{})
	if err != nil {
		t.Fatalf("ListChapters() error = %v", err)
	}
	if page.Total != 1 || page.Page != 1 || page.TotalPages != 1 {
		t.Errorf("page = %+v", page)
	}
	if got := page.ChapterList(); len(got) != 1 || got[0].ID != "ch-2" {
		t.Errorf("ChapterList() = %+v", got)
	}
}

func TestClient_Submit(t *testing.T) {
	var body struct {
		Answers map[string]string `json:"answers"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chapters/grade-7/chapters/ch-2/submit" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {
			"progress": {"status": "completed", "completedAt": "2026-03-01T10:05:00Z", "score": 66.6},
			"score": 66.6
		}}`)
	}))
	defer server.Close()

	sub, err := chapterapi.NewClient(server.URL).Submit(t.Context(), "grade-7", "ch-2", quiz.Answers{0: "5x", 2: "x"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if body.Answers["0"] != "5x" || body.Answers["2"] != "x" {
		t.Errorf("answers sent = %v", body.Answers)
	}
	if sub.Score != 67 {
		t.Errorf("Score = %d, want 67", sub.Score)
	}
	if !sub.Progress.IsCompleted() || *sub.Progress.Score != 67 {
		t.Errorf("progress = %+v", sub.Progress)
	}
}

func TestClient_Complete(t *testing.T) {
	var score map[string]int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/complete") {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&score)
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {
			"progress": {"status": "completed", "completedAt": "2026-03-01T10:05:00Z", "score": 100}
		}}`)
	}))
	defer server.Close()

	p, err := chapterapi.NewClient(server.URL).Complete(t.Context(), "grade-7", "ch-1", 100)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if score["score"] != 100 {
		t.Errorf("score sent = %v", score)
	}
	if p.ChapterID != "ch-1" || !p.IsCompleted() {
		t.Errorf("progress = %+v", p)
	}
}

func TestClient_Complete_RejectsOutOfRangeLocally(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	_, err := chapterapi.NewClient(server.URL).Complete(t.Context(), "grade-7", "ch-1", 101)
	if !curriculum.IsValidation(err) {
		t.Errorf("Complete() error = %v, want validation error", err)
	}
	if hits.Load() != 0 {
		t.Error("out of range score must not reach the service")
	}
}

func TestClient_MeAndLogout(t *testing.T) {
	var logoutAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-9" {
			writeEnvelope(w, http.StatusUnauthorized, `{"success": false}`)
			return
		}
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"id": "t1", "name": "Ms. Lee", "role": "teacher", "gradeId": "grade-7"}}`)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutAuth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, `{"success": true}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := chapterapi.NewClient(server.URL)

	u, err := client.Me(t.Context(), "tok-9")
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if u.ID != "t1" || u.Role != session.RoleTeacher || u.GradeID != "grade-7" {
		t.Errorf("user = %+v", u)
	}

	_, err = client.Me(t.Context(), "wrong")
	if !chapterapi.IsUnauthorized(err) {
		t.Errorf("Me(wrong) error = %v, want unauthorized", err)
	}

	if err := client.Logout(t.Context(), "tok-9"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if logoutAuth != "Bearer tok-9" {
		t.Errorf("logout Authorization = %q", logoutAuth)
	}
}

func TestClient_WithTokenSource(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, `{"success": true, "data": {"progress": {"status": "in_progress"}}}`)
	}))
	defer server.Close()

	client := chapterapi.NewClient(server.URL,
		chapterapi.WithTokenSource(func(context.Context) string { return "static" }),
		chapterapi.WithTimeout(time.Second),
		chapterapi.WithHTTPClient(server.Client()),
	)
	if _, err := client.Start(t.Context(), "grade-7", "ch-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if gotAuth != "Bearer static" {
		t.Errorf("Authorization = %q, want Bearer static", gotAuth)
	}
}
