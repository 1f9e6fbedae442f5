package learner_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/learner"
	"github.com/p-n-ai/pai-chapters/internal/progress"
)

// remoteBackend is a chapter service that only stores in_progress and
// completed records, so untouched chapters come back without progress.
type remoteBackend struct {
	starts    atomic.Int32
	completed atomic.Bool
}

func remoteChapter(id string, number int) string {
	return fmt.Sprintf(`{"id": %q, "title": "Chapter %d", "gradeId": "grade-7", "unitId": "unit-1", "chapterNumber": %d,
		"content": [{"type": "text", "body": "read", "order": 1}]}`, id, number, number)
}

func reply(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (b *remoteBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chapters/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "ch-1":
			reply(w, http.StatusOK, `{"success": true, "data": `+remoteChapter("ch-1", 1)+`}`)
		case "ch-2":
			reply(w, http.StatusOK, `{"success": true, "data": `+remoteChapter("ch-2", 2)+`}`)
		default:
			reply(w, http.StatusNotFound, `{"success": false, "message": "Chapter not found"}`)
		}
	})
	mux.HandleFunc("POST /chapters/grade-7/chapters/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		b.starts.Add(1)
		if r.PathValue("id") == "ch-2" && !b.completed.Load() {
			reply(w, http.StatusForbidden, `{"success": false, "message": "You must complete previous chapters first"}`)
			return
		}
		reply(w, http.StatusOK, `{"success": true, "data": {"progress": {"status": "in_progress", "startedAt": "2026-03-01T10:00:00Z"}}}`)
	})
	mux.HandleFunc("POST /chapters/grade-7/chapters/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		b.completed.Store(true)
		reply(w, http.StatusOK, `{"success": true, "data": {"progress": {"status": "completed",
			"startedAt": "2026-03-01T10:00:00Z", "completedAt": "2026-03-01T10:05:00Z", "score": 100}}}`)
	})
	// One chapter per page, so finding the next chapter needs the second page.
	mux.HandleFunc("GET /chapters/grade-7/chapters", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		chapter := remoteChapter("ch-1", 1)
		if page == "2" {
			chapter = remoteChapter("ch-2", 2)
		}
		if page == "" {
			page = "1"
		}
		reply(w, http.StatusOK, `{"success": true, "data": {"chapters": [`+chapter+`],
			"pagination": {"page": `+page+`, "limit": 1, "total": 2, "totalPages": 2}}}`)
	})
	return mux
}

func TestFlow_RemoteServiceDecidesLocks(t *testing.T) {
	backend := &remoteBackend{}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	flow := learner.NewFlow(chapterapi.NewClient(server.URL))
	sess := student()
	ctx := ctxFor(t, sess)

	_, err := flow.Open(ctx, sess, "ch-2")
	if !chapterapi.IsLocked(err) {
		t.Fatalf("Open(ch-2) error = %v, want locked", err)
	}
	if !strings.Contains(chapterapi.Message(err, ""), "complete previous chapters") {
		t.Errorf("message = %q", chapterapi.Message(err, ""))
	}

	study, err := flow.Open(ctx, sess, "ch-1")
	if err != nil {
		t.Fatalf("Open(ch-1) error = %v", err)
	}
	if study.Progress().Status != progress.StatusInProgress {
		t.Errorf("ch-1 status = %q, want in_progress", study.Progress().Status)
	}
	if n := backend.starts.Load(); n != 2 {
		t.Errorf("start calls = %d, want 2", n)
	}

	out, err := study.CompleteWithoutQuiz(ctx)
	if err != nil {
		t.Fatalf("CompleteWithoutQuiz() error = %v", err)
	}
	if out.Step == nil || out.Step.Next == nil || out.Step.Next.ID != "ch-2" {
		t.Fatalf("step = %+v, want next ch-2 from the second page", out.Step)
	}

	next, err := flow.Open(ctx, sess, "ch-2")
	if err != nil {
		t.Fatalf("Open(ch-2) after completing ch-1 error = %v", err)
	}
	if next.Progress().Status != progress.StatusInProgress {
		t.Errorf("ch-2 status = %q, want in_progress", next.Progress().Status)
	}
}
