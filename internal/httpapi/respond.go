package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/learner"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const msgLocked = "You must complete previous chapters first"

// envelope mirrors the upstream chapter service's response shape.
type envelope struct {
	Success bool                    `json:"success"`
	Data    any                     `json:"data,omitempty"`
	Message string                  `json:"message,omitempty"`
	Errors  []curriculum.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// writeError maps err onto a status and a learner-facing message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *curriculum.ValidationError
	switch {
	case errors.As(err, &ve):
		msg := "invalid input"
		if ve.Err != nil {
			msg = ve.Err.Error()
		}
		writeJSON(w, http.StatusBadRequest, envelope{Message: msg, Errors: ve.Fields})
	case chapterapi.IsLocked(err):
		writeMessage(w, http.StatusForbidden, chapterapi.Message(err, msgLocked))
	case chapterapi.IsNotFound(err):
		writeMessage(w, http.StatusNotFound, chapterapi.Message(err, "chapter not found"))
	case chapterapi.IsUnauthorized(err), errors.Is(err, session.ErrNoSession):
		writeMessage(w, http.StatusUnauthorized, chapterapi.Message(err, "authentication required"))
	case errors.Is(err, quiz.ErrIncomplete),
		errors.Is(err, learner.ErrHasQuiz),
		errors.Is(err, learner.ErrNoGrade):
		writeMessage(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, quiz.ErrSubmitted), errors.Is(err, learner.ErrBusy):
		writeMessage(w, http.StatusConflict, rootMessage(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, http.StatusGatewayTimeout, chapterapi.Message(err, "request cancelled"))
	case chapterapi.StatusOf(err) != 0 || isUpstream(err):
		slog.Warn("chapter service call failed", "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusBadGateway, chapterapi.Message(err, "the chapter service is unavailable"))
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func isUpstream(err error) bool {
	var e *chapterapi.Error
	return errors.As(err, &e)
}

// rootMessage returns the message of the innermost wrapped error.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
