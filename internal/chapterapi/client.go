package chapterapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/progress"
	"github.com/p-n-ai/pai-chapters/internal/quiz"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const defaultTimeout = 15 * time.Second

// TokenSource returns the bearer token to send with a request.
type TokenSource func(ctx context.Context) string

// Client implements Service over the chapter service's JSON API.
type Client struct {
	http  *resty.Client
	token TokenSource
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	token      TokenSource
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithTokenSource overrides where bearer tokens come from. By default the
// token of the session on the request context is used.
func WithTokenSource(ts TokenSource) Option {
	return func(o *clientOptions) { o.token = ts }
}

// NewClient creates a client for the chapter service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	o := clientOptions{
		timeout: defaultTimeout,
		token:   session.TokenFromContext,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var rc *resty.Client
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(o.timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{http: rc, token: o.token}
}

// envelope is the response shape shared by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type call struct {
	method string
	path   string
	params map[string]string
	query  map[string]string
	body   any
	token  string
}

func (c *Client) do(ctx context.Context, cl call) (json.RawMessage, error) {
	req := c.http.R().SetContext(ctx)
	if len(cl.params) > 0 {
		req.SetPathParams(cl.params)
	}
	if len(cl.query) > 0 {
		req.SetQueryParams(cl.query)
	}
	if cl.body != nil {
		req.SetBody(cl.body)
	}
	token := cl.token
	if token == "" && c.token != nil {
		token = c.token(ctx)
	}
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Execute(cl.method, cl.path)
	if err != nil {
		return nil, &Error{Message: msgUnreachable, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(resp.Body(), &env)

	if resp.IsError() {
		return nil, statusError(resp.StatusCode(), env.Message)
	}
	if decodeErr != nil {
		return nil, &Error{Status: resp.StatusCode(), Message: msgInvalidResponse, Err: decodeErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = msgNotSuccessful
		}
		return nil, &Error{Status: resp.StatusCode(), Message: msg}
	}
	return env.Data, nil
}

// FetchChapter returns one chapter with the learner's embedded progress.
func (c *Client) FetchChapter(ctx context.Context, id string) (Detail, error) {
	data, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/chapters/{id}",
		params: map[string]string{"id": id},
	})
	if err != nil {
		return Detail{}, err
	}
	return decodeDetail(data)
}

// ListChapters returns one page of a grade's chapters.
func (c *Client) ListChapters(ctx context.Context, gradeID string, opts ListOptions) (Page, error) {
	query := map[string]string{}
	if opts.UnitID != "" {
		query["unitId"] = opts.UnitID
	}
	if opts.Page > 0 {
		query["page"] = strconv.Itoa(opts.Page)
	}
	if opts.Limit > 0 {
		query["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Search != "" {
		query["search"] = opts.Search
	}

	data, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/chapters/{gradeId}/chapters",
		params: map[string]string{"gradeId": gradeID},
		query:  query,
	})
	if err != nil {
		return Page{}, err
	}
	return decodePage(data)
}

// Start records that the learner opened the chapter.
func (c *Client) Start(ctx context.Context, gradeID, chapterID string) (progress.Progress, error) {
	return c.transition(ctx, gradeID, chapterID, "start", nil)
}

// Complete records a completion with the given score.
func (c *Client) Complete(ctx context.Context, gradeID, chapterID string, score int) (progress.Progress, error) {
	if score < 0 || score > 100 {
		return progress.Progress{}, curriculum.NewValidationError(
			fmt.Errorf("score %d out of range [0,100]", score),
		)
	}
	return c.transition(ctx, gradeID, chapterID, "complete", map[string]int{"score": score})
}

// Submit sends the learner's answers; the service scores them and completes
// the chapter.
func (c *Client) Submit(ctx context.Context, gradeID, chapterID string, answers quiz.Answers) (Submission, error) {
	data, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chapters/{gradeId}/chapters/{id}/submit",
		params: map[string]string{"gradeId": gradeID, "id": chapterID},
		body:   map[string]quiz.Answers{"answers": answers},
	})
	if err != nil {
		return Submission{}, err
	}

	var w struct {
		Progress *wireProgress `json:"progress"`
		Score    *float64      `json:"score"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Submission{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	p, err := w.Progress.toProgress(chapterID)
	if err != nil {
		return Submission{}, &Error{Message: msgInvalidResponse, Err: err}
	}

	sub := Submission{Progress: p}
	switch {
	case w.Score != nil:
		sub.Score = roundScore(*w.Score)
	case p.Score != nil:
		sub.Score = *p.Score
	}
	return sub, nil
}

func (c *Client) transition(ctx context.Context, gradeID, chapterID, action string, body any) (progress.Progress, error) {
	data, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/chapters/{gradeId}/chapters/{id}/" + action,
		params: map[string]string{"gradeId": gradeID, "id": chapterID},
		body:   body,
	})
	if err != nil {
		return progress.Progress{}, err
	}

	var w struct {
		Progress *wireProgress `json:"progress"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return progress.Progress{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	p, err := w.Progress.toProgress(chapterID)
	if err != nil {
		return progress.Progress{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	return p, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (session.User, error) {
	data, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/auth/me",
		token:  token,
	})
	if err != nil {
		return session.User{}, err
	}
	var u session.User
	if err := json.Unmarshal(data, &u); err != nil {
		return session.User{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	if u.ID == "" {
		return session.User{}, &Error{Message: msgInvalidResponse, Err: fmt.Errorf("user has no id")}
	}
	return u, nil
}

// Logout ends the token's session upstream.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/logout",
		token:  token,
	})
	return err
}

type wireProgress struct {
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Score       *float64   `json:"score"`
}

// toProgress converts and validates a wire record. A missing record means
// nothing has been recorded for the chapter yet.
func (w *wireProgress) toProgress(chapterID string) (progress.Progress, error) {
	if w == nil {
		return progress.Progress{ChapterID: chapterID, Status: progress.StatusLocked}, nil
	}
	status, err := progress.ParseStatus(w.Status)
	if err != nil {
		return progress.Progress{}, err
	}
	p := progress.Progress{
		ChapterID:   chapterID,
		Status:      status,
		StartedAt:   w.StartedAt,
		CompletedAt: w.CompletedAt,
	}
	if w.Score != nil {
		s := roundScore(*w.Score)
		p.Score = &s
	}
	if err := p.Validate(); err != nil {
		return progress.Progress{}, err
	}
	return p, nil
}

func roundScore(f float64) int {
	return int(math.Round(f))
}

type wireChapter struct {
	curriculum.Chapter
	Progress *wireProgress `json:"progress"`
}

func decodeDetail(raw json.RawMessage) (Detail, error) {
	if err := curriculum.CheckChapterJSON(raw); err != nil {
		return Detail{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	var w wireChapter
	if err := json.Unmarshal(raw, &w); err != nil {
		return Detail{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	p, err := w.Progress.toProgress(w.ID)
	if err != nil {
		return Detail{}, &Error{Message: msgInvalidResponse, Err: err}
	}
	return Detail{Chapter: w.Chapter, Progress: p}, nil
}

// decodePage accepts either {chapters, pagination} or a bare array.
func decodePage(raw json.RawMessage) (Page, error) {
	var w struct {
		Chapters   []json.RawMessage `json:"chapters"`
		Pagination struct {
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &w.Chapters); err != nil {
			return Page{}, &Error{Message: msgInvalidResponse, Err: err}
		}
	} else if err := json.Unmarshal(raw, &w); err != nil {
		return Page{}, &Error{Message: msgInvalidResponse, Err: err}
	}

	page := Page{
		Chapters:   make([]Detail, 0, len(w.Chapters)),
		Page:       w.Pagination.Page,
		Limit:      w.Pagination.Limit,
		Total:      w.Pagination.Total,
		TotalPages: w.Pagination.TotalPages,
	}
	for _, item := range w.Chapters {
		d, err := decodeDetail(item)
		if err != nil {
			return Page{}, err
		}
		page.Chapters = append(page.Chapters, d)
	}
	if page.Total == 0 {
		page.Total = len(page.Chapters)
	}
	if page.Page == 0 {
		page.Page = 1
	}
	if page.TotalPages == 0 && page.Total > 0 {
		page.TotalPages = 1
	}
	return page, nil
}
