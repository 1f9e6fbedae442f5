// Package realtime pushes a learner's progress events to their open views
// over websocket so that each view can refetch instead of going stale.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-chapters/internal/events"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

const (
	bufferSize   = 16
	writeTimeout = 5 * time.Second
)

// Message is one frame sent to a subscriber.
type Message struct {
	Type  string        `json:"type"`
	Event *events.Event `json:"event,omitempty"`
}

const (
	MessageSubscribed = "subscribed"
	MessageEvent      = "event"
)

type subscriber struct {
	ch chan events.Event
}

// Hub fans progress events out to subscribed learners. It implements
// events.Logger so it can sit next to the persistent loggers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	// OriginPatterns is passed to websocket.Accept.
	OriginPatterns []string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for a learner's events. The returned func unsubscribes.
func (h *Hub) Subscribe(learnerID string) (<-chan events.Event, func()) {
	sub := &subscriber{ch: make(chan events.Event, bufferSize)}

	h.mu.Lock()
	if h.subs[learnerID] == nil {
		h.subs[learnerID] = make(map[*subscriber]struct{})
	}
	h.subs[learnerID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[learnerID], sub)
			if len(h.subs[learnerID]) == 0 {
				delete(h.subs, learnerID)
			}
			h.mu.Unlock()
		})
	}
}

// Subscribers returns how many views a learner has open.
func (h *Hub) Subscribers(learnerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[learnerID])
}

// LogEvent delivers event to the learner's subscribers. Slow subscribers
// miss events rather than block the caller.
func (h *Hub) LogEvent(_ context.Context, event events.Event) error {
	event, err := event.Normalize()
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[event.LearnerID] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("dropping progress event for slow subscriber",
				"learner_id", event.LearnerID,
				"type", event.Type,
			)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams the session learner's events
// until either side goes away. The request must carry a session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		slog.Warn("websocket accept failed", "learner_id", sess.User.ID, "error", err)
		return
	}
	defer conn.CloseNow()

	ch, unsubscribe := h.Subscribe(sess.User.ID)
	defer unsubscribe()

	// Clients never send; CloseRead handles control frames and reports
	// disconnects through ctx.
	ctx := conn.CloseRead(r.Context())

	if err := write(ctx, conn, Message{Type: MessageSubscribed}); err != nil {
		return
	}
	slog.Debug("progress subscriber connected", "learner_id", sess.User.ID)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-ch:
			if err := write(ctx, conn, Message{Type: MessageEvent, Event: &ev}); err != nil {
				slog.Debug("progress subscriber write failed", "learner_id", sess.User.ID, "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
