package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"rwastaking/core/events"
	"rwastaking/core/types"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultBacklog    = 256
	subscriberBuffer  = 64
	closeSlowConsumer = "subscriber too slow"
)

// Message is one event on the stream, numbered in emission order.
type Message struct {
	Seq   uint64       `json:"seq"`
	Time  time.Time    `json:"time"`
	Event *types.Event `json:"event"`
}

type subscriber struct {
	ch      chan Message
	dropped bool
}

// Hub fans staking events out to websocket subscribers and keeps a bounded
// backlog so reconnecting clients can resume from a cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Message
	limit   int
	subs    map[*subscriber]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

var _ events.Emitter = (*Hub)(nil)

func NewHub(backlog int, logger *slog.Logger) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{limit: backlog, subs: make(map[*subscriber]struct{}), logger: logger, now: time.Now}
}

// Emit implements events.Emitter. Events without an attribute form are skipped.
func (h *Hub) Emit(evt events.Event) {
	b, ok := evt.(events.Broadcastable)
	if !ok {
		return
	}
	payload := b.Event()
	if payload == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg := Message{Seq: h.seq, Time: h.now().UTC(), Event: payload}
	h.backlog = append(h.backlog, msg)
	if len(h.backlog) > h.limit {
		h.backlog = h.backlog[len(h.backlog)-h.limit:]
	}
	for sub := range h.subs {
		select {
		case sub.ch <- Message{Seq: msg.Seq, Time: msg.Time, Event: payload.Clone()}:
		default:
			sub.dropped = true
			close(sub.ch)
			delete(h.subs, sub)
		}
	}
}

// Subscribe registers a listener and returns the buffered messages newer than
// cursor. The cancel func must be called once the caller stops reading.
func (h *Hub) Subscribe(cursor uint64) (<-chan Message, func(), []Message) {
	sub := &subscriber{ch: make(chan Message, subscriberBuffer)}
	h.mu.Lock()
	var backlog []Message
	for _, msg := range h.backlog {
		if msg.Seq > cursor {
			backlog = append(backlog, msg)
		}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events. The
// optional cursor query resumes after a sequence number; types filters by
// comma-separated event type.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	filter := parseFilter(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, cursor, filter); err != nil {
		switch {
		case err == errSlowConsumer:
			_ = conn.Close(websocket.StatusPolicyViolation, closeSlowConsumer)
		case websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
			h.logger.Warn("gateway: event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

type streamError string

func (e streamError) Error() string { return string(e) }

const errSlowConsumer = streamError(closeSlowConsumer)

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, cursor uint64, filter map[string]struct{}) error {
	updates, cancel, backlog := h.Subscribe(cursor)
	defer cancel()

	for _, msg := range backlog {
		if err := writeMessage(ctx, conn, msg, filter); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return errSlowConsumer
			}
			if err := writeMessage(ctx, conn, msg, filter); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message, filter map[string]struct{}) error {
	if len(filter) > 0 {
		if _, ok := filter[msg.Event.Type]; !ok {
			return nil
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func parseFilter(raw string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}
