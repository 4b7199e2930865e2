// Package stream pushes committed ledger events to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"accesspay/core/events"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultBufferSize = 64
)

// Message is the JSON frame written for each event.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	ch     chan Message
	prefix string
}

// Hub fans committed events out to subscribers. A subscriber that falls a
// full buffer behind is disconnected rather than slowing the ledger.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	seq    uint64
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), buffer: buffer, logger: logger}
}

// Emit implements events.Emitter. It never blocks.
func (h *Hub) Emit(evt events.Event) {
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	msg := Message{Sequence: h.seq, Type: payload.Type, Attributes: payload.Clone().Attributes}
	for sub := range h.subs {
		if sub.prefix != "" && !strings.HasPrefix(msg.Type, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("event stream subscriber lagging, disconnecting", slog.Uint64("sequence", msg.Sequence))
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe registers a subscriber for events whose type starts with prefix.
// The channel is closed when the subscriber lags or cancel is called.
func (h *Hub) Subscribe(prefix string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, h.buffer), prefix: strings.TrimSpace(prefix)}
	h.mu.Lock()
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
	return sub.ch, cancel
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client goes away. The "type" query parameter filters by event type prefix.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	updates, cancel := h.Subscribe(r.URL.Query().Get("type"))
	defer cancel()

	if err := stream(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func stream(ctx context.Context, conn *websocket.Conn, updates <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber lagging")
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
