package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"lendmarket/native/lending"
	"lendmarket/observability"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than stall the market.
type Hub struct {
	mu   sync.Mutex
	subs map[chan lending.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan lending.Event]struct{})}
}

// Subscribe registers a listener until cancel is called.
func (h *Hub) Subscribe() (<-chan lending.Event, func()) {
	ch := make(chan lending.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers events to every subscriber without blocking.
func (h *Hub) Publish(events []lending.Event) {
	metrics := observability.Events()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range events {
		metrics.RecordEvent(ev.Type)
		for ch := range h.subs {
			select {
			case ch <- ev:
			default:
				metrics.RecordDrop()
			}
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := map[string]struct{}{}
	for _, typ := range strings.Split(r.URL.Query().Get("types"), ",") {
		if typ = strings.TrimSpace(typ); typ != "" {
			filter[typ] = struct{}{}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter map[string]struct{}) error {
	events, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if len(filter) > 0 {
				if _, want := filter[ev.Type]; !want {
					continue
				}
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev lending.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
