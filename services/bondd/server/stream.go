package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"bondledger/core/events"
	"bondledger/core/types"
)

const (
	wsWriteTimeout       = 10 * time.Second
	defaultStreamBacklog = 64
)

// Hub fans committed events out to live websocket subscribers. A subscriber
// whose backlog fills up is disconnected and must resume from /v1/events.
type Hub struct {
	mu      sync.Mutex
	backlog int
	subs    map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan *types.Event
	kind string
}

// NewHub returns a hub buffering up to backlog events per subscriber.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultStreamBacklog
	}
	return &Hub{backlog: backlog, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(e events.Event) {
	if h == nil || e == nil {
		return
	}
	rendered := e.Event()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.kind != "" && sub.kind != rendered.Type {
			continue
		}
		select {
		case sub.ch <- rendered:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe registers a subscriber for events of kind, or every event when
// kind is empty. The returned cancel func is idempotent.
func (h *Hub) Subscribe(kind string) (<-chan *types.Event, func()) {
	sub := &subscriber{ch: make(chan *types.Event, h.backlog), kind: kind}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// originHosts turns CORS origins into the host patterns the websocket
// handshake matches against. No origins allows every host.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		hosts = append(hosts, origin)
	}
	if len(hosts) == 0 {
		return []string{"*"}
	}
	return hosts
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream disabled"})
		return
	}
	updates, cancel := s.hub.Subscribe(strings.TrimSpace(r.URL.Query().Get("type")))
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.streamOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				if websocket.CloseStatus(err) == -1 {
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
