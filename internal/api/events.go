package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/vidsum/internal/pipeline"
)

// EventSource is the live event feed. *pipeline.EventBus implements it.
type EventSource interface {
	Subscribe(filter pipeline.EventFilter) (<-chan pipeline.Event, func())
	ReplaySince(lastEventID string, filter pipeline.EventFilter) []pipeline.Event
}

type EventsHandler struct {
	live     EventSource
	upgrader websocket.Upgrader
}

// NewEventsHandler creates the SSE and WebSocket handlers. origins restricts
// WebSocket handshakes the same way CORS_ORIGINS restricts HTTP; empty
// allows any origin.
func NewEventsHandler(live EventSource, origins []string) *EventsHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &EventsHandler{
		live: live,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

func parseEventFilter(r *http.Request) pipeline.EventFilter {
	var filter pipeline.EventFilter
	if v, ok := QueryString(r, "types"); ok {
		filter.Types = strings.Split(v, ",")
	}
	if v, ok := QueryString(r, "run_id"); ok {
		filter.RunID = v
	}
	return filter
}

// StreamEvents opens an SSE connection and pushes filtered events.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	filter := parseEventFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeSSE(w, e)
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, e pipeline.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// StreamWebSocket pushes the same events as JSON text frames.
func (h *EventsHandler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	filter := parseEventFilter(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	log := hlog.FromRequest(r)
	log.Info().Msg("WebSocket client connected")

	// Reader goroutine: detects client close and answers control frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info().Msg("WebSocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
	r.Get("/events/ws", h.StreamWebSocket)
}
