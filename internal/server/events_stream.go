package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftpay/portalwatch/internal/events"
)

// EventsStreamHandler streams monitor events to clients over Server-Sent
// Events.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Buffered so a slow client drops events instead of blocking the loop.
	eventChan := make(chan *events.Event, 100)
	subID := h.bus.Subscribe(func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	})
	defer h.bus.Unsubscribe(subID)

	h.log.Info().Msg("Client connected to event stream")
	h.writeEvent(w, &events.Event{Type: "connected", Timestamp: time.Now()})
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return
		case event := <-eventChan:
			h.writeEvent(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) writeEvent(w http.ResponseWriter, event *events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
