// Copyright (C) 2025 Crucible Labs (oss@crucible-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/crucible-protocol/crucible/pkg/logging"
)

// EventType labels a session event on the websocket feed.
type EventType string

const (
	// EventDecisionAppended fires on every successful ledger write.
	EventDecisionAppended EventType = "decision_appended"

	// EventDecisionSuperseded fires when a decision is superseded.
	EventDecisionSuperseded EventType = "decision_superseded"

	// EventDecisionInvalidated fires when a decision is invalidated.
	EventDecisionInvalidated EventType = "decision_invalidated"

	// EventPhaseAdvanced fires on phase transitions.
	EventPhaseAdvanced EventType = "phase_advanced"

	// EventBlocked fires when the session pauses on a blocking query.
	EventBlocked EventType = "blocked"

	// EventResolved fires when a blocking query is resolved.
	EventResolved EventType = "resolved"

	// EventFailed fires on terminal failure.
	EventFailed EventType = "failed"
)

// Event is one entry on the websocket feed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Hub fans session events out to websocket subscribers.
//
// # Thread Safety
//
// Safe for concurrent use. Slow subscribers are dropped rather than allowed
// to block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Publish sends an event to every subscriber. Non-blocking: a subscriber
// with a full buffer misses the event.
func (h *Hub) Publish(eventType EventType, payload any) {
	event := Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe registers a new subscriber channel.
func (h *Hub) subscribe() chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes a subscriber.
func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleEventsWebSocket streams session events to a websocket client until
// it disconnects.
func HandleEventsWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		hub.logger.Info("event subscriber connected", "remote", ws.RemoteAddr().String())

		ch := hub.subscribe()
		defer hub.unsubscribe(ch)

		// Reader goroutine detects client disconnects; the feed is
		// server-to-client only.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				hub.logger.Info("event subscriber disconnected")
				return
			case event := <-ch:
				if err := ws.WriteJSON(event); err != nil {
					hub.logger.Warn("event write failed", "error", err)
					return
				}
			}
		}
	}
}
