package http

import (
	"encoding/json"
	"log"
	"sync"

	"live-quiz-service/internal/app"
)

// Hub groups the local connections of each session. It only knows about this
// process; other instances are reached through the event bus.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[app.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[app.Conn]struct{})}
}

func (h *Hub) Join(code string, c app.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[code]
	if !ok {
		members = make(map[app.Conn]struct{})
		h.groups[code] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) Leave(code string, c app.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups[code], c)
	if len(h.groups[code]) == 0 {
		delete(h.groups, code)
	}
}

// Broadcast encodes payload once and queues it on every member of the group.
func (h *Hub) Broadcast(code, event string, payload any) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("ws: encode %s for %s: %v", event, code, err)
			return
		}
		raw = data
	}

	h.mu.RLock()
	members := make([]app.Conn, 0, len(h.groups[code]))
	for c := range h.groups[code] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.Send(event, raw)
	}
}

// Members reports how many local connections are in a session group.
func (h *Hub) Members(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[code])
}
