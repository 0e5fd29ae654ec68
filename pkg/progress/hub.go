package progress

import "sync"

// Hub tracks the emitter for each live call so observers can attach by
// call id after the session has started.
type Hub struct {
	mu       sync.RWMutex
	emitters map[string]*Emitter
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{emitters: make(map[string]*Emitter)}
}

// Register associates an emitter with a call id.
func (h *Hub) Register(callID string, e *Emitter) {
	h.mu.Lock()
	h.emitters[callID] = e
	h.mu.Unlock()
}

// Unregister removes a call's emitter.
func (h *Hub) Unregister(callID string) {
	h.mu.Lock()
	delete(h.emitters, callID)
	h.mu.Unlock()
}

// Get returns the emitter for a live call, or nil.
func (h *Hub) Get(callID string) *Emitter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.emitters[callID]
}

// Live lists call ids with a registered emitter.
func (h *Hub) Live() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.emitters))
	for id := range h.emitters {
		ids = append(ids, id)
	}
	return ids
}
