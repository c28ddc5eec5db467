package storage

import "sync"

// ServersKey is the store key holding the server history list.
const ServersKey = "servers"

// DefaultHistoryLimit bounds the number of remembered servers.
const DefaultHistoryLimit = 10

// ServerEntry is a previously used server and the auth method used with it.
type ServerEntry struct {
	Server   string `json:"server"`
	AuthType string `json:"authType"`
}

// ServerHistory is the most-recently-used list of servers, persisted in a Store.
type ServerHistory struct {
	mu    sync.Mutex
	store *Store
	limit int
}

// NewServerHistory returns a ServerHistory bounded to limit entries.
// A non-positive limit falls back to DefaultHistoryLimit.
func NewServerHistory(store *Store, limit int) *ServerHistory {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &ServerHistory{store: store, limit: limit}
}

// List returns the remembered servers, most recent first.
func (h *ServerHistory) List() []ServerEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

// Add records server as the most recently used. An existing entry for the
// same server is dropped so the list never holds duplicates.
func (h *ServerHistory) Add(server, authType string) ([]ServerEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := []ServerEntry{{Server: server, AuthType: authType}}
	for _, e := range h.load() {
		if e.Server == server {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	if err := h.store.SetJSON(ServersKey, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Clear forgets every server.
func (h *ServerHistory) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Remove(ServersKey)
}

func (h *ServerHistory) load() []ServerEntry {
	var entries []ServerEntry
	if !h.store.GetJSON(ServersKey, &entries) {
		return []ServerEntry{}
	}
	// Drop malformed rows rather than failing the whole list.
	valid := entries[:0]
	for _, e := range entries {
		if e.Server != "" {
			valid = append(valid, e)
		}
	}
	return valid
}
