package storage

import "sync"

// KBRegistry tracks every kb_id the writer has ever learned a pattern
// into. spec.md has no KB-listing operation and the storage tiers are
// namespaced entirely by kb_id with no "list tenants" query, so the
// scheduled repair sweep (RepairTask) needs some other way to discover
// which kb_ids actually exist; this registry is populated by
// internal/writer on every successful learn and consulted by the cron
// callback in place of a directory service.
type KBRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewKBRegistry builds an empty registry.
func NewKBRegistry() *KBRegistry {
	return &KBRegistry{ids: map[string]struct{}{}}
}

// Register records kbID as live. Safe to call repeatedly; a no-op after
// the first call for a given kbID.
func (r *KBRegistry) Register(kbID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[kbID] = struct{}{}
}

// All returns every kb_id registered so far, in no particular order.
func (r *KBRegistry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}
