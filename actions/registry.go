// Package actions holds the smart actions offered by the agent and executes
// them when the user taps a chip.
package actions

import (
	"sync"

	"github.com/Paranoid-AF/typira"
)

// Registry holds the current batch of smart actions. Each batch replaces the
// previous one.
type Registry struct {
	mu      sync.RWMutex
	actions []typira.SmartAction
}

// Replace installs a new batch. A nil or empty batch clears the registry.
func (r *Registry) Replace(actions []typira.SmartAction) {
	batch := make([]typira.SmartAction, len(actions))
	copy(batch, actions)
	r.mu.Lock()
	r.actions = batch
	r.mu.Unlock()
}

// Resolve finds an action of the current batch by id.
func (r *Registry) Resolve(id string) (typira.SmartAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.actions {
		if a.ID == id {
			return a, true
		}
	}
	return typira.SmartAction{}, false
}

// All returns a copy of the current batch.
func (r *Registry) All() []typira.SmartAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]typira.SmartAction(nil), r.actions...)
}
