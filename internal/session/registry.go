package session

import "sync"

// Registry is the process-wide map from workspace id to its Runtime. Entries
// are created lazily on first access and live until process shutdown; the
// manager owns all lifecycle mutation of the runtimes themselves.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runtimes: make(map[string]*Runtime),
	}
}

// GetOrCreate returns the runtime for a workspace, creating a stopped one on
// first access.
func (g *Registry) GetOrCreate(workspaceID string) *Runtime {
	g.mu.RLock()
	rt, ok := g.runtimes[workspaceID]
	g.mu.RUnlock()
	if ok {
		return rt
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if rt, ok := g.runtimes[workspaceID]; ok {
		return rt
	}
	rt = newRuntime(workspaceID)
	g.runtimes[workspaceID] = rt
	return rt
}

// Get returns the runtime for a workspace when one exists.
func (g *Registry) Get(workspaceID string) (*Runtime, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rt, ok := g.runtimes[workspaceID]
	return rt, ok
}

// WorkspaceIDs returns the ids of all registered runtimes.
func (g *Registry) WorkspaceIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.runtimes))
	for id := range g.runtimes {
		ids = append(ids, id)
	}
	return ids
}
