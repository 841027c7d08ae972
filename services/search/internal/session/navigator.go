package session

import (
	"sync"

	"github.com/k-yomo/kagu-miru/services/search/internal/urlcodec"
)

// Navigator performs shallow navigation: it replaces the current route
// without adding a history entry. Replace is called synchronously on every
// transition and must not block.
type Navigator interface {
	Replace(route urlcodec.Route)
}

// MemoryNavigator keeps the latest route in memory.
type MemoryNavigator struct {
	mu       sync.RWMutex
	route    urlcodec.Route
	replaced int
}

// NewMemoryNavigator creates a navigator positioned at route.
func NewMemoryNavigator(route urlcodec.Route) *MemoryNavigator {
	return &MemoryNavigator{route: route}
}

// Replace implements Navigator.
func (n *MemoryNavigator) Replace(route urlcodec.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.route = route
	n.replaced++
}

// Route returns the current route.
func (n *MemoryNavigator) Route() urlcodec.Route {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.route
}

// Replaced returns how many times the route was replaced.
func (n *MemoryNavigator) Replaced() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.replaced
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(route urlcodec.Route)

// Replace implements Navigator.
func (f NavigatorFunc) Replace(route urlcodec.Route) { f(route) }
