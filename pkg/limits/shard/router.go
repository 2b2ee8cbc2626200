package shard

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Router resolves keys to instance ids. It is safe for concurrent use.
type Router struct {
	mu    sync.RWMutex
	hash  *rendezvous.Rendezvous
	nodes []string
}

// NewRouter creates a router over nodes. Node ids must be unique and
// non-empty.
func NewRouter(nodes []string) (*Router, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("shard router needs at least one node")
	}
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n == "" {
			return nil, fmt.Errorf("shard node id must not be empty")
		}
		if seen[n] {
			return nil, fmt.Errorf("duplicate shard node %q", n)
		}
		seen[n] = true
	}

	return &Router{
		hash:  rendezvous.New(slices.Clone(nodes), xxhash.Sum64String),
		nodes: slices.Clone(nodes),
	}, nil
}

// Lookup returns the node owning key.
func (r *Router) Lookup(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash.Lookup(key)
}

// Add registers a node. Adding a known node is a no-op.
func (r *Router) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node == "" || slices.Contains(r.nodes, node) {
		return
	}
	r.hash.Add(node)
	r.nodes = append(r.nodes, node)
}

// Remove unregisters a node. The last node cannot be removed.
func (r *Router) Remove(node string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.nodes, node)
	if i < 0 || len(r.nodes) == 1 {
		return false
	}
	// Rendezvous.Remove indexes past its node slice; rebuild instead, as
	// go-redis Ring does.
	r.nodes = slices.Delete(r.nodes, i, i+1)
	r.hash = rendezvous.New(slices.Clone(r.nodes), xxhash.Sum64String)
	return true
}

// Nodes returns the registered nodes in registration order.
func (r *Router) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}
