package shard

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

// Store is the limiter surface of one store instance. *distributed.Limiter
// implements it.
type Store interface {
	Admit(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error)
	GetRequestCount(ctx context.Context, tenant, resource string) (int64, error)
	Reset(ctx context.Context, tenant, resource string) (int64, error)
	ActiveKeys(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// Limiter routes every key to the store of its owning node.
type Limiter struct {
	router *Router
	stores map[string]Store
}

// NewLimiter creates a routing limiter. stores maps node ids to their
// limiters and must cover every node of router.
func NewLimiter(router *Router, stores map[string]Store) (*Limiter, error) {
	if router == nil {
		return nil, &ratelimit.ConfigError{Field: "router", Value: nil, Reason: "is required"}
	}
	for _, node := range router.Nodes() {
		if stores[node] == nil {
			return nil, &ratelimit.ConfigError{Field: "stores", Value: node, Reason: "has no limiter for node"}
		}
	}
	return &Limiter{router: router, stores: stores}, nil
}

// Route returns the node owning the (tenant, resource) key.
func (l *Limiter) Route(tenant, resource string) string {
	return l.router.Lookup(ratelimit.Key(tenant, resource))
}

// Admit implements ratelimit.Admitter on the owning store.
func (l *Limiter) Admit(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error) {
	store, err := l.store(req.Key())
	if err != nil {
		return ratelimit.Decision{}, err
	}
	return store.Admit(ctx, req)
}

// GetRequestCount asks the owning store.
func (l *Limiter) GetRequestCount(ctx context.Context, tenant, resource string) (int64, error) {
	store, err := l.store(ratelimit.Key(tenant, resource))
	if err != nil {
		return 0, err
	}
	return store.GetRequestCount(ctx, tenant, resource)
}

// Reset deletes one key on its owning store. With an empty resource the
// keys of the tenant may live anywhere, so every store is reset.
func (l *Limiter) Reset(ctx context.Context, tenant, resource string) (int64, error) {
	if resource != "" {
		store, err := l.store(ratelimit.Key(tenant, resource))
		if err != nil {
			return 0, err
		}
		return store.Reset(ctx, tenant, resource)
	}

	var (
		total int64
		errs  []error
	)
	for _, node := range l.router.Nodes() {
		n, err := l.stores[node].Reset(ctx, tenant, "")
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node, err))
		}
	}
	return total, errors.Join(errs...)
}

// ActiveKeys sums the keys held by every store.
func (l *Limiter) ActiveKeys(ctx context.Context) (int, error) {
	total := 0
	for _, node := range l.router.Nodes() {
		n, err := l.stores[node].ActiveKeys(ctx)
		if err != nil {
			return total, fmt.Errorf("node %s: %w", node, err)
		}
		total += n
	}
	return total, nil
}

// Ping checks every store and joins the failures.
func (l *Limiter) Ping(ctx context.Context) error {
	var errs []error
	for _, node := range l.router.Nodes() {
		if err := l.stores[node].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", node, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Limiter) store(key string) (Store, error) {
	node := l.router.Lookup(key)
	store, ok := l.stores[node]
	if !ok {
		return nil, fmt.Errorf("%w: no limiter for shard node %q", ratelimit.ErrStoreUnavailable, node)
	}
	return store, nil
}
