package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/limits/distributed"
	"mercator-hq/quotaguard/pkg/limits/ratelimit"
	"mercator-hq/quotaguard/pkg/limits/shard"
)

// storePool owns the Redis clients shared by every store backed tier.
type storePool struct {
	cfg     config.StoreConfig
	nodes   []string
	clients map[string]*redis.Client
	router  *shard.Router
	logger  *slog.Logger
}

func newStorePool(cfg config.StoreConfig, logger *slog.Logger) (*storePool, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("store: at least one address is required")
	}

	p := &storePool{
		cfg:     cfg,
		nodes:   append([]string(nil), cfg.Addresses...),
		clients: make(map[string]*redis.Client, len(cfg.Addresses)),
		logger:  logger,
	}
	for _, addr := range cfg.Addresses {
		p.clients[addr] = redis.NewClient(redisOptions(cfg, addr))
	}

	if len(p.nodes) > 1 {
		router, err := shard.NewRouter(p.nodes)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("store: %w", err)
		}
		p.router = router
	}
	return p, nil
}

// redisOptions builds the client options of one store node. Retries are
// disabled: a connectivity failure surfaces at once as ErrStoreUnavailable
// and the failure policy decides what happens next.
func redisOptions(cfg config.StoreConfig, addr string) *redis.Options {
	return &redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   -1,
	}
}

// limiter builds a store limiter enforcing rc under the given key namespace.
// With several addresses keys are spread over the instances.
func (p *storePool) limiter(namespace string, rc ratelimit.Config) (shard.Store, []*distributed.Limiter, error) {
	opts := []distributed.Option{
		distributed.WithPrefix(p.cfg.KeyPrefix + namespace),
		distributed.WithClockMode(distributed.ClockMode(p.cfg.ClockMode)),
		distributed.WithSkewTolerance(p.cfg.SkewTolerance),
		distributed.WithTTLMargin(p.cfg.TTLMargin),
		distributed.WithLogger(p.logger),
	}

	perNode := make(map[string]shard.Store, len(p.nodes))
	all := make([]*distributed.Limiter, 0, len(p.nodes))
	for _, node := range p.nodes {
		l, err := distributed.New(p.clients[node], rc, opts...)
		if err != nil {
			return nil, nil, err
		}
		perNode[node] = l
		all = append(all, l)
	}

	if p.router == nil {
		return all[0], all, nil
	}
	routed, err := shard.NewLimiter(p.router, perNode)
	if err != nil {
		return nil, nil, err
	}
	return routed, all, nil
}

// Ping checks every instance.
func (p *storePool) Ping(ctx context.Context) error {
	var errs []error
	for _, node := range p.nodes {
		if err := p.clients[node].Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ratelimit.ErrStoreUnavailable, node, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every client.
func (p *storePool) Close() error {
	var errs []error
	for _, node := range p.nodes {
		if c, ok := p.clients[node]; ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
