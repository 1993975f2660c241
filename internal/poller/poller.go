// Package poller periodically asks every source adapter for new updates.
package poller

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"subscriber/internal/adapter"
	"subscriber/internal/metrics"
	"subscriber/internal/model"
)

const (
	// cacheSize is the number of recent update ids remembered per source.
	cacheSize = 256
	// seenStreak stops a newest-first listing after this many known ids in a row.
	seenStreak = 10
)

// Store is the subset of storage the poller needs.
type Store interface {
	ListSources(ctx context.Context) ([]model.Source, error)
	SourceHasPosts(ctx context.Context, id int64) (bool, error)
	RecentPostIdentifiers(ctx context.Context, sourceID int64, limit int) ([]string, error)
}

// Resolver returns the adapter of a source kind.
type Resolver interface {
	ForKind(kind adapter.Kind) (adapter.Adapter, error)
}

// Router stores one update.
type Router interface {
	Route(ctx context.Context, src model.Source, update model.PostUpdate, notify bool) error
}

// Poller checks all sources on a fixed interval.
type Poller struct {
	store    Store
	adapters Resolver
	router   Router
	metrics  *metrics.Metrics
	log      *slog.Logger
	interval time.Duration
	timeout  time.Duration

	cycle  sync.Mutex
	mu     sync.Mutex
	recent map[int64]*lru.Cache[string, struct{}]
}

// New creates a Poller. Each source poll is cut off after timeout.
func New(store Store, adapters Resolver, router Router, interval, timeout time.Duration, m *metrics.Metrics, log *slog.Logger) *Poller {
	return &Poller{
		store:    store,
		adapters: adapters,
		router:   router,
		metrics:  m,
		log:      log,
		interval: interval,
		timeout:  timeout,
		recent:   make(map[int64]*lru.Cache[string, struct{}]),
	}
}

// Run polls immediately and then on every tick, blocking until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.Cycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle polls every source once. Sources of different kinds are polled
// concurrently, sources of one kind one after another.
func (p *Poller) Cycle(ctx context.Context) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	sources, err := p.store.ListSources(ctx)
	if err != nil {
		p.log.Error("list sources", "error", err)
		return
	}

	groups := make(map[adapter.Kind][]model.Source)
	for _, src := range sources {
		kind := adapter.Kind(src.Type)
		groups[kind] = append(groups[kind], src)
	}

	var g errgroup.Group
	for kind, group := range groups {
		g.Go(func() error {
			for _, src := range group {
				if ctx.Err() != nil {
					return nil
				}
				p.poll(ctx, kind, src)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) poll(ctx context.Context, kind adapter.Kind, src model.Source) {
	log := p.log.With("source_id", src.ID, "kind", kind)

	a, err := p.adapters.ForKind(kind)
	if err != nil {
		log.Error("resolve adapter", "error", err)
		return
	}
	seen, err := p.cache(ctx, src.ID)
	if err != nil {
		log.Error("seed recent ids", "error", err)
		return
	}
	// decided before the batch: a source polled for the first time does not
	// flood its subscribers with the whole backlog
	notify, err := p.store.SourceHasPosts(ctx, src.ID)
	if err != nil {
		log.Error("check source posts", "error", err)
		return
	}

	fresh, err := p.collect(ctx, a, kind, src, seen)
	if err != nil {
		p.metrics.AdapterError(string(kind))
		log.Error("update source", "update_url", src.UpdateURL, "error", err)
	}

	for _, u := range fresh {
		if err := p.router.Route(ctx, src, u, notify); err != nil {
			log.Error("route update", "update_id", u.ID, "error", err)
			continue
		}
		seen.Add(u.ID, struct{}{})
		p.metrics.PolledUpdate(string(kind))
	}
	if len(fresh) > 0 {
		log.Info("source polled", "name", src.Name, "new", len(fresh), "notify", notify)
	}
}

// collect runs the adapter and returns the unseen updates oldest first.
// Updates received before an adapter failure are returned with the error.
func (p *Poller) collect(ctx context.Context, a adapter.Adapter, kind adapter.Kind, src model.Source, seen *lru.Cache[string, struct{}]) ([]model.PostUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var fresh []model.PostUpdate
	streak := 0
	err := a.Update(ctx, src.UpdateURL, src.Name, func(u model.PostUpdate) bool {
		if seen.Contains(u.ID) {
			streak++
			return !kind.NewestFirst() || streak < seenStreak
		}
		streak = 0
		fresh = append(fresh, u)
		return true
	})
	if kind.NewestFirst() {
		slices.Reverse(fresh)
	}
	return fresh, err
}

// cache returns the recent-id cache of a source, seeding it from storage on
// first use.
func (p *Poller) cache(ctx context.Context, sourceID int64) (*lru.Cache[string, struct{}], error) {
	p.mu.Lock()
	c, ok := p.recent[sourceID]
	p.mu.Unlock()
	if ok {
		return c, nil
	}

	ids, err := p.store.RecentPostIdentifiers(ctx, sourceID, cacheSize)
	if err != nil {
		return nil, err
	}
	c, err = lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	// oldest first so the newest ids are the last to be evicted
	for i := len(ids) - 1; i >= 0; i-- {
		c.Add(ids[i], struct{}{})
	}

	p.mu.Lock()
	p.recent[sourceID] = c
	p.mu.Unlock()
	return c, nil
}
