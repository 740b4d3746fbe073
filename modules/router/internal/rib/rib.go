package rib

import (
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Option is a function that configures the routing table.
type Option func(*options)

// WithLog configures the routing table with a logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock overrides the time source used to stamp and age routes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.Now = now
	}
}

type options struct {
	Log *zap.SugaredLogger
	Now func() time.Time
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
		Now: time.Now,
	}
}

// Table is the IPv4 routing table.
//
// It is safe for concurrent use. Lookups take a read lock, mutations take
// the write lock.
type Table struct {
	mu        sync.RWMutex
	routes    MapTrie[netip.Prefix, netip.Addr, Route]
	changedAt atomic.Int64
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewTable creates an empty routing table.
func NewTable(options ...Option) *Table {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Table{
		routes: NewMapTrie[netip.Prefix, netip.Addr, Route](16),
		now:    opts.Now,
		log:    opts.Log,
	}
	m.changedAt.Store(m.now().UnixNano())
	return m
}

// Now returns the current time according to the table clock.
func (m *Table) Now() time.Time {
	return m.now()
}

// Insert adds the route, replacing any entry with the same destination and
// mask.
func (m *Table) Insert(route Route) {
	route.Prefix = route.Prefix.Masked()
	if route.UpdatedAt.IsZero() {
		route.UpdatedAt = m.now()
	}

	m.mu.Lock()
	m.routes.InsertOrUpdate(
		route.Prefix,
		func() Route { return route },
		func(Route) Route { return route },
	)
	m.mu.Unlock()
	m.touch()

	m.log.Infow("installed route",
		zap.Stringer("prefix", route.Prefix),
		zap.Stringer("gateway", route.Gateway),
		zap.String("iface", route.Iface),
		zap.Uint32("metric", route.Metric),
		zap.Stringer("source", route.Source),
	)
}

// Upsert atomically reads the entry for the prefix and replaces it with the
// result of fn.
//
// The callback receives the current route and whether it exists; it returns
// the new route and whether it must be stored. The stored route is returned
// together with a flag telling whether the table changed.
func (m *Table) Upsert(prefix netip.Prefix, fn func(current Route, exists bool) (Route, bool)) (Route, bool) {
	prefix = prefix.Masked()

	m.mu.Lock()
	current, exists := m.routes.Get(prefix)
	route, store := fn(current, exists)
	if store {
		route.Prefix = prefix
		m.routes.InsertOrUpdate(
			prefix,
			func() Route { return route },
			func(Route) Route { return route },
		)
	}
	m.mu.Unlock()

	if store {
		m.touch()
	}
	return route, store
}

// LongestMatch returns the most specific route covering the address.
func (m *Table) LongestMatch(addr netip.Addr) (Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, route, ok := m.routes.Lookup(addr)
	return route, ok
}

// Get returns the route with exactly this destination and mask.
func (m *Table) Get(prefix netip.Prefix) (Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.routes.Get(prefix)
}

// Len returns the number of routes.
func (m *Table) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.routes.Len()
}

// Dump returns a copy of all routes, most specific first.
func (m *Table) Dump() []Route {
	m.mu.RLock()
	dump := m.routes.Dump()
	m.mu.RUnlock()

	routes := make([]Route, 0, len(dump))
	for _, route := range dump {
		routes = append(routes, route)
	}
	slices.SortFunc(routes, routeCompare)
	return routes
}

// Expire removes expirable routes that were not refreshed within maxAge and
// returns them.
//
// Candidates are collected from a snapshot first; each one is re-checked
// under the write lock, so a route refreshed in between survives.
func (m *Table) Expire(maxAge time.Duration) []Route {
	now := m.now()

	var candidates []Route
	for _, route := range m.Dump() {
		if route.Expirable() && now.Sub(route.UpdatedAt) > maxAge {
			candidates = append(candidates, route)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	expired := make([]Route, 0, len(candidates))
	m.mu.Lock()
	for _, candidate := range candidates {
		current, ok := m.routes.Get(candidate.Prefix)
		if !ok || !current.Expirable() || now.Sub(current.UpdatedAt) <= maxAge {
			continue
		}
		m.routes.Delete(candidate.Prefix)
		expired = append(expired, current)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.touch()
	}
	for _, route := range expired {
		m.log.Infow("evicted stale route",
			zap.Stringer("prefix", route.Prefix),
			zap.Stringer("gateway", route.Gateway),
			zap.Duration("age", now.Sub(route.UpdatedAt)),
		)
	}
	return expired
}

// UpdatedAt returns the time of the last table change.
func (m *Table) UpdatedAt() time.Time {
	return time.Unix(0, m.changedAt.Load())
}

func (m *Table) touch() {
	m.changedAt.Store(m.now().UnixNano())
}
