// Package metrics exposes the Prometheus counters shared by the cache layer and
// the pending action scheduler.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "warden"

// Set groups every counter the runtime records. A nil *Set records nothing.
type Set struct {
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	storeFetches  *prometheus.CounterVec
	ticks         *prometheus.CounterVec
	actions       *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
}

// New creates a metric set and registers it with registerer.
func New(registerer prometheus.Registerer) (*Set, error) {
	set := &Set{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups answered from the in-memory table.",
		}, []string{"kind"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to the fetch protocol.",
		}, []string{"kind"}),
		storeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "store_fetches_total",
			Help:      "Store round-trips issued by cache managers.",
		}, []string{"kind"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Pending actions processed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Failed store operations by operation.",
		}, []string{"op"}),
	}
	if registerer == nil {
		return set, nil
	}

	for _, collector := range []prometheus.Collector{
		set.cacheHits,
		set.cacheMisses,
		set.storeFetches,
		set.ticks,
		set.actions,
		set.storeFailures,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}

	return set, nil
}

// CacheHit records one in-memory hit for kind.
func (s *Set) CacheHit(kind string) {
	if s == nil {
		return
	}
	s.cacheHits.WithLabelValues(kind).Inc()
}

// CacheMiss records one miss for kind.
func (s *Set) CacheMiss(kind string) {
	if s == nil {
		return
	}
	s.cacheMisses.WithLabelValues(kind).Inc()
}

// StoreFetch records one store round-trip issued for kind.
func (s *Set) StoreFetch(kind string) {
	if s == nil {
		return
	}
	s.storeFetches.WithLabelValues(kind).Inc()
}

// Tick records one scheduler tick outcome.
func (s *Set) Tick(outcome string) {
	if s == nil {
		return
	}
	s.ticks.WithLabelValues(outcome).Inc()
}

// Action records one processed pending action.
func (s *Set) Action(kind string, outcome string) {
	if s == nil {
		return
	}
	s.actions.WithLabelValues(kind, outcome).Inc()
}

// StoreFailure records one failed store operation.
func (s *Set) StoreFailure(op string) {
	if s == nil {
		return
	}
	s.storeFailures.WithLabelValues(op).Inc()
}
