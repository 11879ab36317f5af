// Package proxy implements the selection orchestration: given a client IP,
// find (and remember) which backend it should be forwarded to. The package
// performs no I/O of its own; it composes the routing snapshot, the binding
// table, a geo resolver and a connection counter that are each owned by the
// caller (cmd/edgeproxyd).
package proxy

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/balancer"
	"github.com/edgeproxy/edgeproxy/internal/binding"
	"github.com/edgeproxy/edgeproxy/internal/connstats"
	"github.com/edgeproxy/edgeproxy/internal/geo"
	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/internal/routing"
)

// Recorder observes selection outcomes. Implemented by pkg/metrics so this
// package never imports Prometheus types directly; nil-safe no-op when not
// supplied.
type Recorder interface {
	RecordSelection(outcome, geoTier string)
}

type noopRecorder struct{}

func (noopRecorder) RecordSelection(string, string) {}

// Service resolves client connections to backends, combining sticky
// affinity with the load balancer's scoring when no valid affinity exists.
type Service struct {
	routes      *routing.Container
	bindings    *binding.Table
	resolver    geo.Resolver
	stats       *connstats.Store
	localRegion region.Code
	log         *slog.Logger
	recorder    Recorder
}

// Option customizes a Service at construction time.
type Option func(*Service)

// WithRecorder attaches a Recorder that observes each selection outcome,
// e.g. to export the geo-score tier as a Prometheus label.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// New constructs a Service. resolver may be nil, in which case every
// client is treated as having unknown geography.
func New(routes *routing.Container, bindings *binding.Table, resolver geo.Resolver, stats *connstats.Store, localRegion region.Code, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{routes: routes, bindings: bindings, resolver: resolver, stats: stats, localRegion: localRegion, log: log, recorder: noopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clientGeo resolves clientIP via the configured resolver, returning the
// zero ClientGeo (Known=false) on a nil resolver or resolution failure.
func (s *Service) clientGeo(clientIP string) balancer.ClientGeo {
	if s.resolver == nil {
		return balancer.ClientGeo{}
	}
	info, ok := s.resolver.Resolve(clientIP)
	if !ok {
		return balancer.ClientGeo{}
	}
	return balancer.ClientGeo{Country: info.Country, Region: info.Region, Known: true}
}

// ResolveBackend prefers an existing, still-eligible sticky binding;
// otherwise it runs the load balancer over the current snapshot and
// remembers the choice.
func (s *Service) ResolveBackend(clientIP string) (routing.Backend, bool) {
	snapshot := s.routes.Current()

	if b, ok := s.bindings.Get(clientIP); ok {
		if backend, found := snapshot.Find(b.BackendID); found && eligibleForAffinity(backend, s.stats.Get(backend.ID)) {
			s.bindings.Touch(clientIP)
			s.recorder.RecordSelection("affinity_hit", "")
			return backend, true
		}
	}

	client := s.clientGeo(clientIP)
	backend, ok := balancer.Select(snapshot, s.localRegion, client, s.stats.Get)
	if !ok {
		s.recorder.RecordSelection("no_eligible_backend", "")
		return routing.Backend{}, false
	}

	now := time.Now()
	s.bindings.Put(clientIP, binding.Binding{BackendID: backend.ID, CreatedAt: now, LastUsedAt: now})
	tier := balancer.GeoTier(client, backend, s.localRegion)
	s.recorder.RecordSelection("selected", strconv.Itoa(tier))
	return backend, true
}

// eligibleForAffinity mirrors the balancer's own eligibility check
// (healthy, under hard_limit) without re-running the weight/geo scoring
// that only matters for a fresh selection.
func eligibleForAffinity(b routing.Backend, current uint32) bool {
	return b.Healthy && uint64(current) < uint64(b.HardLimit)
}
