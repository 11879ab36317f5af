// Package balancer implements the pure, side-effect-free backend scoring
// function. Given a backend set, the local POP's region, the client's
// resolved geo info, and a connection-count lookup, it picks the
// lowest-scored eligible backend deterministically.
package balancer

import (
	"math"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/internal/routing"
)

// ClientGeo is the client's resolved geography, or the zero value with
// Known=false when resolution failed or returned nothing.
type ClientGeo struct {
	Country string
	Region  region.Code
	Known   bool
}

// ConnCounter reads the current live connection count for a backend id.
// Implemented in practice by connstats.Store.Get.
type ConnCounter func(backendID string) uint32

// eligible reports whether a backend may be selected at all: healthy and
// under its hard limit. A zero weight is also treated as ineligible —
// defensive, since config validation should prevent it from ever
// occurring.
func eligible(b routing.Backend, current uint32) bool {
	if !b.Healthy {
		return false
	}
	if b.Weight == 0 {
		return false
	}
	return uint64(current) < uint64(b.HardLimit)
}

// GeoTier exposes the discrete geo-score tier (0=same country, 1=same
// region, 2=local POP region, 3=fallback) for callers that want to label a
// selection's outcome, e.g. metrics export.
func GeoTier(client ClientGeo, b routing.Backend, localRegion region.Code) int {
	return geoScore(client, b, localRegion)
}

func geoScore(client ClientGeo, b routing.Backend, localRegion region.Code) int {
	if client.Known && b.Country != "" && client.Country == b.Country {
		return 0
	}
	if client.Known && b.Region == client.Region {
		return 1
	}
	if b.Region == localRegion {
		return 2
	}
	return 3
}

func score(b routing.Backend, current uint32, client ClientGeo, localRegion region.Code) float64 {
	gs := geoScore(client, b, localRegion)

	var loadFactor float64
	if b.SoftLimit == 0 {
		loadFactor = math.Inf(1)
	} else {
		loadFactor = float64(current) / float64(b.SoftLimit)
	}

	return float64(gs)*100.0 + loadFactor/float64(b.Weight)
}

// Select returns the lowest-scored eligible backend in snapshot, or false
// if none is eligible. Ties are broken by ascending backend id; snapshot's
// Backends slice is already sorted by id (routing.NewSnapshot), so a
// simple "strictly lower score wins" scan already produces deterministic,
// lexicographically-tie-broken results.
func Select(snapshot *routing.Snapshot, localRegion region.Code, client ClientGeo, counter ConnCounter) (routing.Backend, bool) {
	if snapshot == nil {
		return routing.Backend{}, false
	}

	var (
		best      routing.Backend
		bestScore float64
		found     bool
	)

	for _, b := range snapshot.Backends {
		current := counter(b.ID)
		if !eligible(b, current) {
			continue
		}
		s := score(b, current, client, localRegion)
		if !found || s < bestScore {
			best, bestScore, found = b, s, true
		}
	}

	return best, found
}
