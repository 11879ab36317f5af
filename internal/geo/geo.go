// Package geo resolves a client IP to a country/region pair. The core only
// depends on the Resolver interface; this package supplies a MaxMind-backed
// implementation, matching how the geo-aware systems studied alongside this
// repository resolve client IPs in production.
package geo

import (
	"github.com/edgeproxy/edgeproxy/internal/region"
)

// Info is the resolved geography of a client IP.
type Info struct {
	Country string
	Region  region.Code
}

// Resolver maps a client IP to Info. A false second return means
// resolution failed or the IP is unknown; callers must treat that as
// "region unknown" rather than an error.
type Resolver interface {
	Resolve(ip string) (Info, bool)
}
