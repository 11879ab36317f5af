package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/edgeproxy/edgeproxy/internal/region"
)

// MaxMindResolver resolves client IPs against a MaxMind-format GeoIP2
// country database (oschwald/geoip2-golang over oschwald/maxminddb-golang).
type MaxMindResolver struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the database at path. The returned resolver owns the
// reader and must be closed via Close when no longer needed.
func OpenMaxMind(path string) (*MaxMindResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindResolver{reader: reader}, nil
}

// Close releases the underlying mmap'd database file.
func (m *MaxMindResolver) Close() error {
	return m.reader.Close()
}

// Resolve looks up ip's country and derives its region from region.FromCountry.
// A malformed IP or a miss in the database both yield (Info{}, false).
func (m *MaxMindResolver) Resolve(ip string) (Info, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Info{}, false
	}

	record, err := m.reader.Country(parsed)
	if err != nil || record.Country.IsoCode == "" {
		return Info{}, false
	}

	country := record.Country.IsoCode
	return Info{Country: country, Region: region.FromCountry(country)}, true
}
