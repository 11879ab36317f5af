// Package registry drives the periodic reload of the routing snapshot from
// an external backend registry. The core only depends on the narrow Store
// interface below; pkg/database provides the concrete Postgres-backed
// implementation so this package never imports a SQL driver.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/internal/routing"
	"github.com/edgeproxy/edgeproxy/pkg/apperror"
)

// BackendRow is the on-the-wire shape of one backends table row.
type BackendRow struct {
	ID        string
	App       string
	Region    string
	Country   string
	Address   string
	Port      int
	Healthy   bool
	Weight    int
	SoftLimit int
	HardLimit int
	Deleted   bool
}

// Store lists the active backend rows known to the registry. Implementers
// are expected to filter out deleted rows themselves; Reader defends
// against a Store that doesn't.
type Store interface {
	ListActiveBackends(ctx context.Context) ([]BackendRow, error)
}

// Reader periodically reloads routing.Container from a Store, installing a
// new Snapshot on success and leaving the current one in place on failure.
type Reader struct {
	store    Store
	target   *routing.Container
	interval time.Duration
	log      *slog.Logger

	version uint64
}

// NewReader creates a Reader that reloads target from store every interval.
func NewReader(store Store, target *routing.Container, interval time.Duration, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	return &Reader{store: store, target: target, interval: interval, log: log}
}

func toBackend(r BackendRow) routing.Backend {
	return routing.Backend{
		ID:        r.ID,
		App:       r.App,
		Region:    region.FromString(r.Region),
		Country:   r.Country,
		Address:   r.Address,
		Port:      r.Port,
		Healthy:   r.Healthy,
		Weight:    r.Weight,
		SoftLimit: r.SoftLimit,
		HardLimit: r.HardLimit,
	}
}

// reload performs a single fetch-convert-install cycle, returning the error
// from the Store on failure so Run can log it. The previous snapshot is
// never touched on error.
func (r *Reader) reload(ctx context.Context) error {
	rows, err := r.store.ListActiveBackends(ctx)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeTransientRegistry, "list active backends")
	}

	backends := make([]routing.Backend, 0, len(rows))
	for _, row := range rows {
		if row.Deleted {
			continue
		}
		b := toBackend(row)
		if !b.Valid() {
			r.log.Warn("registry: dropping invalid backend row", "backend_id", b.ID)
			continue
		}
		backends = append(backends, b)
	}

	r.version++
	r.target.Install(routing.NewSnapshot(backends, r.version, time.Now()))
	return nil
}

// Run loads once immediately, then reloads every interval until ctx is
// canceled. Failed reloads are logged; the previously installed snapshot
// remains in effect.
func (r *Reader) Run(ctx context.Context) {
	if err := r.reload(ctx); err != nil {
		r.log.Log(ctx, apperror.LogLevel(apperror.Code(err)), "registry: initial load failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.reload(ctx); err != nil {
				r.log.Log(ctx, apperror.LogLevel(apperror.Code(err)), "registry: reload failed, keeping previous snapshot", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
