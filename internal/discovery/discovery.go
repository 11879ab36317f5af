// Package discovery heartbeats this process's identity into a shared cache
// so other tooling (an operator dashboard, another POP, a deploy script)
// can discover which edgeproxy instances are currently running and where.
// Nothing in the core routing/selection path reads this back; it is purely
// observational.
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/pkg/apperror"
	"github.com/edgeproxy/edgeproxy/pkg/cache"
)

const keyPrefix = "edgeproxy:pop:"

// Record is the value heartbeated into the cache under keyPrefix+PopID.
type Record struct {
	PopID         string      `json:"pop_id"`
	Region        region.Code `json:"region"`
	ListenAddress string      `json:"listen_address"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Registrar periodically writes this process's Record into a cache.Cache
// with a TTL a few heartbeat intervals long, so a crashed process's entry
// expires on its own instead of needing active cleanup.
type Registrar struct {
	store         cache.Cache
	popID         string
	region        region.Code
	listenAddress string
	interval      time.Duration
	ttl           time.Duration
	log           *slog.Logger
}

// New constructs a Registrar. ttl should be comfortably longer than
// interval so a brief delay between heartbeats doesn't expire the record.
func New(store cache.Cache, popID string, r region.Code, listenAddress string, interval, ttl time.Duration, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{
		store:         store,
		popID:         popID,
		region:        r,
		listenAddress: listenAddress,
		interval:      interval,
		ttl:           ttl,
		log:           log,
	}
}

func (r *Registrar) key() string {
	return keyPrefix + r.popID
}

func (r *Registrar) heartbeat(ctx context.Context) error {
	rec := Record{
		PopID:         r.popID,
		Region:        r.region,
		ListenAddress: r.listenAddress,
		UpdatedAt:     time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "marshal discovery record")
	}
	if err := r.store.Set(ctx, r.key(), payload, r.ttl); err != nil {
		return apperror.Wrap(err, apperror.CodeTransientRegistry, "write discovery record")
	}
	return nil
}

// Run sends an initial heartbeat, then one every interval until ctx is
// canceled, at which point it best-effort deletes its own record so the
// cache doesn't carry a stale entry until the TTL catches up.
func (r *Registrar) Run(ctx context.Context) {
	if err := r.heartbeat(ctx); err != nil {
		r.log.Log(ctx, apperror.LogLevel(apperror.Code(err)), "discovery: initial heartbeat failed", "pop_id", r.popID, "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.heartbeat(ctx); err != nil {
				r.log.Log(ctx, apperror.LogLevel(apperror.Code(err)), "discovery: heartbeat failed", "pop_id", r.popID, "error", err)
			}
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.store.Delete(cleanupCtx, r.key()); err != nil {
				r.log.Warn("discovery: failed to remove record on shutdown", "pop_id", r.popID, "error", err)
			}
			return
		}
	}
}

// List returns every currently live Record, skipping entries whose value
// fails to unmarshal (e.g. a record from an incompatible older version).
func List(ctx context.Context, store cache.Cache) ([]Record, error) {
	keys, err := store.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeTransientRegistry, "list discovery keys")
	}

	values, err := store.MGet(ctx, keys)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeTransientRegistry, "fetch discovery records")
	}

	records := make([]Record, 0, len(values))
	for _, raw := range values {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
