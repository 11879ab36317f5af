package database

import (
	"context"
	"fmt"

	"github.com/edgeproxy/edgeproxy/internal/registry"
)

// registryStore implements registry.Store over a backends table, querying
// the active, non-deleted rows on every reload tick.
type registryStore struct {
	db DB
}

// NewRegistryStore adapts db into the registry.Store interface the reload
// loop depends on, keeping registry.Reader free of any SQL driver import.
func NewRegistryStore(db DB) registry.Store {
	return &registryStore{db: db}
}

const listActiveBackendsSQL = `
SELECT id, app, region, country, address, port, healthy, weight,
       soft_limit, hard_limit, deleted
FROM backends
WHERE NOT deleted
ORDER BY id
`

func (s *registryStore) ListActiveBackends(ctx context.Context) ([]registry.BackendRow, error) {
	rows, err := s.db.Query(ctx, listActiveBackendsSQL)
	if err != nil {
		return nil, fmt.Errorf("query active backends: %w", err)
	}
	defer rows.Close()

	var out []registry.BackendRow
	for rows.Next() {
		var r registry.BackendRow
		if err := rows.Scan(
			&r.ID, &r.App, &r.Region, &r.Country, &r.Address, &r.Port,
			&r.Healthy, &r.Weight, &r.SoftLimit, &r.HardLimit, &r.Deleted,
		); err != nil {
			return nil, fmt.Errorf("scan backend row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backend rows: %w", err)
	}

	return out, nil
}
