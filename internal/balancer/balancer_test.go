package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/region"
	"github.com/edgeproxy/edgeproxy/internal/routing"
)

func counterFrom(counts map[string]uint32) ConnCounter {
	return func(id string) uint32 { return counts[id] }
}

// Scenario 1: same-region SA client, SA and NA backends both at 0 conns,
// local region SA -> sa1 wins (geo tier 0 or 1 beats NA's tier 3).
func TestScenario1SameRegionWins(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "sa1", Region: region.SouthAmerica, Healthy: true, Weight: 1, SoftLimit: 50, HardLimit: 100},
		{ID: "us1", Region: region.NorthAmerica, Healthy: true, Weight: 1, SoftLimit: 50, HardLimit: 100},
	}, 1, time.Now())

	client := ClientGeo{Country: "BR", Region: region.SouthAmerica, Known: true}
	b, ok := Select(snap, region.SouthAmerica, client, counterFrom(nil))
	require.True(t, ok)
	assert.Equal(t, "sa1", b.ID)
}

// Scenario 3: sa1 at hard_limit is ineligible; sa2 is chosen.
func TestScenario3HardLimitExcludesBackend(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "sa1", Region: region.SouthAmerica, Healthy: true, Weight: 1, SoftLimit: 1, HardLimit: 1},
		{ID: "sa2", Region: region.SouthAmerica, Healthy: true, Weight: 1, SoftLimit: 50, HardLimit: 100},
	}, 1, time.Now())

	counts := map[string]uint32{"sa1": 1, "sa2": 0}
	client := ClientGeo{Region: region.SouthAmerica, Known: true}
	b, ok := Select(snap, region.SouthAmerica, client, counterFrom(counts))
	require.True(t, ok)
	assert.Equal(t, "sa2", b.ID)
}

// Scenario 4: same geo tier, load/weight breaks the tie.
// score(sa1) = 0 + 0.8/1 = 0.8; score(sa2) = 0 + 0.8/4 = 0.2 -> sa2 wins.
func TestScenario4WeightBreaksLoadTie(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "sa1", Region: region.SouthAmerica, Healthy: true, Weight: 1, SoftLimit: 50, HardLimit: 100},
		{ID: "sa2", Region: region.SouthAmerica, Healthy: true, Weight: 4, SoftLimit: 50, HardLimit: 100},
	}, 1, time.Now())

	counts := map[string]uint32{"sa1": 40, "sa2": 40}
	client := ClientGeo{Region: region.SouthAmerica, Known: true}
	b, ok := Select(snap, region.SouthAmerica, client, counterFrom(counts))
	require.True(t, ok)
	assert.Equal(t, "sa2", b.ID)
}

// Scenario 6: all backends unhealthy -> no selection.
func TestScenario6AllUnhealthy(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "sa1", Region: region.SouthAmerica, Healthy: false, Weight: 1, SoftLimit: 50, HardLimit: 100},
	}, 1, time.Now())

	_, ok := Select(snap, region.SouthAmerica, ClientGeo{}, counterFrom(nil))
	assert.False(t, ok)
}

func TestGeoScoreTiers(t *testing.T) {
	local := region.Europe
	backend := routing.Backend{ID: "b1", Region: region.SouthAmerica, Country: "BR"}

	assert.Equal(t, 0, geoScore(ClientGeo{Country: "BR", Known: true}, backend, local))
	assert.Equal(t, 1, geoScore(ClientGeo{Country: "AR", Region: region.SouthAmerica, Known: true}, backend, local))
	assert.Equal(t, 3, geoScore(ClientGeo{Country: "US", Region: region.NorthAmerica, Known: true}, backend, local))

	backendLocal := routing.Backend{ID: "b2", Region: region.Europe}
	assert.Equal(t, 2, geoScore(ClientGeo{Country: "US", Region: region.NorthAmerica, Known: true}, backendLocal, local))

	// Unknown client geo never matches country or region tiers.
	assert.Equal(t, 3, geoScore(ClientGeo{}, backend, local))
}

func TestZeroWeightIsIneligible(t *testing.T) {
	b := routing.Backend{ID: "b1", Healthy: true, Weight: 0, SoftLimit: 10, HardLimit: 20}
	assert.False(t, eligible(b, 0))
}

func TestZeroSoftLimitTreatsLoadAsInfinite(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "b1", Region: region.Other, Healthy: true, Weight: 1, SoftLimit: 0, HardLimit: 10},
		{ID: "b2", Region: region.Other, Healthy: true, Weight: 1, SoftLimit: 10, HardLimit: 10},
	}, 1, time.Now())

	counts := map[string]uint32{"b1": 1, "b2": 5}
	b, ok := Select(snap, region.Other, ClientGeo{}, counterFrom(counts))
	require.True(t, ok)
	assert.Equal(t, "b2", b.ID, "infinite load factor on b1 must lose to b2's finite one")
}

func TestTieBreakIsLexicographicByID(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "z1", Region: region.Other, Healthy: true, Weight: 1, SoftLimit: 10, HardLimit: 10},
		{ID: "a1", Region: region.Other, Healthy: true, Weight: 1, SoftLimit: 10, HardLimit: 10},
	}, 1, time.Now())

	b, ok := Select(snap, region.Other, ClientGeo{}, counterFrom(nil))
	require.True(t, ok)
	assert.Equal(t, "a1", b.ID)
}

func TestSelectIsDeterministic(t *testing.T) {
	snap := routing.NewSnapshot([]routing.Backend{
		{ID: "sa1", Region: region.SouthAmerica, Healthy: true, Weight: 2, SoftLimit: 50, HardLimit: 100},
		{ID: "sa2", Region: region.SouthAmerica, Healthy: true, Weight: 3, SoftLimit: 50, HardLimit: 100},
	}, 1, time.Now())
	counts := map[string]uint32{"sa1": 10, "sa2": 20}
	client := ClientGeo{Region: region.SouthAmerica, Known: true}

	first, ok1 := Select(snap, region.SouthAmerica, client, counterFrom(counts))
	second, ok2 := Select(snap, region.SouthAmerica, client, counterFrom(counts))
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, first.ID, second.ID)
}

func TestSelectReturnsFalseOnEmptySnapshot(t *testing.T) {
	snap := routing.NewSnapshot(nil, 1, time.Now())
	_, ok := Select(snap, region.Other, ClientGeo{}, counterFrom(nil))
	assert.False(t, ok)
}

func TestSelectOnNilSnapshot(t *testing.T) {
	_, ok := Select(nil, region.Other, ClientGeo{}, counterFrom(nil))
	assert.False(t, ok)
}
