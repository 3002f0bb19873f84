// README: Candidate ranking tests (pure, no database).
package dispatch

import (
	"testing"
	"time"

	"hemohive/internal/modules/driver"
	"hemohive/internal/types"
)

func TestRankCandidatesGeoFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := []driver.Candidate{
		{ID: "d_nogeo_old", CreatedAt: base},
		{ID: "d_far", DistanceKm: 12.5, HasGeo: true, CreatedAt: base.Add(time.Hour)},
		{ID: "d_near", DistanceKm: 1.2, HasGeo: true, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "d_nogeo_new", CreatedAt: base.Add(3 * time.Hour)},
	}

	ranked := rankCandidates(pool, nil)

	want := []types.ID{"d_near", "d_far", "d_nogeo_old", "d_nogeo_new"}
	if len(ranked) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(ranked))
	}
	for i, id := range want {
		if ranked[i].ID != id {
			t.Errorf("rank %d: expected %s, got %s", i, id, ranked[i].ID)
		}
	}
}

func TestRankCandidatesTieBreaksOnID(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := []driver.Candidate{
		{ID: "d2", DistanceKm: 3.0, HasGeo: true},
		{ID: "d1", DistanceKm: 3.0, HasGeo: true},
		{ID: "d9", CreatedAt: at},
		{ID: "d8", CreatedAt: at},
	}

	ranked := rankCandidates(pool, nil)

	want := []types.ID{"d1", "d2", "d8", "d9"}
	for i, id := range want {
		if ranked[i].ID != id {
			t.Errorf("rank %d: expected %s, got %s", i, id, ranked[i].ID)
		}
	}
}

func TestRankCandidatesExcludes(t *testing.T) {
	pool := []driver.Candidate{
		{ID: "d1", DistanceKm: 1.0, HasGeo: true},
		{ID: "d2", DistanceKm: 2.0, HasGeo: true},
		{ID: "d3", DistanceKm: 3.0, HasGeo: true},
	}
	excluded := map[types.ID]struct{}{"d1": {}, "d3": {}}

	ranked := rankCandidates(pool, excluded)

	if len(ranked) != 1 || ranked[0].ID != "d2" {
		t.Fatalf("expected only d2 to survive exclusion, got %v", ranked)
	}

	ranked = rankCandidates(pool, map[types.ID]struct{}{"d1": {}, "d2": {}, "d3": {}})
	if len(ranked) != 0 {
		t.Fatalf("expected empty ranking when all excluded, got %v", ranked)
	}
}

func TestExcludeSetCoversProposedDriver(t *testing.T) {
	proposed := types.ID("d_current")
	d := &Delivery{
		RejectedDriverIDs: []types.ID{"d_a", "d_b"},
		ProposedDriverID:  &proposed,
	}

	set := excludeSet(d)

	for _, id := range []types.ID{"d_a", "d_b", "d_current"} {
		if _, ok := set[id]; !ok {
			t.Errorf("expected %s in exclude set", id)
		}
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(set))
	}

	// No proposal, no rejections: nothing is excluded.
	if got := excludeSet(&Delivery{}); len(got) != 0 {
		t.Fatalf("expected empty set, got %v", got)
	}
}
