// README: Deterministic candidate ranking for driver search.
package dispatch

import (
	"sort"

	"hemohive/internal/modules/driver"
	"hemohive/internal/types"
)

// rankCandidates orders dispatchable drivers and drops excluded ones. Drivers
// with a known position come first, closest first; the rest follow in
// registration order. Ties break on the lower driver id, so repeated searches
// over the same pool always propose the same driver.
func rankCandidates(candidates []driver.Candidate, excluded map[types.ID]struct{}) []driver.Candidate {
	ranked := make([]driver.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.HasGeo != b.HasGeo {
			return a.HasGeo
		}
		if a.HasGeo {
			if a.DistanceKm != b.DistanceKm {
				return a.DistanceKm < b.DistanceKm
			}
			return a.ID < b.ID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ranked
}

// excludeSet builds the exclusion set for a delivery: every previously
// rejected driver, and never the currently proposed one.
func excludeSet(d *Delivery) map[types.ID]struct{} {
	out := make(map[types.ID]struct{}, len(d.RejectedDriverIDs)+1)
	for _, id := range d.RejectedDriverIDs {
		out[id] = struct{}{}
	}
	if d.ProposedDriverID != nil {
		out[*d.ProposedDriverID] = struct{}{}
	}
	return out
}
