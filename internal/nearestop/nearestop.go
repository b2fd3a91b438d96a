// Package nearestop resolves a free-form coordinate to its single nearest
// stop within a walking radius, per SPEC_FULL §4.3. Extracted and simplified
// from the donor's internal/graph/memory.go FindNearestNodes, which returned
// a mode-aware (BRT/TER vs regular) multi-slot candidate list; this spec has
// one stop kind and wants exactly one winner.
package nearestop

import (
	"errors"
	"sort"

	"github.com/urbantrack/brt-core/internal/graph"
	"github.com/urbantrack/brt-core/internal/models"
)

// ErrUnreachable is returned when no stop falls within the radius.
var ErrUnreachable = errors.New("no stop within radius")

// Resolve returns the closest stop to (lat, lon) within radiusM, breaking
// ties by ascending stop id for determinism.
func Resolve(g *graph.InMemoryGraph, lat, lon, radiusM float64) (models.Node, float64, error) {
	candidates := g.AllNodes()

	type scored struct {
		node   models.Node
		meters float64
	}
	var inRange []scored
	for _, n := range candidates {
		d := graph.HaversineMeters(lat, lon, n.Lat, n.Lon)
		if d <= radiusM {
			inRange = append(inRange, scored{n, d})
		}
	}
	if len(inRange) == 0 {
		return models.Node{}, 0, ErrUnreachable
	}

	sort.Slice(inRange, func(i, j int) bool {
		if inRange[i].meters != inRange[j].meters {
			return inRange[i].meters < inRange[j].meters
		}
		return inRange[i].node.StopID < inRange[j].node.StopID
	})

	best := inRange[0]
	return best.node, best.meters, nil
}
