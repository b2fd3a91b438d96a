package graph

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urbantrack/brt-core/internal/models"
)

// InMemoryGraph holds the entire routing graph in memory for fast search.
// Nodes are stop ids directly (SPEC_FULL §4.2: the graph's nodes are
// stops, not (stop, route) pairs as in the donor's GTFS-multi-route
// model) — kept as a sync.RWMutex-guarded pair of maps swapped wholesale
// on reload, exactly as the donor's InMemoryGraph does.
type InMemoryGraph struct {
	mu         sync.RWMutex
	Nodes      map[int64]models.Node   // stopID -> Node
	Edges      map[int64][]models.Edge // fromStopID -> outgoing edges
	RouteNames map[int64]string        // routeID -> name, for step rendering
	loaded     bool
}

var (
	globalGraph     *InMemoryGraph
	globalGraphOnce sync.Once
)

// GetGraph returns the singleton in-memory graph.
func GetGraph() *InMemoryGraph {
	globalGraphOnce.Do(func() {
		globalGraph = &InMemoryGraph{
			Nodes:      make(map[int64]models.Node),
			Edges:      make(map[int64][]models.Edge),
			RouteNames: make(map[int64]string),
		}
	})
	return globalGraph
}

// LoadFromDB rebuilds the in-memory graph from the Geostore's stop/route
// tables. Grounded on the donor's LoadFromDB: one query for nodes, one for
// edges, then an atomic swap under the write lock.
func (g *InMemoryGraph) LoadFromDB(ctx context.Context, db *pgxpool.Pool, vBusMPS float64) error {
	start := time.Now()
	log.Println("graph: loading from database")

	nodes := make(map[int64]models.Node)

	stopRows, err := db.Query(ctx, `
		SELECT id, name, ST_Y(location::geometry), ST_X(location::geometry)
		FROM stop
	`)
	if err != nil {
		return fmt.Errorf("load stops: %w", err)
	}
	for stopRows.Next() {
		var n models.Node
		if err := stopRows.Scan(&n.StopID, &n.Name, &n.Lat, &n.Lon); err != nil {
			stopRows.Close()
			return fmt.Errorf("scan stop: %w", err)
		}
		nodes[n.StopID] = n
	}
	stopRows.Close()

	routeNames := make(map[int64]string)
	routeRows, err := db.Query(ctx, `SELECT id, name FROM route`)
	if err != nil {
		return fmt.Errorf("load routes: %w", err)
	}
	for routeRows.Next() {
		var id int64
		var name string
		if err := routeRows.Scan(&id, &name); err != nil {
			routeRows.Close()
			return fmt.Errorf("scan route: %w", err)
		}
		routeNames[id] = name
	}
	routeRows.Close()

	edges := make(map[int64][]models.Edge)

	// Build RIDE edges from consecutive (ordinal) stop pairs per route,
	// computing the segment distance geodesically via PostGIS geography,
	// per SPEC_FULL §4.1 ("Geodesic distances must use an ellipsoidal or
	// spherical formula... not degree-space Euclidean").
	edgeRows, err := db.Query(ctx, `
		SELECT rs1.route_id, rs1.stop_id AS from_stop, rs2.stop_id AS to_stop,
		       ST_Distance(s1.location::geography, s2.location::geography) AS meters
		FROM route_stop rs1
		JOIN route_stop rs2 ON rs2.route_id = rs1.route_id AND rs2.ordinal = rs1.ordinal + 1
		JOIN stop s1 ON s1.id = rs1.stop_id
		JOIN stop s2 ON s2.id = rs2.stop_id
	`)
	if err != nil {
		return fmt.Errorf("load route segments: %w", err)
	}
	edgeCount := 0
	for edgeRows.Next() {
		var e models.Edge
		var meters float64
		if err := edgeRows.Scan(&e.RouteID, &e.FromStopID, &e.ToStopID, &meters); err != nil {
			edgeRows.Close()
			return fmt.Errorf("scan edge: %w", err)
		}
		e.Type = models.EdgeRide
		e.Seconds = segmentCost(meters, vBusMPS)
		edges[e.FromStopID] = append(edges[e.FromStopID], e)
		edgeCount++
	}
	edgeRows.Close()

	g.mu.Lock()
	g.Nodes = nodes
	g.Edges = edges
	g.RouteNames = routeNames
	g.loaded = true
	g.mu.Unlock()

	log.Printf("graph: loaded %d stops, %d edges in %v", len(nodes), edgeCount, time.Since(start))
	return nil
}

// segmentCost converts a segment's geodesic length into travel seconds,
// per SPEC_FULL §4.2: zero-distance segments use a small positive cost to
// preserve reachability without a division hazard.
func segmentCost(meters, vBusMPS float64) float64 {
	if meters <= 0 {
		return 1
	}
	return meters / vBusMPS
}

// IsLoaded reports whether the graph has been loaded at least once.
func (g *InMemoryGraph) IsLoaded() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loaded
}

// GetNode returns a stop's node by id.
func (g *InMemoryGraph) GetNode(stopID int64) (models.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.Nodes[stopID]
	return n, ok
}

// GetEdges returns the outgoing edges for a stop.
func (g *InMemoryGraph) GetEdges(stopID int64) []models.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Edges[stopID]
}

// RouteName returns a route's display name, or "" if unknown.
func (g *InMemoryGraph) RouteName(routeID int64) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.RouteNames[routeID]
}

// AllNodes returns a snapshot of every stop node currently loaded, used by
// the nearest-stop resolver (internal/nearestop).
func (g *InMemoryGraph) AllNodes() []models.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	return out
}

// HaversineMeters is the pure-Go fallback distance used where a database
// round trip per comparison would be wasteful, per SPEC_FULL §4.1 and §9's
// resolution of the distance-metric question — kept from the
// donor for in-process candidate scoring over already loaded points, never
// as a substitute for the geostore's own queries.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371000
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
