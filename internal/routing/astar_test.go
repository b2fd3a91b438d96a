package routing

import (
	"container/heap"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urbantrack/brt-core/internal/graph"
	"github.com/urbantrack/brt-core/internal/models"
)

// buildTestGraph wires a small three-stop, two-route graph directly
// (bypassing LoadFromDB, which needs a live Postgres) to exercise the
// Dijkstra variant in isolation, mirroring the donor's in-package
// strategy_test.go style of testing routing logic without a database.
func buildTestGraph() *graph.InMemoryGraph {
	g := &graph.InMemoryGraph{
		Nodes: map[int64]models.Node{
			1: {StopID: 1, Name: "A", Lat: 0, Lon: 0},
			2: {StopID: 2, Name: "B", Lat: 0, Lon: 0.01},
			3: {StopID: 3, Name: "C", Lat: 0, Lon: 0.02},
		},
		Edges: map[int64][]models.Edge{
			1: {{FromStopID: 1, ToStopID: 2, RouteID: 100, Type: models.EdgeRide, Seconds: 60}},
			2: {
				{FromStopID: 2, ToStopID: 3, RouteID: 100, Type: models.EdgeRide, Seconds: 60},
				{FromStopID: 2, ToStopID: 3, RouteID: 200, Type: models.EdgeRide, Seconds: 30},
			},
		},
		RouteNames: map[int64]string{100: "Route 100", 200: "Route 200"},
	}
	return g
}

func testRouter() *Router {
	return &Router{
		graph:             buildTestGraph(),
		transferPenaltyS:  900,
		busSpeedMPS:       5.56,
		walkSpeedMPS:      1.4,
		nearestStopRadius: 300,
		maxExploredNodes:  defaultMaxExploredNodes,
		timeout:           defaultRoutingTimeout,
	}
}

func TestDijkstraPicksCheaperRouteWithoutTransferPenalty(t *testing.T) {
	r := testRouter()
	best, pred, err := r.dijkstra(context.Background(), 1, 3)
	require.NoError(t, err)

	// Staying on route 100 the whole way (60+60=120) beats boarding 100
	// then transferring to 200 (60+30+900 penalty), so the final state at
	// stop 3 should show currentRoute 100 with cost 120.
	final := best[3]
	assert.Equal(t, int64(100), final.currentRoute)
	assert.Equal(t, 120.0, final.cost)

	assert.Equal(t, int64(2), pred[3].fromStopID)
	assert.Equal(t, int64(100), pred[3].routeID)
}

func TestReconstructStepsDeduplicatesIdenticalCoordinates(t *testing.T) {
	g := buildTestGraph()
	// Stop 2 sits at stop 1's exact coordinates, so it is dropped.
	g.Nodes[2] = models.Node{StopID: 2, Name: "B", Lat: 0, Lon: 0}
	best := map[int64]dijkstraState{
		1: {stopID: 1, cost: 0, currentRoute: 0},
		2: {stopID: 2, cost: 60, currentRoute: 100},
		3: {stopID: 3, cost: 120, currentRoute: 100},
	}
	pred := map[int64]predecessor{
		2: {fromStopID: 1, routeID: 100},
		3: {fromStopID: 2, routeID: 100},
	}

	steps := reconstructSteps(best, pred, 3, g)
	require.Len(t, steps, 2)
	assert.Equal(t, int64(1), steps[0].StopID)
	assert.Equal(t, int64(3), steps[1].StopID)
	assert.Equal(t, "Route 100", steps[1].RouteName)
}

func TestCountTransfers(t *testing.T) {
	steps := []models.Step{
		{StopID: 1, RouteID: 0},
		{StopID: 2, RouteID: 100},
		{StopID: 3, RouteID: 100},
		{StopID: 4, RouteID: 200},
	}
	assert.Equal(t, 1, countTransfers(steps))
}

func TestFindPathErrorsWhenGraphNotLoaded(t *testing.T) {
	r := &Router{
		graph:             &graph.InMemoryGraph{},
		nearestStopRadius: 300,
		timeout:           time.Second,
	}
	_, err := r.FindPath(context.Background(), 0, 0, 0, 0)
	assert.Error(t, err)
}

func TestStateQueueOrdersByCost(t *testing.T) {
	pq := &stateQueue{}
	heap.Init(pq)
	heap.Push(pq, &dijkstraState{stopID: 1, cost: 50})
	heap.Push(pq, &dijkstraState{stopID: 2, cost: 10})
	heap.Push(pq, &dijkstraState{stopID: 3, cost: 30})

	first := heap.Pop(pq).(*dijkstraState)
	assert.Equal(t, int64(2), first.stopID)
}
