// Package routing implements the Trip Planner (SPEC_FULL §4.4): a Dijkstra
// variant over the in-memory stop graph with a flat per-transfer time
// penalty applied on edge relaxation rather than as physical transfer
// edges. Adapted from the donor's internal/routing/astar.go — the
// container/heap PriorityQueue and context-timeout/exploration-limit guards
// are kept verbatim in shape; the donor's buildSteps consolidation is not,
// reconstructSteps emits one step per stop traversed — but the search
// itself follows the original Python services/route_calculation.py
// _dijkstra's state representation, (cost, stop, current_route), literally,
// dropping the donor's A* heuristic and its Strategy table: this spec names
// one fixed algorithm, not a strategy menu (see DESIGN.md).
package routing

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/urbantrack/brt-core/internal/graph"
	"github.com/urbantrack/brt-core/internal/models"
	"github.com/urbantrack/brt-core/internal/nearestop"
)

const (
	defaultMaxExploredNodes = 50000
	defaultRoutingTimeout   = 10 * time.Second
)

// Router runs trip plans against the process-local route graph.
type Router struct {
	graph             *graph.InMemoryGraph
	transferPenaltyS  float64
	busSpeedMPS       float64
	walkSpeedMPS      float64
	nearestStopRadius float64
	maxExploredNodes  int
	timeout           time.Duration
}

// NewRouter builds a Router against the graph singleton, configured from
// SPEC_FULL §10's config.Config (P_transfer, V_bus, V_walk, nearest-stop
// radius), mirroring the donor's env-driven routing constants.
func NewRouter(transferPenaltyS, busSpeedMPS, walkSpeedMPS, nearestStopRadius float64) *Router {
	return &Router{
		graph:             graph.GetGraph(),
		transferPenaltyS:  transferPenaltyS,
		busSpeedMPS:       busSpeedMPS,
		walkSpeedMPS:      walkSpeedMPS,
		nearestStopRadius: nearestStopRadius,
		maxExploredNodes:  defaultMaxExploredNodes,
		timeout:           defaultRoutingTimeout,
	}
}

// ErrNoNearbyStop and ErrUnreachable name the planner's two failure modes
// (SPEC_FULL §4.4), mapped by the API layer to a 404 in both cases.
var (
	ErrNoNearbyStop = fmt.Errorf("no nearby stop")
	ErrUnreachable  = fmt.Errorf("unreachable")
)

// FindPath plans a trip from (fromLat, fromLon) to (toLat, toLon).
func (r *Router) FindPath(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (*models.Path, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if !r.graph.IsLoaded() {
		return nil, fmt.Errorf("route graph not loaded")
	}

	originStop, originMeters, err := nearestop.Resolve(r.graph, fromLat, fromLon, r.nearestStopRadius)
	if err != nil {
		return nil, ErrNoNearbyStop
	}
	destStop, destMeters, err := nearestop.Resolve(r.graph, toLat, toLon, r.nearestStopRadius)
	if err != nil {
		return nil, ErrNoNearbyStop
	}

	nodes, predecessors, err := r.dijkstra(ctx, originStop.StopID, destStop.StopID)
	if err != nil {
		return nil, err
	}

	steps := reconstructSteps(nodes, predecessors, destStop.StopID, r.graph)
	if len(steps) == 0 {
		return nil, ErrUnreachable
	}

	transfers := countTransfers(steps)
	inVehicleSeconds := nodes[destStop.StopID].cost

	totalSeconds := inVehicleSeconds +
		originMeters/r.walkSpeedMPS +
		destMeters/r.walkSpeedMPS

	return &models.Path{
		Steps:                 steps,
		TotalSeconds:          totalSeconds,
		WalkOriginMeters:      originMeters,
		WalkDestinationMeters: destMeters,
		Transfers:             transfers,
	}, nil
}

// dijkstraState is one settled/frontier entry: cumulative in-vehicle plus
// transfer-penalty seconds, the stop, and the route ridden to reach it
// (0 = none yet),
// exactly the Python original's (cost, node, current_passenger_route_id).
type dijkstraState struct {
	stopID      int64
	cost        float64
	currentRoute int64 // 0 means "no prior route" (first boarding is free)
	index       int    // heap bookkeeping
}

type predecessor struct {
	fromStopID int64
	routeID    int64
}

// dijkstra returns the best cost (and currentRoute) reached per stop, plus
// predecessor links for path reconstruction. Distances are keyed by stop id
// alone: the transfer penalty is a monotone, non-negative cost augmentation
// applied on relaxation, so standard Dijkstra correctness holds (SPEC_FULL
// §4.4's rationale).
func (r *Router) dijkstra(ctx context.Context, originStopID, destStopID int64) (map[int64]dijkstraState, map[int64]predecessor, error) {
	best := make(map[int64]dijkstraState)
	pred := make(map[int64]predecessor)

	pq := &stateQueue{}
	heap.Init(pq)

	start := &dijkstraState{stopID: originStopID, cost: 0, currentRoute: 0}
	heap.Push(pq, start)
	best[originStopID] = *start

	explored := 0
	for pq.Len() > 0 {
		if explored%1000 == 0 {
			select {
			case <-ctx.Done():
				return nil, nil, fmt.Errorf("routing timeout exceeded after exploring %d stops", explored)
			default:
			}
		}
		if explored > r.maxExploredNodes {
			return nil, nil, fmt.Errorf("explored too many stops (%d), no path found", explored)
		}

		current := heap.Pop(pq).(*dijkstraState)
		explored++

		if existing, ok := best[current.stopID]; ok && current.cost > existing.cost {
			continue
		}

		if current.stopID == destStopID {
			return best, pred, nil
		}

		for _, edge := range r.graph.GetEdges(current.stopID) {
			penalty := 0.0
			if current.currentRoute != 0 && current.currentRoute != edge.RouteID {
				penalty = r.transferPenaltyS
			}
			tentative := current.cost + edge.Seconds + penalty

			if existing, ok := best[edge.ToStopID]; ok && tentative >= existing.cost {
				continue
			}

			next := dijkstraState{stopID: edge.ToStopID, cost: tentative, currentRoute: edge.RouteID}
			best[edge.ToStopID] = next
			pred[edge.ToStopID] = predecessor{fromStopID: current.stopID, routeID: edge.RouteID}
			heap.Push(pq, &next)
		}
	}

	if _, ok := best[destStopID]; ok {
		return best, pred, nil
	}
	return nil, nil, ErrUnreachable
}

// reconstructSteps walks predecessor links from destination back to origin,
// reverses them, and de-duplicates consecutive stops at identical
// coordinates, per SPEC_FULL §4.4's path-reconstruction rule.
func reconstructSteps(best map[int64]dijkstraState, pred map[int64]predecessor, destStopID int64, g *graph.InMemoryGraph) []models.Step {
	if _, ok := best[destStopID]; !ok {
		return nil
	}

	var stopIDs []int64
	var routeIDs []int64 // routeIDs[i] is the route used to arrive at stopIDs[i]

	cur := destStopID
	for {
		stopIDs = append(stopIDs, cur)
		p, ok := pred[cur]
		if !ok {
			routeIDs = append(routeIDs, 0)
			break
		}
		routeIDs = append(routeIDs, p.routeID)
		cur = p.fromStopID
	}

	// reverse
	for i, j := 0, len(stopIDs)-1; i < j; i, j = i+1, j-1 {
		stopIDs[i], stopIDs[j] = stopIDs[j], stopIDs[i]
		routeIDs[i], routeIDs[j] = routeIDs[j], routeIDs[i]
	}

	var steps []models.Step
	for i, stopID := range stopIDs {
		node, ok := g.GetNode(stopID)
		if !ok {
			continue
		}
		if len(steps) > 0 {
			last := steps[len(steps)-1]
			if last.Lat == node.Lat && last.Lon == node.Lon {
				continue
			}
		}
		routeID := routeIDs[i]
		steps = append(steps, models.Step{
			StopID:    node.StopID,
			StopName:  node.Name,
			RouteID:   routeID,
			RouteName: g.RouteName(routeID),
			Lat:       node.Lat,
			Lon:       node.Lon,
		})
	}
	return steps
}

func countTransfers(steps []models.Step) int {
	transfers := 0
	var lastRoute int64
	first := true
	for _, s := range steps {
		if s.RouteID == 0 {
			continue
		}
		if !first && s.RouteID != lastRoute {
			transfers++
		}
		lastRoute = s.RouteID
		first = false
	}
	return transfers
}

// stateQueue implements heap.Interface, kept in shape from the donor's
// PriorityQueue (internal/routing/astar.go).
type stateQueue []*dijkstraState

func (pq stateQueue) Len() int { return len(pq) }

func (pq stateQueue) Less(i, j int) bool { return pq[i].cost < pq[j].cost }

func (pq stateQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *stateQueue) Push(x interface{}) {
	n := len(*pq)
	s := x.(*dijkstraState)
	s.index = n
	*pq = append(*pq, s)
}

func (pq *stateQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	s.index = -1
	*pq = old[0 : n-1]
	return s
}
