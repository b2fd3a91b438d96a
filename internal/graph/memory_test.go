package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urbantrack/brt-core/internal/models"
)

func TestHaversineMeters(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		d := HaversineMeters(14.7167, -17.4677, 14.7167, -17.4677)
		assert.InDelta(t, 0, d, 1)
	})

	t.Run("approximately 1km north-south", func(t *testing.T) {
		d := HaversineMeters(14.7167, -17.4677, 14.7257, -17.4677)
		assert.InDelta(t, 1000, d, 100)
	})
}

func TestSegmentCost(t *testing.T) {
	t.Run("normal segment", func(t *testing.T) {
		cost := segmentCost(1000, 10)
		assert.Equal(t, 100.0, cost)
	})

	t.Run("zero-length segment avoids division hazard", func(t *testing.T) {
		cost := segmentCost(0, 10)
		assert.Greater(t, cost, 0.0)
	})
}

func TestGetGraphSingleton(t *testing.T) {
	g1 := GetGraph()
	g2 := GetGraph()
	assert.Same(t, g1, g2)
}

func TestInMemoryGraphNotLoadedByDefault(t *testing.T) {
	g := &InMemoryGraph{
		Nodes:      make(map[int64]models.Node),
		Edges:      make(map[int64][]models.Edge),
		RouteNames: make(map[int64]string),
	}
	assert.False(t, g.IsLoaded())
	_, ok := g.GetNode(1)
	assert.False(t, ok)
	assert.Empty(t, g.GetEdges(1))
	assert.Empty(t, g.RouteName(1))
}
