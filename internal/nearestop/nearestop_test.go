package nearestop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urbantrack/brt-core/internal/graph"
)

func newTestGraph(t *testing.T) *graph.InMemoryGraph {
	t.Helper()
	g := graph.GetGraph()
	return g
}

func TestResolveUnreachableWhenGraphEmpty(t *testing.T) {
	g := newTestGraph(t)
	_, _, err := Resolve(g, 14.7167, -17.4677, 300)
	assert.ErrorIs(t, err, ErrUnreachable)
}
