package clustering

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/urbantrack/brt-core/internal/models"
)

func TestContainsRider(t *testing.T) {
	riders := []int64{1, 2, 3}
	assert.True(t, containsRider(riders, 2))
	assert.False(t, containsRider(riders, 4))
	assert.False(t, containsRider(nil, 1))
}

func TestEnqueueKeepsLastWriterPerRider(t *testing.T) {
	e := New(nil, Config{TickInterval: time.Second})

	e.Enqueue(models.LocationSample{RiderID: 1, Lat: 1, Lon: 1})
	e.Enqueue(models.LocationSample{RiderID: 1, Lat: 2, Lon: 2})
	e.Enqueue(models.LocationSample{RiderID: 2, Lat: 3, Lon: 3})

	drained := e.drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 2.0, drained[1].Lat)
	assert.Equal(t, 3.0, drained[2].Lat)
}

func TestDrainEmptiesPending(t *testing.T) {
	e := New(nil, Config{})
	e.Enqueue(models.LocationSample{RiderID: 1})

	first := e.drain()
	assert.Len(t, first, 1)

	second := e.drain()
	assert.Nil(t, second)
}

func TestStickyBusStillQualifiesWithinDoubleThreshold(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	bus := models.VirtualBus{RouteID: 100, Status: models.BusActive, Lat: 0, Lon: 0.00045} // ~50m

	// D_cluster=30: 50m is beyond D_cluster but within the 2x=60m stickiness band.
	assert.True(t, stickyBusStillQualifies(sample, bus, 100, 30))
}

func TestStickyBusDoesNotQualifyBeyondDoubleThreshold(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	bus := models.VirtualBus{RouteID: 100, Status: models.BusActive, Lat: 0, Lon: 0.002} // ~220m

	assert.False(t, stickyBusStillQualifies(sample, bus, 100, 30))
}

func TestStickyBusDoesNotQualifyOnRouteMismatch(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	bus := models.VirtualBus{RouteID: 200, Status: models.BusActive, Lat: 0, Lon: 0}

	assert.False(t, stickyBusStillQualifies(sample, bus, 100, 30))
}

func TestStickyBusDoesNotQualifyWhenInactive(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	bus := models.VirtualBus{RouteID: 100, Status: models.BusInactive, Lat: 0, Lon: 0}

	assert.False(t, stickyBusStillQualifies(sample, bus, 100, 30))
}

func TestSelectNearestBusPicksClosestWithinRadius(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	near := models.VirtualBus{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Lat: 0, Lon: 0.0001}
	far := models.VirtualBus{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Lat: 0, Lon: 0.00025}

	bus, ok := selectNearestBus(sample, []models.VirtualBus{far, near}, 30)
	assert.True(t, ok)
	assert.Equal(t, near.ID, bus.ID)
}

func TestSelectNearestBusBreaksTiesBySmallerUUID(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	a := models.VirtualBus{ID: uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"), Lat: 0, Lon: 0.0001}
	b := models.VirtualBus{ID: uuid.MustParse("11111111-0000-0000-0000-000000000000"), Lat: 0, Lon: 0.0001}

	bus, ok := selectNearestBus(sample, []models.VirtualBus{a, b}, 30)
	assert.True(t, ok)
	assert.Equal(t, b.ID, bus.ID) // "11111111..." < "aaaaaaaa..."
}

func TestSelectNearestBusNoneWithinRadiusSignalsCreateNew(t *testing.T) {
	sample := models.LocationSample{Lat: 0, Lon: 0}
	far := models.VirtualBus{ID: uuid.New(), Lat: 1, Lon: 1}

	_, ok := selectNearestBus(sample, []models.VirtualBus{far}, 30)
	assert.False(t, ok)
}

func TestBusShouldReapWhenIdleAndUnclaimed(t *testing.T) {
	now := time.Now()
	bus := models.VirtualBus{ID: uuid.New(), LastUpdate: now.Add(-10 * time.Minute)}

	assert.True(t, busShouldReap(bus, now, 5*time.Minute, nil))
}

func TestBusShouldReapFalseWhenStillClaimedByActiveSession(t *testing.T) {
	now := time.Now()
	busID := uuid.New()
	bus := models.VirtualBus{ID: busID, LastUpdate: now.Add(-10 * time.Minute), AssignedRiders: []int64{7}}

	sessions := map[int64]models.TrackingSession{
		7: {RiderID: 7, OnBus: true, AssignedBusID: &busID},
	}
	assert.False(t, busShouldReap(bus, now, 5*time.Minute, sessions))
}

func TestBusShouldReapFalseWhenNotYetIdle(t *testing.T) {
	now := time.Now()
	bus := models.VirtualBus{ID: uuid.New(), LastUpdate: now.Add(-1 * time.Minute)}

	assert.False(t, busShouldReap(bus, now, 5*time.Minute, nil))
}
