package gtfs

import (
	"log"
	"math"

	"github.com/urbantrack/brt-core/internal/models"
)

// DeduplicateStops removes stops that sit within thresholdMeters of an
// already-kept stop, returning the deduplicated set and a mapping from
// every original stop id to the id it was folded into. Grounded on the
// donor's internal/gtfs/normalize.go DeduplicateStops, trimmed of its
// database round-trip: this module's seed path (cmd/seed) runs once over
// an in-memory feed, so there is no existing-stop table to check against.
func DeduplicateStops(stops []models.GTFSStop, thresholdMeters float64) ([]models.GTFSStop, map[string]string) {
	if len(stops) == 0 {
		return stops, make(map[string]string)
	}

	var deduplicated []models.GTFSStop
	skipIndices := make(map[int]bool)
	stopMapping := make(map[string]string)

	for i := 0; i < len(stops); i++ {
		if skipIndices[i] {
			continue
		}

		currentStop := stops[i]
		deduplicated = append(deduplicated, currentStop)
		stopMapping[currentStop.StopID] = currentStop.StopID

		for j := i + 1; j < len(stops); j++ {
			if skipIndices[j] {
				continue
			}

			distance := haversineDistance(currentStop.Lat, currentStop.Lon, stops[j].Lat, stops[j].Lon)
			if distance < thresholdMeters {
				log.Printf("gtfs: deduplicating stop %s (duplicate of %s, distance: %.2fm)",
					stops[j].StopID, currentStop.StopID, distance)
				skipIndices[j] = true
				stopMapping[stops[j].StopID] = currentStop.StopID
			}
		}
	}

	log.Printf("gtfs: deduplicated %d stops to %d (removed %d duplicates)",
		len(stops), len(deduplicated), len(stops)-len(deduplicated))

	return deduplicated, stopMapping
}

// haversineDistance calculates the distance between two points in meters.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
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

// ValidateAndCleanStops removes stops with invalid or null-island
// coordinates, per the donor's internal/gtfs/normalize.go.
func ValidateAndCleanStops(stops []models.GTFSStop) []models.GTFSStop {
	cleaned := []models.GTFSStop{}

	for _, stop := range stops {
		if stop.Lat < -90 || stop.Lat > 90 {
			log.Printf("gtfs: invalid latitude for stop %s: %f", stop.StopID, stop.Lat)
			continue
		}
		if stop.Lon < -180 || stop.Lon > 180 {
			log.Printf("gtfs: invalid longitude for stop %s: %f", stop.StopID, stop.Lon)
			continue
		}
		if stop.Lat == 0 && stop.Lon == 0 {
			log.Printf("gtfs: stop %s has null island coordinates, skipping", stop.StopID)
			continue
		}

		cleaned = append(cleaned, stop)
	}

	if len(cleaned) < len(stops) {
		log.Printf("gtfs: cleaned stops: removed %d invalid stops", len(stops)-len(cleaned))
	}

	return cleaned
}
