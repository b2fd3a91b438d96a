// Command seed loads a static GTFS feed into the stop/route/route_stop
// schema the routing graph reads from, replacing the donor's
// cmd/importer (which wrote into a much larger agency/trip/calendar
// schema this module doesn't carry — SPEC_FULL §4.2 only needs stops,
// routes, and their ordering). Kept as a separate binary from cmd/api
// because static-feed ingestion is an offline, operator-run step, never
// triggered from a request handler.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/urbantrack/brt-core/internal/db"
	"github.com/urbantrack/brt-core/internal/graph"
	"github.com/urbantrack/brt-core/internal/gtfs"
)

func main() {
	gtfsPath := flag.String("gtfs", "", "Path to GTFS ZIP file (required)")
	dedupeThreshold := flag.Float64("dedupe-threshold", 30.0, "Stop deduplication threshold in meters")
	flag.Parse()

	if *gtfsPath == "" {
		fmt.Println("Usage: seed --gtfs=<path.zip>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if _, err := os.Stat(*gtfsPath); os.IsNotExist(err) {
		log.Fatalf("GTFS file not found: %s", *gtfsPath)
	}

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Parsing GTFS feed...")
	feed, err := gtfs.ParseGTFSZip(*gtfsPath)
	if err != nil {
		log.Fatalf("Failed to parse GTFS feed: %v", err)
	}
	log.Printf("Parsed %d stops, %d routes, %d trips, %d stop_times",
		len(feed.Stops), len(feed.Routes), len(feed.Trips), len(feed.StopTimes))

	feed.Stops = gtfs.ValidateAndCleanStops(feed.Stops)

	var stopMapping map[string]string
	feed.Stops, stopMapping = gtfs.DeduplicateStops(feed.Stops, *dedupeThreshold)
	for i := range feed.StopTimes {
		if newID, ok := stopMapping[feed.StopTimes[i].StopID]; ok {
			feed.StopTimes[i].StopID = newID
		}
	}

	ctx := context.Background()
	builder := graph.NewBuilder(pool)
	if err := builder.SeedFromFeed(ctx, feed); err != nil {
		log.Fatalf("Failed to seed stops and routes: %v", err)
	}

	log.Println("Seed complete. Run the rebuild-graph command to check that the routing graph loads.")
}
