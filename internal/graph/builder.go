package graph

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urbantrack/brt-core/internal/gtfs"
)

const batchSize = 1000

// Builder seeds the Geostore's stop/route/route_stop tables from a parsed
// GTFS feed. The spec's route graph (SPEC_FULL §4.2) is process-local and
// derived at load time by InMemoryGraph.LoadFromDB, never persisted as its
// own node/edge tables — unlike the donor, which materializes a
// (stop × route) node table and RIDE/WALK/TRANSFER edge tables directly in
// Postgres. This package keeps the donor's feed-parsing and batched-insert
// shape (internal/graph/builder.go: BuildNodes/BuildEdges/executeBatch) but
// repoints it at the simpler stop/route/route_stop schema cmd/seed needs.
type Builder struct {
	db *pgxpool.Pool
}

// NewBuilder creates a new feed loader.
func NewBuilder(db *pgxpool.Pool) *Builder {
	return &Builder{db: db}
}

// SeedFromFeed loads stops, routes, and ordered route/stop membership from
// a GTFS feed into the Geostore, replacing the donor's BuildGraph entry
// point (which additionally materialized a routing graph in Postgres).
func (b *Builder) SeedFromFeed(ctx context.Context, feed *gtfs.GTFSFeed) error {
	log.Println("graph: seeding stops from feed")
	if err := b.seedStops(ctx, feed); err != nil {
		return fmt.Errorf("seed stops: %w", err)
	}

	log.Println("graph: seeding routes and route_stop from feed")
	if err := b.seedRoutesAndStops(ctx, feed); err != nil {
		return fmt.Errorf("seed routes: %w", err)
	}

	if err := b.analyze(ctx); err != nil {
		log.Printf("graph: warning: analyze failed: %v", err)
	}

	log.Println("graph: seed complete")
	return nil
}

func (b *Builder) seedStops(ctx context.Context, feed *gtfs.GTFSFeed) error {
	batch := &pgx.Batch{}
	for _, s := range feed.Stops {
		batch.Queue(`
			INSERT INTO stop (gtfs_stop_id, name, location)
			VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326))
			ON CONFLICT (gtfs_stop_id) DO NOTHING
		`, s.StopID, s.StopName, s.Lon, s.Lat)

		if batch.Len() >= batchSize {
			if err := b.executeBatch(ctx, batch); err != nil {
				return err
			}
			batch = &pgx.Batch{}
		}
	}
	if batch.Len() > 0 {
		return b.executeBatch(ctx, batch)
	}
	return nil
}

// seedRoutesAndStops inserts one route per GTFS route, then derives each
// route's ordered stop membership from the longest trip on that route
// (stops sorted by stop_sequence, then numbered 0, 1, 2, ... as the
// route_stop ordinal), matching SPEC_FULL §3's
// "ordered sequence of (stop, ordinal) pairs with ordinals strictly
// increasing and unique per route."
func (b *Builder) seedRoutesAndStops(ctx context.Context, feed *gtfs.GTFSFeed) error {
	routeBatch := &pgx.Batch{}
	for _, r := range feed.Routes {
		name := r.ShortName
		if name == "" {
			name = r.LongName
		}
		routeBatch.Queue(`
			INSERT INTO route (gtfs_route_id, name)
			VALUES ($1, $2)
			ON CONFLICT (gtfs_route_id) DO NOTHING
		`, r.RouteID, name)
	}
	if err := b.executeBatch(ctx, routeBatch); err != nil {
		return err
	}

	tripsByRoute := make(map[string][]string)
	for _, t := range feed.Trips {
		tripsByRoute[t.RouteID] = append(tripsByRoute[t.RouteID], t.TripID)
	}

	stopTimesByTrip := make(map[string][]gtfsStopSeq)
	for _, st := range feed.StopTimes {
		stopTimesByTrip[st.TripID] = append(stopTimesByTrip[st.TripID], gtfsStopSeq{st.StopID, st.StopSequence})
	}

	membershipBatch := &pgx.Batch{}
	for routeID, tripIDs := range tripsByRoute {
		longest := longestTrip(tripIDs, stopTimesByTrip)
		if longest == nil {
			continue
		}
		sort.Slice(longest, func(i, j int) bool { return longest[i].sequence < longest[j].sequence })

		ordinal := 0
		for _, s := range longest {
			membershipBatch.Queue(`
				INSERT INTO route_stop (route_id, stop_id, ordinal)
				SELECT r.id, s.id, $3
				FROM route r, stop s
				WHERE r.gtfs_route_id = $1 AND s.gtfs_stop_id = $2
				ON CONFLICT (route_id, stop_id) DO NOTHING
			`, routeID, s.stopID, ordinal)
			ordinal++

			if membershipBatch.Len() >= batchSize {
				if err := b.executeBatch(ctx, membershipBatch); err != nil {
					return err
				}
				membershipBatch = &pgx.Batch{}
			}
		}
	}
	if membershipBatch.Len() > 0 {
		return b.executeBatch(ctx, membershipBatch)
	}
	return nil
}

type gtfsStopSeq struct {
	stopID   string
	sequence int
}

func longestTrip(tripIDs []string, stopTimesByTrip map[string][]gtfsStopSeq) []gtfsStopSeq {
	var best []gtfsStopSeq
	for _, tripID := range tripIDs {
		if seq := stopTimesByTrip[tripID]; len(seq) > len(best) {
			best = seq
		}
	}
	return best
}

func (b *Builder) executeBatch(ctx context.Context, batch *pgx.Batch) error {
	results := b.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch execution failed at query %d: %w", i, err)
		}
	}
	return nil
}

func (b *Builder) analyze(ctx context.Context) error {
	for _, table := range []string{"stop", "route", "route_stop"} {
		if _, err := b.db.Exec(ctx, fmt.Sprintf("ANALYZE %s", table)); err != nil {
			return err
		}
	}
	return nil
}
