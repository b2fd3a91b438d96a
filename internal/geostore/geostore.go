// Package geostore is the single data-access facade SPEC_FULL §4.1 names —
// the donor has no equivalent (it spreads queries directly across
// internal/api/handlers.go and internal/graph/builder.go); this package
// centralizes every persisted read/write behind typed methods so the
// Clustering Engine and Trip Planner never hand-write SQL of their own.
// Raw pgx queries in the donor's own style (internal/api/handlers.go:
// pool.Query + rows.Scan, no query builder), PostGIS geodesic operators
// from the donor's internal/graph/builder.go and the former
// internal/routing/vehicle_position.go (ST_MakeLine/ST_LineInterpolatePoint).
package geostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urbantrack/brt-core/internal/models"
)

// ErrNotFound is returned by lookups that find nothing, mapped by
// internal/apierr to a 404.
var ErrNotFound = errors.New("geostore: not found")

// Geostore wraps the connection pool behind SPEC_FULL §4.1's typed
// operations.
type Geostore struct {
	db *pgxpool.Pool
}

// New builds a Geostore over an already-initialized pool, following the
// donor's pattern of passing a *pgxpool.Pool into constructors rather than
// reaching for a package-level pool from deep inside business logic
// (SPEC_FULL §9).
func New(db *pgxpool.Pool) *Geostore {
	return &Geostore{db: db}
}

// WithinTx runs fn inside one transaction, committing on success and
// rolling back on any error or panic recovery path through defer.
func (g *Geostore) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetRouteWithOrderedStops loads a route and its ordered stop membership.
func (g *Geostore) GetRouteWithOrderedStops(ctx context.Context, routeID int64) (models.Route, error) {
	var route models.Route
	route.ID = routeID
	err := g.db.QueryRow(ctx, `SELECT name FROM route WHERE id = $1`, routeID).Scan(&route.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Route{}, ErrNotFound
	}
	if err != nil {
		return models.Route{}, fmt.Errorf("load route: %w", err)
	}

	rows, err := g.db.Query(ctx, `
		SELECT stop_id, ordinal FROM route_stop WHERE route_id = $1 ORDER BY ordinal
	`, routeID)
	if err != nil {
		return models.Route{}, fmt.Errorf("load route stops: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rs models.RouteStop
		if err := rows.Scan(&rs.StopID, &rs.Ordinal); err != nil {
			return models.Route{}, fmt.Errorf("scan route stop: %w", err)
		}
		route.Stops = append(route.Stops, rs)
	}
	return route, nil
}

// AllRoutesWithOrderedStops loads every route with its ordered stops, used
// by the /ruta/rutas listing.
func (g *Geostore) AllRoutesWithOrderedStops(ctx context.Context) ([]models.Route, error) {
	rows, err := g.db.Query(ctx, `SELECT id, name FROM route ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load routes: %w", err)
	}
	var routes []models.Route
	for rows.Next() {
		var r models.Route
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, r)
	}
	rows.Close()

	for i := range routes {
		stopRows, err := g.db.Query(ctx, `
			SELECT stop_id, ordinal FROM route_stop WHERE route_id = $1 ORDER BY ordinal
		`, routes[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load route stops: %w", err)
		}
		for stopRows.Next() {
			var rs models.RouteStop
			if err := stopRows.Scan(&rs.StopID, &rs.Ordinal); err != nil {
				stopRows.Close()
				return nil, fmt.Errorf("scan route stop: %w", err)
			}
			routes[i].Stops = append(routes[i].Stops, rs)
		}
		stopRows.Close()
	}
	return routes, nil
}

// NearestStop returns the closest stop to (lat, lon) within radiusM,
// computed geodesically via PostGIS, grounded on the donor's
// internal/graph/builder.go ::geography cast pattern. Prefer internal/nearestop for the hot path that
// already has the graph loaded in memory; this method exists for callers
// that only have a Geostore (e.g. a future admin tool, or as a fallback
// when the in-memory graph has not finished loading).
func (g *Geostore) NearestStop(ctx context.Context, lat, lon, radiusM float64) (models.Stop, float64, error) {
	var s models.Stop
	var meters float64
	err := g.db.QueryRow(ctx, `
		SELECT id, name, ST_Y(location::geometry), ST_X(location::geometry),
		       ST_Distance(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS meters
		FROM stop
		WHERE ST_DWithin(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY meters, id
		LIMIT 1
	`, lon, lat, radiusM).Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &meters)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Stop{}, 0, ErrNotFound
	}
	if err != nil {
		return models.Stop{}, 0, fmt.Errorf("nearest stop: %w", err)
	}
	return s, meters, nil
}

// RoutePolylineDistance returns the geodesic distance in meters from
// (lat, lon) to the piecewise-linear polyline through routeID's ordered
// stops, used by the Clustering Engine's D_route check (SPEC_FULL §4.6
// step 3). Grounded on the donor's former
// internal/routing/vehicle_position.go ST_MakeLine/ST_LineInterpolatePoint
// usage, generalized from a two-point segment to the full route polyline
// via ST_MakeLine(array_agg(point ORDER BY ordinal)).
func (g *Geostore) RoutePolylineDistance(ctx context.Context, routeID int64, lat, lon float64) (float64, error) {
	var meters float64
	var stopCount int
	err := g.db.QueryRow(ctx, `
		WITH ordered_points AS (
			SELECT s.location, rs.ordinal
			FROM route_stop rs
			JOIN stop s ON s.id = rs.stop_id
			WHERE rs.route_id = $1
			ORDER BY rs.ordinal
		)
		SELECT
			COUNT(*),
			COALESCE(
				ST_Distance(
					ST_MakeLine(array_agg(location::geometry ORDER BY ordinal))::geography,
					ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography
				),
				0
			)
		FROM ordered_points
	`, routeID, lon, lat).Scan(&stopCount, &meters)
	if err != nil {
		return 0, fmt.Errorf("route polyline distance: %w", err)
	}
	if stopCount < 2 {
		return 0, fmt.Errorf("route %d has fewer than 2 stops, cannot form a polyline", routeID)
	}
	return meters, nil
}

// OnBusRiderIDs returns, in ascending order, every rider id with an active
// session whose on_bus flag is set. The Clustering Engine does not call it:
// a tick orders the rider ids of its own drained samples.
func (g *Geostore) OnBusRiderIDs(ctx context.Context) ([]int64, error) {
	rows, err := g.db.Query(ctx, `
		SELECT rider_id FROM tracking_session
		WHERE status = 'active' AND on_bus = true
		ORDER BY rider_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load on-bus riders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rider id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ActiveSessionsFor loads the active tracking session for each rider id
// that has one.
func (g *Geostore) ActiveSessionsFor(ctx context.Context, riderIDs []int64) (map[int64]models.TrackingSession, error) {
	if len(riderIDs) == 0 {
		return map[int64]models.TrackingSession{}, nil
	}

	rows, err := g.db.Query(ctx, `
		SELECT id, rider_id, declared_route_id, reported_route_id, on_bus, assigned_bus_id, status, started_at, ended_at
		FROM tracking_session
		WHERE rider_id = ANY($1) AND status = 'active'
	`, riderIDs)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]models.TrackingSession)
	for rows.Next() {
		var s models.TrackingSession
		var status string
		if err := rows.Scan(&s.ID, &s.RiderID, &s.DeclaredRouteID, &s.ReportedRouteID, &s.OnBus, &s.AssignedBusID, &status, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Status = models.SessionStatus(status)
		out[s.RiderID] = s
	}
	return out, nil
}

// ActiveVirtualBuses lists active buses, optionally filtered by route.
func (g *Geostore) ActiveVirtualBuses(ctx context.Context, routeID *int64) ([]models.VirtualBus, error) {
	var rows pgx.Rows
	var err error
	if routeID != nil {
		rows, err = g.db.Query(ctx, `
			SELECT id, route_id, lat, lon, current_speed, current_heading, last_update, status
			FROM virtual_bus WHERE status = 'active' AND route_id = $1
		`, *routeID)
	} else {
		rows, err = g.db.Query(ctx, `
			SELECT id, route_id, lat, lon, current_speed, current_heading, last_update, status
			FROM virtual_bus WHERE status = 'active'
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("load virtual buses: %w", err)
	}
	defer rows.Close()

	var buses []models.VirtualBus
	for rows.Next() {
		var b models.VirtualBus
		var status string
		if err := rows.Scan(&b.ID, &b.RouteID, &b.Lat, &b.Lon, &b.CurrentSpeed, &b.CurrentHeading, &b.LastUpdate, &status); err != nil {
			return nil, fmt.Errorf("scan virtual bus: %w", err)
		}
		b.Status = models.BusStatus(status)
		buses = append(buses, b)
	}
	rows.Close()

	for i := range buses {
		riderRows, err := g.db.Query(ctx, `SELECT rider_id FROM virtual_bus_rider WHERE bus_id = $1`, buses[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load bus riders: %w", err)
		}
		for riderRows.Next() {
			var riderID int64
			if err := riderRows.Scan(&riderID); err != nil {
				riderRows.Close()
				return nil, fmt.Errorf("scan bus rider: %w", err)
			}
			buses[i].AssignedRiders = append(buses[i].AssignedRiders, riderID)
		}
		riderRows.Close()
	}
	return buses, nil
}

// GetVirtualBus loads one bus by id.
func (g *Geostore) GetVirtualBus(ctx context.Context, busID uuid.UUID) (models.VirtualBus, error) {
	var b models.VirtualBus
	var status string
	err := g.db.QueryRow(ctx, `
		SELECT id, route_id, lat, lon, current_speed, current_heading, last_update, status
		FROM virtual_bus WHERE id = $1
	`, busID).Scan(&b.ID, &b.RouteID, &b.Lat, &b.Lon, &b.CurrentSpeed, &b.CurrentHeading, &b.LastUpdate, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.VirtualBus{}, ErrNotFound
	}
	if err != nil {
		return models.VirtualBus{}, fmt.Errorf("load virtual bus: %w", err)
	}
	b.Status = models.BusStatus(status)

	riderRows, err := g.db.Query(ctx, `SELECT rider_id FROM virtual_bus_rider WHERE bus_id = $1`, busID)
	if err != nil {
		return models.VirtualBus{}, fmt.Errorf("load bus riders: %w", err)
	}
	defer riderRows.Close()
	for riderRows.Next() {
		var riderID int64
		if err := riderRows.Scan(&riderID); err != nil {
			return models.VirtualBus{}, fmt.Errorf("scan bus rider: %w", err)
		}
		b.AssignedRiders = append(b.AssignedRiders, riderID)
	}
	return b, nil
}

// UpsertVirtualBus inserts or updates a bus and replaces its assigned-rider
// set, all within one transaction (SPEC_FULL §4.1).
func (g *Geostore) UpsertVirtualBus(ctx context.Context, bus models.VirtualBus) error {
	return g.WithinTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO virtual_bus (id, route_id, lat, lon, current_speed, current_heading, last_update, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				lat = EXCLUDED.lat, lon = EXCLUDED.lon,
				current_speed = EXCLUDED.current_speed, current_heading = EXCLUDED.current_heading,
				last_update = EXCLUDED.last_update, status = EXCLUDED.status
		`, bus.ID, bus.RouteID, bus.Lat, bus.Lon, bus.CurrentSpeed, bus.CurrentHeading, bus.LastUpdate, string(bus.Status))
		if err != nil {
			return fmt.Errorf("upsert virtual bus: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM virtual_bus_rider WHERE bus_id = $1`, bus.ID); err != nil {
			return fmt.Errorf("clear bus riders: %w", err)
		}
		for _, riderID := range bus.AssignedRiders {
			if _, err := tx.Exec(ctx, `
				INSERT INTO virtual_bus_rider (bus_id, rider_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, bus.ID, riderID); err != nil {
				return fmt.Errorf("assign bus rider: %w", err)
			}
		}
		return nil
	})
}

// DeactivateVirtualBus marks a bus inactive and drops its riders, per
// SPEC_FULL §3's "inactive buses retain no assigned riders."
func (g *Geostore) DeactivateVirtualBus(ctx context.Context, busID uuid.UUID) error {
	return g.WithinTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE virtual_bus SET status = 'inactive' WHERE id = $1`, busID); err != nil {
			return fmt.Errorf("deactivate bus: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM virtual_bus_rider WHERE bus_id = $1`, busID); err != nil {
			return fmt.Errorf("clear bus riders: %w", err)
		}
		return nil
	})
}

// AppendLocation writes one append-only location sample.
func (g *Geostore) AppendLocation(ctx context.Context, sample models.LocationSample) error {
	_, err := g.db.Exec(ctx, `
		INSERT INTO location_sample (rider_id, lat, lon, speed, heading, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sample.RiderID, sample.Lat, sample.Lon, sample.Speed, sample.Heading, sample.Timestamp)
	if err != nil {
		return fmt.Errorf("append location: %w", err)
	}
	return nil
}

// StartSession creates a new active session for a rider, ending any prior
// active session first (SPEC_FULL §3: "at most one active session per
// rider").
func (g *Geostore) StartSession(ctx context.Context, riderID int64, declaredRouteID *int64) (models.TrackingSession, error) {
	var session models.TrackingSession
	err := g.WithinTx(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		if _, err := tx.Exec(ctx, `
			UPDATE tracking_session SET status = 'ended', ended_at = $2, on_bus = false, assigned_bus_id = NULL
			WHERE rider_id = $1 AND status = 'active'
		`, riderID, now); err != nil {
			return fmt.Errorf("end prior session: %w", err)
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO tracking_session (rider_id, declared_route_id, on_bus, status, started_at)
			VALUES ($1, $2, false, 'active', $3)
			RETURNING id, started_at
		`, riderID, declaredRouteID, now).Scan(&session.ID, &session.StartedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		session.RiderID = riderID
		session.DeclaredRouteID = declaredRouteID
		session.Status = models.SessionActive
		return nil
	})
	return session, err
}

// SetOnBus stamps the authoritative reported_route_id for the rider's
// active session (SPEC_FULL §3.1). Requires an active session; callers map
// ErrNotFound to a Precondition error kind.
func (g *Geostore) SetOnBus(ctx context.Context, riderID int64, reportedRouteID int64, onBus bool) (models.TrackingSession, error) {
	var session models.TrackingSession
	var status string
	err := g.db.QueryRow(ctx, `
		UPDATE tracking_session
		SET reported_route_id = $2, on_bus = $3
		WHERE rider_id = $1 AND status = 'active'
		RETURNING id, rider_id, declared_route_id, reported_route_id, on_bus, assigned_bus_id, status, started_at, ended_at
	`, riderID, reportedRouteID, onBus).Scan(
		&session.ID, &session.RiderID, &session.DeclaredRouteID, &session.ReportedRouteID,
		&session.OnBus, &session.AssignedBusID, &status, &session.StartedAt, &session.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TrackingSession{}, ErrNotFound
	}
	if err != nil {
		return models.TrackingSession{}, fmt.Errorf("set on bus: %w", err)
	}
	session.Status = models.SessionStatus(status)
	return session, nil
}

// StopSession ends a rider's active session and clears any bus assignment.
func (g *Geostore) StopSession(ctx context.Context, riderID int64) error {
	_, err := g.db.Exec(ctx, `
		UPDATE tracking_session
		SET status = 'ended', ended_at = $2, on_bus = false, assigned_bus_id = NULL
		WHERE rider_id = $1 AND status = 'active'
	`, riderID, time.Now())
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

// ClearBusAssignment detaches a rider's active session from any bus,
// used by the reaper when a bus a session points at has gone inactive.
func (g *Geostore) ClearBusAssignment(ctx context.Context, riderID int64) error {
	_, err := g.db.Exec(ctx, `
		UPDATE tracking_session SET assigned_bus_id = NULL, on_bus = false
		WHERE rider_id = $1 AND status = 'active'
	`, riderID)
	if err != nil {
		return fmt.Errorf("clear bus assignment: %w", err)
	}
	return nil
}

// AssignBus records which bus a rider's active session is riding.
func (g *Geostore) AssignBus(ctx context.Context, riderID int64, busID uuid.UUID) error {
	_, err := g.db.Exec(ctx, `
		UPDATE tracking_session SET assigned_bus_id = $2
		WHERE rider_id = $1 AND status = 'active'
	`, riderID, busID)
	if err != nil {
		return fmt.Errorf("assign bus: %w", err)
	}
	return nil
}

// ReportIrregularity inserts a new community report.
func (g *Geostore) ReportIrregularity(ctx context.Context, irr models.Irregularity) (models.Irregularity, error) {
	err := g.db.QueryRow(ctx, `
		INSERT INTO irregularity (title, description, lat, lon, active, likes, dislikes, created_at)
		VALUES ($1, $2, $3, $4, true, 0, 0, $5)
		RETURNING id, created_at
	`, irr.Title, irr.Description, irr.Lat, irr.Lon, time.Now()).Scan(&irr.ID, &irr.CreatedAt)
	if err != nil {
		return models.Irregularity{}, fmt.Errorf("report irregularity: %w", err)
	}
	irr.Active = true
	return irr, nil
}

// GetIrregularity loads one irregularity by id.
func (g *Geostore) GetIrregularity(ctx context.Context, id int64) (models.Irregularity, error) {
	var irr models.Irregularity
	err := g.db.QueryRow(ctx, `
		SELECT id, title, description, lat, lon, active, likes, dislikes, last_like_at, created_at
		FROM irregularity WHERE id = $1
	`, id).Scan(&irr.ID, &irr.Title, &irr.Description, &irr.Lat, &irr.Lon, &irr.Active, &irr.Likes, &irr.Dislikes, &irr.LastLikeAt, &irr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Irregularity{}, ErrNotFound
	}
	if err != nil {
		return models.Irregularity{}, fmt.Errorf("load irregularity: %w", err)
	}
	return irr, nil
}

// ActiveIrregularities lists every active report.
func (g *Geostore) ActiveIrregularities(ctx context.Context) ([]models.Irregularity, error) {
	rows, err := g.db.Query(ctx, `
		SELECT id, title, description, lat, lon, active, likes, dislikes, last_like_at, created_at
		FROM irregularity WHERE active = true ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("load active irregularities: %w", err)
	}
	defer rows.Close()

	var out []models.Irregularity
	for rows.Next() {
		var irr models.Irregularity
		if err := rows.Scan(&irr.ID, &irr.Title, &irr.Description, &irr.Lat, &irr.Lon, &irr.Active, &irr.Likes, &irr.Dislikes, &irr.LastLikeAt, &irr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan irregularity: %w", err)
		}
		out = append(out, irr)
	}
	return out, nil
}

// CastVote toggles a rider's like/dislike on an irregularity: at most one
// vote row per (rider, irregularity); the counters are adjusted in the same
// transaction (SPEC_FULL §3, §6).
func (g *Geostore) CastVote(ctx context.Context, riderID, irregularityID int64, isLike bool) error {
	return g.WithinTx(ctx, func(tx pgx.Tx) error {
		var prior *bool
		err := tx.QueryRow(ctx, `
			SELECT is_like FROM irregularity_vote WHERE rider_id = $1 AND irregularity_id = $2
		`, riderID, irregularityID).Scan(&prior)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("load prior vote: %w", err)
		}

		if prior == nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO irregularity_vote (rider_id, irregularity_id, is_like, created_at)
				VALUES ($1, $2, $3, $4)
			`, riderID, irregularityID, isLike, time.Now()); err != nil {
				return fmt.Errorf("insert vote: %w", err)
			}
			return bumpCounters(ctx, tx, irregularityID, isLike, false, false)
		}

		if *prior == isLike {
			return nil // idempotent: same vote cast again
		}

		if _, err := tx.Exec(ctx, `
			UPDATE irregularity_vote SET is_like = $3, created_at = $4
			WHERE rider_id = $1 AND irregularity_id = $2
		`, riderID, irregularityID, isLike, time.Now()); err != nil {
			return fmt.Errorf("update vote: %w", err)
		}
		return bumpCounters(ctx, tx, irregularityID, isLike, true, *prior)
	})
}

// ErrDuplicateRider is returned by CreateRider when the username or email
// is already taken, mapped by internal/apierr to a 409.
var ErrDuplicateRider = errors.New("geostore: rider already exists")

// CreateRider inserts a new rider row, grounded on original_source's
// Usuario creation path (auth/routes.py's register handler) but against
// the trimmed models.Rider shape.
func (g *Geostore) CreateRider(ctx context.Context, r models.Rider) (models.Rider, error) {
	var pgErr *pgconn.PgError
	err := g.db.QueryRow(ctx, `
		INSERT INTO rider (username, email, password_hash, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, r.Username, r.Email, r.PasswordHash, r.DisplayName, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Rider{}, ErrDuplicateRider
		}
		return models.Rider{}, fmt.Errorf("insert rider: %w", err)
	}
	return r, nil
}

// GetRiderByUsername loads a rider for login, per SPEC_FULL §6.
func (g *Geostore) GetRiderByUsername(ctx context.Context, username string) (models.Rider, error) {
	var r models.Rider
	err := g.db.QueryRow(ctx, `
		SELECT id, username, email, password_hash, display_name, created_at
		FROM rider WHERE username = $1
	`, username).Scan(&r.ID, &r.Username, &r.Email, &r.PasswordHash, &r.DisplayName, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Rider{}, ErrNotFound
	}
	if err != nil {
		return models.Rider{}, fmt.Errorf("load rider by username: %w", err)
	}
	return r, nil
}

// GetRiderByID loads a rider for the /auth/me path and for UpdateRider's
// read-back.
func (g *Geostore) GetRiderByID(ctx context.Context, id int64) (models.Rider, error) {
	var r models.Rider
	err := g.db.QueryRow(ctx, `
		SELECT id, username, email, password_hash, display_name, created_at
		FROM rider WHERE id = $1
	`, id).Scan(&r.ID, &r.Username, &r.Email, &r.PasswordHash, &r.DisplayName, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Rider{}, ErrNotFound
	}
	if err != nil {
		return models.Rider{}, fmt.Errorf("load rider by id: %w", err)
	}
	return r, nil
}

// UpdateRider patches a rider's display name and email, per SPEC_FULL §6's
// PUT /auth/users/{id} (409 on conflicting email, 404 missing).
func (g *Geostore) UpdateRider(ctx context.Context, id int64, displayName, email string) (models.Rider, error) {
	var pgErr *pgconn.PgError
	tag, err := g.db.Exec(ctx, `
		UPDATE rider SET display_name = $2, email = $3 WHERE id = $1
	`, id, displayName, email)
	if err != nil {
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Rider{}, ErrDuplicateRider
		}
		return models.Rider{}, fmt.Errorf("update rider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Rider{}, ErrNotFound
	}
	return g.GetRiderByID(ctx, id)
}

func bumpCounters(ctx context.Context, tx pgx.Tx, irregularityID int64, isLike, wasFlip, priorWasLike bool) error {
	likeDelta, dislikeDelta := 0, 0
	if wasFlip {
		if priorWasLike {
			likeDelta, dislikeDelta = -1, 1
		} else {
			likeDelta, dislikeDelta = 1, -1
		}
	} else if isLike {
		likeDelta = 1
	} else {
		dislikeDelta = 1
	}

	var lastLikeAt interface{}
	if isLike {
		lastLikeAt = time.Now()
	}

	_, err := tx.Exec(ctx, `
		UPDATE irregularity
		SET likes = likes + $2, dislikes = dislikes + $3,
		    last_like_at = COALESCE($4, last_like_at)
		WHERE id = $1
	`, irregularityID, likeDelta, dislikeDelta, lastLikeAt)
	if err != nil {
		return fmt.Errorf("bump counters: %w", err)
	}
	return nil
}
