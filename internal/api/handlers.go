// Package api adapts the donor's internal/api/handlers.go query-handler
// shape (query-param parsing helpers, fiber.Map JSON envelopes, Health
// aggregating geostore + cache checks) to SPEC_FULL §4.7's query endpoints
// and §6's /tracking, /ruta, /paradas and /irregularities routes. The
// donor's multi-strategy parallel-goroutine route search is replaced by a
// single call into internal/routing (SPEC_FULL §4.4 names one fixed
// algorithm, not a strategy menu) but keeps the donor's Redis
// cache-then-lock-then-compute pattern from internal/cache/redis.go.
package api

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/urbantrack/brt-core/internal/apierr"
	"github.com/urbantrack/brt-core/internal/auth"
	"github.com/urbantrack/brt-core/internal/cache"
	"github.com/urbantrack/brt-core/internal/db"
	"github.com/urbantrack/brt-core/internal/geostore"
	"github.com/urbantrack/brt-core/internal/models"
	"github.com/urbantrack/brt-core/internal/routing"
)

// Handlers bundles the collaborators every endpoint needs, injected rather
// than reached for from package-level state, following SPEC_FULL §9's
// "database provider" injection note.
type Handlers struct {
	Store  *geostore.Geostore
	Router *routing.Router
}

func NewHandlers(store *geostore.Geostore, router *routing.Router) *Handlers {
	return &Handlers{Store: store, Router: router}
}

func currentRider(c *fiber.Ctx) (int64, error) {
	rider, ok := c.Locals("rider").(*auth.RiderContext)
	if !ok {
		return 0, apierr.New(apierr.AuthFailure, "authentication required")
	}
	return rider.RiderID, nil
}

// --- /tracking -------------------------------------------------------

type startSessionRequest struct {
	UserID           int64  `json:"user_id"`
	SelectedRouteID  *int64 `json:"selected_route_id"`
}

func (h *Handlers) StartSession(c *fiber.Ctx) error {
	var req startSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "malformed request body", err)
	}

	session, err := h.Store.StartSession(c.Context(), req.UserID, req.SelectedRouteID)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not start session", err)
	}
	return c.JSON(fiber.Map{
		"id":                session.ID,
		"user_id":           session.RiderID,
		"selected_route_id": session.DeclaredRouteID,
		"status":            session.Status,
		"started_at":        session.StartedAt,
	})
}

type setOnBusRequest struct {
	UserID          int64 `json:"user_id"`
	ReportedRouteID int64 `json:"reported_route_id"`
	IsOnBus         bool  `json:"is_on_bus"`
}

func (h *Handlers) SetOnBus(c *fiber.Ctx) error {
	var req setOnBusRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "malformed request body", err)
	}
	// §3 invariant: on-bus implies a non-null reported_route_id.
	if req.IsOnBus && req.ReportedRouteID == 0 {
		return apierr.New(apierr.InvalidInput, "reported_route_id is required when is_on_bus is true")
	}

	session, err := h.Store.SetOnBus(c.Context(), req.UserID, req.ReportedRouteID, req.IsOnBus)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.Precondition, "no active tracking session")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not update session", err)
	}
	return c.JSON(fiber.Map{
		"id":                session.ID,
		"user_id":           session.RiderID,
		"reported_route_id": session.ReportedRouteID,
		"is_on_bus":         session.OnBus,
	})
}

func (h *Handlers) StopSession(c *fiber.Ctx) error {
	riderID, err := currentRider(c)
	if err != nil {
		return err
	}
	if err := h.Store.StopSession(c.Context(), riderID); err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not stop session", err)
	}
	return c.JSON(fiber.Map{"status": "ended"})
}

func (h *Handlers) ActiveBuses(c *fiber.Ctx) error {
	var routeID *int64
	if routeStr := c.Query("route_id"); routeStr != "" {
		id, err := strconv.ParseInt(routeStr, 10, 64)
		if err != nil {
			return apierr.New(apierr.InvalidInput, "invalid route_id")
		}
		routeID = &id
	}

	buses, err := h.Store.ActiveVirtualBuses(c.Context(), routeID)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load active buses", err)
	}

	out := make([]fiber.Map, 0, len(buses))
	for _, b := range buses {
		out = append(out, fiber.Map{
			"id":                b.ID,
			"route_id":          b.RouteID,
			"latitude":          b.Lat,
			"longitude":         b.Lon,
			"current_speed":     b.CurrentSpeed,
			"current_heading":   b.CurrentHeading,
			"assigned_user_ids": b.AssignedRiders,
			"last_update":       b.LastUpdate,
			"status":            b.Status,
		})
	}
	return c.JSON(fiber.Map{"buses": out})
}

func (h *Handlers) BusStatus(c *fiber.Ctx) error {
	busID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid bus id")
	}
	bus, err := h.Store.GetVirtualBus(c.Context(), busID)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "bus not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load bus", err)
	}
	return c.JSON(fiber.Map{
		"id":              bus.ID,
		"route_id":        bus.RouteID,
		"latitude":        bus.Lat,
		"longitude":       bus.Lon,
		"status":          bus.Status,
		"last_update":     bus.LastUpdate,
	})
}

func (h *Handlers) BusRoute(c *fiber.Ctx) error {
	busID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid bus id")
	}
	bus, err := h.Store.GetVirtualBus(c.Context(), busID)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "bus not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load bus", err)
	}
	route, err := h.Store.GetRouteWithOrderedStops(c.Context(), bus.RouteID)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "route not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load route", err)
	}
	return c.JSON(fiber.Map{"id": route.ID, "name": route.Name, "stops": route.Stops})
}

// --- /ruta -------------------------------------------------------------

type calculateRouteRequest struct {
	OrigenLat  float64 `json:"origen_lat"`
	OrigenLon  float64 `json:"origen_lon"`
	DestinoLat float64 `json:"destino_lat"`
	DestinoLon float64 `json:"destino_lon"`
}

// CalculateRoute handles POST /ruta/calculate_route, caching plans in Redis
// keyed on coordinates alone (internal/cache.RouteKey), following the
// donor's cache-then-lock-then-compute pattern from computeRoute in
// internal/api/handlers.go.
func (h *Handlers) CalculateRoute(c *fiber.Ctx) error {
	var req calculateRouteRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "malformed request body", err)
	}

	ctx := c.Context()
	cacheKey := cache.RouteKey(req.OrigenLat, req.OrigenLon, req.DestinoLat, req.DestinoLon)
	lockKey := cache.LockKey(cacheKey)

	if cached, err := cache.GetRoute(ctx, cacheKey); err == nil && cached != nil {
		return c.JSON(renderPlan(cached))
	}

	acquired, err := cache.AcquireLock(ctx, lockKey, 5*time.Second)
	if err != nil {
		log.Printf("api: lock acquisition failed: %v", err)
	} else if !acquired {
		if cached, err := cache.WaitForLock(ctx, cacheKey, 3*time.Second); err == nil && cached != nil {
			return c.JSON(renderPlan(cached))
		}
	}
	defer func() {
		if acquired {
			cache.ReleaseLock(ctx, lockKey)
		}
	}()

	path, err := h.Router.FindPath(context.Background(), req.OrigenLat, req.OrigenLon, req.DestinoLat, req.DestinoLon)
	if errors.Is(err, routing.ErrNoNearbyStop) {
		return apierr.New(apierr.Unreachable, "no nearby stop")
	}
	if errors.Is(err, routing.ErrUnreachable) {
		return apierr.New(apierr.Unreachable, "unreachable")
	}
	if err != nil {
		return apierr.Wrap(apierr.Unreachable, "could not compute a route", err)
	}

	if err := cache.SetRoute(ctx, cacheKey, path, 10*time.Minute); err != nil {
		log.Printf("api: failed to cache route: %v", err)
	}

	return c.JSON(renderPlan(path))
}

func renderPlan(path *models.Path) fiber.Map {
	stops := make([]fiber.Map, 0, len(path.Steps))
	for _, s := range path.Steps {
		stops = append(stops, fiber.Map{
			"nombre":     s.StopName,
			"ruta_nombre": s.RouteName,
			"latitude":   s.Lat,
			"longitude":  s.Lon,
		})
	}
	return fiber.Map{
		"tiempo_estimado_minutos":                    path.TotalSeconds / 60,
		"distancia_origen_primera_parada_metros":     path.WalkOriginMeters,
		"distancia_ultima_parada_destino_metros":     path.WalkDestinationMeters,
		"paradas_trayecto":                           stops,
	}
}

func (h *Handlers) RoutesList(c *fiber.Ctx) error {
	routes, err := h.Store.AllRoutesWithOrderedStops(c.Context())
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load routes", err)
	}
	out := make([]fiber.Map, 0, len(routes))
	for _, r := range routes {
		out = append(out, fiber.Map{"id": r.ID, "name": r.Name, "stops_count": len(r.Stops)})
	}
	return c.JSON(fiber.Map{"routes": out, "total": len(out)})
}

func (h *Handlers) RouteByID(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid route id")
	}
	route, err := h.Store.GetRouteWithOrderedStops(c.Context(), id)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "route not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load route", err)
	}
	return c.JSON(fiber.Map{"id": route.ID, "name": route.Name, "stops": route.Stops})
}

// --- /paradas ------------------------------------------------------------

func (h *Handlers) StopsNearby(c *fiber.Ctx) error {
	lat, err := strconv.ParseFloat(c.Query("latitude"), 64)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid latitude")
	}
	lon, err := strconv.ParseFloat(c.Query("longitude"), 64)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid longitude")
	}
	radius := 300.0
	if radiusStr := c.Query("radius_meters"); radiusStr != "" {
		if parsed, err := strconv.ParseFloat(radiusStr, 64); err == nil && parsed > 0 {
			radius = parsed
		}
	}

	stop, meters, err := h.Store.NearestStop(c.Context(), lat, lon, radius)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.Unreachable, "no nearby stop")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not search nearby stops", err)
	}
	return c.JSON(fiber.Map{
		"id":               stop.ID,
		"name":             stop.Name,
		"latitude":         stop.Lat,
		"longitude":        stop.Lon,
		"distance_meters":  meters,
	})
}

// --- /irregularities -------------------------------------------------------

type reportIrregularityRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Lat         float64 `json:"latitude"`
	Lon         float64 `json:"longitude"`
}

func (h *Handlers) ReportIrregularity(c *fiber.Ctx) error {
	var req reportIrregularityRequest
	if err := c.BodyParser(&req); err != nil {
		return apierr.Wrap(apierr.InvalidInput, "malformed request body", err)
	}
	irr, err := h.Store.ReportIrregularity(c.Context(), models.Irregularity{
		Title:       req.Title,
		Description: req.Description,
		Lat:         req.Lat,
		Lon:         req.Lon,
	})
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not report irregularity", err)
	}
	return c.Status(fiber.StatusCreated).JSON(irregularityJSON(irr))
}

func (h *Handlers) SearchIrregularity(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid id")
	}
	irr, err := h.Store.GetIrregularity(c.Context(), id)
	if errors.Is(err, geostore.ErrNotFound) {
		return apierr.New(apierr.NotFound, "irregularity not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load irregularity", err)
	}
	return c.JSON(irregularityJSON(irr))
}

func (h *Handlers) ActiveIrregularities(c *fiber.Ctx) error {
	irregularities, err := h.Store.ActiveIrregularities(c.Context())
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load irregularities", err)
	}
	out := make([]fiber.Map, 0, len(irregularities))
	for _, irr := range irregularities {
		out = append(out, irregularityJSON(irr))
	}
	return c.JSON(fiber.Map{"irregularities": out})
}

func (h *Handlers) voteIrregularity(c *fiber.Ctx, isLike bool) error {
	riderID, err := currentRider(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "invalid id")
	}
	if err := h.Store.CastVote(c.Context(), riderID, id, isLike); err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not record vote", err)
	}
	irr, err := h.Store.GetIrregularity(c.Context(), id)
	if err != nil {
		return apierr.Wrap(apierr.TransientStorage, "could not load irregularity", err)
	}
	return c.JSON(irregularityJSON(irr))
}

func (h *Handlers) VoteLike(c *fiber.Ctx) error    { return h.voteIrregularity(c, true) }
func (h *Handlers) VoteDislike(c *fiber.Ctx) error { return h.voteIrregularity(c, false) }

func irregularityJSON(irr models.Irregularity) fiber.Map {
	return fiber.Map{
		"id":          irr.ID,
		"title":       irr.Title,
		"description": irr.Description,
		"latitude":    irr.Lat,
		"longitude":   irr.Lon,
		"active":      irr.Active,
		"likes":       irr.Likes,
		"dislikes":    irr.Dislikes,
		"created_at":  irr.CreatedAt,
	}
}

// --- misc ------------------------------------------------------------

// Health handles the /health endpoint, kept from the donor in shape.
func Health(c *fiber.Ctx) error {
	ctx := c.Context()

	dbErr := db.HealthCheck(ctx)
	dbStatus := "ok"
	if dbErr != nil {
		dbStatus = dbErr.Error()
	}

	redisErr := cache.HealthCheck(ctx)
	redisStatus := "ok"
	if redisErr != nil {
		redisStatus = redisErr.Error()
	}

	status := "healthy"
	httpStatus := 200
	if dbErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}
