package models

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType represents the kind of connection between stops in the routing
// graph. The donor's WALK/RIDE/TRANSFER split is kept as constants, but
// only RIDE edges are ever built (internal/graph LoadFromDB); transfers are
// a per-edge penalty in the planner, and no code path builds WALK or
// TRANSFER edges.
type EdgeType string

const (
	EdgeWalk     EdgeType = "WALK"
	EdgeRide     EdgeType = "RIDE"
	EdgeTransfer EdgeType = "TRANSFER"
)

// Stop is an immutable (after seeding) physical transit stop.
type Stop struct {
	ID   int64
	Name string
	Lat  float64
	Lon  float64
}

// RouteStop is one (stop, ordinal) membership of a Route.
type RouteStop struct {
	StopID  int64
	Ordinal int
}

// Route is a named, ordered sequence of stops. Stops carries the full
// ordered membership when loaded via GetRouteWithOrderedStops; it is nil on
// lighter-weight listings.
type Route struct {
	ID    int64
	Name  string
	Stops []RouteStop
}

// Node is a stop id in the routing graph — the graph's nodes are stops
// themselves, not (stop, route) pairs, per SPEC_FULL §4.2.
type Node struct {
	StopID int64
	Name   string
	Lat    float64
	Lon    float64
}

// Edge is one directed, weighted connection in the routing graph.
type Edge struct {
	FromStopID int64
	ToStopID   int64
	RouteID    int64
	Type       EdgeType
	Seconds    float64
}

// Step is one leg of a reconstructed trip plan, in the shape the
// /ruta/calculate_route response names (SPEC_FULL §6).
type Step struct {
	StopID    int64
	StopName  string
	RouteID   int64
	RouteName string
	Lat       float64
	Lon       float64
}

// Path is a complete planner result before it is rendered into the
// paradas_trayecto response shape.
type Path struct {
	Steps               []Step
	TotalSeconds         float64
	WalkOriginMeters     float64
	WalkDestinationMeters float64
	Transfers           int
}

// Rider is the minimal identity record the auth stub sits on top of,
// grounded on original_source's Usuario entity but trimmed to the fields
// SPEC_FULL §6 actually names: username/email uniqueness, a bcrypt hash,
// and a display name.
type Rider struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

// TrackingSession is one rider's lifecycle instance, per SPEC_FULL §3.
type TrackingSession struct {
	ID              int64
	RiderID         int64
	DeclaredRouteID *int64 // selected_route_id analogue: pre-boarding intent only
	ReportedRouteID *int64 // authoritative for on-bus/clustering, see SPEC_FULL §3.1
	OnBus           bool
	AssignedBusID   *uuid.UUID
	Status          SessionStatus
	StartedAt       time.Time
	EndedAt         *time.Time
}

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// LocationSample is one append-only GPS observation.
type LocationSample struct {
	RiderID   int64
	Lat       float64
	Lon       float64
	Speed     *float64
	Heading   *float64
	Timestamp time.Time
}

// BusStatus is the lifecycle state of a VirtualBus.
type BusStatus string

const (
	BusActive   BusStatus = "active"
	BusInactive BusStatus = "inactive"
)

// VirtualBus is a synthetic vehicle produced by clustering co-located
// riders declaring the same route.
type VirtualBus struct {
	ID             uuid.UUID
	RouteID        int64
	Lat            float64
	Lon            float64
	CurrentSpeed   float64
	CurrentHeading float64
	AssignedRiders []int64
	LastUpdate     time.Time
	Status         BusStatus
}

// Irregularity is a community-reported road condition.
type Irregularity struct {
	ID          int64
	Title       string
	Description string
	Lat         float64
	Lon         float64
	Active      bool
	Likes       int
	Dislikes    int
	LastLikeAt  *time.Time
	CreatedAt   time.Time
}

// Vote is one rider's like/dislike of an Irregularity. At most one per
// (RiderID, IrregularityID); casting a new vote toggles the prior one.
type Vote struct {
	RiderID        int64
	IrregularityID int64
	IsLike         bool
	CreatedAt      time.Time
}

// GTFS feed structures, kept from the donor for cmd/seed (SPEC_FULL §2.1,
// §10.1) — static feed ingestion is out of core but the binary that loads
// one is retained because the core is untestable without seeded data.

type GTFSAgency struct {
	AgencyID   string
	AgencyName string
	AgencyURL  string
	Timezone   string
}

type GTFSStop struct {
	StopID   string
	StopName string
	Lat      float64
	Lon      float64
}

type GTFSRoute struct {
	RouteID    string
	AgencyID   string
	ShortName  string
	LongName   string
	RouteType  int
	RouteColor string
}

type GTFSStopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string
	DepartureTime string
}

type GTFSTrip struct {
	RouteID   string
	TripID    string
	ServiceID string
	Headsign  string
	Direction int
}
