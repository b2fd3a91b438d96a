// Package ws is the Ingestion Endpoint (SPEC_FULL §4.5): a persistent
// per-rider bidirectional stream of location samples. Grounded on
// github.com/gofiber/websocket/v2, observed wired into a Fiber route tree
// in the retrieval pack's Duouc-Inginformatica-Capstone sample
// (websocket.IsWebSocketUpgrade(c) guard followed by websocket.New(handler)),
// with the Geostore and Clustering Engine passed in as parameters of
// Handler/RegisterRoute. One goroutine per connection, following
// SPEC_FULL §9's "coroutine-style ingestion... goroutines over blocking
// I/O... satisfy the contract provided each connection's reads are
// serialized."
package ws

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/urbantrack/brt-core/internal/clustering"
	"github.com/urbantrack/brt-core/internal/geostore"
	"github.com/urbantrack/brt-core/internal/models"
)

// inboundSample is the wire shape accepted on the stream, per SPEC_FULL §6:
// {latitude, longitude, speed?, heading?}.
type inboundSample struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Handler returns the Fiber handler for GET /ws/location/:user_id. It must
// be registered behind an fiber/websocket/v2 upgrade guard (see
// RegisterRoute).
func Handler(store *geostore.Geostore, engine *clustering.Engine) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		defer conn.Close()

		riderID, err := strconv.ParseInt(conn.Params("user_id"), 10, 64)
		if err != nil {
			conn.WriteJSON(fiber.Map{"error": "invalid_user_id"})
			conn.Close()
			return
		}

		sessions, err := store.ActiveSessionsFor(context.Background(), []int64{riderID})
		if err != nil {
			log.Printf("ws: load session for rider %d: %v", riderID, err)
			conn.Close()
			return
		}
		session, ok := sessions[riderID]
		if !ok || !session.OnBus {
			// Precondition failed (SPEC_FULL §4.5): no active session, or not
			// on a bus. Closed with a policy-violation status, no frames
			// processed.
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no active on-bus session"))
			conn.Close()
			return
		}

		log.Printf("ws: rider %d connected for location ingestion", riderID)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Printf("ws: rider %d disconnected: %v", riderID, err)
				return
			}

			var sample inboundSample
			if err := json.Unmarshal(raw, &sample); err != nil {
				conn.WriteJSON(fiber.Map{"error": "malformed_message"})
				continue
			}
			if sample.Latitude < -90 || sample.Latitude > 90 || sample.Longitude < -180 || sample.Longitude > 180 {
				conn.WriteJSON(fiber.Map{"error": "invalid_coordinates"})
				continue
			}

			ls := models.LocationSample{
				RiderID:   riderID,
				Lat:       sample.Latitude,
				Lon:       sample.Longitude,
				Speed:     sample.Speed,
				Heading:   sample.Heading,
				Timestamp: time.Now(),
			}

			if err := store.AppendLocation(context.Background(), ls); err != nil {
				log.Printf("ws: append location for rider %d: %v", riderID, err)
				conn.WriteJSON(fiber.Map{"error": "storage_unavailable"})
				continue
			}
			engine.Enqueue(ls)
		}
	}
}

// RegisterRoute wires the upgrade guard + handler onto app, mirroring the
// pack's IsWebSocketUpgrade-then-websocket.New shape.
func RegisterRoute(app fiber.Router, store *geostore.Geostore, engine *clustering.Engine) {
	app.Use("/ws/location/:user_id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/location/:user_id", websocket.New(Handler(store, engine)))
}
