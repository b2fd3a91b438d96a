// Command api is the BRT tracking and trip-planning server: it wires
// storage, the in-memory route graph, the Clustering Engine, the
// Ingestion Endpoint, and the HTTP surface named in SPEC_FULL §6 behind
// one Fiber app, following the donor's cmd/api/main_with_auth.go
// bootstrap/wiring/graceful-shutdown shape.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/urbantrack/brt-core/internal/api"
	"github.com/urbantrack/brt-core/internal/apierr"
	"github.com/urbantrack/brt-core/internal/auth"
	"github.com/urbantrack/brt-core/internal/cache"
	"github.com/urbantrack/brt-core/internal/clustering"
	"github.com/urbantrack/brt-core/internal/config"
	"github.com/urbantrack/brt-core/internal/db"
	"github.com/urbantrack/brt-core/internal/geostore"
	"github.com/urbantrack/brt-core/internal/graph"
	"github.com/urbantrack/brt-core/internal/middleware"
	"github.com/urbantrack/brt-core/internal/routing"
	"github.com/urbantrack/brt-core/internal/ws"
)

func main() {
	log.Println("Starting urbantrack BRT tracking server...")

	cfg := config.Load()

	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Database connection established")

	rdb, err := cache.GetClient()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer cache.Close()
	log.Println("✓ Redis connection established")

	store := geostore.New(pool)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := graph.GetGraph().LoadFromDB(bootCtx, pool, cfg.BusSpeedMPS); err != nil {
		log.Fatalf("Failed to load route graph: %v", err)
	}
	bootCancel()
	log.Println("✓ Route graph loaded into memory")

	router := routing.NewRouter(
		cfg.TransferPenalty.Seconds(),
		cfg.BusSpeedMPS,
		cfg.WalkSpeedMPS,
		cfg.NearestStopRadiusM,
	)

	engine := clustering.New(store, clustering.Config{
		TickInterval:    cfg.TickInterval,
		RouteProximityM: cfg.RouteProximityM,
		ClusterRadiusM:  cfg.ClusterRadiusM,
		IdleTimeout:     cfg.BusIdleTimeout,
	})
	engineCtx, engineCancel := context.WithCancel(context.Background())
	engine.Start(engineCtx)
	log.Println("✓ Clustering engine started")

	handlers := api.NewHandlers(store, router)

	authSecret := []byte(os.Getenv("AUTH_SECRET"))
	if len(authSecret) == 0 {
		log.Println("⚠ AUTH_SECRET not set; using an ephemeral per-process secret")
		authSecret = []byte(fmt.Sprintf("ephemeral-%d", time.Now().UnixNano()))
	}
	authHandlers := auth.NewHandlers(store, authSecret, cfg.TokenTTL)

	app := fiber.New(fiber.Config{
		AppName:      "urbantrack BRT API",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: apierr.Handler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
	}))

	if cfg.EnableRateLimit {
		app.Use(middleware.RateLimitMiddleware(rdb, 10))
		log.Println("✓ Rate limiting middleware enabled")
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":    "urbantrack BRT API",
			"version": "1.0.0",
			"status":  "operational",
		})
	})
	app.Get("/health", api.Health)

	ws.RegisterRoute(app, store, engine)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", authHandlers.Register)
	authGroup.Post("/login", authHandlers.Login)
	if cfg.EnableAuth {
		authMW := auth.Middleware(authSecret)
		authGroup.Get("/me", authMW, authHandlers.Me)
		authGroup.Put("/users/:id", authMW, authHandlers.UpdateUser)
	} else {
		authGroup.Get("/me", authHandlers.Me)
		authGroup.Put("/users/:id", authHandlers.UpdateUser)
	}

	tracking := app.Group("/tracking")
	tracking.Post("/start-session", handlers.StartSession)
	tracking.Post("/set-on-bus", handlers.SetOnBus)
	tracking.Get("/active-buses", handlers.ActiveBuses)
	tracking.Get("/bus/:id/status", handlers.BusStatus)
	tracking.Get("/bus/:id/route", handlers.BusRoute)

	ruta := app.Group("/ruta")
	ruta.Post("/calculate_route", handlers.CalculateRoute)
	ruta.Get("/rutas", handlers.RoutesList)
	ruta.Get("/rutas/:id", handlers.RouteByID)

	app.Get("/paradas/cercanas-con-rutas", handlers.StopsNearby)

	irregularities := app.Group("/irregularities")
	irregularities.Post("/report", handlers.ReportIrregularity)
	irregularities.Get("/search/:id", handlers.SearchIrregularity)
	irregularities.Get("/active", handlers.ActiveIrregularities)

	if cfg.EnableAuth {
		authMW := auth.Middleware(authSecret)
		tracking.Post("/stop-session", authMW, handlers.StopSession)
		irregularities.Post("/vote/:id/like", authMW, handlers.VoteLike)
		irregularities.Post("/vote/:id/dislike", authMW, handlers.VoteDislike)
		log.Println("✓ Authentication middleware enabled")
	} else {
		tracking.Post("/stop-session", handlers.StopSession)
		irregularities.Post("/vote/:id/like", handlers.VoteLike)
		irregularities.Post("/vote/:id/dislike", handlers.VoteDislike)
	}

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "the requested endpoint does not exist",
			"path":    c.Path(),
		})
	})

	addr := fmt.Sprintf(":%s", cfg.Port)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Received shutdown signal...")
		engine.Stop()
		engineCancel()
		db.Close()
		cache.Close()

		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		log.Println("✓ Server shut down gracefully")
	}()

	log.Printf("Listening on http://localhost%s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
