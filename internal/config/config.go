// Package config centralizes environment-driven tuning for the server,
// the storage layers, and the clustering/planner constants, following the
// getEnv/getEnvBool helper pattern the donor wires ad hoc into cmd/api.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of runtime knobs for one process.
type Config struct {
	Port string

	EnableAuth      bool
	EnableRateLimit bool
	TokenTTL        time.Duration

	// Engine tuning, named after the constants in SPEC_FULL §4.6.
	TickInterval     time.Duration
	RouteProximityM  float64 // D_route
	ClusterRadiusM   float64 // D_cluster
	BusIdleTimeout   time.Duration // T_idle
	TransferPenalty  time.Duration // P_transfer
	BusSpeedMPS      float64       // V_bus
	WalkSpeedMPS     float64       // V_walk
	NearestStopRadiusM float64     // default walking radius for the resolver
}

// Load reads configuration from the environment, falling back to the
// defaults named throughout SPEC_FULL.md.
func Load() Config {
	return Config{
		Port:            getEnv("API_PORT", "8080"),
		EnableAuth:      getEnvBool("ENABLE_AUTH", true),
		EnableRateLimit: getEnvBool("ENABLE_RATE_LIMIT", true),
		TokenTTL:        getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour),

		TickInterval:       getEnvDuration("CLUSTER_TICK_INTERVAL", 5*time.Second),
		RouteProximityM:    getEnvFloat("CLUSTER_ROUTE_PROXIMITY_M", 50),
		ClusterRadiusM:     getEnvFloat("CLUSTER_RADIUS_M", 30),
		BusIdleTimeout:     getEnvDuration("CLUSTER_BUS_IDLE_TIMEOUT", 5*time.Minute),
		TransferPenalty:    getEnvDuration("PLANNER_TRANSFER_PENALTY", 900*time.Second),
		BusSpeedMPS:        getEnvFloat("PLANNER_BUS_SPEED_KPH", 20) * 1000 / 3600,
		WalkSpeedMPS:       getEnvFloat("PLANNER_WALK_SPEED_KPH", 5) * 1000 / 3600,
		NearestStopRadiusM: getEnvFloat("PLANNER_NEAREST_STOP_RADIUS_M", 300),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
