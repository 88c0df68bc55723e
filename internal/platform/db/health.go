package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Dependency is an extra service checked by the health endpoint, e.g. the
// outbound message queue.
type Dependency interface {
	Name() string
	Ping(ctx context.Context) error
}

// HealthHandler pings the database and every dependency. Any failure turns the
// response into a 503.
func HealthHandler(pool *pgxpool.Pool, deps ...Dependency) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{"status": "healthy"}

		if pool != nil {
			stats := GetPoolStats(pool)
			if err := pool.Ping(ctx); err != nil {
				stats.Healthy = false
				status = http.StatusServiceUnavailable
				body["error"] = err.Error()
			}
			body["pool"] = stats
		}

		checks := make(map[string]string, len(deps))
		for _, p := range deps {
			if err := p.Ping(ctx); err != nil {
				checks[p.Name()] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[p.Name()] = "ok"
		}
		if len(checks) > 0 {
			body["checks"] = checks
		}

		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		return c.JSON(status, body)
	}
}
