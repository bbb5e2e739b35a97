package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// pingTimeout bounds the liveness probe so a wedged pool cannot hang
// the health endpoint.
const pingTimeout = 5 * time.Second

// PoolStats is a point-in-time snapshot of the pgx connection pool,
// reported by the database health endpoint.
type PoolStats struct {
	OpenConns     int32  `json:"open_conns"`
	IdleConns     int32  `json:"idle_conns"`
	InUseConns    int32  `json:"in_use_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_wait"`
	EmptyAcquires int64  `json:"empty_acquires"`
	Healthy       bool   `json:"healthy"`
}

// GetPoolStats snapshots pool counters. A pool with zero open
// connections reports unhealthy even before any ping runs.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	ps := &PoolStats{
		OpenConns:     s.TotalConns(),
		IdleConns:     s.IdleConns(),
		InUseConns:    s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		AcquireCount:  s.AcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
		EmptyAcquires: s.EmptyAcquireCount(),
	}
	ps.Healthy = ps.OpenConns > 0
	return ps
}

type healthReport struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool"`
}

// HealthHandler probes the database with a short ping and reports pool
// counters alongside the verdict. A failed ping yields 503 so load
// balancers can pull the instance.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		stats := GetPoolStats(pool)
		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, healthReport{
				Status: "unhealthy",
				Error:  err.Error(),
				Pool:   stats,
			})
		}
		return c.JSON(http.StatusOK, healthReport{
			Status: "healthy",
			Pool:   stats,
		})
	}
}
