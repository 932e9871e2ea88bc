package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency whose reachability is reported by the detailed
// health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	}
}

// DetailedHealth checks the database and the document repository. An
// unreachable repository reports "degraded", not "unhealthy".
func DetailedHealth(db *gorm.DB, docs Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := "healthy"
		code := http.StatusOK
		checks := gin.H{}

		if err := pingDB(ctx, db); err != nil {
			checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else {
			checks["database"] = gin.H{"status": "healthy"}
		}

		switch {
		case docs == nil:
			checks["mayan"] = gin.H{"status": "not_configured"}
		default:
			if err := docs.Ping(ctx); err != nil {
				checks["mayan"] = gin.H{"status": "unhealthy", "error": err.Error()}
				if status == "healthy" {
					status = "degraded"
				}
			} else {
				checks["mayan"] = gin.H{"status": "healthy"}
			}
		}

		c.JSON(code, gin.H{"status": status, "checks": checks, "time": time.Now().UTC()})
	}
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
