// Package health tracks component availability flags and serves them over HTTP.
package health

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Well-known flag names
const (
	FlagQueueAvailable = "queue_available"
	FlagDiscordReady   = "discord_ready"
	FlagHistoryStore   = "history_available"
)

// Flags is a concurrent set of named boolean health checks
type Flags struct {
	mu     sync.RWMutex
	values map[string]bool
}

// NewFlags creates an empty flag set
func NewFlags() *Flags {
	return &Flags{values: make(map[string]bool)}
}

// Set records the state of a check
func (f *Flags) Set(name string, ok bool) {
	f.mu.Lock()
	f.values[name] = ok
	f.mu.Unlock()
}

// Get returns the state of a check and whether it was ever set
func (f *Flags) Get(name string) (ok, known bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ok, known = f.values[name]
	return ok, known
}

// Snapshot copies the current flags
func (f *Flags) Snapshot() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Failing returns the names of checks currently false, sorted
func (f *Flags) Failing() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var names []string
	for k, v := range f.values {
		if !v {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// NewRouter builds a gin engine with request logging, recovery and the health
// routes. Callers may register more routes on the returned engine.
func NewRouter(flags *Flags, log *zap.Logger, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(GinLogger(log))
	router.Use(gin.Recovery())

	// Liveness: the process is up even when a dependency is degraded
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if len(flags.Failing()) > 0 {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "checks": flags.Snapshot()})
	})

	router.GET("/ready", func(c *gin.Context) {
		if failing := flags.Failing(); len(failing) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": failing})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	return router
}

// GinLogger is a request logging middleware for Gin
func GinLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
