// Package httpapi is the HTTP transport adapter: the chat gateway posts events
// and receives the resulting actions.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolbot/internal/auth"
	"schoolbot/internal/engine"
	"schoolbot/internal/httpmiddleware"
	"schoolbot/internal/logging"
	"schoolbot/internal/school"
)

// Dispatcher handles one chat event.
type Dispatcher interface {
	Handle(ctx context.Context, ev engine.Event) ([]engine.Outbound, error)
}

// AttendanceLog reads the audit trail of a group.
type AttendanceLog interface {
	GroupAttendance(ctx context.Context, groupCode string, limit int) ([]school.AttendanceRecord, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options wires the router.
type Options struct {
	Engine     Dispatcher
	Attendance AttendanceLog
	SigningKey string
	Issuer     string
	// RateLimitPerMin applies per client IP and, on /v1, per chat user.
	RateLimitPerMin int
	// MaxEventBytes caps the /v1/events body; zero means room for one photo.
	MaxEventBytes int64
	Health        map[string]HealthCheck
	Logger        logging.Logger
}

// NewRouter builds the gin engine.
func NewRouter(o Options) *gin.Engine {
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	h := &handlers{engine: o.Engine, attendance: o.Attendance, log: o.Logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	if o.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewSimpleTokenBucket(o.RateLimitPerMin, o.RateLimitPerMin).GinMiddleware())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(o.Health))

	v1 := r.Group("/v1", auth.GatewayAuth(o.SigningKey, o.Issuer))
	limit := o.MaxEventBytes
	if limit <= 0 {
		limit = maxEventBody
	}
	events := []gin.HandlerFunc{httpmiddleware.BodyLimit(limit)}
	if o.RateLimitPerMin > 0 {
		events = append(events, httpmiddleware.NewSimpleTokenBucket(o.RateLimitPerMin, o.RateLimitPerMin).Keyed(chatUserKey))
	}
	v1.POST("/events", append(events, h.postEvent)...)
	v1.GET("/groups/:code/attendance", h.groupAttendance)
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok"}
		for name, check := range checks {
			ok := check(c.Request.Context())
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
