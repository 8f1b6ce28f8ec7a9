// Package api exposes the chat REST surface and mounts the realtime endpoint.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/rentchat/internal/auth"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/logging"
	"github.com/matheus3301/rentchat/internal/status"
	"github.com/matheus3301/rentchat/internal/store"
	"github.com/matheus3301/rentchat/internal/upload"
	"go.uber.org/zap"
)

const identityKey = "identity"

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	DB             *store.DB
	Verifier       *auth.Verifier
	Uploads        *upload.Store
	Realtime       http.Handler
	Bus            *bus.Bus
	Machine        *status.Machine
	AllowedOrigins []string
	Logger         *zap.Logger
}

type server struct {
	Deps
}

// New builds the gin engine serving REST, uploads and /ws.
func New(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	d.Logger = logging.OrNop(d.Logger)
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog(), s.cors())

	r.GET("/healthz", s.health)
	if d.Realtime != nil {
		r.GET("/ws", gin.WrapH(d.Realtime))
	}
	if d.Uploads != nil {
		r.Static(strings.TrimSuffix(upload.URLPrefix, "/"), d.Uploads.Dir())
	}

	authed := r.Group("/", s.requireAuth())
	chat := authed.Group("/chat")
	{
		chat.GET("/rooms", s.listRooms)
		chat.GET("/:room", s.listMessages)
		chat.PUT("/:room/read", s.markRead)
	}
	authed.POST("/upload", s.uploadImage)
	authed.DELETE("/upload", s.deleteImage)
	return r
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		s.Logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *server) originAllowed(origin string) bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			abort(c, http.StatusUnauthorized, auth.ErrMissingToken)
			return
		}
		id, err := s.Verifier.Verify(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (s *server) internal(c *gin.Context, op string, err error) {
	s.Logger.Error(op+" failed", zap.Error(err))
	abort(c, http.StatusInternalServerError, errors.New("internal error"))
}

func (s *server) health(c *gin.Context) {
	state := status.Serving
	if s.Machine != nil {
		state = s.Machine.Current()
	}
	code := http.StatusOK
	if state != status.Serving {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": string(state)})
}
