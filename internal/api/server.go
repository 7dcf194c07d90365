// Package api is the REST and WebSocket entry surface of the chat server.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/auth"
	"github.com/meghan/community-chat/internal/community"
	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/ledger"
	"github.com/meghan/community-chat/internal/metrics"
	"github.com/meghan/community-chat/internal/safety"
	"github.com/meghan/community-chat/internal/session"
	"github.com/meghan/community-chat/internal/ws"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

type Classifier interface {
	Assess(ctx context.Context, text string) safety.Verdict
	Policy() safety.FailurePolicy
}

// BusStatus reports whether the alert bus connection is live.
type BusStatus interface {
	Connected() bool
}

type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// OnlineCounter reports distinct users connected to a room across servers.
type OnlineCounter interface {
	Online(ctx context.Context, roomID int64) (int, error)
}

// RoomCounter reports live handles in a room on this server.
type RoomCounter interface {
	Count(roomID int64) int
}

// Deps are the collaborators of a Server. Presence, ConnectLimit and Bus may
// be nil.
type Deps struct {
	Auth         Authenticator
	Directory    *community.Directory
	Ledger       *ledger.Ledger
	Crisis       *crisis.Sink
	Classifier   Classifier
	Sessions     *session.Orchestrator
	Upgrader     *ws.Upgrader
	Rooms        RoomCounter
	Presence     OnlineCounter
	ConnectLimit Limiter
	Bus          BusStatus
	AllowOrigins []string
}

// Server owns the echo instance and the context that live sessions run
// under. Shutdown cancels that context so sessions close with 1001.
type Server struct {
	Echo    *echo.Echo
	deps    Deps
	log     logrus.FieldLogger
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func NewServer(deps Deps, log logrus.FieldLogger) *Server {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Echo:    echo.New(),
		deps:    deps,
		log:     log.WithField("component", "api"),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	e := s.Echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.WithFields(logrus.Fields{
				"method":  v.Method,
				"path":    v.URIPath,
				"status":  v.Status,
				"latency": v.Latency,
				"ip":      v.RemoteIP,
			}).Debug("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	origins := deps.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		MaxAge:       86400,
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.Echo
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	// The socket authenticates inside the session so failures close with 1008.
	api.GET("/communities/ws/:id", s.serveSocket)
	api.GET("/crisis/resources", s.crisisResources)

	protected := api.Group("")
	protected.Use(requireAuth(s.deps.Auth))

	communities := protected.Group("/communities")
	communities.GET("", s.listCommunities)
	communities.POST("/auto-assign", s.autoAssign)
	communities.POST("/:id/join", s.joinCommunity)
	communities.GET("/:id/messages", s.listMessages)

	hearts := protected.Group("/hearts")
	hearts.GET("/balance", s.heartsBalance)
	hearts.GET("/transactions", s.heartsTransactions)

	protected.POST("/crisis/detect", s.detectCrisis)

	therapist := protected.Group("/therapist", requireRole(auth.RoleTherapist, auth.RoleAdmin))
	therapist.GET("/crisis-events", s.listCrisisEvents)
}

func (s *Server) Start(addr string) error {
	s.log.WithField("addr", addr).Info("http server listening")
	return s.Echo.Start(addr)
}

// Shutdown ends live sessions and stops accepting requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var status int
	var detail string
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		detail = fmt.Sprint(he.Message)
	} else {
		status = apperr.HTTPStatus(err)
		detail = apperr.Message(err)
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Detail: detail})
	}
	if err != nil {
		s.log.WithError(err).Warn("write error response")
	}
}

func (s *Server) health(c echo.Context) error {
	conns := 0
	if s.deps.Upgrader != nil {
		conns = s.deps.Upgrader.Connections().Count()
	}
	body := map[string]interface{}{
		"status":                    "ok",
		"connections":               conns,
		"uptime_seconds":            int64(time.Since(s.started).Seconds()),
		"classifier_failure_policy": string(s.deps.Classifier.Policy()),
	}
	if s.deps.Bus != nil {
		body["nats"] = "disconnected"
		if s.deps.Bus.Connected() {
			body["nats"] = "connected"
		}
	}
	return c.JSON(http.StatusOK, body)
}
