// Package server wires the relay's HTTP surface: the WebSocket upgrade
// endpoint, a /healthz endpoint, and a Prometheus metrics endpoint,
// using gin the way the teacher repo's internal/v1/transport and
// internal/v1/health packages do, generalized from an authenticated
// video-conferencing hub to simulcast-mpv's public-by-room-id relay.
package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/config"
	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
	"github.com/rtldg/simulcast-mpv/internal/relay/bus"
	"github.com/rtldg/simulcast-mpv/internal/relay/registry"
	"github.com/rtldg/simulcast-mpv/internal/relay/session"
)

// Server is the relay's HTTP/WebSocket front end.
type Server struct {
	cfg *config.Config
	reg *registry.Registry
	bus *bus.Service

	router   *gin.Engine
	upgrader websocket.Upgrader
	wsLimit  *limiter.Limiter

	httpSrv *http.Server
}

// New builds a Server ready to ListenAndServe. redisClient may be nil, in
// which case the connect rate limiter falls back to an in-memory store and
// cross-instance fan-out (busSvc) is expected to also be nil.
func New(cfg *config.Config, reg *registry.Registry, busSvc *bus.Service, redisClient *redis.Client) (*Server, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsConnect)
	if err != nil {
		return nil, err
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "simulcast:limiter:"})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStore()
	}

	s := &Server{
		cfg:     cfg,
		reg:     reg,
		bus:     busSvc,
		wsLimit: limiter.New(store, rate),
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{New: func() any { return make([]byte, 4096) }},
		},
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return validateOrigin(r, cfg.AllowedOrigins) == nil
	}

	gin.SetMode(gin.ReleaseMode)
	if cfg.Development {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.handleUpgrade)

	s.router = router
	return s, nil
}

// ListenAndServe blocks serving HTTP until ctx is canceled, then shuts down
// gracefully, mirroring the teacher cmd/v1 entrypoint's signal-driven
// srv.Shutdown pattern.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmtAddr(s.cfg.BindAddress, s.cfg.BindPort),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "relay listening", zap.String("addr", s.httpSrv.Addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	if s.bus != nil {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.bus.Ping(pctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			logging.Warn(c.Request.Context(), "healthz: redis bus unreachable", zap.Error(err))
		}
	}

	c.JSON(code, gin.H{"status": status})
}

func (s *Server) handleUpgrade(c *gin.Context) {
	ctx := c.Request.Context()
	lctx, err := s.wsLimit.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Warn(ctx, "rate limiter store unavailable, failing open", zap.Error(err))
	} else if lctx.Reached {
		metrics.RateLimitRejections.WithLabelValues("ws_connect").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Debug(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	sess := session.New(conn, s.reg, s.cfg.RepoURL)
	sess.Run(c.Request.Context())
}

func fmtAddr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
