package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"whatsapp-relay/handler"
)

const maxBodyBytes = 1 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr            string
	AllowedOrigin   string
	ShutdownTimeout time.Duration
	Release         bool
}

// HTTPServer wraps the gin engine with graceful shutdown helpers.
type HTTPServer struct {
	cfg    Config
	engine *gin.Engine
	log    zerolog.Logger
}

// New wires the relay routes onto a gin engine. /webhook and / are served
// by h so the HTTP and Lambda entry points answer identically.
func New(cfg Config, h *handler.Handler, store Pinger, log zerolog.Logger) (*HTTPServer, error) {
	if h == nil {
		return nil, errors.New("httpserver: handler must not be nil")
	}
	if store == nil {
		return nil, errors.New("httpserver: store must not be nil")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	log = log.With().Str("component", "httpserver").Logger()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors(cfg.AllowedOrigin))

	engine.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	delegate := delegateTo(h, log)
	engine.Any("/", delegate)
	engine.Any("/webhook", delegate)
	engine.NoRoute(delegate)

	return &HTTPServer{cfg: cfg, engine: engine, log: log}, nil
}

// Engine exposes the router, mainly for tests.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP listener and handles graceful shutdown via context cancellation.
func (s *HTTPServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("Context cancelled, shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func delegateTo(h *handler.Handler, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warn().
					Str("path", c.Request.URL.Path).
					Int64("limit", tooLarge.Limit).
					Msg("request body too large")
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "PAYLOAD_TOO_LARGE"})
				return
			}
			log.Warn().Err(err).Str("path", c.Request.URL.Path).Msg("read request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT"})
			return
		}

		resp := h.Serve(c.Request.Context(), handler.Request{
			Method:  c.Request.Method,
			Path:    c.Request.URL.Path,
			Query:   firstValues(c.Request.URL.Query()),
			Headers: firstValues(c.Request.Header),
			Body:    body,
		})
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.Status(resp.StatusCode)
		_, _ = c.Writer.WriteString(resp.Body)
	}
}

func cors(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Correlation-Id")
		c.Header("Access-Control-Expose-Headers", "X-Correlation-Id")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func firstValues(in map[string][]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, vs := range in {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
