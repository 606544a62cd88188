// Package api serves the indexed campaigns over HTTP JSON and streams live
// events over a websocket. It reads the store and never writes to it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/0xredeth/doneth/internal/pubsub"
	"github.com/0xredeth/doneth/internal/session"
	"github.com/0xredeth/doneth/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Store is the indexed store. Required.
	Store *store.Store

	// Sessions handles wallet login. Required.
	Sessions *session.Manager

	// Broadcaster feeds /ws. Nil disables the live feed.
	Broadcaster *pubsub.Broadcaster

	// Indexer is the checkpoint key reported by /status.
	Indexer string

	// Network and ChainID are reported by /status.
	Network string
	ChainID uint64
}

// Server is the HTTP API.
type Server struct {
	store       *store.Store
	sessions    *session.Manager
	broadcaster *pubsub.Broadcaster
	indexer     string
	network     string
	chainID     uint64

	router *gin.Engine
	now    func() time.Time
}

// New builds the server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("api: session manager is required")
	}

	s := &Server{
		store:       opts.Store,
		sessions:    opts.Sessions,
		broadcaster: opts.Broadcaster,
		indexer:     opts.Indexer,
		network:     opts.Network,
		chainID:     opts.ChainID,
		now:         time.Now,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "doneth",
		})
	})
	r.GET("/ws", s.serveWS)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)

		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("", s.listCampaigns)
			campaigns.GET("/:address", s.getCampaign)
			campaigns.GET("/:address/contributions", s.getCampaignContributions)
			campaigns.GET("/:address/events", s.getCampaignEvents)
		}

		contributors := v1.Group("/contributors")
		{
			contributors.GET("/:address", s.getContributor)
			contributors.GET("/:address/contributions", s.getContributorContributions)
		}

		auth := v1.Group("/auth")
		{
			auth.POST("/challenge", s.issueChallenge)
			auth.POST("/login", s.login)
			auth.GET("/session", s.requireSession(), s.getSession)
			auth.PUT("/account", s.requireSession(), s.selectAccount)
			auth.POST("/logout", s.requireSession(), s.logout)
		}

		me := v1.Group("/me", s.requireSession())
		{
			me.GET("/campaigns", s.myCampaigns)
			me.GET("/contributions", s.myContributions)
		}
	}

	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API: %w", err)
	}
	log.Info().Msg("API server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
