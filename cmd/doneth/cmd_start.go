package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/0xredeth/doneth/internal/api"
	"github.com/0xredeth/doneth/internal/engine"
	"github.com/0xredeth/doneth/internal/graph"
	"github.com/0xredeth/doneth/internal/pubsub"
	"github.com/0xredeth/doneth/internal/session"
	"github.com/0xredeth/doneth/pkg/config"
)

const sessionPurgeInterval = time.Minute

var (
	skipMigrate bool
	noAPI       bool
)

// startCmd runs the indexer, the API and the metrics endpoint
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the indexer and the API",
	Long: `Run the indexer, the HTTP API, the GraphQL API and the Prometheus
metrics endpoint until interrupted.

Sync settings (sync.*) are reloaded when the config file changes.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply migrations on start")
	startCmd.Flags().BoolVar(&noAPI, "no-api", false, "Run the indexer only")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := pubsub.NewBroadcaster()
	defer broadcaster.Close()

	eng, err := engine.New(cfg, broadcaster)
	if err != nil {
		return err
	}
	defer eng.Close()

	if !skipMigrate {
		if err := eng.Store().Migrate(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
	}

	var (
		srv      *api.Server
		gql      *graph.Server
		sessions *session.Manager
	)
	if !noAPI {
		sessions = session.NewManager(cfg.Auth.ChallengeTTL, cfg.Auth.SessionTTL)
		srv, err = api.New(api.Options{
			Store:       eng.Store(),
			Sessions:    sessions,
			Broadcaster: broadcaster,
			Indexer:     cfg.Name,
			Network:     cfg.Network,
			ChainID:     cfg.ChainID,
		})
		if err != nil {
			return err
		}
		if cfg.Server.GraphQLPort > 0 {
			if gql, err = graph.New(eng.Store()); err != nil {
				return err
			}
		}
	}

	watchConfig(eng)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})

	if srv != nil {
		g.Go(func() error {
			return srv.Run(gctx, fmt.Sprintf(":%d", cfg.Server.APIPort))
		})
		g.Go(func() error {
			purgeSessions(gctx, sessions)
			return nil
		})
	}

	if gql != nil {
		g.Go(func() error {
			return serveHTTP(gctx, "graphql", cfg.Server.GraphQLPort, gql.Handler())
		})
	}

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return serveHTTP(gctx, "metrics", cfg.Server.MetricsPort, mux)
		})
	}

	log.Info().
		Str("name", cfg.Name).
		Str("network", cfg.Network).
		Str("factory", cfg.Factory.Address).
		Int("api_port", cfg.Server.APIPort).
		Int("graphql_port", cfg.Server.GraphQLPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("doneth started")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("doneth stopped")
	return nil
}

// watchConfig reloads sync settings when the config file changes.
func watchConfig(eng *engine.Engine) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Info().Str("file", e.Name).Msg("config changed")

		next, err := config.Load()
		if err != nil {
			log.Error().Err(err).Msg("ignoring invalid config")
			return
		}
		if err := setupLogging(next.Log.Level, next.Log.Format); err != nil {
			log.Error().Err(err).Msg("keeping previous log settings")
		}
		if err := eng.Reload(next); err != nil {
			log.Error().Err(err).Msg("reloading engine")
		}
	})
	viper.WatchConfig()
}

func purgeSessions(ctx context.Context, sessions *session.Manager) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Purge(); n > 0 {
				log.Debug().Int("sessions", n).Msg("expired sessions purged")
			}
		}
	}
}

// serveHTTP serves h on port until ctx is canceled, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msgf("%s server listening", name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving %s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
