// Package api serves tests, runs, statistics and measurement sessions
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/perception/pkg/api/store"
	"github.com/ethpandaops/perception/pkg/config"
	"github.com/ethpandaops/perception/pkg/docstore"
	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/metrics"
	"github.com/ethpandaops/perception/pkg/report"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/ethpandaops/perception/pkg/timing"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
	lifecycleReapInterval  = time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      store.Store
	docs       docstore.Store
	index      runindex.Indexer
	reports    report.Builder
	lifecycles lifecycle.Manager
	hub        *timing.Hub
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start opens the stores, seeds config users and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.cleanupSessions(ctx)
	}()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.reapLifecycles(ctx)
	}()

	// Bind synchronously so port conflicts fail Start.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// prepare builds every dependency of the router without listening.
func (s *server) prepare(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if s.cfg.Auth.Basic.Enabled {
		if err := s.store.SeedUsers(
			ctx, s.cfg.Auth.Basic.Users,
		); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	s.docs = docstore.NewStore(s.log, &s.cfg.Database)
	if err := s.docs.Start(ctx); err != nil {
		return fmt.Errorf("starting document store: %w", err)
	}

	s.index = runindex.NewIndexer(s.log, s.docs)
	s.reports = report.NewBuilder(s.log, s.index, s.cfg.Stats.Histogram())
	s.hub = timing.NewHub(s.log)
	s.lifecycles = lifecycle.NewManager(s.log, lifecycle.Adapter{
		Store: s.docs,
		Channels: lifecycle.ChannelOpenerFunc(
			func(_ context.Context, id string) (timing.Channel, error) {
				return s.hub.Open(id), nil
			},
		),
	})

	return nil
}

func (s *server) cleanupSessions(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(ctx)
			if err != nil {
				metrics.RecordStoreError("delete_expired_sessions")
				s.log.WithError(err).
					Warn("Failed to clean expired sessions")

				continue
			}

			if n > 0 {
				s.log.WithField("count", n).Debug("Cleaned expired sessions")
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reapLifecycles closes measurement sessions nobody has touched within the
// idle TTL, releasing their channels.
func (s *server) reapLifecycles(ctx context.Context) {
	ticker := time.NewTicker(lifecycleReapInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.reapIdle(ctx, now)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *server) reapIdle(ctx context.Context, now time.Time) int {
	n := s.lifecycles.Reap(ctx, now.Add(-s.cfg.Sessions.IdleTimeout()))
	if n > 0 {
		s.log.WithField("count", n).Info("Closed idle measurement sessions")
	}

	return n
}

// Stop shuts down the HTTP server, abandons open measurement sessions and
// closes the stores.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	if s.lifecycles != nil {
		s.lifecycles.CloseAll(context.Background())
	}

	if s.hub != nil {
		s.hub.Close()
	}

	s.wg.Wait()

	if s.docs != nil {
		if err := s.docs.Stop(); err != nil {
			s.log.WithError(err).Warn("Document store stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
