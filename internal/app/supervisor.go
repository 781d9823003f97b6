package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/okian/assignml/pkg/logger"
)

// Supervision defaults.
const (
	failureThreshold = 5
	failureDecay     = 30
	failureBackoff   = 15 * time.Second
	shutdownTimeout  = 30 * time.Second
)

// Supervisor builds the process tree: the event pipeline (prediction log
// writers, event consumer, retrain scheduler) and the api layer holding extra.
func (s *Service) Supervisor(extra ...suture.Service) *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: logger.Slog()}).MustHook()
	root := suture.New("assignml", suture.Spec{
		EventHook:        hook,
		FailureThreshold: failureThreshold,
		FailureDecay:     failureDecay,
		FailureBackoff:   failureBackoff,
		Timeout:          shutdownTimeout,
	})
	child := suture.Spec{
		FailureThreshold: failureThreshold,
		FailureDecay:     failureDecay,
		FailureBackoff:   failureBackoff,
		Timeout:          shutdownTimeout,
	}

	pipeline := suture.New("pipeline", child)
	pipeline.Add(s.pool)
	pipeline.Add(s.consumer)
	if s.scheduler != nil {
		pipeline.Add(s.scheduler)
	}
	root.Add(pipeline)

	if len(extra) > 0 {
		api := suture.New("api", child)
		for _, svc := range extra {
			api.Add(svc)
		}
		root.Add(api)
	}
	return root
}

// Run loads the deployed model and serves the tree until ctx is cancelled.
func (s *Service) Run(ctx context.Context, extra ...suture.Service) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.logger.Info(ctx, "engine started",
		logger.String("backend", s.cfg.EventBackend),
		logger.String("store", s.cfg.StoreDriver),
		logger.String("model", s.handle.Version()),
		logger.Bool("scheduler", s.scheduler != nil),
	)
	err := s.Supervisor(extra...).Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	s.logger.Info(context.WithoutCancel(ctx), "engine stopped")
	return err
}

// HTTPServer runs an *http.Server as a supervised service.
type HTTPServer struct {
	server          *http.Server
	shutdownTimeout time.Duration
	logger          logger.Logger
}

// NewHTTPServer wraps srv.
func NewHTTPServer(srv *http.Server, shutdownTimeout time.Duration) *HTTPServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{server: srv, shutdownTimeout: shutdownTimeout, logger: logger.Get().Named("http")}
}

// Serve implements suture.Service.
func (h *HTTPServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info(ctx, "starting HTTP server", logger.String("addr", h.server.Addr))
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error(ctx, "server shutdown failed", logger.Error(err))
			return err
		}
		h.logger.Info(ctx, "server stopped")
		return ctx.Err()
	}
}

func (h *HTTPServer) String() string { return "http-server" }
