package collector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/render-driver/internal/config"
	"github.com/spherical/render-driver/internal/observability"
)

// Options configures a Server
type Options struct {
	RootDir         string
	SnapshotDir     string
	RefsDir         string
	ExitOnQuit      bool
	MaxBodyBytes    int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// OptionsFromConfig maps the collector section of the config file
func OptionsFromConfig(cfg config.CollectorConfig) Options {
	return Options{
		RootDir:         cfg.RootDir,
		SnapshotDir:     cfg.SnapshotDir,
		RefsDir:         cfg.RefsDir,
		ExitOnQuit:      cfg.ExitOnQuit,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Server is the collection endpoint drivers report to
type Server struct {
	opts      Options
	store     *Store
	snapshots *SnapshotStore
	publisher Publisher
	logger    *observability.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewServer creates a server. publisher may be nil.
func NewServer(opts Options, store *Store, publisher Publisher, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.Nop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		opts:      opts,
		store:     store,
		snapshots: NewSnapshotStore(opts.SnapshotDir, opts.RefsDir),
		publisher: publisher,
		logger:    logger.WithOperation("collector"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Handler returns the router with all routes configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"render-collector"}`))
	})

	r.Post("/submit_task_results", s.handleSubmit)
	r.Post("/tellMeToQuit", s.handleQuit)

	r.Route("/results", func(r chi.Router) {
		r.Get("/", s.handleSummaries)
		r.Get("/{browser}", s.handleResults)
	})

	if s.opts.RootDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.RootDir)))
	}

	return r
}

// Serve accepts connections on ln until ctx ends, Shutdown is called, or a
// quit request arrives while ExitOnQuit is set.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer close(s.done)

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Collector listening")
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Context cancelled, stopping collector")
	case <-s.stop:
		s.logger.Info().Msg("Stop requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	s.logger.Info().Msg("Collector stopped")
	return nil
}

// Shutdown stops a running Serve and waits for it to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.requestStop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Serve has returned
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
