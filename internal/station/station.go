package station

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/pipetctl/internal/auth"
	"github.com/danmuck/pipetctl/internal/journal"
	"github.com/danmuck/pipetctl/internal/observability"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/danmuck/pipetctl/internal/robot"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	ErrBusy      = errors.New("station: a run is already active")
	ErrNotActive = errors.New("station: run is not active")
)

// PlatformFactory opens a platform sized for hw. The returned release func
// runs when the run finishes.
type PlatformFactory func(hw protocol.Hardware) (robot.Platform, func() error, error)

type Config struct {
	Name        string
	CorsOrigins []string
	// Defaults fill fields a run request leaves unset.
	Defaults RunRequest
	// Auth guards routes that move the robot. Nil leaves them open.
	Auth auth.Validator
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Station runs protocols on behalf of HTTP clients.
type Station struct {
	name      string
	defaults  RunRequest
	auth      auth.Validator
	registry  *protocol.Registry
	journal   *journal.Store
	platforms PlatformFactory
	router    *gin.Engine
	appeared  time.Time
	logger    zerolog.Logger

	baseCtx  context.Context
	stopRuns context.CancelFunc

	mu     sync.Mutex
	active *activeRun
}

func New(cfg Config, registry *protocol.Registry, store *journal.Store, platforms PlatformFactory) *Station {
	if cfg.Name == "" {
		cfg.Name = "pipetctl"
	}
	baseCtx, stop := context.WithCancel(context.Background())
	s := &Station{
		name:      cfg.Name,
		defaults:  cfg.Defaults,
		auth:      cfg.Auth,
		registry:  registry,
		journal:   store,
		platforms: platforms,
		appeared:  time.Now(),
		logger:    observability.Component("station"),
		baseCtx:   baseCtx,
		stopRuns:  stop,
	}

	observability.RegisterMetrics()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(s.logger))
	router.Use(observability.RequestMetricsMiddleware(s.name))
	if len(cfg.CorsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.router = router
	s.registerRoutes()
	return s
}

// HTTPRouter exposes the gin engine for tests and embedding.
func (s *Station) HTTPRouter() *gin.Engine { return s.router }

// Serve listens on addr until ctx is done, then cancels any active run and
// waits for it to finish.
func (s *Station) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("station listening")
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

// Close cancels the active run and waits for it.
func (s *Station) Close() {
	s.stopRuns()
	s.Wait()
}

// Wait blocks until no run is active.
func (s *Station) Wait() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		<-active.done
	}
}

// Active returns the id of the running run, if any.
func (s *Station) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.id, true
}

// Start validates req, journals a new run, and executes it in the
// background. Validation failures never reach the platform.
func (s *Station) Start(req RunRequest) (journal.Run, error) {
	req = req.withDefaults(s.defaults)
	def, err := s.registry.Resolve(req.Protocol)
	if err != nil {
		return journal.Run{}, err
	}
	opts := req.options()
	if err := protocol.Check(def, opts); err != nil {
		return journal.Run{}, err
	}
	hw, err := def.Hardware()
	if err != nil {
		return journal.Run{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return journal.Run{}, fmt.Errorf("%w: %s", ErrBusy, s.active.id)
	}
	platform, release, err := s.platforms(hw)
	if err != nil {
		return journal.Run{}, fmt.Errorf("open platform: %w", err)
	}
	run, err := s.journal.Begin(s.baseCtx, def.ID, opts)
	if err != nil {
		if release != nil {
			_ = release()
		}
		return journal.Run{}, err
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	active := &activeRun{id: run.ID, cancel: cancel, done: make(chan struct{})}
	s.active = active
	opts.Observer = observability.StepObserver(def.ID, s.journal.Observer(run.ID))
	go s.execute(ctx, active, def, opts, platform, release)
	return run, nil
}

// Cancel stops the active run with the given id.
func (s *Station) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != id {
		return fmt.Errorf("%w: %s", ErrNotActive, id)
	}
	s.active.cancel()
	return nil
}

func (s *Station) execute(ctx context.Context, active *activeRun, def *protocol.Definition, opts protocol.RunOptions, platform robot.Platform, release func() error) {
	logger := s.logger.With().Str("run", active.id).Str("protocol", def.ID).Logger()
	start := time.Now()
	defer func() {
		active.cancel()
		s.mu.Lock()
		if s.active == active {
			s.active = nil
		}
		s.mu.Unlock()
		close(active.done)
	}()

	report, runErr := protocol.NewSequencer(observability.Metered(platform)).Run(ctx, def, opts)
	status := journal.StatusOf(runErr)
	observability.RecordRun(def.ID, string(status), time.Since(start))
	if err := s.journal.Finish(context.Background(), active.id, report, runErr); err != nil {
		logger.Error().Err(err).Msg("journal finish")
	}
	if release != nil {
		if err := release(); err != nil {
			logger.Warn().Err(err).Msg("release platform")
		}
	}
	if runErr != nil {
		logger.Warn().Err(runErr).Str("status", string(status)).Msg("run ended")
		return
	}
	logger.Info().Int("transfers", report.Transfers).Msg("run succeeded")
}
