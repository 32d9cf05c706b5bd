package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"snapkeep/internal/config"
	"snapkeep/internal/listing"
	"snapkeep/internal/live"
	"snapkeep/internal/registry"
	"snapkeep/internal/retention"
	"snapkeep/internal/state"
	"snapkeep/internal/storage"
	"snapkeep/internal/upload"

	"github.com/rs/zerolog"
)

const (
	serverReadHeaderTimeout = 5 * time.Second
	serverReadTimeout       = 10 * time.Second
	serverWriteTimeout      = 30 * time.Second
	serverIdleTimeout       = 60 * time.Second
	serverMaxHeaderBytes    = 1 << 20

	storePingTimeout = 5 * time.Second
)

// Services are the collaborators a Daemon serves. Store may be nil when the
// backend could not be constructed; StoreErr marks a store that failed its
// startup ping. Both make store-backed endpoints answer 503 until the store
// responds again.
type Services struct {
	Store    storage.ObjectStore
	StoreErr error
	Registry *registry.Registry
}

type Daemon struct {
	cfg        *config.Config
	listenAddr string
	authTokens []string
	log        zerolog.Logger
	store      storage.ObjectStore
	registry   *registry.Registry
	listing    *listing.Engine
	retention  *retention.Enforcer
	uploads    *upload.Pipeline
	hub        *live.Hub
	clockNow   func() time.Time
	timerAfter func(time.Duration) <-chan time.Time
	mu         sync.Mutex
	storeErr   error
	status     daemonStatus
	handler    http.Handler
}

func New(cfg *config.Config, svc Services, logger zerolog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if svc.Registry == nil {
		return nil, errors.New("camera registry is required")
	}
	budget, err := retention.BudgetFromConfig(cfg.Retention)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		listenAddr: cfg.ListenAddr,
		authTokens: parseAuthTokens(cfg.AuthTokens),
		log:        logger.With().Str("component", "daemon").Logger(),
		store:      svc.Store,
		registry:   svc.Registry,
		hub:        live.NewHub(logger),
		clockNow:   time.Now,
		timerAfter: time.After,
		storeErr:   svc.StoreErr,
		status: daemonStatus{
			RetentionMode:   string(budget.Mode),
			RetentionBudget: budget.String(),
		},
	}

	var enforcer upload.Enforcer
	if d.store != nil {
		d.listing = listing.New(d.store, logger)
		d.retention, err = retention.NewEnforcer(budget, d.listing, d.store, logger, cfg.RequestTimeout.Duration)
		if err != nil {
			return nil, err
		}
		enforcer = d.retention
	}
	d.uploads = upload.New(d.store, enforcer, logger,
		upload.WithClock(d.now),
		upload.WithRequestTimeout(cfg.RequestTimeout.Duration),
		upload.WithSerializePerCamera(cfg.Retention.SerializePerCamera),
		upload.WithObserver(upload.ObserverFunc(d.touchCamera)),
		upload.WithObserver(upload.ObserverFunc(d.recordUpload)),
		upload.WithObserver(d.hub),
	)
	d.handler = d.newHandler()
	return d, nil
}

// Open builds the object store and registry from cfg. A store that cannot be
// reached is logged and retried on demand; a registry failure is fatal.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	objectDir, err := state.ObjectStoreDir()
	if err != nil {
		return nil, err
	}
	registryPath, err := state.RegistryPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(registryPath), 0o755); err != nil {
		return nil, fmt.Errorf("create app dir: %w", err)
	}

	var svc Services
	svc.Store, err = storage.NewFromConfig(ctx, cfg, objectDir)
	if err != nil {
		logger.Error().Err(err).Msg("object store construction failed; store-backed endpoints disabled")
		svc.Store = nil
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		svc.StoreErr = svc.Store.Ping(pingCtx)
		cancel()
		if svc.StoreErr != nil {
			logger.Warn().Err(svc.StoreErr).Msg("object store unavailable at startup")
		}
	}

	svc.Registry, err = registry.Open(ctx, cfg.Registry, registryPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	d, err := New(cfg, svc, logger)
	if err != nil {
		_ = svc.Registry.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) SetListenAddress(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr != "" {
		d.listenAddr = addr
	}
}

func (d *Daemon) Handler() http.Handler {
	return d.handler
}

func (d *Daemon) Run(ctx context.Context) error {
	srv := d.newHTTPServer()
	d.log.Info().
		Str("addr", srv.Addr).
		Str("retention", d.snapshot().RetentionBudget).
		Msg("snapkeepd listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.hub.Close()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go d.runSweeper(ctx)

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects live viewers and closes the registry.
func (d *Daemon) Close() error {
	d.hub.Close()
	return d.registry.Close()
}

func (d *Daemon) newHTTPServer() *http.Server {
	d.mu.Lock()
	addr := d.listenAddr
	d.mu.Unlock()
	return &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
		MaxHeaderBytes:    serverMaxHeaderBytes,
	}
}

func (d *Daemon) now() time.Time {
	return d.clockNow()
}

// storeReady re-pings a store that was marked unavailable.
func (d *Daemon) storeReady(ctx context.Context) error {
	if d.store == nil {
		return fmt.Errorf("%w: object store is not configured", storage.ErrStoreUnavailable)
	}
	d.mu.Lock()
	lastErr := d.storeErr
	d.mu.Unlock()
	if lastErr == nil {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	err := d.store.Ping(pingCtx)
	if err != nil && !errors.Is(err, storage.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", storage.ErrStoreUnavailable, err)
	}
	d.mu.Lock()
	d.storeErr = err
	d.mu.Unlock()
	if err == nil {
		d.log.Info().Msg("object store reachable again")
	}
	return err
}

func (d *Daemon) touchCamera(ctx context.Context, o upload.Outcome) {
	if err := d.registry.Touch(ctx, o.CameraID, o.StoredAt); err != nil {
		d.log.Warn().Err(err).Str("camera_id", o.CameraID).Msg("record last_seen failed")
	}
}
