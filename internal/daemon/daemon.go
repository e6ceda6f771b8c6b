package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"comfyforge/internal/config"
	"comfyforge/internal/keys"
	"comfyforge/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// Daemon runs the health monitor and HTTP API over a set of Components and
// enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	components *Components
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	APIAddress   string
	KeysDBPath   string
	AssetsDBPath string
	LockFilePath string
	KeyStates    map[keys.State]int
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, components *Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || components == nil {
		return nil, errors.New("daemon requires config and components")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		components: components,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, components, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the monitor loop, and opens the
// API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another comfyforge daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel

	if d.cfg.Monitor.Enabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.components.Monitor.Run(runCtx)
		}()
	}

	d.running.Store(true)
	d.logger.Info("comfyforge daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Bool("monitor_enabled", d.cfg.Monitor.Enabled),
	)
	return nil
}

// Stop stops the monitor and API listener and releases the daemon lock.
// In-flight runs keep going until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("comfyforge daemon stopped")
}

// Close stops the daemon, drains background runs, and closes the stores.
func (d *Daemon) Close() error {
	d.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.components.Close(ctx)
}

// APIAddress returns the bound listener address, or "" when the API is
// disabled or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		APIAddress:   d.api.address(),
		KeysDBPath:   d.cfg.KeysDBPath(),
		AssetsDBPath: d.cfg.AssetsDBPath(),
		LockFilePath: d.lockPath,
		KeyStates:    map[keys.State]int{},
	}
	list, err := d.components.Keys.List(ctx, keys.Filter{})
	if err != nil {
		d.logger.Warn("status key listing failed", logging.Error(err))
		return status
	}
	for _, key := range list {
		status.KeyStates[key.State()]++
	}
	return status
}
