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

	"github.com/manumartinm/ps3-worker/internal/logging"
)

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another ps3 worker instance is already running")

// Consumer is the blocking delivery loop.
type Consumer interface {
	Run(ctx context.Context) error
}

// APIServer is the optional HTTP surface.
type APIServer interface {
	Start(ctx context.Context) error
	Stop()
}

// Daemon runs one consumer under a single-instance lock.
type Daemon struct {
	consumer Consumer
	api      APIServer
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock
	prepare  func(ctx context.Context)

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	started time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	StartedAt    time.Time
}

// New constructs a daemon. api may be nil.
func New(lockPath string, consumer Consumer, api APIServer, logger *slog.Logger) (*Daemon, error) {
	if lockPath == "" || consumer == nil {
		return nil, errors.New("daemon requires a lock path and a consumer")
	}
	return &Daemon{
		consumer: consumer,
		api:      api,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// BeforeStart registers fn to run once the lock is held and before the API
// or the consumer start. Work that must not race another instance, such as
// sweeping the shared work dir, belongs here.
func (d *Daemon) BeforeStart(fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepare = fn
}

// Start acquires the lock, starts the API and launches the consumer.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.prepare != nil {
		d.prepare(runCtx)
	}
	if d.api != nil {
		if err := d.api.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start api: %w", err)
		}
	}

	d.cancel = cancel
	d.done = make(chan struct{})
	d.runErr = nil
	d.started = time.Now()
	d.running.Store(true)
	go d.run(runCtx, d.done)

	d.logger.Info("ps3 worker daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

func (d *Daemon) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := d.consumer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(d.logger, "consumer stopped", "consumer_stopped",
			logging.Error(err),
			logging.Alert("consumer"),
		)
		d.mu.Lock()
		d.runErr = err
		d.mu.Unlock()
	}
	d.running.Store(false)
}

// Wait blocks until the consumer returns and reports its error, if any.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Stop cancels the consumer, waits for the in-flight task to settle, stops
// the API and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	if d.api != nil {
		d.api.Stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("ps3 worker daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		StartedAt:    d.started,
	}
}
