// Package worker runs the ledger's scheduled jobs: expiring allocations and
// warning users about credits that expire soon. Runs are guarded by a lock so
// only one replica processes expirations at a time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credits/internal/credit/models"
	"credits/pkg/requestcontext"
)

// LockName is the lock key taken around every run.
const LockName = "credit-expiration"

// Jobs is the part of the ledger service the worker drives.
type Jobs interface {
	ProcessExpirations(ctx context.Context) (*models.ExpirationReport, error)
	NotifyExpiringSoon(ctx context.Context, days int) (*models.ExpiringSoonReport, error)
}

// Locker hands out single-attempt locks. acquired is false, with a nil error,
// when another holder has the lock.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(context.Context) error, acquired bool, err error)
}

type Worker struct {
	jobs        Jobs
	locker      Locker
	interval    time.Duration
	warningDays int
	logger      *slog.Logger
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithWarningDays(days int) Option {
	return func(w *Worker) {
		if days > 0 {
			w.warningDays = days
		}
	}
}

func WithLocker(l Locker) Option {
	return func(w *Worker) {
		if l != nil {
			w.locker = l
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New builds a worker that runs daily under an in-process lock unless told otherwise.
func New(jobs Jobs, opts ...Option) (*Worker, error) {
	if jobs == nil {
		return nil, errors.New("credit jobs are required")
	}
	w := &Worker{
		jobs:        jobs,
		locker:      NewLocalLocker(),
		interval:    24 * time.Hour,
		warningDays: 7,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start runs once immediately and then on every tick until ctx is cancelled.
// Failed runs are logged; they do not stop the loop.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runLogged(ctx)
	for {
		select {
		case <-ticker.C:
			w.runLogged(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.ErrorContext(ctx, "credit expiration run failed", "error", err)
	}
}

// RunOnce takes the lock and runs both jobs. A held lock is not an error; the
// run is skipped.
func (w *Worker) RunOnce(ctx context.Context) error {
	_, err := w.run(ctx)
	return err
}

func (w *Worker) run(ctx context.Context) (ran bool, err error) {
	release, acquired, err := w.locker.TryLock(ctx, LockName)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", LockName, err)
	}
	if !acquired {
		w.logger.InfoContext(ctx, "credit expiration run skipped, lock held elsewhere")
		return false, nil
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			w.logger.WarnContext(ctx, "failed to release expiration lock", "error", relErr)
		}
	}()

	start := time.Now()
	ctx = requestcontext.WithTime(ctx, start.UTC())
	report, expErr := w.jobs.ProcessExpirations(ctx)
	if expErr != nil {
		expErr = fmt.Errorf("process expirations: %w", expErr)
	}
	warned, warnErr := w.jobs.NotifyExpiringSoon(ctx, w.warningDays)
	if warnErr != nil {
		warnErr = fmt.Errorf("notify expiring soon: %w", warnErr)
	}

	attrs := []any{"duration_ms", time.Since(start).Milliseconds()}
	if report != nil {
		attrs = append(attrs, "processed", report.Processed, "failed", report.Failed, "expired_amount", report.TotalExpired)
	}
	if warned != nil {
		attrs = append(attrs, "warned_users", warned.Users)
	}
	w.logger.InfoContext(ctx, "credit expiration run finished", attrs...)
	return true, errors.Join(expErr, warnErr)
}
