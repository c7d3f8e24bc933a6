// Package browser provides pooled headless browser instances.
// The pool creates instances lazily up to a fixed capacity and reuses them
// across requests, keeping memory usage bounded and predictable compared to
// spawning a fresh browser per request.
package browser

import (
	"context"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/types"
)

// driver abstracts the browser process behind an Instance.
// Production instances wrap a rod browser; tests substitute a fake.
type driver interface {
	// CheckHealth verifies the browser still responds to commands.
	CheckHealth(ctx context.Context) error

	// ClearState wipes cookies and page storage so the next request
	// starts from a clean slate.
	ClearState(ctx context.Context) error

	// Close shuts the browser down gracefully.
	Close() error

	// Kill force-terminates the browser process tree.
	Kill()
}

// Instance is a single pooled browser.
// Instances are handed out by the Pool and must be returned via
// Pool.Release or destroyed via Pool.Destroy.
type Instance struct {
	id         string
	drv        driver
	profileDir string
	createdAt  time.Time
	lastUsed   atomic.Int64 // Unix nanos; avoids locking on the hot path
	destroyed  atomic.Bool
}

func newInstance(drv driver, profileDir string) *Instance {
	inst := &Instance{
		id:         uuid.NewString(),
		drv:        drv,
		profileDir: profileDir,
		createdAt:  time.Now(),
	}
	inst.touch()
	return inst
}

// ID returns the unique identifier for this instance.
func (i *Instance) ID() string {
	return i.id
}

// Age returns how long the instance has existed.
func (i *Instance) Age() time.Duration {
	return time.Since(i.createdAt)
}

// IdleFor returns how long since the instance was last used.
func (i *Instance) IdleFor() time.Duration {
	return time.Since(time.Unix(0, i.lastUsed.Load()))
}

// Destroyed reports whether the instance has been torn down.
func (i *Instance) Destroyed() bool {
	return i.destroyed.Load()
}

func (i *Instance) touch() {
	i.lastUsed.Store(time.Now().UnixNano())
}

// healthCheck verifies the instance is alive and responsive.
// Returns a wrapped ErrInstanceUnhealthy on failure.
func (i *Instance) healthCheck(ctx context.Context) error {
	if i.destroyed.Load() {
		return types.ErrInstanceUnhealthy
	}
	if err := i.drv.CheckHealth(ctx); err != nil {
		log.Debug().
			Str("instance_id", i.id).
			Err(err).
			Msg("Instance health check failed")
		return types.NewPoolError("health_check", "browser not responding", types.ErrInstanceUnhealthy)
	}
	return nil
}

// clearState wipes cookies and storage before the instance returns to the
// idle set. A failure here means the instance cannot be safely reused.
func (i *Instance) clearState(ctx context.Context) error {
	if i.destroyed.Load() {
		return types.ErrInstanceUnhealthy
	}
	return i.drv.ClearState(ctx)
}

// destroy tears the instance down. Idempotent: only the first call does
// work, and only that call reports true.
//
// Teardown is two-phase: a graceful close bounded by gracePeriod, then a
// forced process kill if the browser does not exit in time. The temporary
// profile directory is removed either way, and freed heap is returned to
// the OS so resident memory drops promptly after mass eviction.
func (i *Instance) destroy(gracePeriod time.Duration) bool {
	if !i.destroyed.CompareAndSwap(false, true) {
		return false
	}

	start := time.Now()

	closeDone := make(chan struct{})
	go func() {
		defer close(closeDone)
		if err := i.drv.Close(); err != nil {
			log.Debug().
				Str("instance_id", i.id).
				Err(err).
				Msg("Graceful browser close failed")
		}
	}()

	select {
	case <-closeDone:
		log.Debug().
			Str("instance_id", i.id).
			Dur("duration", time.Since(start)).
			Msg("Browser closed gracefully")
	case <-time.After(gracePeriod):
		log.Warn().
			Str("instance_id", i.id).
			Dur("grace_period", gracePeriod).
			Msg("Graceful close timed out, force-killing browser process")
		i.drv.Kill()
		// Let the close goroutine observe the dead process before moving on
		select {
		case <-closeDone:
		case <-time.After(2 * time.Second):
			log.Warn().
				Str("instance_id", i.id).
				Msg("Close goroutine did not exit after force kill")
		}
	}

	if i.profileDir != "" {
		if err := os.RemoveAll(i.profileDir); err != nil {
			log.Warn().
				Str("instance_id", i.id).
				Str("dir", i.profileDir).
				Err(err).
				Msg("Failed to remove browser profile directory")
		}
	}

	// Hand freed heap back to the OS so the memory gate sees real numbers
	debug.FreeOSMemory()

	log.Debug().
		Str("instance_id", i.id).
		Dur("total", time.Since(start)).
		Msg("Browser instance destroyed")

	return true
}
