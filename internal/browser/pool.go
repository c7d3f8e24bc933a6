package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nixintel/urldater/internal/config"
	"github.com/nixintel/urldater/internal/types"
)

// Grace period for a browser to exit cleanly before it is force-killed.
const destroyGracePeriod = 10 * time.Second

// Health checks during acquire/release are bounded independently of the
// caller's deadline so a wedged browser cannot consume the whole budget.
const healthCheckTimeout = 5 * time.Second

// PoolStats provides statistics about pool usage.
type PoolStats struct {
	Created   atomic.Int64
	Acquired  atomic.Int64
	Released  atomic.Int64
	Destroyed atomic.Int64
	Unhealthy atomic.Int64
	Evicted   atomic.Int64
	Timeouts  atomic.Int64
}

// PoolStatsSnapshot holds a point-in-time copy of pool statistics.
type PoolStatsSnapshot struct {
	Created   int64 `json:"created"`
	Acquired  int64 `json:"acquired"`
	Released  int64 `json:"released"`
	Destroyed int64 `json:"destroyed"`
	Unhealthy int64 `json:"unhealthy"`
	Evicted   int64 `json:"evicted"`
	Timeouts  int64 `json:"timeouts"`
	Live      int   `json:"live"`
	Idle      int   `json:"idle"`
	Capacity  int   `json:"capacity"`
}

// Pool manages a bounded set of reusable browser instances.
//
// Instances are created lazily: the pool starts empty and launches browsers
// on demand up to its capacity. The live count covers idle instances,
// checked-out instances, and instances under construction, so the cap holds
// even while a launch is in flight.
//
// Creation is additionally gated on resident memory. When the service is
// over its memory threshold the pool first evicts idle instances, and if
// that is not enough, makes callers wait for a running instance to come back
// rather than launching another browser.
//
// Callers blocked in Acquire form a FIFO line. A released instance is handed
// directly to the waiter at the head, so arrival order is service order.
//
// Lock ordering: mu is never held across browser I/O (launch, health check,
// teardown).
type Pool struct {
	mu      sync.Mutex
	idle    []*Instance // idle[0] has been idle longest and is reused first
	live    int         // idle + checked out + under construction
	waiters []*waiter   // waiters[0] has been queued longest and is served first

	factory Factory
	oracle  MemoryOracle
	cfg     *config.Config

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	stats PoolStats
}

// waiter is one queued Acquire call. ready is buffered so a waker never
// blocks on it: the value is either a health-checked instance handed off
// directly, or nil meaning a slot opened and the waiter retries with its
// place in line kept.
type waiter struct {
	ready chan *Instance
}

// NewPool creates a browser pool. No browsers are launched up front; the
// first Acquire triggers the first launch. The idle sweeper starts
// immediately.
func NewPool(cfg *config.Config, factory Factory, oracle MemoryOracle) *Pool {
	log.Info().
		Int("capacity", cfg.PoolSize).
		Int("memory_threshold_mb", cfg.MemoryThresholdMB).
		Dur("acquire_timeout", cfg.PoolAcquireTimeout).
		Msg("Initializing browser pool")

	p := &Pool{
		idle:    make([]*Instance, 0, cfg.PoolSize),
		factory: factory,
		oracle:  oracle,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sweepRoutine()
	}()

	return p
}

// Acquire obtains a healthy browser instance, launching one if the pool is
// below capacity and memory permits. It blocks until an instance is
// available, the context is canceled, or the acquire timeout elapses.
// Callers blocked at capacity are served in arrival order: a released
// instance is handed to the longest-queued waiter, never raced for.
//
// The caller MUST return the instance with Release (or Destroy if it is
// known to be broken):
//
//	inst, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(inst)
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	deadline := time.NewTimer(p.cfg.PoolAcquireTimeout)
	defer deadline.Stop()

	memGated := false
	frontOfLine := false

	for {
		inst, w, gated, err := p.tryAcquire(ctx, frontOfLine)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			p.stats.Acquired.Add(1)
			log.Debug().
				Str("instance_id", inst.ID()).
				Int64("total_acquired", p.stats.Acquired.Load()).
				Msg("Browser instance acquired")
			return inst, nil
		}
		if gated {
			memGated = true
		}
		if w == nil {
			// Retry immediately: an unhealthy idle instance was discarded,
			// state may have changed. The caller was already at the front,
			// so it keeps right of way over queued waiters.
			if p.closed.Load() {
				return nil, types.ErrPoolClosed
			}
			frontOfLine = true
			continue
		}

		select {
		case got := <-w.ready:
			if p.closed.Load() {
				if got != nil {
					p.destroyInstance(got)
				}
				return nil, types.ErrPoolClosed
			}
			if got != nil {
				got.touch()
				p.stats.Acquired.Add(1)
				log.Debug().
					Str("instance_id", got.ID()).
					Int64("total_acquired", p.stats.Acquired.Load()).
					Msg("Browser instance acquired")
				return got, nil
			}
			// A slot freed up; retry ahead of everyone queued behind us.
			frontOfLine = true
		case <-ctx.Done():
			p.abandonWaiter(w)
			return nil, types.NewPoolAcquireError("context canceled", types.ErrContextCanceled)
		case <-deadline.C:
			p.abandonWaiter(w)
			p.stats.Timeouts.Add(1)
			if memGated {
				return nil, types.NewPoolAcquireError("memory threshold exceeded", types.ErrMemoryPressure)
			}
			return nil, types.NewPoolAcquireError("no instance became available", types.ErrPoolTimeout)
		}
	}
}

// tryAcquire makes one pass at obtaining an instance.
// Returns exactly one of: an instance, an error (launch failure, reported to
// the caller immediately), a waiter (block until served), or none of those
// (retry immediately). gated reports whether the memory threshold blocked a
// launch on this pass.
func (p *Pool) tryAcquire(ctx context.Context, frontOfLine bool) (inst *Instance, w *waiter, gated bool, err error) {
	p.mu.Lock()

	// Fresh arrivals behind queued waiters join the back of the line
	// instead of racing them for the next free instance.
	if !frontOfLine && len(p.waiters) > 0 {
		w = p.enqueueLocked(false)
		p.mu.Unlock()
		return nil, w, false, nil
	}

	// Reuse the longest-idle instance first
	if len(p.idle) > 0 {
		candidate := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()

		hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := candidate.healthCheck(hctx)
		cancel()
		if err != nil {
			log.Warn().
				Str("instance_id", candidate.ID()).
				Err(err).
				Msg("Idle instance failed health check, destroying")
			p.stats.Unhealthy.Add(1)
			p.destroyInstance(candidate)
			return nil, nil, false, nil
		}

		candidate.touch()
		return candidate, nil, false, nil
	}

	// No idle instance. Launch one if there is room.
	if p.live < p.cfg.PoolSize {
		// Reserve the slot before the slow launch so concurrent acquires
		// cannot overshoot capacity.
		p.live++
		p.mu.Unlock()

		if over, usedMB := p.overMemoryThreshold(); over {
			evicted := p.evictIdle()
			log.Warn().
				Uint64("resident_mb", usedMB).
				Int("threshold_mb", p.cfg.MemoryThresholdMB).
				Int("evicted", evicted).
				Msg("Memory threshold exceeded, refusing to launch new browser")

			// Give back the reserved slot and wait for memory to recover
			p.mu.Lock()
			if p.live > 0 {
				p.live--
			}
			w = p.enqueueLocked(frontOfLine)
			p.mu.Unlock()
			return nil, w, true, nil
		}

		created, createErr := p.factory.New(ctx)
		if createErr != nil {
			p.mu.Lock()
			if p.live > 0 {
				p.live--
			}
			p.wakeOneLocked(nil)
			p.mu.Unlock()
			log.Error().Err(createErr).Msg("Browser launch failed")
			return nil, nil, false, types.NewInstanceCreateError("launch failed", createErr)
		}

		p.stats.Created.Add(1)
		log.Info().
			Str("instance_id", created.ID()).
			Int("live", p.Live()).
			Msg("Browser instance launched")
		return created, nil, false, nil
	}

	// At capacity. Join the line under the same lock as the capacity check
	// so a release cannot slip between check and wait.
	w = p.enqueueLocked(frontOfLine)
	p.mu.Unlock()
	return nil, w, false, nil
}

// Release returns an instance to the pool for reuse.
// The instance is health-checked and its cookies and storage are cleared
// first; if either fails it is destroyed instead of pooled.
// Safe to call with nil or an already destroyed instance.
func (p *Pool) Release(inst *Instance) {
	if inst == nil || inst.Destroyed() {
		return
	}

	if p.closed.Load() {
		p.destroyInstance(inst)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := inst.healthCheck(ctx); err != nil {
		log.Warn().
			Str("instance_id", inst.ID()).
			Err(err).
			Msg("Instance unhealthy on release, destroying")
		p.stats.Unhealthy.Add(1)
		p.destroyInstance(inst)
		return
	}

	if err := inst.clearState(ctx); err != nil {
		log.Warn().
			Str("instance_id", inst.ID()).
			Err(err).
			Msg("Failed to clear instance state on release, destroying")
		p.destroyInstance(inst)
		return
	}

	inst.touch()

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		p.destroyInstance(inst)
		return
	}
	// Hand off directly to the longest-queued waiter; pool it only when
	// nobody is waiting.
	if !p.wakeOneLocked(inst) {
		p.idle = append(p.idle, inst)
	}
	p.mu.Unlock()

	p.stats.Released.Add(1)
	log.Debug().
		Str("instance_id", inst.ID()).
		Int64("total_released", p.stats.Released.Load()).
		Msg("Browser instance released to pool")
}

// Destroy tears down an instance the caller knows is broken, freeing its
// pool slot without attempting reuse.
func (p *Pool) Destroy(inst *Instance) {
	if inst == nil {
		return
	}
	p.destroyInstance(inst)
}

// destroyInstance tears an instance down and frees its slot.
// Repeated calls for the same instance only free the slot once.
func (p *Pool) destroyInstance(inst *Instance) {
	if !inst.destroy(destroyGracePeriod) {
		return
	}

	p.mu.Lock()
	// CleanupAll may already have reset the counter to zero while this
	// instance was checked out, so never go negative.
	if p.live > 0 {
		p.live--
	}
	p.wakeOneLocked(nil)
	p.mu.Unlock()

	p.stats.Destroyed.Add(1)
}

// evictIdle destroys every idle instance and returns how many were evicted.
// Used under memory pressure to shed footprint without touching instances
// that are mid-request.
func (p *Pool) evictIdle() int {
	p.mu.Lock()
	victims := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, inst := range victims {
		p.destroyInstance(inst)
	}
	p.stats.Evicted.Add(int64(len(victims)))
	return len(victims)
}

// CleanupAll destroys every idle instance and resets the live count to zero.
// Instances currently checked out are not touched; when they are later
// released or destroyed the count stays floored at zero.
func (p *Pool) CleanupAll() {
	p.mu.Lock()
	victims := p.idle
	p.idle = nil
	p.live = 0
	// Wake everyone; with the pool closing they return ErrPoolClosed,
	// otherwise they retry against the freed slots.
	for _, w := range p.waiters {
		w.ready <- nil
	}
	p.waiters = nil
	p.mu.Unlock()

	log.Info().Int("count", len(victims)).Msg("Destroying all pooled browser instances")

	for _, inst := range victims {
		if inst.destroy(destroyGracePeriod) {
			p.stats.Destroyed.Add(1)
		}
	}
}

// Close shuts the pool down. After Close, Acquire returns ErrPoolClosed and
// released instances are destroyed instead of pooled.
// Safe to call multiple times.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}

	log.Info().Msg("Closing browser pool")

	close(p.stopCh)
	p.wg.Wait()
	p.CleanupAll()

	log.Info().
		Int64("total_created", p.stats.Created.Load()).
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int64("total_destroyed", p.stats.Destroyed.Load()).
		Msg("Browser pool closed")
}

// overMemoryThreshold consults the memory oracle.
// Oracle failures are treated as below threshold: better to risk one more
// browser than to wedge the whole service on a metrics error.
func (p *Pool) overMemoryThreshold() (bool, uint64) {
	usedMB, err := p.oracle.ResidentMB()
	if err != nil {
		log.Warn().Err(err).Msg("Memory check failed, allowing browser launch")
		return false, 0
	}
	return usedMB > uint64(p.cfg.MemoryThresholdMB), usedMB
}

// enqueueLocked registers a waiter at the back of the line. front requeues
// a woken waiter at the head instead, keeping its arrival position. Must be
// called with mu held.
func (p *Pool) enqueueLocked(front bool) *waiter {
	w := &waiter{ready: make(chan *Instance, 1)}
	if front {
		p.waiters = append([]*waiter{w}, p.waiters...)
	} else {
		p.waiters = append(p.waiters, w)
	}
	return w
}

// wakeOneLocked serves the longest-queued waiter: inst hands an instance
// off directly, nil signals a freed slot. Reports whether a waiter was
// there to take it. Must be called with mu held.
func (p *Pool) wakeOneLocked(inst *Instance) bool {
	if len(p.waiters) == 0 {
		return false
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.ready <- inst
	return true
}

// wakeOne is wakeOneLocked for callers not holding mu. The idle sweeper
// uses it so memory-gated waiters recheck the gate even when no release
// ever comes.
func (p *Pool) wakeOne() {
	p.mu.Lock()
	p.wakeOneLocked(nil)
	p.mu.Unlock()
}

// abandonWaiter removes a waiter whose Acquire gave up. A wakeup that was
// already delivered is passed on so it is not lost.
func (p *Pool) abandonWaiter(w *waiter) {
	p.mu.Lock()
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not in the queue, so a waker already served it. Wakeups are sent
	// under mu, so the buffered value is already there.
	select {
	case inst := <-w.ready:
		if inst != nil {
			p.Release(inst)
		} else {
			p.wakeOne()
		}
	default:
	}
}

// sweepRoutine periodically destroys idle instances that have exceeded the
// idle TTL, releasing memory during quiet periods.
func (p *Pool) sweepRoutine() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			log.Debug().Msg("Idle sweeper stopping")
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			p.sweepIdle()
			p.wakeOne()
		}
	}
}

// sweepIdle destroys idle instances older than the idle TTL.
func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var keep, expired []*Instance
	for _, inst := range p.idle {
		if inst.IdleFor() > p.cfg.IdleTTL {
			expired = append(expired, inst)
		} else {
			keep = append(keep, inst)
		}
	}
	p.idle = keep
	p.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	log.Info().Int("count", len(expired)).Msg("Sweeping expired idle browser instances")
	for _, inst := range expired {
		p.destroyInstance(inst)
	}
}

// Size returns the configured pool capacity.
func (p *Pool) Size() int {
	return p.cfg.PoolSize
}

// Live returns the current number of live instances.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Idle returns the current number of idle instances.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	p.mu.Lock()
	live := p.live
	idle := len(p.idle)
	p.mu.Unlock()

	return PoolStatsSnapshot{
		Created:   p.stats.Created.Load(),
		Acquired:  p.stats.Acquired.Load(),
		Released:  p.stats.Released.Load(),
		Destroyed: p.stats.Destroyed.Load(),
		Unhealthy: p.stats.Unhealthy.Load(),
		Evicted:   p.stats.Evicted.Load(),
		Timeouts:  p.stats.Timeouts.Load(),
		Live:      live,
		Idle:      idle,
		Capacity:  p.cfg.PoolSize,
	}
}
