package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ornabmomin/poem-api/models"
)

// PoolConfig holds configuration for the session pool.
type PoolConfig struct {
	// Min is the number of sessions pre-created on initialisation and the
	// floor idle reclamation never goes below.
	Min int // default: 1

	// Max is the hard cap on live sessions.
	Max int // default: 3

	// IdleTimeout is how long an available session may sit unused before
	// it becomes eligible for reclamation.
	IdleTimeout time.Duration // default: 30s

	// AcquireTimeout bounds how long Acquire waits when the pool is full.
	AcquireTimeout time.Duration // default: 30s

	// ReclaimInterval is the period of the background maintenance sweep.
	ReclaimInterval time.Duration // default: 60s

	// ReleaseTimeout bounds page cleanup on Release.
	ReleaseTimeout time.Duration // default: 10s
}

type poolState int

const (
	stateUninitialized poolState = iota
	stateInitializing
	stateReady
	stateClosed
)

func (s poolState) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// pooled wraps a Session with pool bookkeeping. Guarded by Pool.mu.
type pooled struct {
	session   Session
	createdAt time.Time
	lastUsed  time.Time
	releasing bool
}

// Pool hands out at most Max live sessions to concurrent callers. Idle
// sessions are reused, new ones are created lazily, and callers beyond
// capacity wait in FIFO order until a session is released or the acquire
// timeout elapses.
//
// Every session is in exactly one of all∩available or all∩inUse while it
// is tracked. All membership changes happen under mu.
type Pool struct {
	cfg      PoolConfig
	factory  Factory
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     poolState
	initDone  chan struct{}
	all       map[string]*pooled
	available []*pooled // oldest release first
	inUse     map[string]*pooled
	waiters   []chan *pooled
	pending   int // creations in flight, counted against Max

	// gen is bumped by Shutdown. Creations started under an older
	// generation close their session instead of tracking it.
	gen uint64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPool creates an uninitialised pool. Call Initialize (or let the first
// Acquire do it) and Start to run the maintenance sweep.
func NewPool(cfg PoolConfig, factory Factory, observer Observer, logger *slog.Logger) *Pool {
	if cfg.Max < 1 {
		cfg.Max = 1
	}
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Min > cfg.Max {
		cfg.Min = cfg.Max
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = time.Minute
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = 10 * time.Second
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		cfg:      cfg,
		factory:  factory,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		all:      make(map[string]*pooled),
		inUse:    make(map[string]*pooled),
		done:     make(chan struct{}),
	}
}

// Initialize pre-creates Min sessions. A creation failure is logged and
// skipped. Calling it on a ready pool is a no-op; concurrent callers wait
// for the one initialisation in progress.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case stateReady:
		p.mu.Unlock()
		return nil
	case stateClosed:
		p.mu.Unlock()
		return closedError()
	case stateInitializing:
		done := p.initDone
		p.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return models.NewScrapeError(models.ErrCodeTimeout, "waiting for pool initialisation", ctx.Err())
		}
	}

	p.state = stateInitializing
	done := make(chan struct{})
	p.initDone = done
	gen := p.gen
	p.pending += p.cfg.Min
	p.mu.Unlock()

	p.logger.Info("initializing session pool",
		"engine", p.factory.Name(),
		"min", p.cfg.Min,
		"max", p.cfg.Max,
	)

	for i := 0; i < p.cfg.Min; i++ {
		s, err := p.factory.NewSession(ctx)

		p.mu.Lock()
		p.pending--
		if p.gen != gen {
			// Shut down while warming up. Release the unused slots too.
			p.pending -= p.cfg.Min - i - 1
			p.mu.Unlock()
			if err == nil {
				p.closeSession(s, ReasonShutdown)
			}
			break
		}
		if err != nil {
			p.mu.Unlock()
			p.observer.SessionCreateFailed()
			p.logger.Error("failed to pre-create session", "index", i+1, "error", err)
			continue
		}
		e := p.trackLocked(s)
		p.available = append(p.available, e)
		p.mu.Unlock()
	}

	p.mu.Lock()
	if p.gen == gen && p.state == stateInitializing {
		p.state = stateReady
	}
	total := len(p.all)
	close(done)
	p.mu.Unlock()

	p.logger.Info("session pool initialized", "sessions", total)
	return nil
}

// Acquire returns a session for exclusive use until Release. It reuses an
// available session, creates one while below Max, or waits (FIFO) for a
// release. Waiting longer than AcquireTimeout fails with POOL_EXHAUSTED;
// a creation failure fails with SESSION_CREATION_FAILED.
//
// A Shutdown that interrupts the wait or the creation makes Acquire start
// over against the re-initialised pool; only Close fails it.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	for {
		s, err := p.acquire(ctx)
		if !errors.Is(err, errPoolReset) {
			return s, err
		}
		if ctx.Err() != nil {
			return nil, models.NewScrapeError(models.ErrCodeTimeout, "acquire canceled during pool shutdown", ctx.Err())
		}
		p.logger.Debug("pool was shut down during acquire, retrying")
	}
}

func (p *Pool) acquire(ctx context.Context) (Session, error) {
	if err := p.lockReady(ctx); err != nil {
		return nil, err
	}
	// p.mu is held from here.

	if len(p.available) > 0 {
		e := p.available[0]
		p.available = p.available[1:]
		p.checkoutLocked(e)
		p.mu.Unlock()
		return e.session, nil
	}

	if len(p.all)+p.pending < p.cfg.Max {
		p.pending++
		gen := p.gen
		p.mu.Unlock()
		return p.createForCaller(ctx, gen)
	}

	ch := make(chan *pooled, 1)
	p.waiters = append(p.waiters, ch)
	queued := len(p.waiters)
	p.mu.Unlock()

	p.logger.Warn("session pool at capacity, waiting for available session",
		"max", p.cfg.Max,
		"position", queued,
	)

	start := time.Now()
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case e := <-ch:
		p.observer.AcquireWaited(time.Since(start))
		if e == nil {
			return nil, p.interruptedError()
		}
		return e.session, nil
	case <-timer.C:
		p.observer.AcquireWaited(time.Since(start))
		return p.abandonWait(ch, models.NewScrapeError(
			models.ErrCodePoolExhausted,
			"timed out waiting for an available session",
			ErrPoolExhausted,
		))
	case <-ctx.Done():
		p.observer.AcquireWaited(time.Since(start))
		return p.abandonWait(ch, models.NewScrapeError(
			models.ErrCodeTimeout,
			"acquire canceled while waiting for a session",
			ctx.Err(),
		))
	}
}

// lockReady initialises the pool if needed and returns with p.mu held and
// the pool ready.
func (p *Pool) lockReady(ctx context.Context) error {
	for {
		p.mu.Lock()
		switch p.state {
		case stateReady:
			return nil
		case stateClosed:
			p.mu.Unlock()
			return closedError()
		}
		p.mu.Unlock()

		if err := p.Initialize(ctx); err != nil {
			return err
		}
	}
}

// createForCaller creates a session on behalf of Acquire. The caller has
// already reserved a slot in p.pending under generation gen.
func (p *Pool) createForCaller(ctx context.Context, gen uint64) (Session, error) {
	s, err := p.factory.NewSession(ctx)

	p.mu.Lock()
	p.pending--
	if p.gen != gen || p.state != stateReady {
		p.mu.Unlock()
		if err == nil {
			p.closeSession(s, ReasonShutdown)
		}
		return nil, p.interruptedError()
	}
	if err != nil {
		p.replenishLocked()
		p.mu.Unlock()
		p.observer.SessionCreateFailed()
		p.logger.Error("failed to create session", "error", err)
		return nil, models.NewScrapeError(models.ErrCodeSessionCreation, "failed to acquire session from pool", err)
	}
	e := p.trackLocked(s)
	p.checkoutLocked(e)
	total := len(p.all)
	p.mu.Unlock()

	p.logger.Info("created new session", "session", s.ID(), "pool_size", total)
	return s, nil
}

// abandonWait removes a timed-out waiter. If a session was handed over
// concurrently the waiter keeps it.
func (p *Pool) abandonWait(ch chan *pooled, cause error) (Session, error) {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			if models.IsCode(cause, models.ErrCodePoolExhausted) {
				p.observer.PoolExhausted()
			}
			return nil, cause
		}
	}
	p.mu.Unlock()

	e := <-ch
	if e == nil {
		return nil, p.interruptedError()
	}
	return e.session, nil
}

// interruptedError reports why a pending acquire was cut short by a
// shutdown: errPoolReset while the pool can come back, POOL_CLOSED after
// Close.
func (p *Pool) interruptedError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateClosed {
		return closedError()
	}
	return errPoolReset
}

// Release returns a session to the pool. Releasing a session that is not
// checked out is a no-op. Disconnected sessions, and sessions whose page
// cleanup fails, are destroyed instead of being reused.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	id := s.ID()

	p.mu.Lock()
	e, ok := p.inUse[id]
	if !ok || e.session != s || e.releasing {
		p.mu.Unlock()
		return
	}
	e.releasing = true
	p.mu.Unlock()

	connected := s.Connected()
	var cleanupErr error
	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ReleaseTimeout)
		cleanupErr = s.TrimSurfaces(ctx)
		cancel()
	}

	p.mu.Lock()
	if p.all[id] != e {
		// Removed by the disconnect handler or a shutdown meanwhile.
		p.mu.Unlock()
		return
	}
	delete(p.inUse, id)
	e.releasing = false

	if !connected || cleanupErr != nil {
		p.removeLocked(e)
		p.replenishLocked()
		p.mu.Unlock()

		reason := ReasonDisconnected
		if connected {
			reason = ReasonCleanupFailed
			p.logger.Error("error cleaning up session pages", "session", id, "error", cleanupErr)
		}
		p.closeSession(s, reason)
		return
	}

	e.lastUsed = p.now()
	p.offerLocked(e)
	p.mu.Unlock()
}

// ReclaimIdle destroys available sessions idle longer than IdleTimeout,
// never taking the pool below Min. It returns the number destroyed.
func (p *Pool) ReclaimIdle() int {
	now := p.now()

	p.mu.Lock()
	var victims []*pooled
	kept := make([]*pooled, 0, len(p.available))
	for _, e := range p.available {
		if now.Sub(e.lastUsed) > p.cfg.IdleTimeout && len(p.all) > p.cfg.Min {
			delete(p.all, e.session.ID())
			victims = append(victims, e)
			continue
		}
		kept = append(kept, e)
	}
	p.available = kept
	p.mu.Unlock()

	for _, e := range victims {
		p.logger.Info("closing idle session",
			"session", e.session.ID(),
			"idle", now.Sub(e.lastUsed).Round(time.Millisecond),
		)
		p.closeSession(e.session, ReasonIdle)
	}
	return len(victims)
}

// Shutdown waits for checked-out sessions to come back until ctx is done,
// then closes every live session best-effort and resets the pool to
// uninitialised. A later Acquire re-initialises it.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down session pool")

	if !p.waitForIdle(ctx) {
		p.mu.Lock()
		stuck := len(p.inUse)
		p.mu.Unlock()
		p.logger.Warn("shutdown deadline exceeded, forcing session close", "in_use", stuck)
	}

	p.mu.Lock()
	victims := make([]*pooled, 0, len(p.all))
	for _, e := range p.all {
		victims = append(victims, e)
	}
	waiters := p.waiters
	p.gen++
	p.all = make(map[string]*pooled)
	p.inUse = make(map[string]*pooled)
	p.available = nil
	p.waiters = nil
	if p.state != stateClosed {
		p.state = stateUninitialized
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- nil
	}

	var errs []error
	for _, e := range victims {
		if err := p.closeSession(e.session, ReasonShutdown); err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Info("session pool shutdown complete", "closed", len(victims))
	return errors.Join(errs...)
}

// waitForIdle polls until no session is checked out. It reports false if
// ctx ended first.
func (p *Pool) waitForIdle(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		busy := len(p.inUse)
		p.mu.Unlock()
		if busy == 0 {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Stats returns a point-in-time snapshot.
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.PoolStats{
		Total:       len(p.all),
		Available:   len(p.available),
		InUse:       len(p.inUse),
		MaxCapacity: p.cfg.Max,
		Waiting:     len(p.waiters),
	}
}

// State returns the lifecycle state name.
func (p *Pool) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

// Start launches the background maintenance sweep (idle reclamation and
// top-up to Min). Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.maintainLoop()
	})
}

// Close stops the sweep, drains the pool like Shutdown, and makes it
// permanently unusable.
func (p *Pool) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()

	p.mu.Lock()
	p.state = stateClosed
	p.mu.Unlock()

	return p.Shutdown(ctx)
}

func (p *Pool) maintainLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.ReclaimIdle()
			p.topUp()
		}
	}
}

// topUp starts background creations until live plus pending sessions
// reach Min again, e.g. after a disconnect.
func (p *Pool) topUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateReady {
		return
	}
	for len(p.all)+p.pending < p.cfg.Min {
		p.pending++
		go p.createReplacement(p.gen)
	}
}

// replenishLocked starts one background creation when callers are waiting
// and capacity has been freed. Caller must hold p.mu.
func (p *Pool) replenishLocked() {
	if p.state != stateReady || len(p.waiters) == 0 {
		return
	}
	if len(p.all)+p.pending >= p.cfg.Max {
		return
	}
	p.pending++
	go p.createReplacement(p.gen)
}

// createReplacement creates a session in the background and offers it to
// the head waiter, or to the available set. The slot is already reserved
// under generation gen.
func (p *Pool) createReplacement(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	s, err := p.factory.NewSession(ctx)

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.mu.Unlock()
		p.observer.SessionCreateFailed()
		p.logger.Error("failed to create replacement session", "error", err)
		return
	}
	if p.gen != gen || p.state != stateReady {
		p.mu.Unlock()
		p.closeSession(s, ReasonShutdown)
		return
	}
	e := p.trackLocked(s)
	p.offerLocked(e)
	p.mu.Unlock()

	p.logger.Info("created replacement session", "session", s.ID())
}

// trackLocked registers a new session and its disconnect observer.
// Caller must hold p.mu.
func (p *Pool) trackLocked(s Session) *pooled {
	now := p.now()
	e := &pooled{session: s, createdAt: now, lastUsed: now}
	p.all[s.ID()] = e
	p.observer.SessionCreated()
	go p.watch(e)
	return e
}

// checkoutLocked moves e into the in-use set. Caller must hold p.mu.
func (p *Pool) checkoutLocked(e *pooled) {
	e.lastUsed = p.now()
	e.releasing = false
	p.inUse[e.session.ID()] = e
}

// offerLocked hands e to the longest waiter, or makes it available.
// Caller must hold p.mu.
func (p *Pool) offerLocked(e *pooled) {
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.checkoutLocked(e)
		ch <- e
		return
	}
	p.available = append(p.available, e)
}

// removeLocked drops e from every set. Caller must hold p.mu.
func (p *Pool) removeLocked(e *pooled) {
	id := e.session.ID()
	delete(p.all, id)
	delete(p.inUse, id)
	for i, a := range p.available {
		if a == e {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
}

// watch waits for the session's disconnect signal and removes it from the
// pool, whether it was available or checked out.
func (p *Pool) watch(e *pooled) {
	<-e.session.Disconnected()

	p.mu.Lock()
	if p.all[e.session.ID()] != e {
		// Already destroyed by the pool.
		p.mu.Unlock()
		return
	}
	p.removeLocked(e)
	p.replenishLocked()
	p.mu.Unlock()

	p.logger.Warn("session disconnected, removed from pool", "session", e.session.ID())
	p.closeSession(e.session, ReasonDisconnected)
}

// closeSession closes s best-effort and records its destruction.
func (p *Pool) closeSession(s Session, reason string) error {
	p.observer.SessionDestroyed(reason)
	if err := s.Close(); err != nil {
		p.logger.Error("error closing session", "session", s.ID(), "reason", reason, "error", err)
		return err
	}
	return nil
}

// errPoolReset makes Acquire start over after a non-terminal Shutdown.
var errPoolReset = errors.New("session pool was reset")

func closedError() error {
	return models.NewScrapeError(models.ErrCodePoolClosed, "session pool is shut down", ErrPoolClosed)
}
