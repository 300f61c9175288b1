package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ornabmomin/poem-api/engine"
	"github.com/ornabmomin/poem-api/models"
)

// CacheKey is the single cache entry holding the latest episode set.
const CacheKey = "poetry-episodes"

// Task outcomes reported to the Observer.
const (
	OutcomeOK     = "ok"
	OutcomeAbsent = "absent"
	OutcomeFailed = "failed"
)

// Run outcomes reported to the Observer.
const (
	RunOK        = "ok"
	RunNoContent = "no_content"
	RunError     = "error"
)

// SessionPool lends sessions for the duration of one run.
type SessionPool interface {
	Acquire(ctx context.Context) (engine.Session, error)
	Release(s engine.Session)
}

// EpisodeCache stores the latest episode set.
type EpisodeCache interface {
	Get(key string) ([]models.Episode, bool)
	Set(key string, value []models.Episode)
	Delete(key string) bool
}

// Observer receives run events. Implementations must be cheap.
type Observer interface {
	CacheLookup(hit bool)
	TaskFinished(target, outcome string, d time.Duration)
	RunFinished(outcome string, d time.Duration)
}

// Notifier is told about every freshly scraped episode set. It must not
// block.
type Notifier interface {
	EpisodesRefreshed(runID string, episodes []models.Episode)
}

// Options configures an Orchestrator.
type Options struct {
	Pool  SessionPool
	Cache EpisodeCache

	// Tasks run sequentially in this order; results keep it.
	Tasks []Task

	// Surface shapes the page opened for each run.
	Surface engine.SurfaceOptions

	// RunTimeout bounds a whole run, including the pool wait.
	RunTimeout time.Duration // default: 2m

	Observer Observer
	Notifier Notifier
	Logger   *slog.Logger
}

// Orchestrator produces the episode set: served from cache when fresh,
// otherwise scraped with one pooled session. Concurrent misses share a
// single run.
type Orchestrator struct {
	pool       SessionPool
	cache      EpisodeCache
	tasks      []Task
	surface    engine.SurfaceOptions
	runTimeout time.Duration
	observer   Observer
	notifier   Notifier
	logger     *slog.Logger

	group    singleflight.Group
	draining atomic.Bool
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 2 * time.Minute
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		pool:       opts.Pool,
		cache:      opts.Cache,
		tasks:      opts.Tasks,
		surface:    opts.Surface,
		runTimeout: opts.RunTimeout,
		observer:   opts.Observer,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
	}
}

// GetEpisodes returns the cached episode set, or scrapes a fresh one.
//
// A scrape that yields no episode with audio fails with NO_CONTENT_FOUND
// and is not cached. Pool errors are returned unchanged. Canceling ctx
// abandons the wait but not a run other callers may share.
func (o *Orchestrator) GetEpisodes(ctx context.Context) ([]models.Episode, error) {
	if o.draining.Load() {
		return nil, models.NewScrapeError(models.ErrCodeShuttingDown, "server is shutting down", nil)
	}

	if cached, ok := o.cache.Get(CacheKey); ok {
		o.observer.CacheLookup(true)
		o.logger.Info("returning cached poetry episodes", "count", len(cached))
		return cloneEpisodes(cached), nil
	}
	o.observer.CacheLookup(false)

	ch := o.group.DoChan(CacheKey, func() (any, error) {
		// A run that finished while we were queued may have filled it.
		if cached, ok := o.cache.Get(CacheKey); ok {
			return cached, nil
		}
		return o.run(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneEpisodes(res.Val.([]models.Episode)), nil
	case <-ctx.Done():
		return nil, models.NewScrapeError(models.ErrCodeTimeout, "request canceled while scraping", ctx.Err())
	}
}

// ClearCache drops the cached episode set.
func (o *Orchestrator) ClearCache() {
	removed := o.cache.Delete(CacheKey)
	o.logger.Info("poetry cache cleared", "had_entry", removed)
}

// BeginDrain makes every later GetEpisodes fail with SHUTTING_DOWN.
// Runs already in flight complete.
func (o *Orchestrator) BeginDrain() {
	if o.draining.CompareAndSwap(false, true) {
		o.logger.Info("orchestrator draining, rejecting new runs")
	}
}

// Draining reports whether BeginDrain was called.
func (o *Orchestrator) Draining() bool {
	return o.draining.Load()
}

// run performs one scrape with a single borrowed session.
func (o *Orchestrator) run(ctx context.Context) ([]models.Episode, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	logger.Info("acquiring session from pool")
	session, err := o.pool.Acquire(ctx)
	if err != nil {
		o.observer.RunFinished(RunError, time.Since(start))
		logger.Error("failed to acquire session", "error", err)
		return nil, err
	}
	defer o.pool.Release(session)

	episodes, cause := o.runTasks(ctx, logger, session)
	if len(episodes) == 0 {
		o.observer.RunFinished(RunNoContent, time.Since(start))
		logger.Error("no episodes with audio found", "duration", time.Since(start))
		return nil, models.NewScrapeError(models.ErrCodeNoContent, "no audio poems found from any source", cause)
	}

	o.cache.Set(CacheKey, episodes)
	o.observer.RunFinished(RunOK, time.Since(start))
	logger.Info("scraped poetry episodes", "count", len(episodes), "duration", time.Since(start))

	if o.notifier != nil {
		o.notifier.EpisodesRefreshed(runID, cloneEpisodes(episodes))
	}
	return episodes, nil
}

// runTasks opens one surface on session and runs every task against it in
// order. Failures are logged and skipped. It returns the episodes that
// carry audio and the last task error, if any.
func (o *Orchestrator) runTasks(ctx context.Context, logger *slog.Logger, session engine.Session) ([]models.Episode, error) {
	surface, err := session.OpenSurface(ctx, o.surface)
	if err != nil {
		cause := categorizeError(err, "failed to open page")
		if !session.Connected() {
			cause = models.NewScrapeError(models.ErrCodeDisconnected, "session disconnected before scraping", err)
		}
		for _, t := range o.tasks {
			o.observer.TaskFinished(t.Target.Name, OutcomeFailed, 0)
		}
		logger.Error("failed to open page, every target skipped", "session", session.ID(), "error", cause)
		return nil, cause
	}
	defer func() {
		if err := surface.Close(); err != nil {
			logger.Warn("error closing page", "error", err)
		}
	}()

	var (
		episodes []models.Episode
		lastErr  error
	)
	for _, t := range o.tasks {
		taskStart := time.Now()
		ep, err := o.runTask(ctx, surface, t)
		d := time.Since(taskStart)

		switch {
		case err != nil:
			lastErr = err
			o.observer.TaskFinished(t.Target.Name, OutcomeFailed, d)
			logger.Warn("failed to scrape target", "target", t.Target.Name, "code", models.CodeOf(err), "error", err)
		case !ep.HasAudio():
			o.observer.TaskFinished(t.Target.Name, OutcomeAbsent, d)
			logger.Info("target produced no audio", "target", t.Target.Name)
		default:
			o.observer.TaskFinished(t.Target.Name, OutcomeOK, d)
			episodes = append(episodes, *ep)
		}
	}
	return episodes, lastErr
}

// runTask isolates a single task, converting panics into errors.
func (o *Orchestrator) runTask(ctx context.Context, s engine.Surface, t Task) (ep *models.Episode, err error) {
	defer func() {
		if r := recover(); r != nil {
			ep = nil
			err = models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("panic scraping %s: %v", t.Target.Name, r), nil)
		}
	}()
	return t.Extractor.Extract(ctx, s, t.Target)
}

func cloneEpisodes(in []models.Episode) []models.Episode {
	out := make([]models.Episode, len(in))
	copy(out, in)
	return out
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool) {}
func (nopObserver) TaskFinished(string, string, time.Duration) {}
func (nopObserver) RunFinished(string, time.Duration) {}
