package scraper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/engine"
	"github.com/ornabmomin/poem-api/models"
)

// Extractor turns one target page into an episode. A nil episode with a
// nil error means the target was reachable but had no playable audio.
type Extractor interface {
	Extract(ctx context.Context, s engine.Surface, t config.Target) (*models.Episode, error)
}

// Task pairs a target with the extractor that reads it.
type Task struct {
	Target    config.Target
	Extractor Extractor
}

// TasksFor builds one task per target, all using ex, in target order.
func TasksFor(targets []config.Target, ex Extractor) []Task {
	tasks := make([]Task, len(targets))
	for i, t := range targets {
		tasks[i] = Task{Target: t, Extractor: ex}
	}
	return tasks
}

// SelectorExtractor reads episodes with CSS selectors.
//
// Sequence per target:
//
//  1. Navigate    – bounded by the target's navigation timeout
//  2. Settle      – fixed pause for client-side rendering
//  3. Optionals   – title, description, date; a failed read yields null
//  4. Reveal      – click the reveal element if configured; missing => absent
//  5. Audio       – wait (bounded) for the audio element, read its src
//
// Only navigation and reveal errors fail the task. Everything else
// degrades to a null field or an absent result.
type SelectorExtractor struct {
	logger *slog.Logger
}

// NewSelectorExtractor creates a SelectorExtractor.
func NewSelectorExtractor(logger *slog.Logger) *SelectorExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelectorExtractor{logger: logger}
}

func (x *SelectorExtractor) Extract(ctx context.Context, s engine.Surface, t config.Target) (*models.Episode, error) {
	// ── 1. Navigate ──────────────────────────────────────────────────
	err := withActionTimeout(ctx, t.NavigationTimeout, func(ctx context.Context) error {
		return s.Navigate(ctx, t.URL)
	})
	if err != nil {
		return nil, categorizeError(err, "navigation to "+t.Name+" failed")
	}

	// ── 2. Settle ────────────────────────────────────────────────────
	if err := pause(ctx, t.SettleDelay); err != nil {
		return nil, categorizeError(err, "canceled while waiting for "+t.Name+" to render")
	}

	// ── 3. Optional fields ───────────────────────────────────────────
	ep := &models.Episode{
		Type:        t.Type,
		Title:       readOptional(ctx, s, t.Selectors.Title),
		Description: readOptional(ctx, s, t.Selectors.Description),
		Date:        readOptional(ctx, s, t.Selectors.Date),
	}
	ep.NullDate = t.Selectors.Date != "" && ep.Date == nil

	// ── 4. Reveal ────────────────────────────────────────────────────
	if t.Selectors.Reveal != "" {
		found, err := execReveal(ctx, s, t.Selectors.Reveal)
		if err != nil {
			return nil, categorizeError(err, "reveal step on "+t.Name+" failed")
		}
		if !found {
			x.logger.Debug("reveal element not found", "target", t.Name)
			return nil, nil
		}
		if err := pause(ctx, t.RevealDelay); err != nil {
			return nil, categorizeError(err, "canceled after reveal on "+t.Name)
		}
	}

	// ── 5. Audio ─────────────────────────────────────────────────────
	ep.AudioSrc = readAudio(ctx, s, t.Selectors.Audio, t.AudioWait)
	if !ep.HasAudio() {
		x.logger.Debug("no audio source found", "target", t.Name)
		return nil, nil
	}

	x.logger.Info("scraped episode", "target", t.Name, "has_title", ep.Title != nil)
	return ep, nil
}

// categorizeError wraps raw errors into typed ScrapeErrors.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, msg+": canceled", err)
	case errors.Is(err, engine.ErrSessionDisconnected):
		return models.NewScrapeError(models.ErrCodeDisconnected, msg, err)
	default:
		return models.NewScrapeError(models.ErrCodeExtraction, msg, err)
	}
}
