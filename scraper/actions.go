package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ornabmomin/poem-api/engine"
)

// actionTimeout is the per-read deadline for steps without their own.
const actionTimeout = 5 * time.Second

// withActionTimeout bounds a single surface step.
func withActionTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		d = actionTimeout
	}
	actionCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(actionCtx)
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readOptional reads the text of selector, returning nil when the selector
// is unset, matches nothing or the read fails. An element with no text
// reads as "".
func readOptional(ctx context.Context, s engine.Surface, selector string) *string {
	if selector == "" {
		return nil
	}
	var text string
	err := withActionTimeout(ctx, actionTimeout, func(ctx context.Context) error {
		var err error
		text, err = s.Text(ctx, selector)
		return err
	})
	if err != nil {
		return nil
	}
	return &text
}

// execReveal clicks selector. It reports false without error when the
// element is not on the page.
func execReveal(ctx context.Context, s engine.Surface, selector string) (bool, error) {
	var found bool
	err := withActionTimeout(ctx, actionTimeout, func(ctx context.Context) error {
		var err error
		found, err = s.Has(ctx, selector)
		if err != nil || !found {
			return err
		}
		return s.Click(ctx, selector)
	})
	if err != nil {
		if errors.Is(err, engine.ErrElementNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("reveal %q: %w", selector, err)
	}
	return found, nil
}

// readAudio waits up to wait for selector, then reads its src property.
// It returns "" when the element never appears or carries no source.
func readAudio(ctx context.Context, s engine.Surface, selector string, wait time.Duration) string {
	if wait > 0 {
		err := withActionTimeout(ctx, wait, func(ctx context.Context) error {
			return s.WaitFor(ctx, selector)
		})
		if err != nil {
			return ""
		}
	}

	var src string
	err := withActionTimeout(ctx, actionTimeout, func(ctx context.Context) error {
		var err error
		src, err = s.Property(ctx, selector, "src")
		return err
	})
	if err != nil {
		return ""
	}
	return src
}
