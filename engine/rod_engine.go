package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/oklog/ulid/v2"
	"github.com/ysmood/gson"
)

// RodOptions configures how browser sessions are launched.
type RodOptions struct {
	Headless  bool
	NoSandbox bool

	// BrowserBin overrides the browser executable. Empty uses rod's
	// auto-download.
	BrowserBin string
	Proxy      string

	// Stealth injects evasion scripts into every page.
	Stealth bool

	// BlockedResources lists resource types to fail at the network layer
	// ("Image", "Stylesheet", "Font", "Media", "Script").
	BlockedResources []string
	BlockTrackers    bool

	AcceptLanguage string
	ExtraHeaders   map[string]string
}

// RodFactory launches one headless Chromium process per session.
type RodFactory struct {
	opts   RodOptions
	logger *slog.Logger
}

// NewRodFactory creates a RodFactory.
func NewRodFactory(opts RodOptions, logger *slog.Logger) *RodFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = "en-US,en;q=0.9"
	}
	return &RodFactory{opts: opts, logger: logger}
}

func (f *RodFactory) Name() string { return "rod" }

// NewSession launches a browser and connects to it.
func (f *RodFactory) NewSession(ctx context.Context) (Session, error) {
	l := launcher.New().
		Headless(f.opts.Headless).
		NoSandbox(f.opts.NoSandbox)

	if f.opts.BrowserBin != "" {
		l = l.Bin(f.opts.BrowserBin)
	}
	if f.opts.Proxy != "" {
		l = l.Proxy(f.opts.Proxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	type launched struct {
		url string
		err error
	}
	ch := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		ch <- launched{u, err}
	}()

	var controlURL string
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rod: launch browser: %w", r.err)
		}
		controlURL = r.url
	case <-ctx.Done():
		// Reap the process if the launch completes after we gave up.
		go func() {
			<-ch
			l.Kill()
			l.Cleanup()
		}()
		return nil, fmt.Errorf("rod: launch browser: %w", ctx.Err())
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("rod: connect to browser: %w", err)
	}

	s := &rodSession{
		id:       ulid.Make().String(),
		browser:  browser,
		launcher: l,
		opts:     f.opts,
		logger:   f.logger,
		done:     make(chan struct{}),
	}
	go s.watch()

	f.logger.Debug("browser launched", "session", s.id, "control_url", controlURL)
	return s, nil
}

// rodSession is a live browser process.
type rodSession struct {
	id       string
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     RodOptions
	logger   *slog.Logger

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) ID() string { return s.id }

// watch drains browser events. The event stream ends when the CDP
// connection drops, which marks the session disconnected.
func (s *rodSession) watch() {
	for range s.browser.Event() {
	}
	s.markDisconnected()
}

func (s *rodSession) markDisconnected() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *rodSession) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *rodSession) Disconnected() <-chan struct{} { return s.done }

func (s *rodSession) OpenSurface(ctx context.Context, opts SurfaceOptions) (Surface, error) {
	if !s.Connected() {
		return nil, ErrSessionDisconnected
	}

	b := s.browser.Context(ctx)

	var (
		page *rod.Page
		err  error
	)
	if s.opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("rod: open page: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("rod: set viewport: %w", err)
		}
	}

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      opts.UserAgent,
			AcceptLanguage: s.opts.AcceptLanguage,
		}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("rod: set user agent: %w", err)
		}
	}

	if len(s.opts.ExtraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(s.opts.ExtraHeaders),
		}.Call(page)
	}

	router := setupHijack(page, s.opts.BlockedResources, s.opts.BlockTrackers)

	// Strip the request context so later calls bind their own.
	return &rodSurface{page: page.Context(context.Background()), router: router}, nil
}

// TrimSurfaces closes every page beyond the first.
func (s *rodSession) TrimSurfaces(ctx context.Context) error {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return fmt.Errorf("rod: list pages: %w", err)
	}
	if len(pages) <= 1 {
		return nil
	}

	var errs []error
	for _, p := range pages[1:] {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the browser and reaps its process. Safe to call more
// than once.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.browser.Close()
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.markDisconnected()
	})
	return s.closeErr
}

// rodSurface is one browser tab.
type rodSurface struct {
	page   *rod.Page
	router *rod.HijackRouter
}

func (r *rodSurface) Navigate(ctx context.Context, url string) error {
	p := r.page.Context(ctx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (r *rodSurface) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := r.page.Context(ctx).Has(selector)
	return has, err
}

func (r *rodSurface) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := r.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return el, nil
}

func (r *rodSurface) Text(ctx context.Context, selector string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (r *rodSurface) Property(ctx context.Context, selector, name string) (string, error) {
	el, err := r.element(ctx, selector)
	if err != nil {
		return "", err
	}
	v, err := el.Property(name)
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (r *rodSurface) WaitFor(ctx context.Context, selector string) error {
	_, err := r.page.Context(ctx).Element(selector)
	return err
}

func (r *rodSurface) Click(ctx context.Context, selector string) error {
	el, err := r.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (r *rodSurface) Close() error {
	if r.router != nil {
		_ = r.router.Stop()
	}
	return r.page.Close()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
