// Package enginetest provides in-memory engine implementations for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ornabmomin/poem-api/engine"
)

// Element is a node on a fake page.
type Element struct {
	Text  string
	Props map[string]string

	// RevealedBy names a selector that must be clicked before this
	// element is present. Empty means present on load.
	RevealedBy string
}

// Page is a fake document: selector -> element.
type Page struct {
	Elements map[string]Element

	// NavErr fails navigation to this page.
	NavErr error

	// NavDelay blocks navigation for this long (or until ctx is done).
	NavDelay time.Duration

	// Panic makes navigation panic.
	Panic bool
}

// Site maps URLs to pages. Unknown URLs fail navigation.
type Site map[string]Page

// Factory creates fake sessions. Fields may be set before use; the
// counters are safe for concurrent reads.
type Factory struct {
	Site Site

	// CreateDelay slows every NewSession call.
	CreateDelay time.Duration

	mu       sync.Mutex
	failures int
	failErr  error
	trimErr  error
	openErr  error
	sessions []*Session

	created atomic.Int32
	closed  atomic.Int32
}

// NewFactory returns a Factory serving site.
func NewFactory(site Site) *Factory {
	return &Factory{Site: site}
}

func (f *Factory) Name() string { return "fake" }

// FailNext makes the next n NewSession calls return err.
func (f *Factory) FailNext(n int, err error) {
	f.mu.Lock()
	f.failures = n
	f.failErr = err
	f.mu.Unlock()
}

// SetTrimError makes TrimSurfaces fail on sessions created from now on.
func (f *Factory) SetTrimError(err error) {
	f.mu.Lock()
	f.trimErr = err
	f.mu.Unlock()
}

// SetOpenError makes OpenSurface fail on sessions created from now on.
func (f *Factory) SetOpenError(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *Factory) NewSession(ctx context.Context) (engine.Session, error) {
	if f.CreateDelay > 0 {
		select {
		case <-time.After(f.CreateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}

	n := f.created.Add(1)
	s := &Session{
		id:      fmt.Sprintf("fake-%d", n),
		factory: f,
		trimErr: f.trimErr,
		openErr: f.openErr,
		done:    make(chan struct{}),
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Created returns how many sessions were successfully created.
func (f *Factory) Created() int { return int(f.created.Load()) }

// Closed returns how many sessions were closed.
func (f *Factory) Closed() int { return int(f.closed.Load()) }

// Sessions returns every session created so far.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Session is a fake engine.Session.
type Session struct {
	id      string
	factory *Factory
	trimErr error
	openErr error

	done     chan struct{}
	doneOnce sync.Once
	closed   atomic.Bool

	opened atomic.Int32
	trims  atomic.Int32
}

func (s *Session) ID() string { return s.id }

func (s *Session) OpenSurface(ctx context.Context, opts engine.SurfaceOptions) (engine.Surface, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	if !s.Connected() {
		return nil, engine.ErrSessionDisconnected
	}
	s.opened.Add(1)
	return &Surface{site: s.factory.Site, Options: opts, clicked: make(map[string]bool)}, nil
}

func (s *Session) TrimSurfaces(context.Context) error {
	s.trims.Add(1)
	return s.trimErr
}

func (s *Session) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Session) Disconnected() <-chan struct{} { return s.done }

// Disconnect simulates the remote end going away.
func (s *Session) Disconnect() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.factory.closed.Add(1)
	}
	s.Disconnect()
	return nil
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Opened returns how many surfaces were opened.
func (s *Session) Opened() int { return int(s.opened.Load()) }

// Trims returns how many times TrimSurfaces ran.
func (s *Session) Trims() int { return int(s.trims.Load()) }

// Surface is a fake engine.Surface over a Site.
type Surface struct {
	site    Site
	Options engine.SurfaceOptions

	mu      sync.Mutex
	page    *Page
	clicked map[string]bool
}

var errNotLoaded = errors.New("fake: no page loaded")

func (s *Surface) Navigate(ctx context.Context, url string) error {
	p, ok := s.site[url]
	if !ok {
		return fmt.Errorf("fake: no page at %s", url)
	}
	if p.Panic {
		panic("fake: navigation panic")
	}
	if p.NavDelay > 0 {
		select {
		case <-time.After(p.NavDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.NavErr != nil {
		return p.NavErr
	}

	s.mu.Lock()
	s.page = &p
	s.clicked = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

func (s *Surface) lookup(selector string) (Element, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Element{}, false, errNotLoaded
	}
	el, ok := s.page.Elements[selector]
	if !ok || (el.RevealedBy != "" && !s.clicked[el.RevealedBy]) {
		return Element{}, false, nil
	}
	return el, true, nil
}

func (s *Surface) Has(ctx context.Context, selector string) (bool, error) {
	_, ok, err := s.lookup(selector)
	return ok, err
}

func (s *Surface) Text(ctx context.Context, selector string) (string, error) {
	el, ok, err := s.lookup(selector)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", engine.ErrElementNotFound
	}
	return el.Text, nil
}

func (s *Surface) Property(ctx context.Context, selector, name string) (string, error) {
	el, ok, err := s.lookup(selector)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", engine.ErrElementNotFound
	}
	return el.Props[name], nil
}

// WaitFor polls until selector is present or ctx is done.
func (s *Surface) WaitFor(ctx context.Context, selector string) error {
	for {
		_, ok, err := s.lookup(selector)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (s *Surface) Click(ctx context.Context, selector string) error {
	_, ok, err := s.lookup(selector)
	if err != nil {
		return err
	}
	if !ok {
		return engine.ErrElementNotFound
	}
	s.mu.Lock()
	s.clicked[selector] = true
	s.mu.Unlock()
	return nil
}

func (s *Surface) Close() error { return nil }
