package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPoolExhausted is returned when no session became available within
	// the acquire timeout.
	ErrPoolExhausted = errors.New("session pool exhausted")
	// ErrPoolClosed is returned when the pool was shut down.
	ErrPoolClosed = errors.New("session pool is closed")
	// ErrSessionDisconnected is returned by surfaces whose session died.
	ErrSessionDisconnected = errors.New("session disconnected")
	// ErrElementNotFound is returned when a selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrNoDocument is returned when a surface is read before navigation.
	ErrNoDocument = errors.New("surface has no document loaded")
)

// Surface is one page of a session. Extraction runs against it.
type Surface interface {
	// Navigate loads url and returns once the DOM content is loaded.
	Navigate(ctx context.Context, url string) error

	// Has reports whether selector currently matches an element, without waiting.
	Has(ctx context.Context, selector string) (bool, error)

	// Text returns the trimmed text content of the first match.
	Text(ctx context.Context, selector string) (string, error)

	// Property returns a DOM property of the first match (e.g. "src", which
	// resolves to an absolute URL).
	Property(ctx context.Context, selector, name string) (string, error)

	// WaitFor blocks until selector matches an element or ctx is done.
	WaitFor(ctx context.Context, selector string) error

	// Click clicks the first match.
	Click(ctx context.Context, selector string) error

	Close() error
}

// SurfaceOptions shapes every surface a session opens.
type SurfaceOptions struct {
	Width     int
	Height    int
	UserAgent string
}

// Session is one live rendering resource. Sessions are owned by a Pool;
// callers borrow them between Acquire and Release.
type Session interface {
	ID() string

	// OpenSurface opens a fresh page configured with opts.
	OpenSurface(ctx context.Context, opts SurfaceOptions) (Surface, error)

	// TrimSurfaces closes every page except one reusable surface.
	TrimSurfaces(ctx context.Context) error

	Connected() bool

	// Disconnected is closed when the underlying connection goes away,
	// including after Close.
	Disconnected() <-chan struct{}

	Close() error
}

// Factory creates sessions.
type Factory interface {
	// Name returns the engine identifier (e.g. "rod", "static").
	Name() string

	NewSession(ctx context.Context) (Session, error)
}

// Reasons passed to Observer.SessionDestroyed.
const (
	ReasonDisconnected  = "disconnected"
	ReasonIdle          = "idle"
	ReasonCleanupFailed = "cleanup_failed"
	ReasonShutdown      = "shutdown"
)

// Observer receives pool lifecycle events. Implementations must be cheap
// and must not call back into the pool.
type Observer interface {
	SessionCreated()
	SessionCreateFailed()
	SessionDestroyed(reason string)
	AcquireWaited(d time.Duration)
	PoolExhausted()
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) SessionCreated() {}
func (NopObserver) SessionCreateFailed() {}
func (NopObserver) SessionDestroyed(string) {}
func (NopObserver) AcquireWaited(time.Duration) {}
func (NopObserver) PoolExhausted() {}
