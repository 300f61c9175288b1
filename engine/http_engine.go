package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/oklog/ulid/v2"
	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
)

// maxBody caps how much of a response the static engine reads.
const maxBody = 10 << 20

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls conn.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// newChromeTransport returns a transport whose TLS handshake mimics Chrome.
func newChromeTransport(proxy string) *http.Transport {
	t := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("static: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil {
			t.Proxy = http.ProxyURL(u)
		}
	}
	return t
}

// StaticFactory produces sessions that fetch pages over plain HTTP and
// query the parsed document. No JavaScript runs, so targets that render
// their episode markup client-side will come back absent.
type StaticFactory struct {
	client *http.Client
}

// NewStaticFactory creates a StaticFactory with a Chrome TLS fingerprint.
func NewStaticFactory(proxy string) *StaticFactory {
	return NewStaticFactoryWithClient(&http.Client{
		Transport: newChromeTransport(proxy),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	})
}

// NewStaticFactoryWithClient uses client for every request.
func NewStaticFactoryWithClient(client *http.Client) *StaticFactory {
	return &StaticFactory{client: client}
}

func (f *StaticFactory) Name() string { return "static" }

func (f *StaticFactory) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticSession{
		id:     ulid.Make().String(),
		client: f.client,
		done:   make(chan struct{}),
	}, nil
}

type staticSession struct {
	id     string
	client *http.Client
	done   chan struct{}
	once   sync.Once
}

func (s *staticSession) ID() string { return s.id }

func (s *staticSession) OpenSurface(ctx context.Context, opts SurfaceOptions) (Surface, error) {
	if !s.Connected() {
		return nil, ErrSessionDisconnected
	}
	return &staticSurface{client: s.client, userAgent: opts.UserAgent}, nil
}

// TrimSurfaces is a no-op: static surfaces hold no remote resources.
func (s *staticSession) TrimSurfaces(context.Context) error { return nil }

func (s *staticSession) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *staticSession) Disconnected() <-chan struct{} { return s.done }

func (s *staticSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// staticSurface holds the last fetched document.
type staticSurface struct {
	client    *http.Client
	userAgent string

	doc  *goquery.Document
	base *url.URL
}

func (s *staticSurface) Navigate(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("static: build request: %w", err)
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("static: do request: %w", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || !isHTMLContentType(ct) {
		return fmt.Errorf("static: non-html or error status %d (content-type: %s)", resp.StatusCode, ct)
	}

	root, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("static: parse document: %w", err)
	}

	s.doc = goquery.NewDocumentFromNode(root)
	s.base = resp.Request.URL
	return nil
}

// find compiles selector and returns its first match.
func (s *staticSurface) find(ctx context.Context, selector string) (*goquery.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("static: invalid selector %q: %w", selector, err)
	}
	return s.doc.FindMatcher(m).First(), nil
}

func (s *staticSurface) Has(ctx context.Context, selector string) (bool, error) {
	sel, err := s.find(ctx, selector)
	if err != nil {
		return false, err
	}
	return sel.Length() > 0, nil
}

func (s *staticSurface) Text(ctx context.Context, selector string) (string, error) {
	sel, err := s.find(ctx, selector)
	if err != nil {
		return "", err
	}
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}

// Property reads an attribute of the first match. URL-valued names are
// resolved against the final document URL, as a browser would.
func (s *staticSurface) Property(ctx context.Context, selector, name string) (string, error) {
	sel, err := s.find(ctx, selector)
	if err != nil {
		return "", err
	}
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	v, ok := sel.Attr(name)
	if !ok {
		return "", nil
	}
	switch name {
	case "src", "href":
		if v == "" || s.base == nil {
			return v, nil
		}
		ref, err := url.Parse(strings.TrimSpace(v))
		if err != nil {
			return v, nil
		}
		return s.base.ResolveReference(ref).String(), nil
	}
	return v, nil
}

// WaitFor succeeds immediately if the element is present. A static
// document never changes, so there is nothing to wait for.
func (s *staticSurface) WaitFor(ctx context.Context, selector string) error {
	has, err := s.Has(ctx, selector)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Click only checks the element exists.
func (s *staticSurface) Click(ctx context.Context, selector string) error {
	return s.WaitFor(ctx, selector)
}

func (s *staticSurface) Close() error {
	s.doc = nil
	return nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
