package scraper_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/engine"
	"github.com/ornabmomin/poem-api/engine/enginetest"
	"github.com/ornabmomin/poem-api/models"
	"github.com/ornabmomin/poem-api/scraper"
)

func openFake(t *testing.T, site enginetest.Site) engine.Surface {
	t.Helper()
	s, err := enginetest.NewFactory(site).NewSession(context.Background())
	require.NoError(t, err)
	surface, err := s.OpenSurface(context.Background(), engine.SurfaceOptions{})
	require.NoError(t, err)
	return surface
}

func revealTarget() config.Target {
	return config.Target{
		Name: "reveal",
		Type: "Poem of the Day",
		URL:  urlA,
		Selectors: config.Selectors{
			Title:  "h1",
			Audio:  "audio",
			Reveal: "button.listen",
		},
		NavigationTimeout: time.Second,
		AudioWait:         100 * time.Millisecond,
	}
}

func TestSelectorExtractor_RevealsAudio(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlA: {Elements: map[string]enginetest.Element{
		"h1":            {Text: "Ode"},
		"button.listen": {Text: "Listen"},
		"audio":         {Props: map[string]string{"src": "https://cdn.test/ode.mp3"}, RevealedBy: "button.listen"},
	}}})

	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, revealTarget())
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "https://cdn.test/ode.mp3", ep.AudioSrc)
	assert.Equal(t, "Ode", *ep.Title)
}

func TestSelectorExtractor_MissingRevealIsAbsent(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlA: {Elements: map[string]enginetest.Element{
		"h1":    {Text: "Ode"},
		"audio": {Props: map[string]string{"src": "https://cdn.test/ode.mp3"}},
	}}})

	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, revealTarget())
	assert.NoError(t, err)
	assert.Nil(t, ep)
}

func TestSelectorExtractor_AudioNeverAppearsIsAbsent(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlA: {Elements: map[string]enginetest.Element{
		"button.listen": {Text: "Listen"},
	}}})

	start := time.Now()
	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, revealTarget())
	assert.NoError(t, err)
	assert.Nil(t, ep)
	assert.Less(t, time.Since(start), time.Second, "audio wait is bounded")
}

func TestSelectorExtractor_NavigationErrorFails(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlA: {NavErr: fmt.Errorf("dns failure")}})

	_, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, revealTarget())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeExtraction, models.CodeOf(err))
}

const staticEpisodeHTML = `<!doctype html>
<html><head><title>Audio Poem of the Day</title></head>
<body>
  <article>
    <header><h1><p> The Owl </p></h1><time>March 3, 2024</time></header>
    <div class="copy"><p>A reading.</p></div>
    <div class="player"><audio src="/media/owl.mp3"></audio></div>
  </article>
</body></html>`

func TestSelectorExtractor_StaticEngine(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, staticEpisodeHTML)
	}))
	defer srv.Close()

	factory := engine.NewStaticFactoryWithClient(srv.Client())
	session, err := factory.NewSession(context.Background())
	require.NoError(t, err)
	surface, err := session.OpenSurface(context.Background(), engine.SurfaceOptions{UserAgent: config.DefaultUserAgent})
	require.NoError(t, err)
	defer surface.Close()

	target := config.Target{
		Name: "audio",
		Type: "Audio Poem of the Day",
		URL:  srv.URL + "/podcasts/audio-pod",
		Selectors: config.Selectors{
			Title:       "article > header > h1 > p",
			Description: "article div.copy > p",
			Date:        "article > header > time",
			Audio:       "article div.player audio",
		},
		NavigationTimeout: time.Second,
	}

	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, target)
	require.NoError(t, err)
	require.NotNil(t, ep)

	assert.Equal(t, "The Owl", *ep.Title)
	assert.Equal(t, "A reading.", *ep.Description)
	assert.Equal(t, "March 3, 2024", *ep.Date)
	assert.Equal(t, srv.URL+"/media/owl.mp3", ep.AudioSrc, "src resolves against the page URL")
	assert.Equal(t, config.DefaultUserAgent, gotUA)
}

func TestSelectorExtractor_EmptyTextIsNotNull(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlB: {Elements: map[string]enginetest.Element{
		"h1":    {Text: ""},
		"audio": {Props: map[string]string{"src": "https://cdn.test/b.mp3"}},
	}}})

	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, targetB())
	require.NoError(t, err)
	require.NotNil(t, ep)
	require.NotNil(t, ep.Title, "an element without text reads as an empty string")
	assert.Equal(t, "", *ep.Title)
	assert.Nil(t, ep.Date, "a missing element reads as null")
	assert.True(t, ep.NullDate, "a configured date selector keeps the date key")
}

func TestSelectorExtractor_NoDateSelectorOmitsDate(t *testing.T) {
	surface := openFake(t, enginetest.Site{urlA: pageWithAudio("First", "https://cdn.test/a.mp3")})

	ep, err := scraper.NewSelectorExtractor(discard).Extract(context.Background(), surface, targetA())
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Nil(t, ep.Date)
	assert.False(t, ep.NullDate)
}
