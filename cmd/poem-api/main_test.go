package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ornabmomin/poem-api/config"
	"github.com/ornabmomin/poem-api/models"
)

const episodePage = `<!doctype html>
<html><body>
  <article>
    <h1>The Owl</h1>
    <time>March 3, 2024</time>
    <audio src="/media/owl.mp3"></audio>
  </article>
</body></html>`

const emptyPage = `<!doctype html><html><body><main>nothing here</main></body></html>`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTargets(t *testing.T, baseURL string) {
	t.Helper()
	body := fmt.Sprintf(`targets:
  - name: audio
    type: Audio Poem of the Day
    url: %[1]s/podcast
    selectors:
      title: article > h1
      date: article > time
      audio: article audio
  - name: empty
    type: Poem of the Day
    url: %[1]s/empty
    navigationTimeout: 2s
    selectors:
      audio: audio
`, baseURL)
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("POEM_TARGETS_FILE", path)
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/podcast", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, episodePage)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, emptyPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "poem-api dev\n", out)
}

func TestTargetsCommand_DefaultTargets(t *testing.T) {
	t.Setenv("POEM_TARGETS_FILE", "")

	out, err := run(t, "targets", "--json")
	require.NoError(t, err)

	var targets []config.Target
	require.NoError(t, json.Unmarshal([]byte(out), &targets))
	require.Len(t, targets, 2)
	assert.Equal(t, "Poem of the Day", targets[0].Type)
	assert.Equal(t, "Audio Poem of the Day", targets[1].Type)
}

func TestTargetsCommand_Table(t *testing.T) {
	writeTargets(t, "http://example.test")

	out, err := run(t, "targets")
	require.NoError(t, err)
	assert.Contains(t, out, "audio")
	assert.Contains(t, out, "http://example.test/empty")
	assert.Contains(t, out, "2s")
	assert.Contains(t, out, "date")
}

func TestTargetsCommand_InvalidConfig(t *testing.T) {
	t.Setenv("POEM_POOL_MIN", "5")
	t.Setenv("POEM_POOL_MAX", "2")

	_, err := run(t, "targets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool min 5 exceeds max 2")
}

func TestEpisodesCommand_StaticEngine(t *testing.T) {
	srv := newSite(t)
	writeTargets(t, srv.URL)
	t.Setenv("POEM_ENGINE", "static")
	t.Setenv("POEM_LOG_LEVEL", "error")

	out, err := run(t, "episodes", "--json")
	require.NoError(t, err)

	var episodes []models.Episode
	require.NoError(t, json.Unmarshal([]byte(out), &episodes))
	require.Len(t, episodes, 1, "the target without audio is skipped")
	assert.Equal(t, "Audio Poem of the Day", episodes[0].Type)
	assert.Equal(t, "The Owl", *episodes[0].Title)
	assert.Equal(t, "March 3, 2024", *episodes[0].Date)
	assert.Equal(t, srv.URL+"/media/owl.mp3", episodes[0].AudioSrc)
}

func TestEpisodesCommand_Table(t *testing.T) {
	srv := newSite(t)
	writeTargets(t, srv.URL)
	t.Setenv("POEM_ENGINE", "static")
	t.Setenv("POEM_LOG_LEVEL", "error")

	out, err := run(t, "episodes")
	require.NoError(t, err)
	assert.Contains(t, out, "The Owl")
	assert.True(t, strings.Contains(out, "╭"), "rounded table style")
}

func TestRenderEpisodes_NullFields(t *testing.T) {
	out := renderEpisodes([]models.Episode{{Type: "Poem of the Day", AudioSrc: "https://cdn.test/a.mp3"}})
	assert.Contains(t, out, "-")
	assert.Contains(t, out, "https://cdn.test/a.mp3")
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "info"}, &buf).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal writers get JSON")

	buf.Reset()
	newLogger(config.LogConfig{Level: "info", Format: "text"}, &buf).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())
}
