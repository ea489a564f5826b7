package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/coursegen/internal/cache"
	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/resolver"
	"github.com/conneroisu/coursegen/internal/sandbox"
	"github.com/conneroisu/coursegen/internal/vcs"
)

type stubLookup struct{}

func (stubLookup) Latest(context.Context, string, string) (string, error) { return "rev1", nil }
func (stubLookup) IsDirty(context.Context, string) (bool, error)          { return false, nil }

type scriptedClient struct {
	fn func(task sandbox.Task) (*sandbox.Result, error)
}

func (c *scriptedClient) Render(_ context.Context, task sandbox.Task) (*sandbox.Result, error) {
	if c.fn == nil {
		return nil, errors.NewBuildError("no sandbox in test", nil)
	}
	return c.fn(task)
}

func testServer(t *testing.T, client *scriptedClient) *Server {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"lessons/beginners/install/info.yml": "title: Installation\nsubpages: {linux: {title: Linux}}\n",
		"lessons/beginners/install/index.md": "# Install me\n\n![setup](static/setup.png)\n",
		"lessons/beginners/install/static/setup.png": "not really a png",
		"lessons/beginners/install/linux.md": "# On Linux\n",
		"lessons/beginners/install/solutions/index/0.md": "The answer.\n",
		"courses/demo/info.yml": `
title: Demo Course
description: Canonical demo.
plan:
  - slug: intro
    title: Intro
    date: 2026-03-05
    time: {start: "18:00", end: "20:00"}
    materials:
      - lesson: beginners/install
      - lesson: beginners/install
        page: linux
`,
		"courses/demo/sessions/intro/front.md": "Welcome!\n",
		"courses/forked/link.yml":              "repo: https://example.com/fork\nbranch: main\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	root, err := model.Load(dir)
	require.NoError(t, err)

	svc := cache.NewService(cache.NewMemoryStore(1<<20, time.Hour), nil, nil)
	res := resolver.New(root, vcs.NewRevisions(stubLookup{}, false), svc, client, resolver.Options{RepoDir: dir}, nil)

	srv, err := New(res, nil)
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, handler http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestIndexListsCoursesAndRecentRuns(t *testing.T) {
	client := &scriptedClient{fn: func(sandbox.Task) (*sandbox.Result, error) {
		return &sandbox.Result{Course: &sandbox.CourseInfo{Title: "Forked", Description: "d"}}, nil
	}}
	srv := testServer(t, client)

	rec := get(t, srv.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Demo Course")
	assert.Contains(t, rec.Body.String(), "Forked")
}

func TestCourseFrontPage(t *testing.T) {
	srv := testServer(t, &scriptedClient{})

	rec := get(t, srv.Handler(), "/course/demo/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Demo Course")
	assert.Contains(t, body, "Intro")
	assert.Contains(t, body, `href="/course/demo/beginners/install/"`)
	assert.Empty(t, rec.Header().Get(DelegateMarkerHeader))
}

func TestLessonPageAndSubpage(t *testing.T) {
	srv := testServer(t, &scriptedClient{})
	handler := srv.Handler()

	rec := get(t, handler, "/course/demo/beginners/install/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Install me")
	assert.Contains(t, rec.Body.String(), `href="/course/demo/beginners/install/linux/"`,
		"next-material navigation must point at the subpage")
	assert.Contains(t, rec.Body.String(), `href="/course/demo/beginners/install/index/solutions/0/"`,
		"pages with solutions link them")

	rec = get(t, handler, "/course/demo/beginners/install/linux/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "On Linux")
}

func TestLessonStaticAssets(t *testing.T) {
	srv := testServer(t, &scriptedClient{})
	handler := srv.Handler()

	// The page HTML references the asset by its absolute URL.
	rec := get(t, handler, "/course/demo/beginners/install/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/lessons/beginners/install/static/setup.png"`)

	rec = get(t, handler, "/lessons/beginners/install/static/setup.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not really a png", rec.Body.String())

	for _, url := range []string{
		"/lessons/beginners/install/static/missing.png",
		"/lessons/beginners/install/static/../index.md",
		"/lessons/beginners/install/setup.png",
	} {
		rec := get(t, handler, url)
		assert.Equal(t, http.StatusNotFound, rec.Code, url)
	}
}

func TestFreezeRecorderSeesLessonAssets(t *testing.T) {
	srv := testServer(t, &scriptedClient{})

	var recorded []string
	srv.URLBuilder().Recorder = func(url string) { recorded = append(recorded, url) }
	defer func() { srv.URLBuilder().Recorder = nil }()

	rec := get(t, srv.Handler(), "/course/demo/beginners/install/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, recorded, "/lessons/beginners/install/static/setup.png")
	assert.Contains(t, recorded, "/course/demo/beginners/install/index/solutions/0/",
		"solution URLs must land in the freeze queue")
}

func TestSolutionPage(t *testing.T) {
	srv := testServer(t, &scriptedClient{})

	rec := get(t, srv.Handler(), "/course/demo/beginners/install/index/solutions/0/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "The answer.")
}

func TestSessionCoverpage(t *testing.T) {
	srv := testServer(t, &scriptedClient{})
	handler := srv.Handler()

	rec := get(t, handler, "/course/demo/sessions/intro/front/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome!")

	rec = get(t, handler, "/course/demo/sessions/intro/sideways/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalendarAndICS(t *testing.T) {
	srv := testServer(t, &scriptedClient{})
	handler := srv.Handler()

	rec := get(t, handler, "/course/demo/calendar/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "March")

	rec = get(t, handler, "/course/demo/calendar.ics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
}

func TestDelegatedPageCarriesMarkerHeader(t *testing.T) {
	content := "<p>from the fork</p>"
	client := &scriptedClient{fn: func(task sandbox.Task) (*sandbox.Result, error) {
		return &sandbox.Result{Content: &content}, nil
	}}
	srv := testServer(t, client)

	rec := get(t, srv.Handler(), "/course/forked/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get(DelegateMarkerHeader))
	assert.Contains(t, rec.Body.String(), "from the fork")
}

func TestDegradedFallbackShowsWarningBanner(t *testing.T) {
	client := &scriptedClient{fn: func(sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewBuildError("fork broke", nil)
	}}
	srv := testServer(t, client)

	rec := get(t, srv.Handler(), "/course/forked/beginners/install/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "warning-banner")
	assert.Contains(t, rec.Body.String(), "Install me")
	assert.Empty(t, rec.Header().Get(DelegateMarkerHeader))
}

func TestFailedForkGetsDiagnosticPage(t *testing.T) {
	client := &scriptedClient{fn: func(task sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewPullError(task.Repo, nil)
	}}
	srv := testServer(t, client)

	rec := get(t, srv.Handler(), "/course/forked/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rendering failed")
	assert.Contains(t, rec.Body.String(), "pull")
}

func TestNotFoundRoutes(t *testing.T) {
	srv := testServer(t, &scriptedClient{})
	handler := srv.Handler()

	for _, url := range []string{
		"/course/nope/",
		"/notayear/demo/",
		"/course/demo/beginners/missing/",
	} {
		rec := get(t, handler, url)
		assert.Equal(t, http.StatusNotFound, rec.Code, url)
	}
}

func TestURLRecorderObservesBuiltURLs(t *testing.T) {
	srv := testServer(t, &scriptedClient{})

	var recorded []string
	srv.URLBuilder().Recorder = func(url string) { recorded = append(recorded, url) }
	defer func() { srv.URLBuilder().Recorder = nil }()

	rec := get(t, srv.Handler(), "/course/demo/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, recorded, "/course/demo/beginners/install/")
	assert.Contains(t, recorded, "/course/demo/sessions/intro/front/")
}

func TestStaticRoutesSeedSurface(t *testing.T) {
	srv := testServer(t, &scriptedClient{})

	routes := srv.StaticRoutes()
	assert.Contains(t, routes, "/")
	assert.Contains(t, routes, "/courses/")
	assert.Contains(t, routes, "/runs/")
	assert.Contains(t, routes, "/course/demo/")
	assert.Contains(t, routes, "/course/forked/")
}
