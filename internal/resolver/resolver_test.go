package resolver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/coursegen/internal/cache"
	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/sandbox"
	"github.com/conneroisu/coursegen/internal/vcs"
)

// stubLookup serves fixed revisions without touching git.
type stubLookup struct {
	rev   string
	dirty bool
}

func (s stubLookup) Latest(context.Context, string, string) (string, error) { return s.rev, nil }
func (s stubLookup) IsDirty(context.Context, string) (bool, error)          { return s.dirty, nil }

// spyClient scripts sandbox responses and counts invocations.
type spyClient struct {
	calls int
	fn    func(task sandbox.Task) (*sandbox.Result, error)
}

func (s *spyClient) Render(_ context.Context, task sandbox.Task) (*sandbox.Result, error) {
	s.calls++
	if s.fn == nil {
		return nil, errors.NewBuildError("no script", nil)
	}
	return s.fn(task)
}

// countingStore counts raw backend operations under the cache service and
// remembers the keys written.
type countingStore struct {
	store cache.Store
	gets  int
	sets  int
	keys  []string
}

func (c *countingStore) Get(key string) ([]byte, bool, error) {
	c.gets++
	return c.store.Get(key)
}

func (c *countingStore) Set(key string, value []byte) error {
	c.sets++
	c.keys = append(c.keys, key)
	return c.store.Set(key, value)
}

func (c *countingStore) Close() error { return c.store.Close() }

func testRoot(t *testing.T, extra map[string]string) *model.Root {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"lessons/beginners/install/info.yml": "title: Installation\n",
		"lessons/beginners/install/index.md": "# Install v1\n",
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
`,
		"courses/forked/link.yml": "repo: https://example.com/fork\nbranch: main\n",
	}
	for k, v := range extra {
		files[k] = v
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	root, err := model.Load(dir)
	require.NoError(t, err)
	return root
}

type fixture struct {
	resolver *Resolver
	client   *spyClient
	store    *countingStore
	root     *model.Root
}

func newFixture(t *testing.T, strict bool, dirty bool) *fixture {
	t.Helper()
	root := testRoot(t, nil)
	client := &spyClient{}
	store := &countingStore{store: cache.NewMemoryStore(1<<20, time.Hour)}

	var dirtyFn cache.DirtyFunc
	if dirty {
		dirtyFn = func(context.Context) bool { return true }
	}
	svc := cache.NewService(store, dirtyFn, nil)
	revs := vcs.NewRevisions(stubLookup{rev: "abc123"}, false)

	r := New(root, revs, svc, client, Options{
		RepoDir:      "/srv/data",
		RenderingDir: "renderer",
		Strict:       strict,
	}, nil)
	return &fixture{resolver: r, client: client, store: store, root: root}
}

func pageRequest(course string) Request {
	return Request{Kind: sandbox.TaskCoursePage, CourseSlug: course, Lesson: "beginners/install"}
}

func TestCanonicalPageServedFromCacheOnSecondRender(t *testing.T) {
	f := newFixture(t, false, false)
	ctx := context.Background()

	first, err := f.resolver.Render(ctx, pageRequest("course/demo"))
	require.NoError(t, err)
	assert.Contains(t, first.Content, "Install v1")

	// Change the file without changing revisions: equal fingerprints mean
	// the cached artifact is reused.
	lesson, err := f.root.GetLesson("beginners/install")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(lesson.Path, "index.md"), []byte("# Install v2\n"), 0o644))

	second, err := f.resolver.Render(ctx, pageRequest("course/demo"))
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
	assert.Zero(t, f.client.calls, "canonical renders never touch the sandbox")
}

func TestPageVarsAreCacheIdentity(t *testing.T) {
	keyFor := func(info string) string {
		root := testRoot(t, map[string]string{"lessons/beginners/install/info.yml": info})
		store := &countingStore{store: cache.NewMemoryStore(1<<20, time.Hour)}
		svc := cache.NewService(store, nil, nil)
		r := New(root, vcs.NewRevisions(stubLookup{rev: "abc123"}, false), svc, &spyClient{}, Options{}, nil)

		_, err := r.Render(context.Background(), pageRequest("course/demo"))
		require.NoError(t, err)
		require.Len(t, store.keys, 1)
		return store.keys[0]
	}

	plain := keyFor("title: Installation\n")
	withVars := keyFor("title: Installation\nvars: {editor: vim}\n")
	assert.NotEqual(t, plain, withVars, "pages rendered under different vars must not share artifacts")
}

func TestDirtyWorkingCopySkipsCacheEntirely(t *testing.T) {
	f := newFixture(t, false, true)
	ctx := context.Background()

	_, err := f.resolver.Render(ctx, pageRequest("course/demo"))
	require.NoError(t, err)
	_, err = f.resolver.Render(ctx, pageRequest("course/demo"))
	require.NoError(t, err)

	assert.Zero(t, f.store.gets)
	assert.Zero(t, f.store.sets)
}

func TestDelegatedRenderStoresUnderCanonicalFingerprint(t *testing.T) {
	f := newFixture(t, false, false)
	ctx := context.Background()

	content := "<p>fork render</p>"
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		assert.Equal(t, "https://example.com/fork", task.Repo)
		assert.Equal(t, "main", task.Ref)
		return &sandbox.Result{Content: &content, Links: []string{"/course/forked/extra/"}}, nil
	}

	resp, err := f.resolver.Render(ctx, pageRequest("course/forked"))
	require.NoError(t, err)
	assert.True(t, resp.Delegated)
	assert.Equal(t, content, resp.Content)
	assert.Equal(t, []string{"/course/forked/extra/"}, resp.Links)
	assert.Positive(t, f.store.sets, "fresh fork content must land in the cache")
}

func TestContentOfferHonoredReusesCachedArtifact(t *testing.T) {
	f := newFixture(t, false, false)
	ctx := context.Background()

	content := "<p>fork render</p>"
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		assert.Nil(t, task.Offer, "first render has nothing to offer")
		return &sandbox.Result{Content: &content}, nil
	}
	first, err := f.resolver.Render(ctx, pageRequest("course/forked"))
	require.NoError(t, err)

	var offeredFingerprint string
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		require.NotNil(t, task.Offer, "cached artifact must be offered")
		offeredFingerprint = task.Offer.Fingerprint
		return &sandbox.Result{Content: nil}, nil
	}
	second, err := f.resolver.Render(ctx, pageRequest("course/forked"))
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.True(t, second.Delegated)
	assert.Contains(t, offeredFingerprint, "commit:abc123:content:")
	assert.Equal(t, 2, f.client.calls)
}

func TestFallbackToCanonicalOnBuildFailure(t *testing.T) {
	f := newFixture(t, false, false)
	f.client.fn = func(sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewBuildError("fork build exploded", nil)
	}

	resp, err := f.resolver.Render(context.Background(), pageRequest("course/forked"))
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.False(t, resp.Delegated)
	assert.Contains(t, resp.Content, "Install v1")
	assert.Nil(t, resp.Failure)
}

func TestStrictModePropagatesBuildFailure(t *testing.T) {
	f := newFixture(t, true, false)
	f.client.fn = func(sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewBuildError("fork build exploded", nil)
	}

	_, err := f.resolver.Render(context.Background(), pageRequest("course/forked"))
	require.Error(t, err)
	assert.Equal(t, errors.KindBuild, errors.KindOf(err))
}

func TestFailureResponseWhenNoCanonicalFallback(t *testing.T) {
	f := newFixture(t, false, false)
	f.client.fn = func(sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewPullError("https://example.com/fork", nil)
	}

	resp, err := f.resolver.Render(context.Background(), Request{
		Kind: sandbox.TaskCourse, CourseSlug: "course/forked",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, errors.KindPull, resp.Failure.Kind)
	assert.Empty(t, resp.Content)
}

func TestUnknownCourseIsNotFound(t *testing.T) {
	f := newFixture(t, false, false)

	_, err := f.resolver.Render(context.Background(), Request{
		Kind: sandbox.TaskCourse, CourseSlug: "course/nope",
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestListCoursesLenientExcludesBrokenFork(t *testing.T) {
	f := newFixture(t, false, false)
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewPullError(task.Repo, nil)
	}

	entries, err := f.resolver.ListCourses(context.Background())
	require.NoError(t, err)

	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		titles = append(titles, e.Title)
	}
	assert.Contains(t, titles, "Demo Course")
	for _, e := range entries {
		assert.NotEqual(t, "course/forked", e.Slug)
	}
}

func TestListCoursesIncludesWorkingFork(t *testing.T) {
	f := newFixture(t, false, false)
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		return &sandbox.Result{Course: &sandbox.CourseInfo{
			Title: "Forked Course", Description: "Maintained elsewhere.",
		}}, nil
	}

	entries, err := f.resolver.ListCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Forked Course", entries[1].Title)
	assert.True(t, entries[1].Delegated)
}

func TestListCoursesStrictPropagates(t *testing.T) {
	f := newFixture(t, true, false)
	f.client.fn = func(task sandbox.Task) (*sandbox.Result, error) {
		return nil, errors.NewDependencyError("fork pins incompatible versions")
	}

	_, err := f.resolver.ListCourses(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindDependency, errors.KindOf(err))
}

func TestCircularDelegationAlwaysFatal(t *testing.T) {
	for _, strict := range []bool{false, true} {
		f := newFixture(t, strict, false)
		f.client.fn = func(sandbox.Task) (*sandbox.Result, error) {
			return &sandbox.Result{Course: &sandbox.CourseInfo{
				Title: "X", Description: "Y", Delegates: true,
			}}, nil
		}

		_, err := f.resolver.ListCourses(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindCircular, errors.KindOf(err))
	}
}

func TestCircularFromSandboxEnvelopeNeverDegrades(t *testing.T) {
	// End to end through the exec client: a fork reporting circular
	// delegation on the wire must propagate, never fall back to a canonical
	// render. Lenient mode is the interesting case.
	root := testRoot(t, nil)
	client := sandbox.NewExecClient(
		[]string{"sh", "-c", `cat >/dev/null; printf '%s' '{"ok":false,"error":{"kind":"circular","message":"link points at a link"}}'`},
		10*time.Second, nil,
	)
	svc := cache.NewService(cache.NewMemoryStore(1<<20, time.Hour), nil, nil)
	r := New(root, vcs.NewRevisions(stubLookup{rev: "abc123"}, false), svc, client, Options{}, nil)

	resp, err := r.Render(context.Background(), pageRequest("course/forked"))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, errors.KindCircular, errors.KindOf(err))
}

func TestListRunsRequireDates(t *testing.T) {
	root := testRoot(t, map[string]string{
		"runs/2026/linked/link.yml": "repo: https://example.com/run\nbranch: main\n",
	})
	client := &spyClient{fn: func(sandbox.Task) (*sandbox.Result, error) {
		return &sandbox.Result{Course: &sandbox.CourseInfo{
			Title: "Dateless", Description: "No schedule.",
		}}, nil
	}}
	svc := cache.NewService(cache.NewMemoryStore(1<<20, time.Hour), nil, nil)
	r := New(root, vcs.NewRevisions(stubLookup{rev: "abc123"}, false), svc, client, Options{}, nil)

	entries, err := r.ListRuns(context.Background(), 2026)
	require.NoError(t, err)
	assert.Empty(t, entries, "a run without dates is excluded in lenient mode")
}
