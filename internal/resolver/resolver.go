// Package resolver is the decision engine between canonical and delegated
// rendering.
//
// Every content request enters here. Canonical units render from local data
// through the content cache; delegated units go to the sandbox with an
// optional content offer attached. Fork failures are classified and drive a
// fallback chain: canonical re-render where possible, a structured failure
// response otherwise. In strict mode fork failures propagate unchanged so CI
// builds fail loudly.
package resolver

import (
	"context"
	"path"
	"sync"

	"github.com/conneroisu/coursegen/internal/cache"
	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/logging"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/sandbox"
	"github.com/conneroisu/coursegen/internal/vcs"
)

// Request identifies one content unit to render.
type Request struct {
	Kind       sandbox.TaskKind
	CourseSlug string

	Lesson    string
	Page      string
	Solution  *int
	Session   string
	Coverpage string
}

// Response is the outcome of a render. Exactly one of three shapes:
// content (possibly degraded), a course reference for template-driven pages,
// or a structured Failure that the presentation layer turns into a
// diagnostic page.
type Response struct {
	Content string
	Links   []string

	// Course is set for canonical course/calendar pages, which the
	// presentation layer renders from the model directly.
	Course *model.Course

	// Delegated marks content produced by the sandbox. The freezer scans
	// such pages for additional links.
	Delegated bool

	// Degraded marks a canonical fallback render after a fork failure.
	Degraded bool

	Failure *errors.RenderError
}

// Options configures a Resolver.
type Options struct {
	// RepoDir is the git working copy holding both content and code.
	RepoDir string
	// RenderingDir is the subpath whose last commit is the code revision.
	RenderingDir string
	// LessonsDir is the subpath under which lesson content lives.
	LessonsDir string
	// Strict propagates fork failures instead of downgrading them.
	Strict bool
}

// Resolver decides where content comes from and caches what it renders.
// Constructed once per process; the model root may be swapped on debug
// reload.
type Resolver struct {
	mu   sync.RWMutex
	root *model.Root

	revs    *vcs.Revisions
	cache   *cache.Service
	sandbox sandbox.Client
	opts    Options
	log     logging.Logger
}

// New creates a Resolver over the given collaborators.
func New(root *model.Root, revs *vcs.Revisions, cacheSvc *cache.Service, client sandbox.Client, opts Options, log logging.Logger) *Resolver {
	if log == nil {
		log = logging.NopLogger{}
	}
	if opts.LessonsDir == "" {
		opts.LessonsDir = "lessons"
	}
	return &Resolver{
		root:    root,
		revs:    revs,
		cache:   cacheSvc,
		sandbox: client,
		opts:    opts,
		log:     log.WithComponent("resolver"),
	}
}

// Root returns the current model root.
func (r *Resolver) Root() *model.Root {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// SetRoot swaps the model root and clears memoized revisions. Used by the
// debug reload watcher.
func (r *Resolver) SetRoot(root *model.Root) {
	r.mu.Lock()
	r.root = root
	r.mu.Unlock()
	r.revs.Reset()
}

// Render resolves one request. The returned error is reserved for failures
// that must reach the caller: unknown content units, circular delegation,
// and fork failures in strict mode. Everything else comes back as a
// Response, possibly degraded or carrying a Failure.
func (r *Resolver) Render(ctx context.Context, req Request) (*Response, error) {
	course, ok := r.Root().CourseBySlug(req.CourseSlug)
	if !ok {
		return nil, errors.NewNotFoundError(req.CourseSlug)
	}

	if course.Source.IsDelegated() {
		return r.renderDelegated(ctx, course, req)
	}
	return r.renderCanonical(ctx, course, req)
}

func (r *Resolver) renderCanonical(ctx context.Context, course *model.Course, req Request) (*Response, error) {
	switch req.Kind {
	case sandbox.TaskCourse, sandbox.TaskCalendar:
		// Template-driven pages; the presentation layer renders the model.
		return &Response{Course: course}, nil

	case sandbox.TaskCalendarICS:
		content, err := BuildICS(course)
		if err != nil {
			return nil, err
		}
		return &Response{Content: content, Course: course}, nil

	case sandbox.TaskSessionCoverpage:
		session, ok := course.Session(req.Session)
		if !ok {
			return nil, errors.NewNotFoundError(req.CourseSlug + "/sessions/" + req.Session)
		}
		content, err := session.CoverpageContent(req.Coverpage)
		if err != nil {
			return nil, errors.NewInternalError("rendering coverpage", err)
		}
		return &Response{Content: content, Course: course}, nil

	case sandbox.TaskCoursePage:
		return r.renderCanonicalPage(ctx, course, req, false)

	default:
		return nil, errors.NewInternalError("unknown request kind "+string(req.Kind), nil)
	}
}

// renderCanonicalPage renders a lesson page from local data, going through
// the content cache when a fingerprint is computable.
func (r *Resolver) renderCanonicalPage(ctx context.Context, course *model.Course, req Request, degraded bool) (*Response, error) {
	lesson, err := r.Root().GetLesson(req.Lesson)
	if err != nil {
		return nil, errors.NewNotFoundError(req.Lesson)
	}
	pageSlug := req.Page
	if pageSlug == "" {
		pageSlug = "index"
	}
	page, ok := lesson.Pages[pageSlug]
	if !ok {
		return nil, errors.NewNotFoundError(req.Lesson + "/" + pageSlug)
	}

	produce := func() (*cache.Artifact, error) {
		content, err := page.RenderHTML(req.Solution)
		if err != nil {
			return nil, errors.NewInternalError("rendering page", err)
		}
		return &cache.Artifact{Content: content}, nil
	}

	key, err := r.fingerprint(ctx, course, req)
	if err != nil {
		// No usable fingerprint (untracked path, git unavailable): render
		// uncached rather than fail.
		r.log.Debug(ctx, "rendering uncached", "lesson", req.Lesson, "reason", err.Error())
		artifact, err := produce()
		if err != nil {
			return nil, err
		}
		return &Response{Content: artifact.Content, Course: course, Degraded: degraded}, nil
	}

	artifact, err := r.cache.GetOrCreate(ctx, key, produce)
	if err != nil {
		return nil, err
	}
	return &Response{Content: artifact.Content, Links: artifact.Links, Course: course, Degraded: degraded}, nil
}

func (r *Resolver) renderDelegated(ctx context.Context, course *model.Course, req Request) (*Response, error) {
	task := sandbox.Task{
		Kind:       req.Kind,
		Repo:       course.Source.Repo,
		Ref:        course.Source.Ref,
		CourseSlug: course.Slug,
		Lesson:     req.Lesson,
		Page:       req.Page,
		Solution:   req.Solution,
		Session:    req.Session,
		Coverpage:  req.Coverpage,
	}

	// Content-offer flow: when the same unit is also canonical here, attach
	// the fingerprint of our cached copy so the fork can skip the render.
	var offerKey string
	var offered *cache.Artifact
	if req.Kind == sandbox.TaskCoursePage {
		if key, err := r.fingerprint(ctx, course, req); err == nil {
			if artifact, ok := r.cache.Get(ctx, key); ok {
				task.Offer = &sandbox.ContentOffer{Fingerprint: key}
				offered = artifact
			}
			offerKey = key
		}
	}

	result, err := r.sandbox.Render(ctx, task)
	if err != nil {
		return r.fallback(ctx, course, req, err)
	}

	if result.Content == nil {
		if offered == nil {
			return r.fallback(ctx, course, req,
				errors.NewBuildError("sandbox omitted content without an offer", nil).
					WithContext("course", course.Slug))
		}
		// Offer honored: reuse our cached artifact verbatim, but take any
		// newly discovered links the fork reported.
		links := offered.Links
		if len(result.Links) > 0 {
			links = result.Links
		}
		r.log.Debug(ctx, "content offer honored", "course", course.Slug, "lesson", req.Lesson)
		return &Response{Content: offered.Content, Links: links, Course: course, Delegated: true}, nil
	}

	// Fresh content: store it under the canonical fingerprint so future
	// requests on either side of the boundary can reuse it.
	if offerKey != "" {
		r.cache.Set(ctx, offerKey, &cache.Artifact{Content: *result.Content, Links: result.Links})
	}
	return &Response{Content: *result.Content, Links: result.Links, Course: course, Delegated: true}, nil
}

// fallback classifies a sandbox failure and applies the chain: canonical
// re-render where the unit exists locally, a structured failure response
// otherwise. Strict mode and circular delegation propagate.
func (r *Resolver) fallback(ctx context.Context, course *model.Course, req Request, cause error) (*Response, error) {
	if errors.KindOf(cause) == errors.KindCircular {
		return nil, cause
	}
	if !errors.IsForkFailure(cause) {
		return nil, cause
	}
	if r.opts.Strict {
		return nil, cause
	}

	r.log.Warn(ctx, cause, "delegated render failed",
		"course", course.Slug,
		"repo", course.Source.Repo,
		"kind", string(errors.KindOf(cause)),
	)

	if req.Kind == sandbox.TaskCoursePage {
		if _, err := r.Root().GetLesson(req.Lesson); err == nil {
			resp, err := r.renderCanonicalPage(ctx, course, req, true)
			if err == nil {
				return resp, nil
			}
			r.log.Warn(ctx, err, "canonical fallback failed", "lesson", req.Lesson)
		}
	}

	var re *errors.RenderError
	if !errors.As(cause, &re) {
		re = errors.NewInternalError("delegated render failed", cause)
	}
	return &Response{Course: course, Failure: re}, nil
}

// fingerprint builds the canonical cache key for a lesson page request. A
// not-tracked error means the unit is not canonical in the local working
// copy.
func (r *Resolver) fingerprint(ctx context.Context, course *model.Course, req Request) (string, error) {
	codeRev, err := r.revs.Latest(ctx, r.opts.RepoDir, r.opts.RenderingDir)
	if err != nil {
		return "", err
	}
	contentRev, err := r.revs.Latest(ctx, r.opts.RepoDir, path.Join(r.opts.LessonsDir, req.Lesson))
	if err != nil {
		return "", err
	}

	page := req.Page
	if page == "" {
		page = "index"
	}
	id := cache.Identity{
		Lesson:   req.Lesson,
		Page:     page,
		Solution: req.Solution,
		Vars:     r.renderVars(course, req.Lesson, page),
	}
	return cache.Fingerprint(string(req.Kind), id, codeRev, contentRev), nil
}

// renderVars is the variable set a page renders under: course vars overlaid
// with the page's own. Both parameterize the output, so both are identity.
func (r *Resolver) renderVars(course *model.Course, lessonSlug, pageSlug string) map[string]string {
	vars := course.Vars
	lesson, err := r.Root().GetLesson(lessonSlug)
	if err != nil {
		return vars
	}
	pg, ok := lesson.Pages[pageSlug]
	if !ok || len(pg.Vars) == 0 {
		return vars
	}

	merged := make(map[string]string, len(vars)+len(pg.Vars))
	for k, v := range vars {
		merged[k] = v
	}
	for k, v := range pg.Vars {
		merged[k] = v
	}
	return merged
}
