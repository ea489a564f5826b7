package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/logging"
)

// Client renders one task in the sandbox.
type Client interface {
	Render(ctx context.Context, task Task) (*Result, error)
}

// ExecClient runs the sandbox as a subprocess, writing the task as JSON to
// its stdin and reading the result envelope from its stdout. The command is
// configurable so deployments can wrap the renderer in whatever isolation
// they use (container, jail, plain user switch).
type ExecClient struct {
	command []string
	timeout time.Duration
	log     logging.Logger
}

// NewExecClient builds a client around the given argv. The timeout bounds a
// single render, including the repository pull.
func NewExecClient(command []string, timeout time.Duration, log logging.Logger) *ExecClient {
	if log == nil {
		log = logging.NopLogger{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ExecClient{command: command, timeout: timeout, log: log}
}

// Render executes one task. All failures come back as RenderErrors so the
// resolver can drive its fallback chain off the kind alone.
func (c *ExecClient) Render(ctx context.Context, task Task) (*Result, error) {
	if len(c.command) == 0 {
		return nil, errors.NewBuildError("no sandbox command configured", nil)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, errors.NewInternalError("encoding sandbox task", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	c.log.Debug(ctx, "sandbox run finished",
		"kind", string(task.Kind),
		"course", task.CourseSlug,
		"duration", time.Since(start).String(),
	)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, errors.NewBuildError("sandbox timed out", ctx.Err()).
				WithContext("repo", task.Repo)
		}
		return nil, errors.NewBuildError("sandbox process failed", runErr).
			WithContext("repo", task.Repo).
			WithContext("stderr", tail(stderr.String(), 2000))
	}

	var env envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		return nil, errors.NewBuildError("malformed sandbox response", err).
			WithContext("repo", task.Repo)
	}

	if !env.OK {
		return nil, envelopeToError(task, env.Error)
	}
	if err := validateResult(task, env.Result); err != nil {
		return nil, err
	}
	return env.Result, nil
}

// envelopeToError maps the sandbox's reported failure kind onto the shared
// taxonomy. Unknown kinds become build failures; a lying sandbox must not
// be able to smuggle an unclassified error past the fallback chain.
func envelopeToError(task Task, e *envelopeError) error {
	if e == nil {
		return errors.NewBuildError("sandbox reported failure without detail", nil).
			WithContext("repo", task.Repo)
	}

	var re *errors.RenderError
	switch errors.Kind(e.Kind) {
	case errors.KindPull:
		re = errors.NewPullError(task.Repo, nil)
	case errors.KindDependency:
		re = errors.NewDependencyError(e.Message)
	case errors.KindNotFound:
		re = errors.NewNotFoundError(taskUnit(task))
	case errors.KindPolicy:
		re = errors.NewPolicyError(e.Message)
	case errors.KindCircular:
		re = errors.NewCircularError(task.CourseSlug)
	default:
		re = errors.NewBuildError(e.Message, nil)
	}
	if e.Message != "" && re.Message != e.Message {
		re.WithContext("detail", e.Message)
	}
	return re.WithContext("course", task.CourseSlug)
}

// validateResult enforces the trust boundary: a well-formed result, content
// present unless an offer was honored, and only root-relative links.
func validateResult(task Task, result *Result) error {
	if result == nil {
		return errors.NewBuildError("sandbox returned no result", nil).
			WithContext("course", task.CourseSlug)
	}

	if task.Kind == TaskCourseInfo {
		if result.Course == nil {
			return errors.NewBuildError("sandbox returned no course info", nil).
				WithContext("course", task.CourseSlug)
		}
		return nil
	}

	if result.Content == nil && task.Offer == nil {
		return errors.NewBuildError("sandbox returned no content and no offer was made", nil).
			WithContext("course", task.CourseSlug)
	}

	for _, link := range result.Links {
		if !strings.HasPrefix(link, "/") || strings.Contains(link, "..") {
			return errors.NewPolicyError("sandbox emitted a non-root-relative link").
				WithContext("course", task.CourseSlug).
				WithContext("link", link)
		}
	}
	return nil
}

func taskUnit(task Task) string {
	parts := []string{task.CourseSlug}
	if task.Lesson != "" {
		parts = append(parts, task.Lesson)
	}
	if task.Page != "" {
		parts = append(parts, task.Page)
	}
	if task.Session != "" {
		parts = append(parts, task.Session)
	}
	return strings.Join(parts, "/")
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
