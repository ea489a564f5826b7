package resolver

import (
	"context"
	"time"

	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/sandbox"
)

// Entry is one row of a course or run listing. Delegated entries carry
// metadata fetched from the fork; canonical entries come from the model.
type Entry struct {
	Slug        string
	Title       string
	Description string
	Subtitle    string
	Start       *time.Time
	End         *time.Time
	Delegated   bool
}

// ListCourses enumerates all courses. Each delegated entry is evaluated
// independently: in lenient mode a failing fork is excluded and the rest of
// the listing still renders, in strict mode the first failure aborts the
// whole listing. Circular delegation aborts in either mode.
func (r *Resolver) ListCourses(ctx context.Context) ([]Entry, error) {
	return r.listEntries(ctx, r.Root().AllCourses(), false)
}

// ListRuns enumerates the runs of one year. Runs additionally require start
// and end dates; a delegated run reporting none is treated as malformed.
func (r *Resolver) ListRuns(ctx context.Context, year int) ([]Entry, error) {
	return r.listEntries(ctx, r.Root().RunYears[year], true)
}

// RecentRuns enumerates runs that are current or recently ended, across
// years, for the front page.
func (r *Resolver) RecentRuns(ctx context.Context, now time.Time) ([]Entry, error) {
	return r.listEntries(ctx, r.Root().RecentRuns(now), true)
}

func (r *Resolver) listEntries(ctx context.Context, courses []*model.Course, requireDates bool) ([]Entry, error) {
	entries := make([]Entry, 0, len(courses))
	for _, course := range courses {
		entry, err := r.listEntry(ctx, course, requireDates)
		if err != nil {
			if errors.KindOf(err) == errors.KindCircular {
				return nil, err
			}
			if r.opts.Strict {
				return nil, err
			}
			r.log.Warn(ctx, err, "excluding listing entry", "course", course.Slug)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *Resolver) listEntry(ctx context.Context, course *model.Course, requireDates bool) (Entry, error) {
	if !course.Source.IsDelegated() {
		return Entry{
			Slug:        course.Slug,
			Title:       course.Title,
			Description: course.Description,
			Subtitle:    course.Subtitle,
			Start:       course.StartDate,
			End:         course.EndDate,
		}, nil
	}

	result, err := r.sandbox.Render(ctx, sandbox.Task{
		Kind:       sandbox.TaskCourseInfo,
		Repo:       course.Source.Repo,
		Ref:        course.Source.Ref,
		CourseSlug: course.Slug,
	})
	if err != nil {
		return Entry{}, err
	}

	info := result.Course
	if info.Delegates {
		return Entry{}, errors.NewCircularError(course.Slug)
	}
	if info.Title == "" || info.Description == "" {
		return Entry{}, errors.NewBuildError("fork course info missing title or description", nil).
			WithContext("course", course.Slug)
	}

	entry := Entry{
		Slug:        course.Slug,
		Title:       info.Title,
		Description: info.Description,
		Subtitle:    info.Subtitle,
		Delegated:   true,
	}

	if info.StartDate != "" {
		start, err := time.Parse("2006-01-02", info.StartDate)
		if err != nil {
			return Entry{}, errors.NewBuildError("fork reported malformed start date", err).
				WithContext("course", course.Slug)
		}
		entry.Start = &start
	}
	if info.EndDate != "" {
		end, err := time.Parse("2006-01-02", info.EndDate)
		if err != nil {
			return Entry{}, errors.NewBuildError("fork reported malformed end date", err).
				WithContext("course", course.Slug)
		}
		entry.End = &end
	}

	if requireDates && (entry.Start == nil || entry.End == nil) {
		return Entry{}, errors.NewBuildError("fork run reports no schedule", nil).
			WithContext("course", course.Slug)
	}
	return entry, nil
}
