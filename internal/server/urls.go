package server

import "fmt"

// URLs builds every site URL in one place. An optional Recorder observes
// each built URL; the freezer installs one so that every URL referenced
// while rendering a page lands in its crawl queue without re-parsing HTML.
type URLs struct {
	Recorder func(url string)
}

func (u *URLs) emit(url string) string {
	if u.Recorder != nil {
		u.Recorder(url)
	}
	return url
}

// Recording reports whether a freeze recorder is installed.
func (u *URLs) Recording() bool { return u.Recorder != nil }

// Index is the front page.
func (u *URLs) Index() string { return u.emit("/") }

// Courses lists all courses.
func (u *URLs) Courses() string { return u.emit("/courses/") }

// Runs lists all runs by year.
func (u *URLs) Runs() string { return u.emit("/runs/") }

// Course is a course or run front page. Course slugs ("course/<name>" and
// "<year>/<name>") map directly onto the URL space.
func (u *URLs) Course(slug string) string {
	return u.emit("/" + slug + "/")
}

// LessonPage is one page of a lesson in the context of a course.
func (u *URLs) LessonPage(courseSlug, lessonSlug, page string) string {
	if page == "" || page == "index" {
		return u.emit(fmt.Sprintf("/%s/%s/", courseSlug, lessonSlug))
	}
	return u.emit(fmt.Sprintf("/%s/%s/%s/", courseSlug, lessonSlug, page))
}

// LessonStatic is a static asset of a lesson, shared by every course that
// includes the lesson.
func (u *URLs) LessonStatic(lessonSlug, name string) string {
	return u.emit(fmt.Sprintf("/lessons/%s/static/%s", lessonSlug, name))
}

// Solution is one solution of a lesson page.
func (u *URLs) Solution(courseSlug, lessonSlug, page string, index int) string {
	if page == "" {
		page = "index"
	}
	return u.emit(fmt.Sprintf("/%s/%s/%s/solutions/%d/", courseSlug, lessonSlug, page, index))
}

// SessionCoverpage is a session's front or back page.
func (u *URLs) SessionCoverpage(courseSlug, session, coverpage string) string {
	return u.emit(fmt.Sprintf("/%s/sessions/%s/%s/", courseSlug, session, coverpage))
}

// Calendar is a course's calendar page.
func (u *URLs) Calendar(courseSlug string) string {
	return u.emit("/" + courseSlug + "/calendar/")
}

// CalendarICS is a course's calendar feed.
func (u *URLs) CalendarICS(courseSlug string) string {
	return u.emit("/" + courseSlug + "/calendar.ics")
}
