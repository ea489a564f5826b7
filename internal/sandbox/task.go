// Package sandbox talks to the isolated renderer that executes delegated
// course repositories. The host never imports fork code; it serializes a
// task describing one content unit, runs the sandbox command, and reads a
// typed result envelope back. Everything crossing this boundary is
// validated before any other component may see it.
package sandbox

// TaskKind names the content unit a task asks the sandbox to render.
type TaskKind string

const (
	// TaskCourse renders a course front page.
	TaskCourse TaskKind = "course"
	// TaskCoursePage renders one lesson page (optionally one of its
	// solutions) in the context of a course.
	TaskCoursePage TaskKind = "course_page"
	// TaskSessionCoverpage renders a session's front or back coverpage.
	TaskSessionCoverpage TaskKind = "session_coverpage"
	// TaskCalendar renders a course's session calendar page.
	TaskCalendar TaskKind = "calendar"
	// TaskCalendarICS renders a course's calendar in iCalendar format.
	TaskCalendarICS TaskKind = "calendar_ics"
	// TaskCourseInfo fetches course metadata only, for listings.
	TaskCourseInfo TaskKind = "course_info"
)

// ContentOffer tells the sandbox the host already has a cached artifact for
// the given fingerprint. The sandbox may answer with a nil Content to mean
// "your copy is current", skipping the expensive render.
type ContentOffer struct {
	Fingerprint string `json:"fingerprint"`
}

// Task is the host's request to the sandbox. Repo and Ref identify the
// delegated repository; the remaining fields narrow the task down to one
// content unit.
type Task struct {
	Kind TaskKind `json:"kind"`

	Repo string `json:"repo"`
	Ref  string `json:"ref"`

	CourseSlug string `json:"course_slug"`
	Lesson     string `json:"lesson,omitempty"`
	Page       string `json:"page,omitempty"`
	Solution   *int   `json:"solution,omitempty"`
	Session    string `json:"session,omitempty"`
	Coverpage  string `json:"coverpage,omitempty"`

	Offer *ContentOffer `json:"offer,omitempty"`
}

// CourseInfo is the metadata a fork reports about its course.
type CourseInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Subtitle    string `json:"subtitle,omitempty"`

	// Dates are "2006-01-02" strings; empty when the fork's course has no
	// scheduled sessions.
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	// Delegates reports that the fork's course is itself only a link to
	// another repository. The resolver treats this as a fatal configuration
	// error rather than following the chain.
	Delegates bool `json:"delegates,omitempty"`
}

// Result is the payload of a successful sandbox run. Content is nil when
// the sandbox honored a content offer and the host should reuse its cached
// artifact, links included.
type Result struct {
	Content *string     `json:"content"`
	Links   []string    `json:"links,omitempty"`
	Course  *CourseInfo `json:"course,omitempty"`
}

// envelope is the wire frame around every sandbox response.
type envelope struct {
	OK     bool           `json:"ok"`
	Error  *envelopeError `json:"error,omitempty"`
	Result *Result        `json:"result,omitempty"`
}

type envelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
