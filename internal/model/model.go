// Package model loads the canonical course data: collections of lessons,
// courses and yearly runs, each backed by YAML files in a conventional
// directory layout.
//
// Loading is an explicit two-phase build: first every entity is read from
// disk, then cross-references (derived courses, session plans, material
// page links, prev/next chains) are resolved. Nothing is computed lazily on
// attribute access.
package model

import (
	"fmt"
	"time"
)

// SourceKind distinguishes where a course's rendering happens.
type SourceKind int

const (
	// Canonical content resolves directly from local data.
	Canonical SourceKind = iota
	// Delegated content is rendered by an external repository executed in
	// the sandbox.
	Delegated
)

// ContentSource is the tagged variant deciding canonical-vs-delegated
// rendering. Repo and Ref are only meaningful for Delegated sources.
// Identity of "which variant" is immutable after load.
type ContentSource struct {
	Kind SourceKind
	Repo string
	Ref  string
}

// IsDelegated reports whether the source renders through the sandbox.
func (s ContentSource) IsDelegated() bool { return s.Kind == Delegated }

// Course is an ordered collection of sessions, either canonical or a link
// to an external fork. Delegated courses carry only their slug and source;
// title and dates come from the fork at resolve time.
type Course struct {
	Slug        string
	Title       string
	Description string
	Subtitle    string
	Vars        map[string]string
	Source      ContentSource

	// Derives names the base course whose sessions parameterize this one.
	Derives string
	Base    *Course

	Sessions []*Session
	byslug   map[string]*Session

	StartDate *time.Time
	EndDate   *time.Time

	Path string
}

// Session returns the session with the given slug.
func (c *Course) Session(slug string) (*Session, bool) {
	s, ok := c.byslug[slug]
	return s, ok
}

// Session is an ordered collection of materials taught together.
type Session struct {
	Slug      string
	Title     string
	Date      *time.Time
	StartTime *time.Time
	EndTime   *time.Time
	Materials []*Material

	Prev *Session
	Next *Session

	coursePath string
}

// Material is a link to a lesson page or an external URL.
type Material struct {
	Kind    string // "page" or "url"
	Title   string
	URLType string // "lesson", "homework", "cheatsheet", "link"

	// Page materials
	Lesson string
	Page   string
	page   *Page

	// URL materials
	URL string

	Prev *Material
	Next *Material
}

// HasNavigation reports whether the material participates in prev/next
// chaining. External URLs do not.
func (m *Material) HasNavigation() bool { return m.Kind == "page" }

// LinkedPage returns the resolved page for page materials.
func (m *Material) LinkedPage() *Page { return m.page }

// Collection groups lessons under a shared topic directory.
type Collection struct {
	Name    string
	Lessons map[string]*Lesson
	Order   []string
}

// Lesson is an individual lesson with one or more pages.
type Lesson struct {
	Slug  string // "<collection>/<name>"
	Title string
	Pages map[string]*Page
	Path  string
}

// IndexPage returns the lesson's default page.
func (l *Lesson) IndexPage() *Page { return l.Pages["index"] }

// Page is a (sub-)page of a lesson, rendered from markdown.
type Page struct {
	Slug       string
	Title      string
	Style      string
	Vars       map[string]string
	LessonSlug string

	path string
}

// Root is the base of the model.
type Root struct {
	Path        string
	Collections map[string]*Collection
	Courses     map[string]*Course // keyed by slug, e.g. "course/python-beginners"
	RunYears    map[int][]*Course
	Runs        map[string]*Course // keyed by slug, e.g. "2019/brno-jaro"

	courseOrder []string
	yearOrder   []int
}

// GetLesson resolves a "<collection>/<name>" slug to a lesson.
func (r *Root) GetLesson(slug string) (*Lesson, error) {
	collectionName, name, ok := splitSlug(slug)
	if !ok {
		return nil, fmt.Errorf("malformed lesson slug %q", slug)
	}
	collection, ok := r.Collections[collectionName]
	if !ok {
		return nil, fmt.Errorf("unknown lesson collection %q", collectionName)
	}
	lesson, ok := collection.Lessons[name]
	if !ok {
		return nil, fmt.Errorf("unknown lesson %q", slug)
	}
	return lesson, nil
}

// CourseBySlug finds a course or run by its slug.
func (r *Root) CourseBySlug(slug string) (*Course, bool) {
	if course, ok := r.Courses[slug]; ok {
		return course, true
	}
	course, ok := r.Runs[slug]
	return course, ok
}

// AllCourses returns courses in directory order.
func (r *Root) AllCourses() []*Course {
	courses := make([]*Course, 0, len(r.courseOrder))
	for _, slug := range r.courseOrder {
		courses = append(courses, r.Courses[slug])
	}
	return courses
}

// Years returns run years, newest first.
func (r *Root) Years() []int {
	years := make([]int, len(r.yearOrder))
	copy(years, r.yearOrder)
	for i, j := 0, len(years)-1; i < j; i, j = i+1, j-1 {
		years[i], years[j] = years[j], years[i]
	}
	return years
}

func splitSlug(slug string) (head, tail string, ok bool) {
	for i := 0; i < len(slug); i++ {
		if slug[i] == '/' {
			if i == 0 || i == len(slug)-1 {
				return "", "", false
			}
			return slug[:i], slug[i+1:], true
		}
	}
	return "", "", false
}
