// Package server is the HTTP presentation layer: routing, templates and the
// URL builders whose invocations the freezer records.
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/logging"
	"github.com/conneroisu/coursegen/internal/model"
	"github.com/conneroisu/coursegen/internal/resolver"
	"github.com/conneroisu/coursegen/internal/sandbox"
)

//go:embed templates/*.html
var templateFS embed.FS

// DelegateMarkerHeader marks responses whose HTML was produced by a
// delegated repository. The freezer scans marked pages for extra links.
const DelegateMarkerHeader = "X-Rendered-From-Delegate"

// Server serves the rendered site.
type Server struct {
	resolver *resolver.Resolver
	urls     *URLs
	tmpl     *template.Template
	log      logging.Logger
}

// New builds a Server over the resolver.
func New(res *resolver.Resolver, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NopLogger{}
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Server{
		resolver: res,
		urls:     &URLs{},
		tmpl:     tmpl,
		log:      log.WithComponent("server"),
	}, nil
}

// URLBuilder exposes the shared URL builder so the freezer can install its
// recorder. Only the single-threaded freezer may mutate the Recorder.
func (s *Server) URLBuilder() *URLs { return s.urls }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /courses/{$}", s.handleCourses)
	mux.HandleFunc("GET /runs/{$}", s.handleRuns)

	// Courses live at /course/<name>/ and runs at /<year>/<name>/; both
	// shapes share one pattern set, with courseSlug telling them apart.
	const head = "/{head}/{name}"
	mux.HandleFunc("GET "+head+"/{$}", s.handleCourse)
	mux.HandleFunc("GET "+head+"/calendar/{$}", s.handleCalendar)
	mux.HandleFunc("GET "+head+"/calendar.ics", s.handleCalendarICS)
	mux.HandleFunc("GET "+head+"/sessions/{session}/{coverpage}/{$}", s.handleCoverpage)
	mux.HandleFunc("GET "+head+"/{collection}/{lesson}/{$}", s.handleLessonPage)
	mux.HandleFunc("GET "+head+"/{collection}/{lesson}/{page}/{$}", s.handleLessonPage)
	mux.HandleFunc("GET "+head+"/{collection}/{lesson}/{page}/solutions/{n}/{$}", s.handleSolution)

	// Lesson static assets live outside the pattern grammar above; the
	// /lessons/ namespace would collide with the course patterns if it were
	// registered on the same mux.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if rest, ok := strings.CutPrefix(r.URL.Path, "/lessons/"); ok {
				s.handleLessonStatic(w, r, rest)
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// handleLessonStatic serves /lessons/<collection>/<lesson>/static/<name>.
func (s *Server) handleLessonStatic(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) != 4 || parts[2] != "static" || parts[3] == "" {
		http.NotFound(w, r)
		return
	}
	path, err := s.resolver.StaticFile(parts[0]+"/"+parts[1], parts[3])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// StaticRoutes enumerates the statically known URL surface used to seed a
// freeze: the top-level listings and every course and run front page. All
// deeper URLs are discovered through the URL recorder and link harvesting.
func (s *Server) StaticRoutes() []string {
	routes := []string{"/", "/courses/", "/runs/"}
	root := s.resolver.Root()
	for _, course := range root.AllCourses() {
		routes = append(routes, "/"+course.Slug+"/")
	}
	for slug := range root.Runs {
		routes = append(routes, "/"+slug+"/")
	}
	return routes
}

// page is the template context shared by all views.
type page struct {
	Title    string
	Degraded bool
	URL      *URLs

	Content template.HTML
	Course  *model.Course
	Session *model.Session
	Failure *errors.RenderError

	Entries []resolver.Entry
	Recent  []resolver.Entry
	Years   []yearRuns
	Months  []calendarMonth

	PrevURL, NextURL string
	SolutionURLs     []string
	HasCalendar      bool
}

type yearRuns struct {
	Year    int
	Entries []resolver.Entry
}

type calendarMonth struct {
	Year     int
	Month    time.Month
	Sessions []*model.Session
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data *page) {
	data.URL = s.urls
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error(r.Context(), err, "template execution failed", "template", name)
	}
}

// fail maps resolver errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		http.NotFound(w, r)
	default:
		s.log.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	courses, err := s.resolver.ListCourses(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recent, err := s.resolver.RecentRuns(r.Context(), time.Now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, "index", &page{Title: "Courses", Entries: courses, Recent: recent})
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.resolver.ListCourses(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, "courses", &page{Title: "Courses", Entries: courses})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	var years []yearRuns
	for _, year := range s.resolver.Root().Years() {
		entries, err := s.resolver.ListRuns(r.Context(), year)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(entries) > 0 {
			years = append(years, yearRuns{Year: year, Entries: entries})
		}
	}
	s.render(w, r, "runs", &page{Title: "Runs", Years: years})
}

// courseSlug reconstructs the course slug from the matched route. The first
// segment is either the literal "course" or a run year.
func courseSlug(r *http.Request) (string, bool) {
	head := r.PathValue("head")
	name := r.PathValue("name")
	if head == "course" {
		return "course/" + name, true
	}
	if _, err := strconv.Atoi(head); err != nil {
		return "", false
	}
	return head + "/" + name, true
}

// resolve runs one request through the resolver and handles the failure
// shapes shared by all content handlers. The returned response is nil when
// the request was already answered.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request, req resolver.Request) *resolver.Response {
	resp, err := s.resolver.Render(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return nil
	}
	if resp.Failure != nil {
		// Diagnostic page. Deliberately 200: the failure page is real,
		// publishable content naming the broken fork.
		s.render(w, r, "diagnostic", &page{Title: "Rendering failed", Failure: resp.Failure})
		return nil
	}
	if resp.Delegated {
		w.Header().Set(DelegateMarkerHeader, "1")
	}
	return resp
}

func (s *Server) handleCourse(w http.ResponseWriter, r *http.Request) {
	slug, ok := courseSlug(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	resp := s.resolve(w, r, resolver.Request{Kind: sandbox.TaskCourse, CourseSlug: slug})
	if resp == nil {
		return
	}

	if resp.Delegated {
		s.render(w, r, "lesson", &page{Title: slug, Content: template.HTML(resp.Content)})
		return
	}
	s.render(w, r, "course", &page{
		Title:       resp.Course.Title,
		Course:      resp.Course,
		HasCalendar: hasCalendar(resp.Course),
	})
}

func (s *Server) handleLessonPage(w http.ResponseWriter, r *http.Request) {
	s.serveLessonPage(w, r, nil)
}

func (s *Server) handleSolution(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		http.NotFound(w, r)
		return
	}
	s.serveLessonPage(w, r, &n)
}

func (s *Server) serveLessonPage(w http.ResponseWriter, r *http.Request, solution *int) {
	slug, ok := courseSlug(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	lessonSlug := r.PathValue("collection") + "/" + r.PathValue("lesson")

	resp := s.resolve(w, r, resolver.Request{
		Kind:       sandbox.TaskCoursePage,
		CourseSlug: slug,
		Lesson:     lessonSlug,
		Page:       r.PathValue("page"),
		Solution:   solution,
	})
	if resp == nil {
		return
	}

	// During a freeze the recorder must learn about the lesson's assets;
	// canonical HTML is never scanned for links.
	if !resp.Delegated && s.urls.Recording() {
		for _, name := range s.resolver.StaticFiles(lessonSlug) {
			s.urls.LessonStatic(lessonSlug, name)
		}
	}

	data := &page{
		Title:    lessonSlug,
		Degraded: resp.Degraded,
		Content:  template.HTML(resp.Content),
	}
	if resp.Course != nil {
		if material := findMaterial(resp.Course, lessonSlug, r.PathValue("page")); material != nil {
			if prev := material.Prev; prev != nil {
				data.PrevURL = s.urls.LessonPage(slug, prev.Lesson, prev.Page)
			}
			if next := material.Next; next != nil {
				data.NextURL = s.urls.LessonPage(slug, next.Lesson, next.Page)
			}
			if solution == nil {
				if linked := material.LinkedPage(); linked != nil {
					for _, n := range linked.Solutions() {
						data.SolutionURLs = append(data.SolutionURLs, s.urls.Solution(slug, lessonSlug, material.Page, n))
					}
				}
			}
		}
	}
	s.render(w, r, "lesson", data)
}

func (s *Server) handleCoverpage(w http.ResponseWriter, r *http.Request) {
	slug, ok := courseSlug(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	sessionSlug := r.PathValue("session")
	coverpage := r.PathValue("coverpage")
	if coverpage != "front" && coverpage != "back" {
		http.NotFound(w, r)
		return
	}

	resp := s.resolve(w, r, resolver.Request{
		Kind:       sandbox.TaskSessionCoverpage,
		CourseSlug: slug,
		Session:    sessionSlug,
		Coverpage:  coverpage,
	})
	if resp == nil {
		return
	}

	if resp.Delegated {
		s.render(w, r, "lesson", &page{Title: sessionSlug, Content: template.HTML(resp.Content)})
		return
	}
	session, _ := resp.Course.Session(sessionSlug)
	s.render(w, r, "coverpage", &page{
		Title:    session.Title,
		Course:   resp.Course,
		Session:  session,
		Content:  template.HTML(resp.Content),
		Degraded: resp.Degraded,
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	slug, ok := courseSlug(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	resp := s.resolve(w, r, resolver.Request{Kind: sandbox.TaskCalendar, CourseSlug: slug})
	if resp == nil {
		return
	}

	if resp.Delegated {
		s.render(w, r, "lesson", &page{Title: slug, Content: template.HTML(resp.Content)})
		return
	}
	if !hasCalendar(resp.Course) {
		http.NotFound(w, r)
		return
	}
	s.render(w, r, "calendar", &page{
		Title:  resp.Course.Title,
		Course: resp.Course,
		Months: groupByMonth(resp.Course),
	})
}

func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	slug, ok := courseSlug(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	resp := s.resolve(w, r, resolver.Request{Kind: sandbox.TaskCalendarICS, CourseSlug: slug})
	if resp == nil {
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if _, err := w.Write([]byte(resp.Content)); err != nil {
		s.log.Error(context.Background(), err, "writing calendar feed")
	}
}

func hasCalendar(course *model.Course) bool {
	return course.StartDate != nil
}

func groupByMonth(course *model.Course) []calendarMonth {
	var months []calendarMonth
	for _, m := range resolver.CourseMonths(course) {
		month := calendarMonth{Year: m.Year, Month: m.Month}
		for _, session := range course.Sessions {
			if session.Date != nil && session.Date.Year() == m.Year && session.Date.Month() == m.Month {
				month.Sessions = append(month.Sessions, session)
			}
		}
		months = append(months, month)
	}
	return months
}

func findMaterial(course *model.Course, lessonSlug, pageSlug string) *model.Material {
	if pageSlug == "" {
		pageSlug = "index"
	}
	for _, session := range course.Sessions {
		for _, material := range session.Materials {
			materialPage := material.Page
			if materialPage == "" {
				materialPage = "index"
			}
			if material.Kind == "page" && material.Lesson == lessonSlug && materialPage == pageSlug {
				return material
			}
		}
	}
	return nil
}
