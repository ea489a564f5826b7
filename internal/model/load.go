package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// courseInfo mirrors a course's info.yml. The plan stays raw so derived
// courses can merge session dictionaries before parsing.
type courseInfo struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Subtitle    string            `yaml:"subtitle"`
	Vars        map[string]string `yaml:"vars"`
	Derives     string            `yaml:"derives"`
	Plan        []map[string]any  `yaml:"plan"`
}

// linkInfo mirrors a link.yml pointing at a fork.
type linkInfo struct {
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// lessonInfo mirrors a lesson's info.yml. Lesson-level vars apply to every
// page; subpages may override individual keys.
type lessonInfo struct {
	Title    string            `yaml:"title"`
	Style    string            `yaml:"style"`
	Vars     map[string]string `yaml:"vars"`
	Subpages map[string]struct {
		Title string            `yaml:"title"`
		Vars  map[string]string `yaml:"vars"`
	} `yaml:"subpages"`
}

// orderInfo mirrors a listing directory's info.yml used purely for ordering.
type orderInfo struct {
	Order []string `yaml:"order"`
}

// Load builds the model from dataDir. Phase one reads every entity from
// disk; phase two resolves cross-references and validates the result.
func Load(dataDir string) (*Root, error) {
	root := &Root{
		Path:        dataDir,
		Collections: make(map[string]*Collection),
		Courses:     make(map[string]*Course),
		RunYears:    make(map[int][]*Course),
		Runs:        make(map[string]*Course),
	}

	if err := root.loadCollections(); err != nil {
		return nil, err
	}
	if err := root.loadCourses(); err != nil {
		return nil, err
	}
	if err := root.loadRuns(); err != nil {
		return nil, err
	}
	if err := root.link(); err != nil {
		return nil, err
	}
	return root, nil
}

func (r *Root) loadCollections() error {
	base := filepath.Join(r.Path, "lessons")
	names, err := orderedSubdirs(base)
	if err != nil {
		return fmt.Errorf("listing lesson collections: %w", err)
	}

	for _, name := range names {
		collection := &Collection{Name: name, Lessons: make(map[string]*Lesson)}
		lessonNames, err := orderedSubdirs(filepath.Join(base, name))
		if err != nil {
			return fmt.Errorf("listing lessons in %s: %w", name, err)
		}

		for _, lessonName := range lessonNames {
			lessonPath := filepath.Join(base, name, lessonName)
			lesson, err := loadLesson(name+"/"+lessonName, lessonPath)
			if err != nil {
				return err
			}
			collection.Lessons[lessonName] = lesson
			collection.Order = append(collection.Order, lessonName)
		}
		r.Collections[name] = collection
	}
	return nil
}

func loadLesson(slug, path string) (*Lesson, error) {
	var info lessonInfo
	if err := readYAML(filepath.Join(path, "info.yml"), &info); err != nil {
		return nil, fmt.Errorf("lesson %s: %w", slug, err)
	}
	if info.Style == "" {
		info.Style = "md"
	}

	lesson := &Lesson{Slug: slug, Title: info.Title, Pages: make(map[string]*Page), Path: path}
	lesson.Pages["index"] = &Page{
		Slug:       "index",
		Title:      info.Title,
		Style:      info.Style,
		Vars:       info.Vars,
		LessonSlug: slug,
		path:       filepath.Join(path, "index."+info.Style),
	}
	for pageSlug, sub := range info.Subpages {
		title := sub.Title
		if title == "" {
			title = info.Title
		}
		lesson.Pages[pageSlug] = &Page{
			Slug:       pageSlug,
			Title:      title,
			Style:      info.Style,
			Vars:       mergeVars(info.Vars, sub.Vars),
			LessonSlug: slug,
			path:       filepath.Join(path, pageSlug+"."+info.Style),
		}
	}
	return lesson, nil
}

// mergeVars overlays page-specific vars on the lesson-level ones.
func mergeVars(base, override map[string]string) map[string]string {
	if len(override) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func (r *Root) loadCourses() error {
	base := filepath.Join(r.Path, "courses")
	names, err := orderedSubdirs(base)
	if err != nil {
		return fmt.Errorf("listing courses: %w", err)
	}

	for _, name := range names {
		slug := "course/" + name
		course, err := loadCourseDir(slug, filepath.Join(base, name))
		if err != nil {
			return err
		}
		r.Courses[slug] = course
		r.courseOrder = append(r.courseOrder, slug)
	}
	return nil
}

func (r *Root) loadRuns() error {
	base := filepath.Join(r.Path, "runs")
	yearNames, err := orderedSubdirs(base)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	for _, yearName := range yearNames {
		year, err := strconv.Atoi(yearName)
		if err != nil {
			return fmt.Errorf("run year directory %q is not a year", yearName)
		}
		runNames, err := orderedSubdirs(filepath.Join(base, yearName))
		if err != nil {
			return fmt.Errorf("listing runs in %s: %w", yearName, err)
		}

		for _, runName := range runNames {
			slug := yearName + "/" + runName
			course, err := loadCourseDir(slug, filepath.Join(base, yearName, runName))
			if err != nil {
				return err
			}
			r.RunYears[year] = append(r.RunYears[year], course)
			r.Runs[slug] = course
		}
		r.yearOrder = append(r.yearOrder, year)
	}
	sort.Ints(r.yearOrder)
	return nil
}

// loadCourseDir reads a course directory. A link.yml makes the course a
// delegated source; otherwise info.yml makes it canonical. When the base
// repository is merged into forks both files may coexist; info.yml wins so
// the merge needs no further action.
func loadCourseDir(slug, path string) (*Course, error) {
	infoPath := filepath.Join(path, "info.yml")
	if _, err := os.Stat(infoPath); err == nil {
		var info courseInfo
		if err := readYAML(infoPath, &info); err != nil {
			return nil, fmt.Errorf("course %s: %w", slug, err)
		}
		return &Course{
			Slug:        slug,
			Title:       info.Title,
			Description: info.Description,
			Subtitle:    info.Subtitle,
			Vars:        info.Vars,
			Derives:     info.Derives,
			Source:      ContentSource{Kind: Canonical},
			Path:        path,
			byslug:      make(map[string]*Session),
		}, nil
	}

	linkPath := filepath.Join(path, "link.yml")
	if _, err := os.Stat(linkPath); err == nil {
		var link linkInfo
		if err := readYAML(linkPath, &link); err != nil {
			return nil, fmt.Errorf("course link %s: %w", slug, err)
		}
		return &Course{
			Slug:   slug,
			Source: ContentSource{Kind: Delegated, Repo: link.Repo, Ref: link.Branch},
			Path:   path,
			byslug: make(map[string]*Session),
		}, nil
	}

	return nil, fmt.Errorf("course directory %s has neither info.yml nor link.yml", path)
}

// link is phase two: resolve derived courses, build session plans, wire
// materials to lesson pages and chain prev/next pointers.
func (r *Root) link() error {
	all := make([]*Course, 0, len(r.Courses)+len(r.Runs))
	for _, course := range r.Courses {
		all = append(all, course)
	}
	for _, course := range r.Runs {
		all = append(all, course)
	}

	for _, course := range all {
		if course.Derives != "" {
			base, ok := r.Courses["course/"+course.Derives]
			if !ok {
				return fmt.Errorf("course %s derives from unknown course %q", course.Slug, course.Derives)
			}
			course.Base = base
		}
	}

	// Base courses must be built before the courses deriving from them.
	built := make(map[*Course]bool)
	var build func(course *Course) error
	build = func(course *Course) error {
		if built[course] || course.Source.IsDelegated() {
			built[course] = true
			return nil
		}
		if course.Base != nil && !built[course.Base] {
			if err := build(course.Base); err != nil {
				return err
			}
		}
		if err := r.buildSessions(course); err != nil {
			return err
		}
		built[course] = true
		return nil
	}
	for _, course := range all {
		if err := build(course); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) buildSessions(course *Course) error {
	var info courseInfo
	if err := readYAML(filepath.Join(course.Path, "info.yml"), &info); err != nil {
		return fmt.Errorf("course %s: %w", course.Slug, err)
	}

	for _, raw := range info.Plan {
		if baseName, ok := raw["base"].(string); ok && course.Base != nil {
			baseSession, found := findPlanSession(course.Base, baseName)
			if !found {
				return fmt.Errorf("course %s: base session %q not found in %s", course.Slug, baseName, course.Base.Slug)
			}
			raw = MergeDict(baseSession, raw)
		}

		session, err := r.parseSession(course, raw)
		if err != nil {
			return fmt.Errorf("course %s: %w", course.Slug, err)
		}
		if _, exists := course.byslug[session.Slug]; exists {
			return fmt.Errorf("course %s: duplicate session slug %q", course.Slug, session.Slug)
		}
		course.Sessions = append(course.Sessions, session)
		course.byslug[session.Slug] = session
	}

	for i, session := range course.Sessions {
		if i > 0 {
			session.Prev = course.Sessions[i-1]
			course.Sessions[i-1].Next = session
		}
		if session.Date != nil {
			if course.StartDate == nil || session.Date.Before(*course.StartDate) {
				course.StartDate = session.Date
			}
			if course.EndDate == nil || session.Date.After(*course.EndDate) {
				course.EndDate = session.Date
			}
		}
	}

	for i := 1; i < len(course.Sessions); i++ {
		prev, cur := course.Sessions[i-1].Date, course.Sessions[i].Date
		if prev != nil && cur != nil && cur.Before(*prev) {
			return fmt.Errorf("course %s: sessions not ordered by date", course.Slug)
		}
	}
	return nil
}

// findPlanSession locates a raw plan entry by slug in the base course.
func findPlanSession(base *Course, slug string) (map[string]any, bool) {
	var info courseInfo
	if err := readYAML(filepath.Join(base.Path, "info.yml"), &info); err != nil {
		return nil, false
	}
	for _, raw := range info.Plan {
		if s, ok := raw["slug"].(string); ok && s == slug {
			return raw, true
		}
	}
	return nil, false
}

func (r *Root) parseSession(course *Course, raw map[string]any) (*Session, error) {
	slug, _ := raw["slug"].(string)
	title, _ := raw["title"].(string)
	if slug == "" || title == "" {
		return nil, fmt.Errorf("session needs both slug and title: %v", raw)
	}

	session := &Session{Slug: slug, Title: title, coursePath: course.Path}

	if date, ok, err := parseDate(raw["date"]); err != nil {
		return nil, fmt.Errorf("session %s: %w", slug, err)
	} else if ok {
		session.Date = &date
		if times, ok := raw["time"].(map[string]any); ok {
			start, err := combineTime(date, times["start"])
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", slug, err)
			}
			end, err := combineTime(date, times["end"])
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", slug, err)
			}
			session.StartTime, session.EndTime = start, end
		}
	}

	rawMaterials, _ := raw["materials"].([]any)
	for _, rawMaterial := range rawMaterials {
		entry, ok := rawMaterial.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("session %s: malformed material %v", slug, rawMaterial)
		}
		material, err := r.parseMaterial(entry)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", slug, err)
		}
		session.Materials = append(session.Materials, material)
	}

	var withNav []*Material
	for _, material := range session.Materials {
		if material.HasNavigation() {
			withNav = append(withNav, material)
		}
	}
	for i, material := range withNav {
		if i > 0 {
			material.Prev = withNav[i-1]
			withNav[i-1].Next = material
		}
	}

	return session, nil
}

func (r *Root) parseMaterial(entry map[string]any) (*Material, error) {
	title, _ := entry["title"].(string)
	urlType, _ := entry["type"].(string)

	if lessonSlug, ok := entry["lesson"].(string); ok {
		pageSlug, _ := entry["page"].(string)
		if pageSlug == "" {
			pageSlug = "index"
		}
		lesson, err := r.GetLesson(lessonSlug)
		if err != nil {
			return nil, err
		}
		page, ok := lesson.Pages[pageSlug]
		if !ok {
			return nil, fmt.Errorf("lesson %s has no page %q", lessonSlug, pageSlug)
		}
		if title == "" {
			title = page.Title
		}
		if urlType == "" {
			urlType = "lesson"
		}
		return &Material{
			Kind: "page", Title: title, URLType: urlType,
			Lesson: lessonSlug, Page: pageSlug, page: page,
		}, nil
	}

	if url, ok := entry["url"].(string); ok {
		if urlType == "" {
			urlType = "link"
		}
		return &Material{Kind: "url", Title: title, URLType: urlType, URL: url}, nil
	}

	return nil, fmt.Errorf("unknown material type: %v", entry)
}

// orderedSubdirs lists subdirectories of base. An info.yml with an order
// list pins the leading entries; the rest is appended alphabetically.
func orderedSubdirs(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ordered []string
	pinned := make(map[string]bool)
	if _, err := os.Stat(filepath.Join(base, "info.yml")); err == nil {
		var info orderInfo
		if err := readYAML(filepath.Join(base, "info.yml"), &info); err == nil {
			for _, name := range info.Order {
				ordered = append(ordered, name)
				pinned[name] = true
			}
		}
	}

	var rest []string
	for _, entry := range entries {
		if entry.IsDir() && !pinned[entry.Name()] {
			rest = append(rest, entry.Name())
		}
	}
	sort.Strings(rest)
	return append(ordered, rest...), nil
}

func readYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func parseDate(value any) (time.Time, bool, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v, true, nil
	case string:
		date, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("bad date %q: %w", v, err)
		}
		return date, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("bad date value %v", value)
	}
}

func combineTime(date time.Time, value any) (*time.Time, error) {
	raw, ok := value.(string)
	if !ok || raw == "" {
		return nil, nil
	}
	clock, err := time.Parse("15:04", raw)
	if err != nil {
		return nil, fmt.Errorf("bad time %q: %w", raw, err)
	}
	combined := time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), 0, 0, date.Location())
	return &combined, nil
}
