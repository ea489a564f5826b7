package resolver

import (
	"strings"
	"time"

	"github.com/conneroisu/coursegen/internal/errors"
	"github.com/conneroisu/coursegen/internal/model"
)

// Month is one calendar month of a course's schedule.
type Month struct {
	Year  int
	Month time.Month
}

// ListMonths returns every month between start and end, inclusive on both
// ends. The calendar page renders one grid per returned month.
func ListMonths(start, end time.Time) []Month {
	var months []Month
	year, month := start.Year(), start.Month()
	for {
		months = append(months, Month{Year: year, Month: month})
		if year > end.Year() || (year == end.Year() && month >= end.Month()) {
			return months
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
}

// CourseMonths returns the months a course's sessions span, or nil when the
// course has no dated sessions.
func CourseMonths(course *model.Course) []Month {
	if course.StartDate == nil || course.EndDate == nil {
		return nil
	}
	return ListMonths(*course.StartDate, *course.EndDate)
}

// BuildICS serializes a course's schedule in iCalendar format. Every dated
// session must carry a start and end time; a course scheduled without times
// has no meaningful calendar and the request fails as not found.
func BuildICS(course *model.Course) (string, error) {
	var events []*model.Session
	for _, session := range course.Sessions {
		if session.Date == nil {
			continue
		}
		if session.StartTime == nil || session.EndTime == nil {
			return "", errors.NewNotFoundError(course.Slug + "/calendar.ics").
				WithContext("reason", "session "+session.Slug+" has no times")
		}
		events = append(events, session)
	}
	if len(events) == 0 {
		return "", errors.NewNotFoundError(course.Slug + "/calendar.ics").
			WithContext("reason", "course has no dated sessions")
	}

	var b strings.Builder
	writeLine := func(line string) {
		// RFC 5545 lines end with CRLF.
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	writeLine("BEGIN:VCALENDAR")
	writeLine("VERSION:2.0")
	writeLine("PRODID:-//coursegen//calendar//EN")
	for _, session := range events {
		// The coverpage URL doubles as the event identifier; it is unique
		// per session and stable across regenerations.
		coverpage := "/" + course.Slug + "/sessions/" + session.Slug + "/front/"
		writeLine("BEGIN:VEVENT")
		writeLine("SUMMARY:" + escapeICS(session.Title))
		writeLine("DTSTART:" + session.StartTime.UTC().Format("20060102T150405Z"))
		writeLine("DTEND:" + session.EndTime.UTC().Format("20060102T150405Z"))
		writeLine("UID:" + coverpage)
		writeLine("END:VEVENT")
	}
	writeLine("END:VCALENDAR")
	return b.String(), nil
}

func escapeICS(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\n", `\n`,
	)
	return replacer.Replace(s)
}
