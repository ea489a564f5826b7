package model

import (
	"sort"
	"time"
)

// recentRunWindow keeps a run listed for a while after it ends so students
// can still reach fresh material from the front page.
const recentRunWindow = 2 * 30 * 24 * time.Hour

// RecentRuns returns runs that have not ended yet, or ended within the
// recent window, newest first. Runs without dates (delegated runs resolve
// their dates at render time) are always included.
func (r *Root) RecentRuns(now time.Time) []*Course {
	cutoff := now.Add(-recentRunWindow)

	var recent []*Course
	for _, year := range r.yearOrder {
		for _, run := range r.RunYears[year] {
			if run.EndDate == nil || run.EndDate.After(cutoff) {
				recent = append(recent, run)
			}
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		a, b := recent[i].StartDate, recent[j].StartDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return recent
}
