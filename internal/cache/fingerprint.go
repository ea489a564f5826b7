// Package cache provides the content cache service and the fingerprint
// builder that derives its keys.
//
// A fingerprint is a deterministic function of the last commit touching the
// rendering code, the last commit touching the content unit, and the unit's
// identity. Two requests with equal fingerprints are content-identical and
// may share a cached artifact. The cache itself is an optimization, never a
// correctness dependency: a missing or failing backend degrades to
// recomputation.
package cache

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
)

// Identity names a content unit: a lesson page variant within a course.
// Solution is nil for the page itself, or an index into its solutions.
// Vars are the course and page variables that parameterize rendering.
type Identity struct {
	Lesson   string            `json:"lesson"`
	Page     string            `json:"page"`
	Solution *int              `json:"solution"`
	Vars     map[string]string `json:"vars"`
}

// Fingerprint builds the cache key for a content unit. It is pure: equal
// inputs always produce equal keys, and any change to the rendering code
// revision, the content revision or the identity changes the key.
//
// Identity fields are serialized with sorted keys (encoding/json sorts map
// keys and struct fields are fixed-order) so the key is stable under field
// reordering.
func Fingerprint(kind string, id Identity, codeRev, contentRev string) string {
	payload, err := json.Marshal(struct {
		Kind       string   `json:"kind"`
		Identity   Identity `json:"identity"`
		ContentRev string   `json:"content_rev"`
	}{kind, id, contentRev})
	if err != nil {
		// Identity is plain data; Marshal cannot fail on it.
		panic(err)
	}
	return fmt.Sprintf("commit:%s:content:%x", codeRev, sha1.Sum(payload))
}
