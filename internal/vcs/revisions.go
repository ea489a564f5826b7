// Package vcs resolves git revision markers for cache fingerprints.
//
// Fingerprints need two revision components: the last commit touching the
// rendering code and the last commit touching a specific content unit. Both
// lookups are expensive (a git subprocess each) so Revisions memoizes them
// for the lifetime of a serving process. In debug mode memoization is
// disabled and every call recomputes, trading speed for correctness on edit.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotTracked signals that the requested subpath does not exist in the
// repository. The resolver uses it to detect content units that are not
// canonical in the local working copy.
var ErrNotTracked = errors.New("path not tracked in repository")

// Lookup answers revision queries against a repository working copy.
type Lookup interface {
	// Latest returns the hash of the last commit modifying subpath, or the
	// repository head when subpath is empty.
	Latest(ctx context.Context, repoDir, subpath string) (string, error)
	// IsDirty reports whether the working copy has uncommitted changes.
	IsDirty(ctx context.Context, repoDir string) (bool, error)
}

// GitLookup shells out to the git CLI.
type GitLookup struct{}

// Latest runs `git log -n 1 --format=%H -- <subpath>`.
func (GitLookup) Latest(ctx context.Context, repoDir, subpath string) (string, error) {
	if subpath != "" {
		if _, err := os.Stat(filepath.Join(repoDir, subpath)); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotTracked, subpath)
		}
	}

	args := []string{"-C", repoDir, "log", "-n", "1", "--format=%H"}
	if subpath != "" {
		args = append(args, "--", subpath)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git log in %s: %w", repoDir, err)
	}

	hash := strings.TrimSpace(out.String())
	if hash == "" {
		// Path exists on disk but was never committed.
		return "", fmt.Errorf("%w: %s", ErrNotTracked, subpath)
	}
	return hash, nil
}

// IsDirty runs `git status --porcelain` and reports any output.
func (GitLookup) IsDirty(ctx context.Context, repoDir string) (bool, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "status", "--porcelain")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("git status in %s: %w", repoDir, err)
	}
	return strings.TrimSpace(out.String()) != "", nil
}

// Revisions memoizes revision lookups per (repository, subpath) pair.
//
// The memo map is append-only per key; a racing recomputation produces the
// same value, so no lock is held across the subprocess call. Constructed
// once per server process and injected into the resolver.
type Revisions struct {
	lookup Lookup
	debug  bool

	mu   sync.RWMutex
	memo map[string]string
}

// NewRevisions creates a memoizing revision service. With debug set, every
// call recomputes so local edits are reflected immediately.
func NewRevisions(lookup Lookup, debug bool) *Revisions {
	return &Revisions{
		lookup: lookup,
		debug:  debug,
		memo:   make(map[string]string),
	}
}

// Latest returns the last commit modifying subpath in repoDir, memoized
// unless the service runs in debug mode. Not-found results are never
// memoized; absence may be fixed by a later commit.
func (r *Revisions) Latest(ctx context.Context, repoDir, subpath string) (string, error) {
	key := repoDir + "\x00" + subpath

	if !r.debug {
		r.mu.RLock()
		hash, ok := r.memo[key]
		r.mu.RUnlock()
		if ok {
			return hash, nil
		}
	}

	hash, err := r.lookup.Latest(ctx, repoDir, subpath)
	if err != nil {
		return "", err
	}

	if !r.debug {
		r.mu.Lock()
		r.memo[key] = hash
		r.mu.Unlock()
	}
	return hash, nil
}

// IsDirty reports whether the working copy has uncommitted changes. Never
// memoized; dirtiness changes underneath a running server.
func (r *Revisions) IsDirty(ctx context.Context, repoDir string) (bool, error) {
	return r.lookup.IsDirty(ctx, repoDir)
}

// Reset clears the memoized revisions. Called between test runs and on
// debug reloads.
func (r *Revisions) Reset() {
	r.mu.Lock()
	r.memo = make(map[string]string)
	r.mu.Unlock()
}
