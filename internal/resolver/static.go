package resolver

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/coursegen/internal/errors"
)

// StaticFile returns the filesystem path of one lesson static asset. Only
// canonical lessons have local assets; anything reaching outside the lesson's
// static directory is not found.
func (r *Resolver) StaticFile(lessonSlug, name string) (string, error) {
	if strings.Contains(lessonSlug, "..") || strings.Contains(name, "..") {
		return "", errors.NewNotFoundError(lessonSlug + "/static/" + name)
	}

	path := filepath.Join(r.staticDir(lessonSlug), filepath.FromSlash(name))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", errors.NewNotFoundError(lessonSlug + "/static/" + name)
	}
	return path, nil
}

// StaticFiles lists a lesson's static assets as slash-separated names
// relative to its static directory. A lesson without assets lists empty.
func (r *Resolver) StaticFiles(lessonSlug string) []string {
	if strings.Contains(lessonSlug, "..") {
		return nil
	}

	root := r.staticDir(lessonSlug)
	var names []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	return names
}

func (r *Resolver) staticDir(lessonSlug string) string {
	return filepath.Join(r.opts.RepoDir, r.opts.LessonsDir, filepath.FromSlash(lessonSlug), "static")
}
