// Package freeze crawls the served site and writes every reachable page to
// static files.
//
// Discovery draws from two independently growing sources: URL-builder
// invocations recorded while pages render, and links harvested from HTML
// that delegated repositories produced. The crawl alternates between them
// so neither starves the other, and terminates only when both are empty.
package freeze

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/conneroisu/coursegen/internal/logging"
	"github.com/conneroisu/coursegen/internal/server"
)

// RedirectPolicy controls how the crawler treats redirect responses.
type RedirectPolicy string

const (
	// RedirectFollow fetches the redirect target in place of the original.
	RedirectFollow RedirectPolicy = "follow"
	// RedirectIgnore logs and skips redirecting URLs.
	RedirectIgnore RedirectPolicy = "ignore"
	// RedirectError treats any redirect as a hard freeze failure.
	RedirectError RedirectPolicy = "error"
)

// Options configures a freeze run.
type Options struct {
	OutputDir    string
	SkipExisting bool
	// BaseURL is the public address the frozen site is served from. Absolute
	// links pointing under it are crawled as if they were root-relative.
	BaseURL string
	// Ignore404 logs missing pages instead of aborting the run.
	Ignore404 bool
	Redirects RedirectPolicy
}

// Freezer performs one crawl. It is single-use and single-threaded:
// each fetch can grow the discovery queues, and the termination check
// depends on observing every enqueue before declaring the crawl done.
type Freezer struct {
	handler http.Handler
	urls    *server.URLs
	opts    Options
	log     logging.Logger

	// routes holds URLs known from the route table and from recorded
	// URL-builder invocations; links holds URLs harvested from delegated
	// HTML. Duplicates are allowed in both; dedup happens at commit time.
	routes  []string
	links   []string
	written map[string]bool
	base    *url.URL
}

// New creates a Freezer over a handler and the URL builder its pages render
// with.
func New(handler http.Handler, urls *server.URLs, opts Options, log logging.Logger) *Freezer {
	if log == nil {
		log = logging.NopLogger{}
	}
	if opts.Redirects == "" {
		opts.Redirects = RedirectFollow
	}
	f := &Freezer{
		handler: handler,
		urls:    urls,
		opts:    opts,
		log:     log.WithComponent("freeze"),
		written: make(map[string]bool),
	}
	if opts.BaseURL != "" {
		if base, err := url.Parse(opts.BaseURL); err == nil && base.Host != "" {
			f.base = base
		}
	}
	return f
}

// Run crawls from the seed set until both queues are empty. It returns the
// number of files written. A hard failure aborts the run immediately;
// already written files stay on disk and a re-run is the recovery path.
func (f *Freezer) Run(ctx context.Context, seeds []string) (int, error) {
	f.routes = append(f.routes, seeds...)

	// Record every URL built while rendering. The recorder stays installed
	// for the whole run; the freezer is the only writer.
	f.urls.Recorder = func(url string) {
		f.routes = append(f.routes, url)
	}
	defer func() { f.urls.Recorder = nil }()

	count := 0
	for len(f.routes) > 0 || len(f.links) > 0 {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		// One from each source per step. Route invocations are exhaustive
		// and fast; link discovery lags behind page writes.
		if len(f.routes) > 0 {
			var u string
			u, f.routes = f.routes[0], f.routes[1:]
			n, err := f.process(ctx, u, 0)
			if err != nil {
				return count, err
			}
			count += n
		}
		if len(f.links) > 0 {
			var u string
			u, f.links = f.links[0], f.links[1:]
			n, err := f.process(ctx, u, 0)
			if err != nil {
				return count, err
			}
			count += n
		}
	}
	return count, nil
}

const maxRedirects = 10

// process fetches one URL and commits it to disk. Returns the number of
// files written (0 or 1).
func (f *Freezer) process(ctx context.Context, rawURL string, depth int) (int, error) {
	u := f.normalize(rawURL)
	if u == "" || f.written[u] {
		return 0, nil
	}

	dest, err := urlToFilePath(f.opts.OutputDir, u)
	if err != nil {
		return 0, fmt.Errorf("freeze %s: %w", u, err)
	}

	if f.opts.SkipExisting {
		if _, err := os.Stat(dest); err == nil {
			f.written[u] = true
			return 0, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("freeze %s: %w", u, err)
	}
	rec := newRecorder()
	f.handler.ServeHTTP(rec, req)

	switch {
	case rec.status == http.StatusOK:
		// committed below

	case rec.status == http.StatusNotFound:
		if f.opts.Ignore404 {
			f.log.Warn(ctx, nil, "page not found, skipping", "url", u)
			f.written[u] = true
			return 0, nil
		}
		return 0, fmt.Errorf("freeze %s: page not found", u)

	case isRedirect(rec.status):
		target := f.normalize(rec.header.Get("Location"))
		switch f.opts.Redirects {
		case RedirectFollow:
			if depth >= maxRedirects {
				return 0, fmt.Errorf("freeze %s: too many redirects", u)
			}
			f.written[u] = true
			return f.process(ctx, target, depth+1)
		case RedirectIgnore:
			f.log.Warn(ctx, nil, "redirect ignored", "url", u, "target", target)
			f.written[u] = true
			return 0, nil
		default:
			return 0, fmt.Errorf("freeze %s: redirects to %s", u, target)
		}

	default:
		return 0, fmt.Errorf("freeze %s: unexpected status %d", u, rec.status)
	}

	wrote, err := writeIfChanged(dest, rec.body.Bytes())
	if err != nil {
		return 0, fmt.Errorf("freeze %s: %w", u, err)
	}
	f.written[u] = true

	// Pages rendered by a delegated repository may reference URLs nobody
	// built through the URL builders; scan their HTML. Canonical pages skip
	// the scan, their link surface is fully known from recorded calls.
	if rec.header.Get(server.DelegateMarkerHeader) != "" && strings.HasSuffix(dest, ".html") {
		harvested := f.harvestLinks(rec.body.Bytes(), rec.header.Get("Content-Type"))
		for _, link := range harvested {
			if !f.written[link] {
				f.links = append(f.links, link)
			}
		}
		f.log.Debug(ctx, "harvested links from delegated page", "url", u, "count", len(harvested))
	}

	if wrote {
		return 1, nil
	}
	return 0, nil
}

// normalize strips fragments and queries and discards non-root-relative
// URLs. Absolute URLs under the configured base are rewritten to their
// root-relative form first.
func (f *Freezer) normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if f.base != nil && u.Scheme == f.base.Scheme && u.Host == f.base.Host {
		u.Scheme, u.Host = "", ""
	}
	if u.Scheme != "" || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return ""
	}
	return u.Path
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// urlToFilePath maps a URL path onto the output tree, directory URLs
// getting an index.html file.
func urlToFilePath(outputDir, urlPath string) (string, error) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	} else if filepath.Ext(rel) == "" {
		rel += "/index.html"
	}

	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path escapes output directory: %s", urlPath)
		}
	}
	return filepath.Join(outputDir, filepath.FromSlash(rel)), nil
}

// writeIfChanged writes content to dest unless the file already holds the
// same bytes. Unchanged files keep their modification time so downstream
// sync tools see no difference.
func writeIfChanged(dest string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// harvestLinks extracts every root-relative href and src from an HTML body.
// External links are ignored unless they point under the configured base URL.
func (f *Freezer) harvestLinks(body []byte, contentType string) []string {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("[href], [src]").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			value, ok := sel.Attr(attr)
			if !ok {
				continue
			}
			link := f.normalize(value)
			if link != "" && !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		}
	})
	return links
}

// recorder is a minimal ResponseWriter capturing status, headers and body.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) { r.status = status }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }
