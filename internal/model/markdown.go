package model

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var assetBaseKey = parser.NewContextKey()

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(
		parser.WithASTTransformers(util.Prioritized(assetRewriter{}, 500)),
	),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// assetRewriter resolves lesson-relative asset references. Page authors write
// static/diagram.svg next to their markdown; the served site needs the
// absolute asset URL.
type assetRewriter struct{}

func (assetRewriter) Transform(doc *ast.Document, _ text.Reader, pc parser.Context) {
	base, _ := pc.Get(assetBaseKey).(string)
	if base == "" {
		return
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			node.Destination = rewriteAsset(node.Destination, base)
		case *ast.Link:
			node.Destination = rewriteAsset(node.Destination, base)
		}
		return ast.WalkContinue, nil
	})
}

func rewriteAsset(dest []byte, base string) []byte {
	if rest, ok := strings.CutPrefix(string(dest), "static/"); ok {
		return []byte(base + "/static/" + rest)
	}
	return dest
}

// convertMarkdown renders markdown source to an HTML fragment. assetBase, if
// non-empty, is the URL prefix relative static/ references resolve under.
func convertMarkdown(source []byte, assetBase string) (string, error) {
	pc := parser.NewContext()
	pc.Set(assetBaseKey, assetBase)

	var buf bytes.Buffer
	if err := markdown.Convert(source, &buf, parser.WithContext(pc)); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML renders the page content, or one of its solutions when
// solution is non-nil. Solutions live next to the page as
// solutions/<page>/<n>.md.
func (p *Page) RenderHTML(solution *int) (string, error) {
	path := p.path
	if solution != nil {
		path = filepath.Join(filepath.Dir(p.path), "solutions", p.Slug, fmt.Sprintf("%d.md", *solution))
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading page %s: %w", p.LessonSlug+"/"+p.Slug, err)
	}
	return convertMarkdown(source, "/lessons/"+p.LessonSlug)
}

// Solutions returns the indexes of the page's solutions in ascending order.
// A page without a solutions directory has none.
func (p *Page) Solutions() []int {
	entries, err := os.ReadDir(filepath.Join(filepath.Dir(p.path), "solutions", p.Slug))
	if err != nil {
		return nil
	}

	var indexes []int
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".md")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(name); err == nil && n >= 0 {
			indexes = append(indexes, n)
		}
	}
	sort.Ints(indexes)
	return indexes
}

// CoverpageContent renders the session's coverpage markdown ("front" or
// "back"). A missing coverpage file is not an error; it renders empty.
func (s *Session) CoverpageContent(coverpage string) (string, error) {
	path := filepath.Join(s.coursePath, "sessions", s.Slug, coverpage+".md")
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading coverpage %s/%s: %w", s.Slug, coverpage, err)
	}
	return convertMarkdown(source, "")
}
