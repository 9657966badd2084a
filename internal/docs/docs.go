// Package docs lists and renders the workbench's markdown documentation.
package docs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/frontmatter"
	"gitlab.com/golang-commonmark/markdown"
)

// ErrPageNotFound indicates the requested page does not exist.
var ErrPageNotFound = errors.New("page not found")

// Page is one markdown document.
type Page struct {
	Slug  string         `json:"slug"` // path under docs/ without .md, slash separated
	Title string         `json:"title"`
	Path  string         `json:"path"`
	Meta  map[string]any `json:"meta,omitempty"`
	Body  []byte         `json:"-"`
}

var md = markdown.New(
	markdown.HTML(true),
	markdown.Tables(true),
	markdown.Linkify(true),
	markdown.Typographer(false),
)

// Render converts markdown to HTML.
func Render(src []byte) string {
	return md.RenderToString(src)
}

// Load reads one page, splitting off YAML/TOML front matter.
func Load(dir, slug string) (*Page, error) {
	clean := strings.TrimSuffix(filepath.Clean("/" + slug)[1:], ".md")
	if clean == "" {
		clean = "index"
	}
	path := filepath.Join(dir, filepath.FromSlash(clean)+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPageNotFound, clean)
		}
		return nil, err
	}
	return parse(clean, path, data)
}

func parse(slug, path string, data []byte) (*Page, error) {
	meta := map[string]any{}
	body, err := frontmatter.Parse(bytes.NewReader(data), &meta)
	if err != nil {
		return nil, fmt.Errorf("parse front matter of %s: %w", path, err)
	}
	p := &Page{Slug: slug, Path: path, Meta: meta, Body: body}
	if t, ok := meta["title"].(string); ok && strings.TrimSpace(t) != "" {
		p.Title = strings.TrimSpace(t)
	} else if h := firstHeading(body); h != "" {
		p.Title = h
	} else {
		p.Title = filepath.Base(slug)
	}
	return p, nil
}

func firstHeading(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// List returns every page under dir sorted by slug, index first.
func List(dir string) ([]*Page, error) {
	var pages []*Page
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		p, err := parse(strings.TrimSuffix(filepath.ToSlash(rel), ".md"), path, data)
		if err != nil {
			return err
		}
		pages = append(pages, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pages, func(i, j int) bool {
		if (pages[i].Slug == "index") != (pages[j].Slug == "index") {
			return pages[i].Slug == "index"
		}
		return pages[i].Slug < pages[j].Slug
	})
	return pages, nil
}
