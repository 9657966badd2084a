package discovery

import (
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gurisko/workbench/internal/limits"
)

// healthNames are the endpoint names recognised as health routes.
var healthNames = []string{"health", "healthz", "status", "ping"}

const healthAlt = `(health|healthz|status|ping)`

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"env":          true,
	"__pycache__":  true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	".expo":        true,
	".terraform":   true,
}

func skipDir(name string) bool {
	return skipDirs[name] || (strings.HasPrefix(name, ".") && name != ".")
}

type routeScanner struct {
	exts     []string
	patterns []*regexp.Regexp
}

var (
	pyDecorator = regexp.MustCompile(`@\w+\.(?:get|route|api_route|head)\(\s*["']/` + healthAlt + `/?["']`)
	djangoPath  = regexp.MustCompile(`(?:re_)?path\(\s*r?["']\^?/?` + healthAlt + `/?\$?["']`)
	jsRoute     = regexp.MustCompile(`\.(?:get|all|head|route)\(\s*["'` + "`" + `]/` + healthAlt + `/?["'` + "`" + `]`)
	nestRoute   = regexp.MustCompile(`@(?:Get|Controller)\(\s*["']/?` + healthAlt + `/?["']\s*\)`)
	goRoute     = regexp.MustCompile(`\.(?:GET|Get|HEAD|Head|HandleFunc|Handle|Route)\(\s*"(?:GET\s+)?/` + healthAlt + `/?"`)
	rustRoute   = regexp.MustCompile(`(?:#\[(?:get|head)\(\s*"|\.route\(\s*")/` + healthAlt + `/?"`)
)

var (
	pythonScanner = routeScanner{exts: []string{".py"}, patterns: []*regexp.Regexp{pyDecorator, djangoPath}}
	nodeScanner   = routeScanner{exts: []string{".js", ".ts", ".mjs", ".cjs", ".jsx", ".tsx"}, patterns: []*regexp.Regexp{jsRoute, nestRoute}}
	goScanner     = routeScanner{exts: []string{".go"}, patterns: []*regexp.Regexp{goRoute}}
	rustScanner   = routeScanner{exts: []string{".rs"}, patterns: []*regexp.Regexp{rustRoute}}
)

func scannerFor(lang string) (routeScanner, bool) {
	switch {
	case strings.EqualFold(lang, LangPython):
		return pythonScanner, true
	case isNode(lang):
		return nodeScanner, true
	case strings.EqualFold(lang, LangGo):
		return goScanner, true
	case strings.EqualFold(lang, LangRust):
		return rustScanner, true
	}
	return routeScanner{}, false
}

var healthRules = []rule[string]{
	{tag: "Next.js route file", eval: func(p *probe, s *state) (string, bool) {
		if !strings.EqualFold(s.framework, "Next.js") {
			return "", false
		}
		for _, name := range healthNames {
			for _, base := range []string{"", "src/"} {
				for _, ext := range []string{"ts", "js"} {
					if p.has(base+"app/api/"+name+"/route."+ext) || p.has(base+"pages/api/"+name+"."+ext) {
						return "/api/" + name, true
					}
				}
			}
		}
		return "", false
	}},
	{tag: "source route", eval: func(p *probe, s *state) (string, bool) {
		sc, ok := scannerFor(s.language)
		if !ok {
			return "", false
		}
		return sc.scan(p.dir)
	}},
}

var errStopWalk = errors.New("stop walk")

// scan walks the tree in lexical order and returns the first route
// literal matched in the first matching file.
func (sc routeScanner) scan(dir string) (string, bool) {
	var found string
	seen := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !sc.wants(d.Name()) {
			return nil
		}
		seen++
		if seen > limits.SourceFiles {
			return errStopWalk
		}
		data, err := readCapped(path, limits.SourceFile)
		if err != nil {
			return nil
		}
		if route, ok := sc.match(data); ok {
			found = route
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", false
	}
	return found, found != ""
}

func (sc routeScanner) wants(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range sc.exts {
		if ext == e {
			return true
		}
	}
	return false
}

// match returns the earliest route literal in data across all patterns.
func (sc routeScanner) match(data []byte) (string, bool) {
	best := -1
	var name string
	for _, re := range sc.patterns {
		loc := re.FindSubmatchIndex(data)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			name = string(data[loc[2]:loc[3]])
		}
	}
	if best == -1 {
		return "", false
	}
	return "/" + name, true
}
