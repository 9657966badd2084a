package discovery

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/mod/modfile"

	"github.com/gurisko/workbench/internal/limits"
)

var errTooLarge = errors.New("file exceeds size limit")

// probe answers file questions about one repo directory and memoizes
// manifest parses so every rule pipeline sees the same view.
type probe struct {
	dir   string
	files map[string]bool // regular files at the repo root
	dirs  []string        // sub-directories at the repo root, sorted

	cache  map[string][]byte
	errs   map[string]error
	parsed map[string]any
}

func newProbe(dir string) (*probe, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepoUnreadable, dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRepoUnreadable, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRepoUnreadable, dir, err)
	}
	p := &probe{
		dir:    dir,
		files:  make(map[string]bool),
		cache:  make(map[string][]byte),
		errs:   make(map[string]error),
		parsed: make(map[string]any),
	}
	for _, e := range entries {
		if e.IsDir() {
			p.dirs = append(p.dirs, e.Name())
		} else if e.Type().IsRegular() {
			p.files[e.Name()] = true
		}
	}
	sort.Strings(p.dirs)
	return p, nil
}

// has reports whether a regular file exists at rel.
func (p *probe) has(rel string) bool {
	if !strings.ContainsRune(rel, '/') {
		return p.files[rel]
	}
	fi, err := os.Stat(filepath.Join(p.dir, filepath.FromSlash(rel)))
	return err == nil && fi.Mode().IsRegular()
}

func (p *probe) read(rel string) ([]byte, error) {
	if data, ok := p.cache[rel]; ok {
		return data, nil
	}
	if err, ok := p.errs[rel]; ok {
		return nil, err
	}
	data, err := readCapped(filepath.Join(p.dir, filepath.FromSlash(rel)), limits.Manifest)
	if err != nil {
		p.errs[rel] = err
		return nil, err
	}
	p.cache[rel] = data
	return data, nil
}

func (p *probe) text(rel string) string {
	if !p.has(rel) {
		return ""
	}
	data, err := p.read(rel)
	if err != nil {
		return ""
	}
	return string(data)
}

func readCapped(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errTooLarge
	}
	return data, nil
}

// packageJSON returns the parsed package.json; ok is false when absent or invalid.
func (p *probe) packageJSON() (gjson.Result, bool) {
	if v, ok := p.parsed["package.json"]; ok {
		r, valid := v.(gjson.Result)
		return r, valid
	}
	if !p.has("package.json") {
		p.parsed["package.json"] = nil
		return gjson.Result{}, false
	}
	data, err := p.read("package.json")
	if err != nil || !gjson.ValidBytes(data) {
		p.parsed["package.json"] = nil
		return gjson.Result{}, false
	}
	r := gjson.ParseBytes(data)
	p.parsed["package.json"] = r
	return r, true
}

// nodeDeps is the union of dependencies and devDependencies.
func (p *probe) nodeDeps() map[string]bool {
	deps := make(map[string]bool)
	pj, ok := p.packageJSON()
	if !ok {
		return deps
	}
	for _, key := range []string{"dependencies", "devDependencies"} {
		pj.Get(key).ForEach(func(k, _ gjson.Result) bool {
			deps[k.String()] = true
			return true
		})
	}
	return deps
}

func (p *probe) nodeScript(name string) (string, bool) {
	pj, ok := p.packageJSON()
	if !ok {
		return "", false
	}
	var found string
	pj.Get("scripts").ForEach(func(k, v gjson.Result) bool {
		if k.String() == name {
			found = v.String()
			return false
		}
		return true
	})
	return found, found != ""
}

// packageManager picks the Node package manager from the lock file.
func (p *probe) packageManager() string {
	switch {
	case p.has("yarn.lock"):
		return "yarn"
	case p.has("pnpm-lock.yaml"):
		return "pnpm"
	case p.has("bun.lockb"), p.has("bun.lock"):
		return "bun"
	default:
		return "npm"
	}
}

func (p *probe) tomlFile(rel string) (map[string]any, bool) {
	if v, ok := p.parsed[rel]; ok {
		m, valid := v.(map[string]any)
		return m, valid
	}
	p.parsed[rel] = nil
	if !p.has(rel) {
		return nil, false
	}
	data, err := p.read(rel)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	p.parsed[rel] = m
	return m, true
}

func (p *probe) goMod() (*modfile.File, bool) {
	if v, ok := p.parsed["go.mod"]; ok {
		f, valid := v.(*modfile.File)
		return f, valid
	}
	p.parsed["go.mod"] = nil
	if !p.has("go.mod") {
		return nil, false
	}
	data, err := p.read("go.mod")
	if err != nil {
		return nil, false
	}
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return nil, false
	}
	p.parsed["go.mod"] = f
	return f, true
}

// goRequires lists module paths required by go.mod.
func (p *probe) goRequires() []string {
	f, ok := p.goMod()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.Require))
	for _, r := range f.Require {
		out = append(out, r.Mod.Path)
	}
	return out
}

// cargoDeps lists crate names under [dependencies] in Cargo.toml.
func (p *probe) cargoDeps() map[string]bool {
	deps := make(map[string]bool)
	m, ok := p.tomlFile("Cargo.toml")
	if !ok {
		return deps
	}
	if d, ok := m["dependencies"].(map[string]any); ok {
		for k := range d {
			deps[k] = true
		}
	}
	return deps
}

// pythonDeps collects normalized requirement names from requirements.txt
// and pyproject.toml.
func (p *probe) pythonDeps() map[string]bool {
	deps := make(map[string]bool)
	if p.has("requirements.txt") {
		if data, err := p.read("requirements.txt"); err == nil {
			sc := bufio.NewScanner(bytes.NewReader(data))
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
					continue
				}
				if n := requirementName(line); n != "" {
					deps[n] = true
				}
			}
		}
	}
	if m, ok := p.tomlFile("pyproject.toml"); ok {
		project, _ := m["project"].(map[string]any)
		if list, ok := project["dependencies"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					deps[requirementName(s)] = true
				}
			}
		}
		if opt, ok := project["optional-dependencies"].(map[string]any); ok {
			for _, group := range opt {
				list, _ := group.([]any)
				for _, v := range list {
					if s, ok := v.(string); ok {
						deps[requirementName(s)] = true
					}
				}
			}
		}
		tool, _ := m["tool"].(map[string]any)
		poetry, _ := tool["poetry"].(map[string]any)
		if d, ok := poetry["dependencies"].(map[string]any); ok {
			for k := range d {
				deps[normalizePyName(k)] = true
			}
		}
	}
	delete(deps, "")
	return deps
}

// pythonMentions reports whether a Python manifest names the package,
// including setup.py where only a text search is possible.
func (p *probe) pythonMentions(name string) bool {
	if p.pythonDeps()[name] {
		return true
	}
	return strings.Contains(strings.ToLower(p.text("setup.py")), name)
}

func requirementName(spec string) string {
	if i := strings.IndexAny(spec, "=<>!~[;@ \t"); i >= 0 {
		spec = spec[:i]
	}
	return normalizePyName(spec)
}

func normalizePyName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

// terraformFile returns the first *.tf file at the root or one level deep,
// in lexical order.
func (p *probe) terraformFile() (string, bool) {
	var root []string
	for name := range p.files {
		if strings.HasSuffix(name, ".tf") {
			root = append(root, name)
		}
	}
	if len(root) > 0 {
		sort.Strings(root)
		return root[0], true
	}
	for _, d := range p.dirs {
		if skipDir(d) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(p.dir, d))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".tf") {
				return d + "/" + e.Name(), true
			}
		}
	}
	return "", false
}
