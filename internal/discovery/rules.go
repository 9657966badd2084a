package discovery

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// rule is one tagged step of a field pipeline. The first rule whose eval
// reports ok wins; tag names the evidence in the reason log.
type rule[T any] struct {
	tag  string
	eval func(p *probe, s *state) (T, bool)
}

func firstMatch[T any](p *probe, s *state, rules []rule[T]) (T, string, bool) {
	for _, r := range rules {
		if v, ok := r.eval(p, s); ok {
			return v, r.tag, true
		}
	}
	var zero T
	return zero, "", false
}

// state carries the effective values of earlier fields, whether they were
// already configured or detected in this pass.
type state struct {
	language  string
	framework string
}

const (
	LangTypeScript = "TypeScript"
	LangJavaScript = "JavaScript"
	LangPython     = "Python"
	LangGo         = "Go"
	LangRust       = "Rust"
	LangHCL        = "HCL"
)

func isNode(lang string) bool {
	return strings.EqualFold(lang, LangTypeScript) || strings.EqualFold(lang, LangJavaScript)
}

func fileRule(tag, file, value string) rule[string] {
	return rule[string]{tag: tag, eval: func(p *probe, _ *state) (string, bool) {
		return value, p.has(file)
	}}
}

var languageRules = []rule[string]{
	{tag: "package.json+tsconfig.json", eval: func(p *probe, _ *state) (string, bool) {
		return LangTypeScript, p.has("package.json") && p.has("tsconfig.json")
	}},
	fileRule("package.json", "package.json", LangJavaScript),
	fileRule("requirements.txt", "requirements.txt", LangPython),
	fileRule("pyproject.toml", "pyproject.toml", LangPython),
	fileRule("setup.py", "setup.py", LangPython),
	fileRule("go.mod", "go.mod", LangGo),
	fileRule("Cargo.toml", "Cargo.toml", LangRust),
	{tag: "*.tf", eval: func(p *probe, _ *state) (string, bool) {
		_, ok := p.terraformFile()
		return LangHCL, ok
	}},
}

type depFramework struct {
	dep  string
	name string
}

var nodeFrameworks = []depFramework{
	{"expo", "Expo"},
	{"react-native", "React Native"},
	{"next", "Next.js"},
	{"nuxt", "Nuxt"},
	{"@nestjs/core", "NestJS"},
	{"express", "Express"},
	{"fastify", "Fastify"},
	{"react", "React"},
	{"vue", "Vue"},
}

var pythonFrameworks = []depFramework{
	{"fastapi", "FastAPI"},
	{"django", "Django"},
	{"flask", "Flask"},
	{"dspy", "DSPy"},
}

var goFrameworks = []depFramework{
	{"github.com/gin-gonic/gin", "Gin"},
	{"github.com/labstack/echo", "Echo"},
	{"github.com/go-chi/chi", "Chi"},
	{"github.com/gofiber/fiber", "Fiber"},
}

var rustFrameworks = []depFramework{
	{"actix-web", "Actix Web"},
	{"axum", "Axum"},
	{"rocket", "Rocket"},
}

var frameworkRules = []rule[string]{
	{tag: "package.json dependencies", eval: func(p *probe, s *state) (string, bool) {
		if !isNode(s.language) {
			return "", false
		}
		deps := p.nodeDeps()
		for _, f := range nodeFrameworks {
			if deps[f.dep] {
				return f.name, true
			}
		}
		return "", false
	}},
	{tag: "python requirements", eval: func(p *probe, s *state) (string, bool) {
		if !strings.EqualFold(s.language, LangPython) {
			return "", false
		}
		for _, f := range pythonFrameworks {
			if p.pythonMentions(f.dep) {
				return f.name, true
			}
		}
		return "", false
	}},
	{tag: "go.mod require", eval: func(p *probe, s *state) (string, bool) {
		if !strings.EqualFold(s.language, LangGo) {
			return "", false
		}
		reqs := p.goRequires()
		for _, f := range goFrameworks {
			for _, r := range reqs {
				if r == f.dep || strings.HasPrefix(r, f.dep+"/") {
					return f.name, true
				}
			}
		}
		return "", false
	}},
	{tag: "Cargo.toml [dependencies]", eval: func(p *probe, s *state) (string, bool) {
		if !strings.EqualFold(s.language, LangRust) {
			return "", false
		}
		deps := p.cargoDeps()
		for _, f := range rustFrameworks {
			if deps[f.dep] {
				return f.name, true
			}
		}
		return "", false
	}},
	{tag: "*.tf", eval: func(_ *probe, s *state) (string, bool) {
		return "Terraform", strings.EqualFold(s.language, LangHCL)
	}},
}

var (
	procfileWeb  = regexp.MustCompile(`(?m)^web:\s*(.+?)\s*$`)
	makeTargetRe = map[string]*regexp.Regexp{}
)

func init() {
	for _, t := range []string{"run", "dev", "serve", "start", "install"} {
		makeTargetRe[t] = regexp.MustCompile(`(?m)^` + t + `\s*:`)
	}
}

func hasMakeTarget(p *probe, target string) bool {
	return makeTargetRe[target].MatchString(p.text("Makefile"))
}

func nodeScriptRule(script string) rule[string] {
	return rule[string]{tag: "package.json scripts." + script, eval: func(p *probe, _ *state) (string, bool) {
		if _, ok := p.nodeScript(script); !ok {
			return "", false
		}
		pm := p.packageManager()
		if pm == "npm" {
			return "npm run " + script, true
		}
		return pm + " " + script, true
	}}
}

func makeRule(target string) rule[string] {
	return rule[string]{tag: "Makefile " + target, eval: func(p *probe, _ *state) (string, bool) {
		return "make " + target, hasMakeTarget(p, target)
	}}
}

var startRules = []rule[string]{
	nodeScriptRule("dev"),
	nodeScriptRule("start"),
	{tag: "Procfile web", eval: func(p *probe, _ *state) (string, bool) {
		m := procfileWeb.FindStringSubmatch(p.text("Procfile"))
		if m == nil {
			return "", false
		}
		return m[1], true
	}},
	makeRule("run"),
	makeRule("dev"),
	makeRule("serve"),
	makeRule("start"),
	{tag: "render.yaml startCommand", eval: func(p *probe, _ *state) (string, bool) {
		raw := p.text("render.yaml")
		if raw == "" {
			return "", false
		}
		var doc struct {
			Services []struct {
				StartCommand string `yaml:"startCommand"`
			} `yaml:"services"`
		}
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil || len(doc.Services) == 0 {
			return "", false
		}
		cmd := strings.TrimSpace(doc.Services[0].StartCommand)
		return cmd, cmd != ""
	}},
	{tag: "main.py+uvicorn", eval: func(p *probe, _ *state) (string, bool) {
		return "uvicorn main:app --reload", p.has("main.py") && p.pythonMentions("uvicorn")
	}},
	{tag: "main.go", eval: func(p *probe, _ *state) (string, bool) {
		return "go run .", p.has("go.mod") && p.has("main.go")
	}},
	{tag: "src/main.rs", eval: func(p *probe, _ *state) (string, bool) {
		return "cargo run", p.has("Cargo.toml") && p.has("src/main.rs")
	}},
}

var envFiles = []string{".env.example", ".env.template", ".env.sample"}

var (
	envPortRe       = regexp.MustCompile(`(?m)^\s*(?:export\s+)?PORT\s*=\s*["']?(\d+)`)
	envSuffixPortRe = regexp.MustCompile(`(?m)^\s*(?:export\s+)?[A-Z0-9_]+_PORT\s*=\s*["']?(\d+)`)
)

var frameworkPorts = map[string]int{
	"Next.js":      3000,
	"React":        3000,
	"Vue":          3000,
	"Nuxt":         3000,
	"Express":      3000,
	"NestJS":       3000,
	"Fastify":      3000,
	"FastAPI":      8000,
	"Django":       8000,
	"Flask":        5000,
	"Expo":         8081,
	"React Native": 8081,
	"Gin":          8080,
	"Echo":         8080,
	"Chi":          8080,
	"Fiber":        8080,
	"Actix Web":    8080,
	"Axum":         8080,
	"Rocket":       8000,
}

func parsePort(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}

func envPortRule(file string) rule[int] {
	return rule[int]{tag: file + " PORT", eval: func(p *probe, _ *state) (int, bool) {
		text := p.text(file)
		if text == "" {
			return 0, false
		}
		if m := envPortRe.FindStringSubmatch(text); m != nil {
			return parsePort(m[1])
		}
		if m := envSuffixPortRe.FindStringSubmatch(text); m != nil {
			return parsePort(m[1])
		}
		return 0, false
	}}
}

var portRules = []rule[int]{
	envPortRule(".env.example"),
	envPortRule(".env.template"),
	envPortRule(".env.sample"),
	{tag: "framework default", eval: func(_ *probe, s *state) (int, bool) {
		if port, ok := frameworkPorts[s.framework]; ok {
			return port, true
		}
		for name, port := range frameworkPorts {
			if strings.EqualFold(name, s.framework) {
				return port, true
			}
		}
		return 0, false
	}},
}

var installRules = []rule[string]{
	{tag: "package manager", eval: func(p *probe, _ *state) (string, bool) {
		return p.packageManager() + " install", p.has("package.json")
	}},
	{tag: "Makefile install", eval: func(p *probe, s *state) (string, bool) {
		return "make install", strings.EqualFold(s.language, LangPython) && hasMakeTarget(p, "install")
	}},
	{tag: "pyproject.toml/setup.py", eval: func(p *probe, s *state) (string, bool) {
		return "pip install -e .", strings.EqualFold(s.language, LangPython) && (p.has("pyproject.toml") || p.has("setup.py"))
	}},
	{tag: "requirements.txt", eval: func(p *probe, s *state) (string, bool) {
		return "pip install -r requirements.txt", strings.EqualFold(s.language, LangPython) && p.has("requirements.txt")
	}},
	{tag: "go.mod", eval: func(p *probe, s *state) (string, bool) {
		return "go mod download", strings.EqualFold(s.language, LangGo) && p.has("go.mod")
	}},
	{tag: "Cargo.toml", eval: func(p *probe, s *state) (string, bool) {
		return "cargo fetch", strings.EqualFold(s.language, LangRust) && p.has("Cargo.toml")
	}},
}

var manifestFiles = []string{"package.json", "requirements.txt", "pyproject.toml", "setup.py", "go.mod", "Cargo.toml"}

func firstFileRules(files []string) []rule[string] {
	out := make([]rule[string], 0, len(files))
	for _, f := range files {
		out = append(out, fileRule(f, f, f))
	}
	return out
}

var (
	dependencyRules = firstFileRules(manifestFiles)
	envFileRules    = firstFileRules(envFiles)
)
