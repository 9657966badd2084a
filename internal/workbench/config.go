package workbench

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName    = "my-workbench"
	DefaultVersion = "0.1.0"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the in-memory form of workbench.yaml. Repos keep the order in
// which they appear in the file; new repos are appended.
type Config struct {
	Name        string
	Version     string
	Services    Services
	Environment Environment

	repos map[string]*RepoConfig
	order []string
}

// New returns an empty configuration with the given workbench name.
func New(name string) *Config {
	if name == "" {
		name = DefaultName
	}
	return &Config{
		Name:        name,
		Version:     DefaultVersion,
		Environment: Environment{SharedEnv: map[string]string{}},
		repos:       make(map[string]*RepoConfig),
	}
}

// Repos returns every repo in file order.
func (c *Config) Repos() []*RepoConfig {
	out := make([]*RepoConfig, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.repos[name])
	}
	return out
}

// ServiceRepos returns the repos the supervisor may start, in file order.
func (c *Config) ServiceRepos() []*RepoConfig {
	var out []*RepoConfig
	for _, r := range c.Repos() {
		if !r.IsInfrastructure() {
			out = append(out, r)
		}
	}
	return out
}

// Names returns repo names in file order.
func (c *Config) Names() []string {
	return append([]string(nil), c.order...)
}

func (c *Config) Len() int { return len(c.order) }

// Repo looks up a repo by name.
func (c *Config) Repo(name string) (*RepoConfig, error) {
	r, ok := c.repos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, name)
	}
	return r, nil
}

// Has reports whether a repo with this name is configured.
func (c *Config) Has(name string) bool {
	_, ok := c.repos[name]
	return ok
}

// UpsertRepo merges rec into the configuration. Non-empty fields of rec
// replace existing values; empty fields leave them untouched. A repo not yet
// present is appended after all existing repos.
func (c *Config) UpsertRepo(rec RepoConfig) (*RepoConfig, error) {
	if rec.Name == "" {
		return nil, schemaErr("repos", "repo name is required")
	}
	if c.repos == nil {
		c.repos = make(map[string]*RepoConfig)
	}
	existing, ok := c.repos[rec.Name]
	if !ok {
		r := rec
		if r.Type == "" {
			r.Type = TypeService
		}
		if err := validateRepo(&r); err != nil {
			return nil, err
		}
		c.repos[r.Name] = &r
		c.order = append(c.order, r.Name)
		return &r, nil
	}

	merged := *existing
	merged.merge(rec)
	if err := validateRepo(&merged); err != nil {
		return nil, err
	}
	*existing = merged
	return existing, nil
}

// RemoveRepo drops a repo from the configuration.
func (c *Config) RemoveRepo(name string) error {
	if _, ok := c.repos[name]; !ok {
		return fmt.Errorf("%w: %s", ErrRepoNotFound, name)
	}
	delete(c.repos, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Validate checks the whole configuration against the schema.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return schemaErr("workbench.name", "is required")
	}
	for _, r := range c.Repos() {
		if err := validateRepo(r); err != nil {
			return err
		}
	}
	return nil
}

func validateRepo(r *RepoConfig) error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return schemaErr("repos."+r.Name, "%v", err)
	}
	fe := verrs[0]
	field := "repos." + r.Name + "." + yamlFieldName(fe.StructField())
	switch fe.Tag() {
	case "oneof":
		return schemaErr(field, "must be one of %s, got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "min", "max":
		return schemaErr(field, "must be between 1 and 65535, got %v", fe.Value())
	default:
		return schemaErr(field, "failed %q validation", fe.Tag())
	}
}

func yamlFieldName(structField string) string {
	switch structField {
	case "StartCommand":
		return "start_command"
	case "HealthCheck":
		return "health_check"
	case "InstallCommand":
		return "install_command"
	case "EnvFile":
		return "env_file"
	default:
		return strings.ToLower(structField)
	}
}

type header struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type fileIn struct {
	Workbench   *header     `yaml:"workbench"`
	Repos       yaml.Node   `yaml:"repos"`
	Services    Services    `yaml:"services"`
	Environment Environment `yaml:"environment"`
}

type fileOut struct {
	Workbench   header      `yaml:"workbench"`
	Repos       *yaml.Node  `yaml:"repos"`
	Services    Services    `yaml:"services"`
	Environment Environment `yaml:"environment"`
}

// Parse decodes workbench.yaml content. Errors are *ConfigError.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Kind: Malformed, Err: err}
	}
	if len(doc.Content) == 0 {
		return nil, schemaErr("workbench.name", "is required")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, schemaErr("", "top level must be a mapping")
	}

	var f fileIn
	if err := root.Decode(&f); err != nil {
		return nil, decodeErr("", err)
	}
	if f.Workbench == nil || strings.TrimSpace(f.Workbench.Name) == "" {
		return nil, schemaErr("workbench.name", "is required")
	}

	cfg := New(f.Workbench.Name)
	if f.Workbench.Version != "" {
		cfg.Version = f.Workbench.Version
	}
	cfg.Services = f.Services
	if f.Environment.SharedEnv != nil {
		cfg.Environment = f.Environment
	}

	switch {
	case f.Repos.Kind == 0, isNull(&f.Repos):
	case f.Repos.Kind != yaml.MappingNode:
		return nil, schemaErr("repos", "must be a mapping of name to repo")
	default:
		for i := 0; i+1 < len(f.Repos.Content); i += 2 {
			key, val := f.Repos.Content[i], f.Repos.Content[i+1]
			name := key.Value
			field := "repos." + name
			if key.Kind != yaml.ScalarNode || name == "" {
				return nil, schemaErr("repos", "repo names must be non-empty strings (line %d)", key.Line)
			}
			if cfg.Has(name) {
				return nil, schemaErr(field, "duplicate repo")
			}
			var rc RepoConfig
			if !isNull(val) {
				if val.Kind != yaml.MappingNode {
					return nil, schemaErr(field, "must be a mapping (line %d)", val.Line)
				}
				if err := val.Decode(&rc); err != nil {
					return nil, decodeErr(field, err)
				}
			}
			rc.Name = name
			if _, err := cfg.UpsertRepo(rc); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func decodeErr(field string, err error) error {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		return &ConfigError{Kind: SchemaInvalid, Field: field, Err: errors.New(strings.Join(te.Errors, "; "))}
	}
	return &ConfigError{Kind: Malformed, Field: field, Err: err}
}

// Marshal encodes the configuration with repos in order.
func (c *Config) Marshal() ([]byte, error) {
	repos := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, r := range c.Repos() {
		val := &yaml.Node{}
		if err := val.Encode(r); err != nil {
			return nil, fmt.Errorf("encode repo %s: %w", r.Name, err)
		}
		repos.Content = append(repos.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: r.Name}, val)
	}
	out := fileOut{
		Workbench:   header{Name: c.Name, Version: c.Version},
		Repos:       repos,
		Services:    c.Services,
		Environment: c.Environment,
	}
	if out.Services.Shared == nil {
		out.Services.Shared = []string{}
	}
	if out.Environment.SharedEnv == nil {
		out.Environment.SharedEnv = map[string]string{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads and validates workbench.yaml at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path atomically. An invalid
// configuration is rejected before anything touches the disk.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeAtomic(path, data, 0o644)
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
