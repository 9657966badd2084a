package workbench

import (
	"path"
	"path/filepath"
	"strings"
)

// RepoType tells the supervisor whether a repo runs as a service.
type RepoType string

const (
	TypeService        RepoType = "service"
	TypeInfrastructure RepoType = "infrastructure"
)

// RepoConfig is one repository managed by the workbench. The discoverable
// fields (language through env_file) count as unset while empty/zero.
type RepoConfig struct {
	Name        string   `yaml:"-" json:"name" validate:"required"`
	URL         string   `yaml:"url,omitempty" json:"url,omitempty"`
	Path        string   `yaml:"path,omitempty" json:"path,omitempty"`
	Type        RepoType `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=service infrastructure"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	Language       string `yaml:"language,omitempty" json:"language,omitempty"`
	Framework      string `yaml:"framework,omitempty" json:"framework,omitempty"`
	StartCommand   string `yaml:"start_command,omitempty" json:"start_command,omitempty"`
	Port           int    `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	HealthCheck    string `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	InstallCommand string `yaml:"install_command,omitempty" json:"install_command,omitempty"`
	Dependencies   string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	EnvFile        string `yaml:"env_file,omitempty" json:"env_file,omitempty"`
}

// IsInfrastructure reports whether the repo is reference-only and never started.
func (r *RepoConfig) IsInfrastructure() bool { return r.Type == TypeInfrastructure }

// RelPath is the repo directory relative to the workbench root.
func (r *RepoConfig) RelPath() string {
	if r.Path != "" {
		return r.Path
	}
	return path.Join("repos", r.Name)
}

// Dir resolves the repo directory against the workbench root.
func (r *RepoConfig) Dir(root string) string {
	return filepath.Join(root, filepath.FromSlash(r.RelPath()))
}

// merge copies every non-empty field of src over r.
func (r *RepoConfig) merge(src RepoConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&r.URL, src.URL)
	set(&r.Path, src.Path)
	if src.Type != "" {
		r.Type = src.Type
	}
	set(&r.Description, src.Description)
	set(&r.Language, src.Language)
	set(&r.Framework, src.Framework)
	set(&r.StartCommand, src.StartCommand)
	if src.Port != 0 {
		r.Port = src.Port
	}
	set(&r.HealthCheck, src.HealthCheck)
	set(&r.InstallCommand, src.InstallCommand)
	set(&r.Dependencies, src.Dependencies)
	set(&r.EnvFile, src.EnvFile)
}

// Services lists services shared by all repos (databases, brokers...).
type Services struct {
	Shared []string `yaml:"shared" json:"shared"`
}

// Environment holds variables exported to every started service.
type Environment struct {
	SharedEnv map[string]string `yaml:"shared_env" json:"shared_env"`
}

// RepoNameFromURL derives the logical repo name from a clone URL:
// the last path element without a trailing ".git".
func RepoNameFromURL(url string) string {
	u := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(u, "/:"); i >= 0 {
		u = u[i+1:]
	}
	return strings.TrimSuffix(u, ".git")
}

// RepoPathFromURL derives the relative clone path for a URL.
func RepoPathFromURL(url string) string {
	return path.Join("repos", RepoNameFromURL(url))
}
