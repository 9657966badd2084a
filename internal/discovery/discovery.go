// Package discovery infers a repo's runtime metadata from files on disk.
package discovery

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gurisko/workbench/internal/logging"
	"github.com/gurisko/workbench/internal/workbench"
)

// ErrRepoUnreadable indicates the repo directory is missing or cannot be listed.
var ErrRepoUnreadable = errors.New("repo path unreadable")

// Field names a discoverable RepoConfig field.
type Field string

const (
	FieldLanguage       Field = "language"
	FieldFramework      Field = "framework"
	FieldStartCommand   Field = "start_command"
	FieldPort           Field = "port"
	FieldHealthCheck    Field = "health_check"
	FieldInstallCommand Field = "install_command"
	FieldDependencies   Field = "dependencies"
	FieldEnvFile        Field = "env_file"
)

// Fields lists every discoverable field in evaluation order.
var Fields = []Field{
	FieldLanguage, FieldFramework, FieldStartCommand, FieldPort,
	FieldHealthCheck, FieldInstallCommand, FieldDependencies, FieldEnvFile,
}

// infraFields are the only fields discovered for infrastructure repos.
var infraFields = map[Field]bool{
	FieldLanguage:     true,
	FieldFramework:    true,
	FieldDependencies: true,
	FieldEnvFile:      true,
}

// Outcome is what happened to a field during one pass.
type Outcome string

const (
	OutcomeFound   Outcome = "found"
	OutcomeKept    Outcome = "kept"
	OutcomeNoMatch Outcome = "no match"
	OutcomeSkipped Outcome = "skipped"
)

// Reason records why a field ended up with its value.
type Reason struct {
	Field   Field
	Outcome Outcome
	Value   string
	Source  string
}

func (r Reason) String() string {
	switch r.Outcome {
	case OutcomeFound:
		return fmt.Sprintf("%s = %s (%s)", r.Field, r.Value, r.Source)
	case OutcomeKept:
		return fmt.Sprintf("%s = %s (already set)", r.Field, r.Value)
	case OutcomeSkipped:
		return fmt.Sprintf("%s skipped (%s)", r.Field, r.Source)
	default:
		return fmt.Sprintf("%s: no match", r.Field)
	}
}

// Result holds values discovered for fields that were empty in the
// existing record. Found never carries a value for a field that was set.
type Result struct {
	Repo    string
	Found   workbench.RepoConfig
	Reasons []Reason
}

// FoundFields lists the fields that received a value, in evaluation order.
func (r *Result) FoundFields() []Field {
	var out []Field
	for _, reason := range r.Reasons {
		if reason.Outcome == OutcomeFound {
			out = append(out, reason.Field)
		}
	}
	return out
}

// Empty reports whether nothing new was discovered.
func (r *Result) Empty() bool { return len(r.FoundFields()) == 0 }

// Apply copies discovered values into rec, touching only fields that are
// still empty in rec. It returns the fields it filled.
func (r *Result) Apply(rec *workbench.RepoConfig) []Field {
	var filled []Field
	fill := func(f Field, dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			filled = append(filled, f)
		}
	}
	fill(FieldLanguage, &rec.Language, r.Found.Language)
	fill(FieldFramework, &rec.Framework, r.Found.Framework)
	fill(FieldStartCommand, &rec.StartCommand, r.Found.StartCommand)
	if rec.Port == 0 && r.Found.Port != 0 {
		rec.Port = r.Found.Port
		filled = append(filled, FieldPort)
	}
	fill(FieldHealthCheck, &rec.HealthCheck, r.Found.HealthCheck)
	fill(FieldInstallCommand, &rec.InstallCommand, r.Found.InstallCommand)
	fill(FieldDependencies, &rec.Dependencies, r.Found.Dependencies)
	fill(FieldEnvFile, &rec.EnvFile, r.Found.EnvFile)
	return filled
}

// Discover inspects repoDir and returns values for every discoverable
// field that is empty in existing. Fields already set are reported as kept
// and are used as context for later fields (a configured framework picks
// the default port, for instance).
func Discover(repoDir string, existing workbench.RepoConfig) (*Result, error) {
	log := logging.New("discovery")
	p, err := newProbe(repoDir)
	if err != nil {
		return nil, err
	}

	res := &Result{Repo: existing.Name}
	res.Found.Name = existing.Name
	infra := existing.IsInfrastructure()
	st := &state{language: existing.Language, framework: existing.Framework}

	str := func(f Field, cur string, rules []rule[string], dst *string) string {
		if cur != "" {
			res.Reasons = append(res.Reasons, Reason{Field: f, Outcome: OutcomeKept, Value: cur})
			return cur
		}
		if infra && !infraFields[f] {
			res.Reasons = append(res.Reasons, Reason{Field: f, Outcome: OutcomeSkipped, Source: "infrastructure"})
			return ""
		}
		v, tag, ok := firstMatch(p, st, rules)
		if !ok {
			res.Reasons = append(res.Reasons, Reason{Field: f, Outcome: OutcomeNoMatch})
			return ""
		}
		*dst = v
		res.Reasons = append(res.Reasons, Reason{Field: f, Outcome: OutcomeFound, Value: v, Source: tag})
		return v
	}

	st.language = str(FieldLanguage, existing.Language, languageRules, &res.Found.Language)
	st.framework = str(FieldFramework, existing.Framework, frameworkRules, &res.Found.Framework)
	str(FieldStartCommand, existing.StartCommand, startRules, &res.Found.StartCommand)

	switch {
	case existing.Port != 0:
		res.Reasons = append(res.Reasons, Reason{Field: FieldPort, Outcome: OutcomeKept, Value: strconv.Itoa(existing.Port)})
	case infra:
		res.Reasons = append(res.Reasons, Reason{Field: FieldPort, Outcome: OutcomeSkipped, Source: "infrastructure"})
	default:
		if port, tag, ok := firstMatch(p, st, portRules); ok {
			res.Found.Port = port
			res.Reasons = append(res.Reasons, Reason{Field: FieldPort, Outcome: OutcomeFound, Value: strconv.Itoa(port), Source: tag})
		} else {
			res.Reasons = append(res.Reasons, Reason{Field: FieldPort, Outcome: OutcomeNoMatch})
		}
	}

	str(FieldHealthCheck, existing.HealthCheck, healthRules, &res.Found.HealthCheck)
	str(FieldInstallCommand, existing.InstallCommand, installRules, &res.Found.InstallCommand)
	str(FieldDependencies, existing.Dependencies, dependencyRules, &res.Found.Dependencies)
	str(FieldEnvFile, existing.EnvFile, envFileRules, &res.Found.EnvFile)

	log.Debug("discovered", "repo", existing.Name, "dir", repoDir, "fields", len(res.FoundFields()))
	return res, nil
}
