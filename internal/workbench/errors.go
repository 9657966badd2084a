package workbench

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed matches ConfigErrors for files that are not valid YAML
	ErrMalformed = errors.New("malformed configuration")
	// ErrSchemaInvalid matches ConfigErrors for well-formed files with missing or mistyped fields
	ErrSchemaInvalid = errors.New("invalid configuration")
	// ErrRepoNotFound indicates the repo name is not in workbench.yaml
	ErrRepoNotFound = errors.New("repo not found")
	// ErrRepoExists indicates a repo with the same name is already configured
	ErrRepoExists = errors.New("repo already exists")
)

// ErrorKind classifies a ConfigError.
type ErrorKind int

const (
	Malformed ErrorKind = iota + 1
	SchemaInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case SchemaInvalid:
		return "schema-invalid"
	default:
		return "unknown"
	}
}

// ConfigError is returned by Load and Save when workbench.yaml cannot be used.
// It is always fatal to the command.
type ConfigError struct {
	Kind  ErrorKind
	Path  string
	Field string // dotted field path when known, e.g. repos.api.port
	Err   error
}

func (e *ConfigError) Error() string {
	where := e.Path
	if where == "" {
		where = "configuration"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %v", where, e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", where, e.Kind, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is lets callers match on the kind with errors.Is(err, ErrSchemaInvalid).
func (e *ConfigError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == Malformed
	case ErrSchemaInvalid:
		return e.Kind == SchemaInvalid
	}
	return false
}

func schemaErr(field string, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: SchemaInvalid, Field: field, Err: fmt.Errorf(format, args...)}
}
