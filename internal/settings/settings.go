// Package settings resolves tool-level settings from defaults, an optional
// user config file, WORKBENCH_* environment variables and command flags.
// workbench.yaml is not handled here.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gurisko/workbench/internal/batch"
)

const (
	KeyMaxWorkers    = "max_workers"
	KeyGracePeriod   = "grace_period"
	KeyStopTimeout   = "stop_timeout"
	KeyHealthTimeout = "health_timeout"
	KeyHealthWait    = "health_wait"
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
)

// EnvPrefix is prepended to every environment override, e.g. WORKBENCH_MAX_WORKERS.
const EnvPrefix = "WORKBENCH"

// Settings are the resolved tool settings.
type Settings struct {
	MaxWorkers    int           `validate:"min=1,max=64"`
	GracePeriod   time.Duration `validate:"min=0"`
	StopTimeout   time.Duration `validate:"gt=0"`
	HealthTimeout time.Duration `validate:"gt=0"`
	HealthWait    time.Duration `validate:"min=0"`
	LogLevel      string        `validate:"oneof=debug info warn warning error"`
	LogFormat     string        `validate:"oneof=text json"`

	// File is the config file that was read, empty when none.
	File string
}

var validate = validator.New()

// New returns a viper instance carrying defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyMaxWorkers, batch.DefaultWorkers)
	v.SetDefault(KeyGracePeriod, 2*time.Second)
	v.SetDefault(KeyStopTimeout, 5*time.Second)
	v.SetDefault(KeyHealthTimeout, 2*time.Second)
	v.SetDefault(KeyHealthWait, 30*time.Second)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps settings keys to command-line flags. Unknown flag names
// are skipped so commands can bind only what they define.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keyToFlag map[string]string) error {
	for key, name := range keyToFlag {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads config.yaml from dir when present and returns the resolved settings.
func Load(v *viper.Viper, dir string) (*Settings, error) {
	s := &Settings{}
	if dir != "" {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read settings %s: %w", path, err)
			}
			s.File = path
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat settings %s: %w", path, err)
		}
	}

	s.MaxWorkers = v.GetInt(KeyMaxWorkers)
	s.GracePeriod = v.GetDuration(KeyGracePeriod)
	s.StopTimeout = v.GetDuration(KeyStopTimeout)
	s.HealthTimeout = v.GetDuration(KeyHealthTimeout)
	s.HealthWait = v.GetDuration(KeyHealthWait)
	s.LogLevel = strings.ToLower(v.GetString(KeyLogLevel))
	s.LogFormat = strings.ToLower(v.GetString(KeyLogFormat))

	if err := validate.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return nil, fmt.Errorf("invalid setting %s: %q fails %s", keyFor(ve[0].StructField()), fmt.Sprint(ve[0].Value()), ve[0].Tag())
		}
		return nil, err
	}
	return s, nil
}

func keyFor(field string) string {
	switch field {
	case "MaxWorkers":
		return KeyMaxWorkers
	case "GracePeriod":
		return KeyGracePeriod
	case "StopTimeout":
		return KeyStopTimeout
	case "HealthTimeout":
		return KeyHealthTimeout
	case "HealthWait":
		return KeyHealthWait
	case "LogLevel":
		return KeyLogLevel
	case "LogFormat":
		return KeyLogFormat
	}
	return field
}
