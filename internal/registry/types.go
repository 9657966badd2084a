package registry

import "time"

// State is the lifecycle state of a supervised service process.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
	StateCrashed   State = "crashed"
	StateStopped   State = "stopped"
)

// ProcessRecord is what the supervisor remembers about a running service
// between invocations.
type ProcessRecord struct {
	Repo        string    `yaml:"repo" json:"repo"`
	PID         int       `yaml:"pid" json:"pid"` // also the process group id
	Port        int       `yaml:"port,omitempty" json:"port,omitempty"`
	HealthCheck string    `yaml:"health_check,omitempty" json:"health_check,omitempty"`
	Command     string    `yaml:"command" json:"command"`
	State       State     `yaml:"state" json:"state"`
	StartedAt   time.Time `yaml:"started_at" json:"started_at"`
	LogPath     string    `yaml:"log" json:"log"`
	RunID       string    `yaml:"run_id" json:"run_id"`
}

// Uptime is the time since the process was started.
func (r *ProcessRecord) Uptime(now time.Time) time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// RegistryData is the on-disk document.
type RegistryData struct {
	Processes map[string]*ProcessRecord `yaml:"processes" json:"processes"` // keyed by repo name
}
