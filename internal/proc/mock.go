//go:build unix

package proc

import (
	"context"
	"sync"
	"syscall"
)

// Call records one invocation on a Mock.
type Call struct {
	Method string
	Dir    string
	Name   string
	Args   []string
}

// Mock is a Manager whose behaviour is supplied by func fields. Unset
// funcs succeed with zero values.
type Mock struct {
	RunFunc         func(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	SpawnFunc       func(spec Spec) (*Handle, error)
	AliveFunc       func(pid int) bool
	SignalGroupFunc func(pgid int, sig syscall.Signal) error

	mu    sync.Mutex
	Calls []Call
}

func (m *Mock) record(c Call) {
	m.mu.Lock()
	m.Calls = append(m.Calls, c)
	m.mu.Unlock()
}

// CallsFor returns recorded calls of one method.
func (m *Mock) CallsFor(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *Mock) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Dir: dir, Name: name, Args: args})
	if m.RunFunc != nil {
		return m.RunFunc(ctx, dir, name, args...)
	}
	return nil, nil
}

func (m *Mock) Spawn(spec Spec) (*Handle, error) {
	m.record(Call{Method: "Spawn", Dir: spec.Dir, Name: spec.Command})
	if m.SpawnFunc != nil {
		return m.SpawnFunc(spec)
	}
	h, _ := NewHandle(1)
	return h, nil
}

func (m *Mock) Alive(pid int) bool {
	if m.AliveFunc != nil {
		return m.AliveFunc(pid)
	}
	return false
}

func (m *Mock) SignalGroup(pgid int, sig syscall.Signal) error {
	m.record(Call{Method: "SignalGroup"})
	if m.SignalGroupFunc != nil {
		return m.SignalGroupFunc(pgid, sig)
	}
	return nil
}

var _ Manager = (*Mock)(nil)
var _ Manager = (*DefaultManager)(nil)
