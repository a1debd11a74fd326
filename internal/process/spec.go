package process

import (
	"fmt"
	"strings"

	"github.com/loykin/botgate/internal/logger"
)

// RestartPolicy decides whether a process is restarted after an exit the
// supervisor did not request.
type RestartPolicy int

const (
	RestartNever RestartPolicy = iota
	RestartOnFailure
	RestartAlways
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartNever:
		return "never"
	case RestartOnFailure:
		return "on-failure"
	case RestartAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseRestartPolicy parses the config-file spelling of a policy.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "", "never":
		return RestartNever, nil
	case "on-failure", "on_failure", "onfailure":
		return RestartOnFailure, nil
	case "always":
		return RestartAlways, nil
	default:
		return RestartNever, fmt.Errorf("unknown restart policy %q", s)
	}
}

// Spec describes a process to be managed. Args is the literal argv; no shell
// is involved, so callers that need shell features must spell it out
// ("/bin/sh", "-c", ...).
type Spec struct {
	Name      string            `json:"name" mapstructure:"name"`
	Args      []string          `json:"args" mapstructure:"command"`
	Env       map[string]string `json:"env" mapstructure:"env"`
	WorkDir   string            `json:"work_dir" mapstructure:"workdir"`
	Policy    RestartPolicy     `json:"-" mapstructure:"-"`
	DependsOn []string          `json:"depends_on" mapstructure:"depends_on"`
	Log       logger.Config     `json:"log" mapstructure:"log"`
}

func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("process requires name")
	}
	if len(s.Args) == 0 || strings.TrimSpace(s.Args[0]) == "" {
		return fmt.Errorf("process %s requires command", s.Name)
	}
	if s.Policy < RestartNever || s.Policy > RestartAlways {
		return fmt.Errorf("process %s has invalid restart policy", s.Name)
	}
	for _, d := range s.DependsOn {
		if d == s.Name {
			return fmt.Errorf("process %s cannot depend on itself", s.Name)
		}
	}
	return nil
}

// DeepCopy returns an independent copy of the spec.
func (s *Spec) DeepCopy() *Spec {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Args = append([]string(nil), s.Args...)
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	if s.Env != nil {
		cp.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			cp.Env[k] = v
		}
	}
	return &cp
}
