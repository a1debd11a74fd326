package env

import (
	"os"
	"sort"
	"strings"
)

// Table is a set of environment variables keyed by name.
type Table map[string]string

// Env composes the environment handed to managed processes.
// Precedence, lowest first: cached OS environment, global overrides,
// per-process overrides.
type Env struct {
	global Table
	base   Table // cached from OS
}

func New() *Env {
	return &Env{global: make(Table)}
}

// FromOS caches the current process environment as the base layer.
func (e *Env) FromOS() {
	base := make(Table)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.base = base
}

// Set adds or replaces a global override.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.global[k] = v
}

// Merge returns the final "K=V" environment slice for one process.
// ${VAR} references are expanded against the composed table (single pass,
// no recursion). Keys are sorted so the result is deterministic.
func (e *Env) Merge(perProc Table) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Table, len(e.base)+len(e.global)+len(perProc))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	for k, v := range perProc {
		if k == "" {
			continue
		}
		m[k] = v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m Table) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
