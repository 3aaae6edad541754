// Package env manages configuration variables scoped to deployment modes.
//
// A variable may be shared by all modes (key "FOO") or scoped to one mode by
// prefixing the mode name (key "DEV_FOO" is FOO in dev mode). Lookups in a
// mode prefer the scoped value. Variables set with an explicit list of modes
// are readable only in those modes; reading them elsewhere fails with ErrMode.
//
// An Environment is an ordinary value: construct one, pass it where it is
// needed. It never writes to the process environment.
package env

import (
	"sort"
	"strings"
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/system/environ"
)

// ErrMode is returned when a variable or an operation is not available in
// the current mode.
var ErrMode = errors.New("not allowed in this mode")

// Mode is a deployment mode.
type Mode string

// Known modes. ModeAll is not a deployment mode of its own: variables tagged
// with it are visible in every mode.
const (
	ModeAll   Mode = "all"
	ModeDev   Mode = "dev"
	ModeTest  Mode = "test"
	ModeStage Mode = "stage"
	ModeProd  Mode = "prod"
)

// Modes lists the known modes.
var Modes = []Mode{ModeAll, ModeDev, ModeTest, ModeStage, ModeProd}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", errors.Reason("unknown mode %q", s).Err()
}

// IsDevelopment reports whether m is dev or test.
func (m Mode) IsDevelopment() bool {
	return m == ModeDev || m == ModeTest
}

// Prefix is the key prefix of variables scoped to m, e.g. "DEV_".
func (m Mode) Prefix() string {
	if m == ModeAll {
		return ""
	}
	return strings.ToUpper(string(m)) + "_"
}

// Key returns the raw key under which base is stored in mode m.
func (m Mode) Key(base string) string {
	return m.Prefix() + base
}

// EnsureMode fails with ErrMode unless current is one of allowed. ModeAll in
// allowed admits every mode.
func EnsureMode(current Mode, allowed ...Mode) error {
	for _, m := range allowed {
		if m == ModeAll || m == current {
			return nil
		}
	}
	return errors.Annotate(ErrMode, "mode %q, need one of %q", current, allowed).Err()
}

// Environment is a set of mode-scoped variables.
type Environment struct {
	mu         sync.RWMutex
	mode       Mode
	vars       map[string]string  // raw key -> value
	restricted map[string]modeSet // base key -> modes allowed to read it
}

type modeSet map[Mode]struct{}

// New returns an empty environment in the given mode.
func New(mode Mode) *Environment {
	return &Environment{
		mode:       mode,
		vars:       map[string]string{},
		restricted: map[string]modeSet{},
	}
}

// FromEnviron returns an environment in the given mode seeded with the
// variables of src, typically environ.System().
//
// Keys are taken as they are: "DEV_FOO" in src becomes FOO in dev mode.
func FromEnviron(mode Mode, src environ.Env) *Environment {
	e := New(mode)
	for _, kv := range src.Sorted() {
		k, v, _ := strings.Cut(kv, "=")
		if k != "" {
			e.vars[k] = v
		}
	}
	return e
}

// Mode is the current mode.
func (e *Environment) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// SetMode switches the current mode.
func (e *Environment) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

// Get looks key up in the current mode.
func (e *Environment) Get(key string) (string, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getLocked(e.mode, key)
}

// GetIn looks key up as if the current mode were mode.
func (e *Environment) GetIn(mode Mode, key string) (string, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getLocked(mode, key)
}

// GetOr is Get that substitutes def when key is not set.
func (e *Environment) GetOr(key, def string) (string, error) {
	v, ok, err := e.Get(key)
	switch {
	case err != nil:
		return "", err
	case !ok:
		return def, nil
	}
	return v, nil
}

func (e *Environment) getLocked(mode Mode, key string) (string, bool, error) {
	if allowed, ok := e.restricted[key]; ok {
		_, all := allowed[ModeAll]
		_, this := allowed[mode]
		if !all && !this {
			return "", false, errors.Annotate(ErrMode, "variable %q is not accessible in mode %q", key, mode).Err()
		}
	}
	if v, ok := e.vars[mode.Key(key)]; ok {
		return v, true, nil
	}
	v, ok := e.vars[key]
	return v, ok, nil
}

// Set stores key for the given modes, replacing every previous value of key
// in any mode. With no modes, or with ModeAll among them, the variable is
// shared by all modes.
//
// The variable is then readable only in the given modes.
func (e *Environment) Set(key, value string, modes ...Mode) {
	if len(modes) == 0 {
		modes = []Mode{ModeAll}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range Modes {
		delete(e.vars, m.Key(key))
	}

	allowed := modeSet{}
	for _, m := range modes {
		allowed[m] = struct{}{}
	}
	e.restricted[key] = allowed

	if _, ok := allowed[ModeAll]; ok {
		e.vars[key] = value
		return
	}
	for m := range allowed {
		e.vars[m.Key(key)] = value
	}
}

// Delete removes key from the given modes; with no modes, from every mode.
// Modes it is removed from lose access to it.
func (e *Environment) Delete(key string, modes ...Mode) {
	if len(modes) == 0 {
		modes = Modes
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range modes {
		delete(e.vars, m.Key(key))
	}
	if allowed, ok := e.restricted[key]; ok {
		for _, m := range modes {
			delete(allowed, m)
		}
		if len(allowed) == 0 {
			delete(e.restricted, key)
		}
	}
}

// Contains reports whether key has a value in the current mode, ignoring
// access restrictions.
func (e *Environment) Contains(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.vars[e.mode.Key(key)]; ok {
		return true
	}
	_, ok := e.vars[key]
	return ok
}

// Keys returns the sorted base names of all variables, in any mode.
func (e *Environment) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := map[string]struct{}{}
	for k := range e.vars {
		seen[baseKey(k)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ModeVariables returns the variables scoped to the current mode, keyed by
// base name.
func (e *Environment) ModeVariables() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := map[string]string{}
	if e.mode == ModeAll {
		return out
	}
	prefix := e.mode.Prefix()
	for k, v := range e.vars {
		if base, ok := strings.CutPrefix(k, prefix); ok {
			out[base] = v
		}
	}
	return out
}

// Snapshot captures the current variables and restrictions.
type Snapshot struct {
	vars       map[string]string
	restricted map[string]modeSet
}

// Snapshot returns a copy of the current state for Rollback.
func (e *Environment) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{vars: cloneVars(e.vars), restricted: cloneRestricted(e.restricted)}
}

// Rollback restores the state captured by Snapshot. The mode is unchanged.
func (e *Environment) Rollback(s Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars = cloneVars(s.vars)
	e.restricted = cloneRestricted(s.restricted)
}

func baseKey(k string) string {
	for _, m := range Modes {
		if m == ModeAll {
			continue
		}
		if base, ok := strings.CutPrefix(k, m.Prefix()); ok && base != "" {
			return base
		}
	}
	return k
}

func cloneVars(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRestricted(in map[string]modeSet) map[string]modeSet {
	out := make(map[string]modeSet, len(in))
	for k, set := range in {
		cp := make(modeSet, len(set))
		for m := range set {
			cp[m] = struct{}{}
		}
		out[k] = cp
	}
	return out
}
