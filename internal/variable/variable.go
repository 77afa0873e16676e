// Package variable interpolates $VAR / ${VAR} references inside job
// strings and composes the layered scope (process env, predefined,
// project, global, job-local) the Pipeline Compiler builds per job.
//
// It is intended for internal use by gitlab-local-pipeline only.
package variable

import (
	"fmt"
	"regexp"
	"sort"
)

// Scope is a flat, already-merged name -> value mapping. Later layers
// win when composed with Merge.
type Scope map[string]string

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandText replaces each $NAME or ${NAME} with scope[NAME] when
// present, leaving the literal text (including the sigil) untouched
// otherwise. Expansion is single-pass: the result is never re-scanned,
// so values containing '$' are never recursively expanded.
func ExpandText(text string, scope Scope) string {
	return varRef.ReplaceAllStringFunc(text, func(match string) string {
		name := varRef.FindStringSubmatch(match)
		key := name[1]
		if key == "" {
			key = name[2]
		}
		if v, ok := scope[key]; ok {
			return v
		}
		return match
	})
}

// ExpandVariables applies ExpandText to every value in vars, under the
// given scope, yielding a new map. Keys are left untouched.
func ExpandVariables(vars map[string]string, scope Scope) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = ExpandText(v, scope)
	}
	return out
}

// Merge composes scopes left-to-right; later scopes overwrite earlier
// ones for a given key: process environment, predefined, project,
// global variables, job-local variables, in that order.
func Merge(scopes ...Scope) Scope {
	out := make(Scope)
	for _, s := range scopes {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// FromMap is a convenience constructor used where a plain
// map[string]string (e.g. parsed YAML variables:) needs to become a
// Scope.
func FromMap(m map[string]string) Scope {
	return Scope(m)
}

// ToEnv renders the scope as a sorted "KEY=value" slice, the shape
// every external process or container invocation needs for -e/--env
// flags.
func (s Scope) ToEnv() []string {
	out := make([]string, 0, len(s))
	for k, v := range s {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}
