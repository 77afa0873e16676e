// Package rule evaluates GitLab's rules: grammar to decide a job's
// `when` and `allow_failure` outcome.
//
// The grammar is tokenized explicitly and the resulting token stream
// is evaluated directly; an `if:` expression is never handed to a
// generic host-language evaluator.
//
// It is intended for internal use by gitlab-local-pipeline only.
package rule

import (
	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

// Rule is one ordered entry of a job's rules: list.
type Rule struct {
	If           string
	When         string
	AllowFailure bool
	HasWhen      bool
	HasAllow     bool
}

// Outcome is what rule evaluation decides for a job.
type Outcome struct {
	When         string
	AllowFailure bool
}

// Evaluate walks rules in order under scope and returns the first
// matching rule's outcome. A rule with no `if` always matches. A
// matching rule with no explicit `when` / `allow_failure` yields
// When="on_success" / AllowFailure=false; if no rule matches at all,
// Outcome{When: "never"}.
func Evaluate(rules []Rule, scope variable.Scope) (Outcome, error) {
	for _, r := range rules {
		matched := true
		if r.If != "" {
			tokens, err := tokenize(r.If)
			if err != nil {
				return Outcome{}, err
			}
			matched, err = evalExpr(tokens, scope)
			if err != nil {
				return Outcome{}, err
			}
		}
		if !matched {
			continue
		}
		when := "on_success"
		if r.HasWhen {
			when = r.When
		}
		allow := false
		if r.HasAllow {
			allow = r.AllowFailure
		}
		return Outcome{When: when, AllowFailure: allow}, nil
	}
	return Outcome{When: "never", AllowFailure: false}, nil
}
