package rule

import (
	"testing"

	"github.com/firecow/gitlab-local-pipeline/internal/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateFirstMatchWins(t *testing.T) {
	scope := variable.Scope{"CI_COMMIT_BRANCH": "main"}
	rules := []Rule{
		{If: `$CI_COMMIT_BRANCH == "main"`, When: "manual", HasWhen: true},
		{When: "on_success", HasWhen: true},
	}
	out, err := Evaluate(rules, scope)
	require.NoError(t, err)
	assert.Equal(t, Outcome{When: "manual", AllowFailure: false}, out)
}

func TestEvaluateNoMatchIsNever(t *testing.T) {
	scope := variable.Scope{"CI_COMMIT_BRANCH": "feature"}
	rules := []Rule{
		{If: `$CI_COMMIT_BRANCH == "main"`, When: "on_success", HasWhen: true},
	}
	out, err := Evaluate(rules, scope)
	require.NoError(t, err)
	assert.Equal(t, Outcome{When: "never", AllowFailure: false}, out)
}

func TestEvaluateDefaultsWhenRuleHasNoWhen(t *testing.T) {
	out, err := Evaluate([]Rule{{}}, variable.Scope{})
	require.NoError(t, err)
	assert.Equal(t, Outcome{When: "on_success", AllowFailure: false}, out)
}

func TestEvaluateAllowFailure(t *testing.T) {
	rules := []Rule{{HasAllow: true, AllowFailure: true}}
	out, err := Evaluate(rules, variable.Scope{})
	require.NoError(t, err)
	assert.True(t, out.AllowFailure)
}

func TestEvaluateUndefinedVarIsNull(t *testing.T) {
	rules := []Rule{{If: `$MISSING == null`, When: "on_success", HasWhen: true}}
	out, err := Evaluate(rules, variable.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "on_success", out.When)
}

func TestEvaluateRegexMatch(t *testing.T) {
	scope := variable.Scope{"CI_COMMIT_REF_NAME": "release-1.2"}
	rules := []Rule{{If: `$CI_COMMIT_REF_NAME =~ /^release-/`, When: "on_success", HasWhen: true}}
	out, err := Evaluate(rules, scope)
	require.NoError(t, err)
	assert.Equal(t, "on_success", out.When)
}

func TestEvaluateRegexNullLeftShortCircuits(t *testing.T) {
	rules := []Rule{
		{If: `$MISSING =~ /anything/`, When: "manual", HasWhen: true},
		{When: "on_success", HasWhen: true},
	}
	out, err := Evaluate(rules, variable.Scope{})
	require.NoError(t, err)
	assert.Equal(t, "on_success", out.When)
}

func TestEvaluateAndOr(t *testing.T) {
	scope := variable.Scope{"A": "1", "B": "2"}
	rules := []Rule{{If: `$A == "1" && $B == "2"`, When: "on_success", HasWhen: true}}
	out, err := Evaluate(rules, scope)
	require.NoError(t, err)
	assert.Equal(t, "on_success", out.When)

	rules2 := []Rule{{If: `$A == "9" || $B == "2"`, When: "on_success", HasWhen: true}}
	out2, err := Evaluate(rules2, scope)
	require.NoError(t, err)
	assert.Equal(t, "on_success", out2.When)
}

func TestEvaluateNotEquals(t *testing.T) {
	scope := variable.Scope{"A": "1"}
	rules := []Rule{{If: `$A != "2"`, When: "on_success", HasWhen: true}}
	out, err := Evaluate(rules, scope)
	require.NoError(t, err)
	assert.Equal(t, "on_success", out.When)
}
