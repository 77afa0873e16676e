package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandTextBracedAndBare(t *testing.T) {
	scope := Scope{"NAME": "world", "GREETING": "hi"}
	assert.Equal(t, "hi world", ExpandText("$GREETING ${NAME}", scope))
}

func TestExpandTextUndefinedLeftLiteral(t *testing.T) {
	assert.Equal(t, "value is $MISSING", ExpandText("value is $MISSING", Scope{}))
}

func TestExpandTextIsNotRecursive(t *testing.T) {
	scope := Scope{"A": "$B", "B": "final"}
	// Single pass: $A expands to the literal string "$B", which is not
	// itself re-expanded.
	assert.Equal(t, "$B", ExpandText("$A", scope))
}

func TestExpandTextIdempotentWhenNoDollarValues(t *testing.T) {
	scope := Scope{"NAME": "world"}
	once := ExpandText("hello $NAME", scope)
	twice := ExpandText(once, scope)
	assert.Equal(t, once, twice)
}

func TestMergeLaterWins(t *testing.T) {
	base := Scope{"A": "1", "B": "2"}
	over := Scope{"B": "3", "C": "4"}
	merged := Merge(base, over)
	assert.Equal(t, Scope{"A": "1", "B": "3", "C": "4"}, merged)
}

func TestExpandVariables(t *testing.T) {
	scope := Scope{"HOST": "example.com"}
	out := ExpandVariables(map[string]string{"URL": "https://$HOST/x"}, scope)
	assert.Equal(t, "https://example.com/x", out["URL"])
}

func TestToEnvIsSortedKeyValue(t *testing.T) {
	scope := Scope{"B": "2", "A": "1"}
	assert.Equal(t, []string{"A=1", "B=2"}, scope.ToEnv())
}
