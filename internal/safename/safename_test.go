package safename

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var safePattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

func TestSafeOnlyUsesAllowedChars(t *testing.T) {
	for _, name := range []string{"build", "test:unit", "déploy", "a b", "under_score-dash", "日本語"} {
		assert.True(t, safePattern.MatchString(Safe(name)), "Safe(%q) = %q", name, Safe(name))
	}
}

func TestSafeIsInjective(t *testing.T) {
	inputs := []string{"build", "test:unit", "test-unit", "_build_", "a_b", "a:b", "a-b", "déploy", ""}
	seen := map[string]string{}
	for _, in := range inputs {
		out := Safe(in)
		if prev, ok := seen[out]; ok {
			t.Fatalf("collision: Safe(%q) == Safe(%q) == %q", prev, in, out)
		}
		seen[out] = in
	}
}

func TestSafeIsDeterministic(t *testing.T) {
	assert.Equal(t, Safe("test:unit"), Safe("test:unit"))
}
