package rule

import (
	"fmt"
	"regexp"

	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

// evalExpr evaluates a tokenized `if:` expression under scope. The
// grammar is a flat left-to-right chain of comparisons joined by && /
// || with no precedence distinction between them.
func evalExpr(toks []token, scope variable.Scope) (bool, error) {
	toks = substitute(toks, scope)

	result, rest, err := evalComparison(toks)
	if err != nil {
		return false, err
	}

	for len(rest) > 0 {
		if rest[0].kind != tokLogic {
			return false, fmt.Errorf("rule: expected && or ||, got operand at position %d", len(toks)-len(rest))
		}
		logicOp := rest[0].op
		rest = rest[1:]

		next, remaining, err := evalComparison(rest)
		if err != nil {
			return false, err
		}
		rest = remaining

		if logicOp == "&&" {
			result = result && next
		} else {
			result = result || next
		}
	}

	return result, nil
}

// evalComparison consumes `operand OP operand` from the front of toks
// and returns the boolean result plus whatever tokens remain.
func evalComparison(toks []token) (bool, []token, error) {
	if len(toks) < 3 {
		return false, nil, fmt.Errorf("rule: incomplete comparison")
	}
	left := toks[0]
	opTok := toks[1]
	right := toks[2]
	rest := toks[3:]

	if left.kind != tokOperand || opTok.kind != tokOp {
		return false, nil, fmt.Errorf("rule: malformed comparison")
	}

	switch opTok.op {
	case "==":
		return !left.isNil && !right.isNil && left.value == right.value ||
			(left.isNil && right.isNil), rest, nil
	case "!=":
		same := (left.isNil && right.isNil) || (!left.isNil && !right.isNil && left.value == right.value)
		return !same, rest, nil
	case "=~", "!~":
		// null on the left short-circuits to false for both =~ and !~.
		if left.isNil {
			return false, rest, nil
		}
		if right.kind != tokRegex {
			return false, nil, fmt.Errorf("rule: %s requires a regex literal on the right", opTok.op)
		}
		re, err := regexp.Compile(right.value)
		if err != nil {
			return false, nil, fmt.Errorf("rule: invalid regex %q: %w", right.value, err)
		}
		matched := re.MatchString(left.value)
		if opTok.op == "!~" {
			return !matched, rest, nil
		}
		return matched, rest, nil
	default:
		return false, nil, fmt.Errorf("rule: unknown operator %q", opTok.op)
	}
}
