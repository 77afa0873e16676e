package rule

import (
	"fmt"
	"strings"

	"github.com/firecow/gitlab-local-pipeline/internal/variable"
)

type tokenKind int

const (
	tokOperand tokenKind = iota
	tokRegex
	tokOp
	tokLogic
)

type token struct {
	kind  tokenKind
	value string // for tokOperand: the substituted string, or "" if null
	isNil bool   // for tokOperand: true when the operand is null
	op    string // for tokOp/tokLogic: ==, !=, =~, !~, &&, ||
}

// tokenize scans an `if:` expression into a flat token stream. $NAME
// operands are recorded here and resolved later by substitute: each
// one becomes the variable's value if defined, else null.
func tokenize(expr string) ([]token, error) {
	var toks []token
	i := 0
	n := len(expr)

	skipSpace := func() {
		for i < n && (expr[i] == ' ' || expr[i] == '\t') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			break
		}
		c := expr[i]

		switch {
		case strings.HasPrefix(expr[i:], "&&"):
			toks = append(toks, token{kind: tokLogic, op: "&&"})
			i += 2
		case strings.HasPrefix(expr[i:], "||"):
			toks = append(toks, token{kind: tokLogic, op: "||"})
			i += 2
		case strings.HasPrefix(expr[i:], "=="):
			toks = append(toks, token{kind: tokOp, op: "=="})
			i += 2
		case strings.HasPrefix(expr[i:], "!="):
			toks = append(toks, token{kind: tokOp, op: "!="})
			i += 2
		case strings.HasPrefix(expr[i:], "=~"):
			toks = append(toks, token{kind: tokOp, op: "=~"})
			i += 2
		case strings.HasPrefix(expr[i:], "!~"):
			toks = append(toks, token{kind: tokOp, op: "!~"})
			i += 2
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < n && expr[j] != quote {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("rule: unterminated string literal in %q", expr)
			}
			toks = append(toks, token{kind: tokOperand, value: expr[i+1 : j]})
			i = j + 1
		case c == '/':
			j := i + 1
			for j < n && expr[j] != '/' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("rule: unterminated regex literal in %q", expr)
			}
			toks = append(toks, token{kind: tokRegex, value: expr[i+1 : j]})
			i = j + 1
		case c == '$':
			j := i + 1
			for j < n && isIdentChar(expr[j]) {
				j++
			}
			name := expr[i+1 : j]
			toks = append(toks, token{kind: tokOperand, isNil: true, value: name})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentChar(expr[j]) {
				j++
			}
			word := expr[i:j]
			if word == "null" {
				toks = append(toks, token{kind: tokOperand, isNil: true, value: "", op: "literal-null"})
			} else {
				return nil, fmt.Errorf("rule: unexpected bareword %q in %q", word, expr)
			}
			i = j
		default:
			return nil, fmt.Errorf("rule: unexpected character %q in %q", string(c), expr)
		}
	}

	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// substitute resolves each $NAME operand token against scope, turning it
// into either a literal string operand or a null operand.
func substitute(toks []token, scope variable.Scope) []token {
	out := make([]token, len(toks))
	for idx, t := range toks {
		if t.kind == tokOperand && t.op != "literal-null" {
			if t.isNil && t.value != "" {
				// This is a $NAME reference (value holds the name).
				if v, ok := scope[t.value]; ok {
					out[idx] = token{kind: tokOperand, value: v}
					continue
				}
				out[idx] = token{kind: tokOperand, isNil: true}
				continue
			}
		}
		if t.op == "literal-null" {
			out[idx] = token{kind: tokOperand, isNil: true}
			continue
		}
		out[idx] = t
	}
	return out
}
