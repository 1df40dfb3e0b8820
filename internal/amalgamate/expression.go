package amalgamate

import (
	"regexp"
	"strings"
)

// Truth is the tri-state outcome of simplifying a conditional expression.
type Truth int

const (
	TruthUnknown Truth = iota // not statically decidable, keep verbatim
	TruthFalse
	TruthTrue
)

var (
	aloneDefinedRx       = regexp.MustCompile(`^(!)?defined\(([^)]+)\)$`)
	aloneInParenthesesRx = regexp.MustCompile(`\((0|1|!?defined\([^)]+\))\)`)
)

// NormalizeExpression renormalizes a lone defined()/!defined() expression
// back to the ifdef/ifndef shorthand. Anything else stays an #if. Round-trips
// with the denormalization done in SimplifyExpression.
func NormalizeExpression(expression string) (string, string) {
	if m := aloneDefinedRx.FindStringSubmatch(expression); m != nil {
		if m[1] != "" {
			return "ifndef", m[2]
		}
		return "ifdef", m[2]
	}
	return "if", expression
}

// SimplifyExpression reduces a boolean expression over 0, 1, defined(NAME),
// &&, || and ! given a set of forced macro values. It returns the constant
// truth of the expression, or TruthUnknown together with the irreducible
// residual expression (renormalized to ifdef/ifndef when simple enough).
func SimplifyExpression(what, expression string, forcedDefines map[string]bool) (Truth, string, string) {
	// Denormalize the shorthand expression
	switch what {
	case "ifdef":
		what, expression = "if", "defined("+expression+")"
	case "ifndef":
		what, expression = "if", "!defined("+expression+")"
	}

	// Go through all forced defines and replace them with their values
	for name, enabled := range forcedDefines {
		if !strings.Contains(expression, name) {
			continue
		}
		value := "0"
		if enabled {
			value = "1"
		}
		expression = strings.ReplaceAll(expression, "defined("+name+")", value)
	}

	// Simplify as long as there's something to do. Constant negations have
	// to fold before the identity folds, otherwise !0 || b would lose its !
	// to the `0 || ` removal.
	for {
		modified := false

		for _, r := range [...][2]string{
			{"!0", "1"},
			{"!1", "0"},
			{"0 || ", ""},
			{" || 0", ""},
			{"1 && ", ""},
			{" && 1", ""},
		} {
			if strings.Contains(expression, r[0]) {
				expression = strings.ReplaceAll(expression, r[0], r[1])
				modified = true
			}
		}

		// defined() / 0 / 1 alone in parentheses, remove the parentheses
		if m := aloneInParenthesesRx.FindStringSubmatchIndex(expression); m != nil {
			expression = expression[:m[0]] + expression[m[2]:m[3]] + expression[m[1]:]
			modified = true
		}

		if modified {
			continue
		}

		// 0 && X or X && 0 collapses to 0, 1 || X or X || 1 to 1, where X
		// may be a negated parenthesized subexpression of arbitrary depth
		if collapsed, ok := annihilate(expression); ok {
			expression = collapsed
			continue
		}
		break
	}

	var result Truth
	switch expression {
	case "0":
		result = TruthFalse
	case "1":
		result = TruthTrue
	default:
		result = TruthUnknown
	}

	// Renormalize back to ifdef/ifndef if the expression is simple enough
	if what == "if" {
		what, expression = NormalizeExpression(expression)
	}

	return result, what, expression
}

// annihilate performs one short-circuit collapse. The non-constant operand is
// matched with an explicit bracket-depth walk instead of a regex, since the
// balancing can extend arbitrarily far left or right of the textual match.
func annihilate(expression string) (string, bool) {
	patterns := [...]struct {
		text         string
		repl         string
		operandRight bool
	}{
		{"0 && ", "0", true},
		{" && 0", "0", false},
		{"1 || ", "1", true},
		{" || 1", "1", false},
	}

	for _, p := range patterns {
		from := 0
		for {
			idx := strings.Index(expression[from:], p.text)
			if idx < 0 {
				break
			}
			idx += from

			if p.operandRight {
				if end, ok := operandEnd(expression, idx+len(p.text)); ok {
					return expression[:idx] + p.repl + expression[end:], true
				}
			} else {
				if start, ok := operandStart(expression, idx); ok {
					return expression[:start] + p.repl + expression[idx+len(p.text):], true
				}
			}
			from = idx + 1
		}
	}
	return expression, false
}

// operandEnd walks right from p over one operand (optional negations, then a
// parenthesized group or a 0/1/defined() atom), returning the exclusive end.
func operandEnd(s string, p int) (int, bool) {
	i := p
	for i < len(s) && s[i] == '!' {
		i++
	}
	if i >= len(s) {
		return 0, false
	}

	if s[i] == '(' {
		depth := 0
		for j := i; j < len(s); j++ {
			switch s[j] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					return j + 1, true
				}
			}
		}
		return 0, false
	}

	if s[i] == '0' || s[i] == '1' {
		return i + 1, true
	}
	if strings.HasPrefix(s[i:], "defined(") {
		if j := strings.IndexByte(s[i+len("defined("):], ')'); j >= 0 {
			return i + len("defined(") + j + 1, true
		}
	}
	return 0, false
}

// operandStart walks left from the exclusive end p over one operand,
// consuming a matching open parenthesis, a preceding defined keyword and any
// leading negations.
func operandStart(s string, p int) (int, bool) {
	if p <= 0 {
		return 0, false
	}

	if s[p-1] == ')' {
		depth := 0
		for j := p - 1; j >= 0; j-- {
			switch s[j] {
			case ')':
				depth++
			case '(':
				depth--
			}
			if depth == 0 {
				// The group may be the argument list of a defined() atom
				start := j
				for start > 0 && isIdentByte(s[start-1]) {
					start--
				}
				for start > 0 && s[start-1] == '!' {
					start--
				}
				return start, true
			}
		}
		return 0, false
	}

	if s[p-1] == '0' || s[p-1] == '1' {
		start := p - 1
		for start > 0 && s[start-1] == '!' {
			start--
		}
		return start, true
	}
	return 0, false
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
