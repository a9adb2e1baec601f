package dsl

import (
	"context"
	"regexp"
	"strings"

	"github.com/weaveql/weave"
)

// phraseReplacements rewrites natural-language comparison phrases to their
// symbolic operator, longest phrase first so "is greater than or equal to"
// matches before the shorter "is greater than".
var phraseReplacements = []struct {
	phrase string
	op     string
}{
	{"is greater than or equal to", ">="},
	{"is less than or equal to", "<="},
	{"is not equal to", "!="},
	{"is equal to", "=="},
	{"is greater than", ">"},
	{"is less than", "<"},
}

var opRe = regexp.MustCompile(`==|!=|>=|<=|>|<`)

// Condition is a parsed If condition: either a symbolic
// binary comparison between two expressions, or a bare expression taken
// as a boolean.
type Condition struct {
	Left  *Expr
	Op    string // "" for a bare-boolean condition
	Right *Expr
	raw   string
}

// ParseCondition normalizes natural-language comparison phrases to their
// symbolic operator, then splits on the first recognized operator. Text
// with no operator is parsed as a bare boolean expression.
func ParseCondition(text string) (*Condition, error) {
	norm := text
	for _, r := range phraseReplacements {
		norm = replaceFold(norm, r.phrase, r.op)
	}

	loc := opRe.FindStringIndex(norm)
	if loc == nil {
		expr, err := ParseExpr(norm)
		if err != nil {
			return nil, err
		}
		return &Condition{Left: expr, raw: text}, nil
	}

	op := norm[loc[0]:loc[1]]
	leftText := strings.TrimSpace(norm[:loc[0]])
	rightText := strings.TrimSpace(norm[loc[1]:])

	left, err := ParseExpr(leftText)
	if err != nil {
		return nil, err
	}
	right, err := ParseExpr(rightText)
	if err != nil {
		return nil, err
	}
	return &Condition{Left: left, Op: op, Right: right, raw: text}, nil
}

// replaceFold replaces every case-insensitive occurrence of phrase in s
// with replacement.
func replaceFold(s, phrase, replacement string) string {
	lower := strings.ToLower(s)
	phraseLower := strings.ToLower(phrase)
	var b strings.Builder
	for {
		idx := strings.Index(lower, phraseLower)
		if idx < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:idx])
		b.WriteString(" " + replacement + " ")
		s = s[idx+len(phrase):]
		lower = lower[idx+len(phrase):]
	}
	return b.String()
}

// EvalCondition evaluates cond against scope. A bare-boolean condition
// requires its evaluated Left to be a weave.Value of kind Bool.
func EvalCondition(ctx context.Context, cond *Condition, scope Scope) (bool, error) {
	left, err := Eval(ctx, cond.Left, scope)
	if err != nil {
		return false, err
	}

	if cond.Op == "" {
		lv, ok := left.(weave.Value)
		if !ok || lv.Kind() != weave.KindBool {
			return false, weave.NewResolutionError("condition %q does not evaluate to a boolean", cond.raw)
		}
		return lv.Bool(), nil
	}

	right, err := Eval(ctx, cond.Right, scope)
	if err != nil {
		return false, err
	}
	lv, ok := left.(weave.Value)
	if !ok {
		return false, weave.NewResolutionError("left side of condition %q is not a value", cond.raw)
	}

	switch cond.Op {
	case "==":
		return lv.Eq(right)
	case "!=":
		eq, err := lv.Eq(right)
		if err != nil {
			return false, err
		}
		return !eq, nil
	case ">":
		c, err := lv.Compare(right)
		return c > 0, err
	case "<":
		c, err := lv.Compare(right)
		return c < 0, err
	case ">=":
		c, err := lv.Compare(right)
		return c >= 0, err
	case "<=":
		c, err := lv.Compare(right)
		return c <= 0, err
	default:
		return false, weave.NewResolutionError("unknown operator %q in condition %q", cond.Op, cond.raw)
	}
}
