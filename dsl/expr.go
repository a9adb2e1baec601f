package dsl

import (
	"context"
	"strings"

	"github.com/weaveql/weave"
)

type tokKind int

const (
	tokNumber tokKind = iota
	tokString
	tokVar
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	path []string
}

// tokenize lexes an expression: numeric literals, quoted string literals,
// braced variables `{name[.path]}`, and the operators + - * / ( ).
func tokenize(text string) ([]token, error) {
	var toks []token
	r := []rune(text)
	i := 0
	for i < len(r) {
		c := r[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '{':
			j := i + 1
			for j < len(r) && r[j] != '}' {
				j++
			}
			if j >= len(r) {
				return nil, weave.NewResolutionError("unterminated variable in expression %q", text)
			}
			inner := string(r[i+1 : j])
			toks = append(toks, token{kind: tokVar, text: inner, path: strings.Split(inner, ".")})
			i = j + 1
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(r) && r[j] != quote {
				j++
			}
			if j >= len(r) {
				return nil, weave.NewResolutionError("unterminated string literal in expression %q", text)
			}
			toks = append(toks, token{kind: tokString, text: string(r[i+1 : j])})
			i = j + 1
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case isDigit(c):
			j := i
			for j < len(r) && (isDigit(r[j]) || r[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(r[i:j])})
			i = j
		default:
			return nil, weave.NewResolutionError("unexpected character %q in expression %q", string(c), text)
		}
	}
	return toks, nil
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

func precedence(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*", "/":
		return 2
	default:
		return 0
	}
}

// Expr is a parsed expression, stored in Shunting-Yard-produced postfix
// (reverse Polish) form, ready for repeated evaluation.
type Expr struct {
	rpn []token
	raw string
}

// ParseExpr tokenizes text and runs the Shunting-Yard algorithm to
// produce a postfix token sequence.
func ParseExpr(text string) (*Expr, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	var output []token
	var ops []token
	for _, t := range toks {
		switch t.kind {
		case tokNumber, tokString, tokVar:
			output = append(output, t)
		case tokLParen:
			ops = append(ops, t)
		case tokRParen:
			for len(ops) > 0 && ops[len(ops)-1].kind != tokLParen {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return nil, weave.NewResolutionError("mismatched parentheses in expression %q", text)
			}
			ops = ops[:len(ops)-1] // discard the '('
		case tokOp:
			for len(ops) > 0 && ops[len(ops)-1].kind == tokOp && precedence(ops[len(ops)-1].text) >= precedence(t.text) {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			ops = append(ops, t)
		}
	}
	for len(ops) > 0 {
		if ops[len(ops)-1].kind == tokLParen {
			return nil, weave.NewResolutionError("mismatched parentheses in expression %q", text)
		}
		output = append(output, ops[len(ops)-1])
		ops = ops[:len(ops)-1]
	}
	return &Expr{rpn: output, raw: text}, nil
}

// Eval walks the postfix token sequence with an operand stack, dispatching
// binary operators on the left operand's kind. Variables resolve through
// scope, descending into Entity.Get for plain fields, Entity.GetRelation
// (which may trigger a lazy relation load) for relation fields, or plain
// map sub-key access for each dotted path segment.
func Eval(ctx context.Context, e *Expr, scope Scope) (any, error) {
	var stack []any
	for _, t := range e.rpn {
		switch t.kind {
		case tokNumber:
			v, err := weave.NewNumber(t.text, nil, nil)
			if err != nil {
				return nil, err
			}
			stack = append(stack, v)
		case tokString:
			v, err := weave.NewString(t.text, nil)
			if err != nil {
				return nil, err
			}
			stack = append(stack, v)
		case tokVar:
			v, err := resolveVar(ctx, t.path, scope)
			if err != nil {
				return nil, err
			}
			stack = append(stack, v)
		case tokOp:
			if len(stack) < 2 {
				return nil, weave.NewResolutionError("malformed expression %q", e.raw)
			}
			rhs := stack[len(stack)-1]
			lhs := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			lv, ok := lhs.(weave.Value)
			if !ok {
				return nil, weave.NewResolutionError("left operand of %q is not a value in expression %q", t.text, e.raw)
			}
			var result weave.Value
			var err error
			switch t.text {
			case "+":
				result, err = lv.Add(rhs)
			case "-":
				result, err = lv.Sub(rhs)
			case "*":
				result, err = lv.Mul(rhs)
			case "/":
				result, err = lv.Div(rhs)
			}
			if err != nil {
				return nil, err
			}
			stack = append(stack, result)
		}
	}
	if len(stack) != 1 {
		return nil, weave.NewResolutionError("malformed expression %q", e.raw)
	}
	return stack[0], nil
}

// resolveVar looks up path[0] in scope, then descends through each
// remaining path segment: through Entity.Get (or GetRelation, for a
// relation field) if the current value is an *weave.Entity, otherwise
// through plain sub-key access on a map.
func resolveVar(ctx context.Context, path []string, scope Scope) (any, error) {
	cur, ok := scope[path[0]]
	if !ok {
		return nil, weave.NewResolutionError("unresolved variable %q", path[0])
	}
	for _, seg := range path[1:] {
		switch v := cur.(type) {
		case *weave.Entity:
			if _, isRel := v.Type().Relation(seg); isRel {
				list, err := v.GetRelation(ctx, seg)
				if err != nil {
					return nil, err
				}
				cur = list
				continue
			}
			val, _, err := v.Get(seg)
			if err != nil {
				return nil, err
			}
			cur = val
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, weave.NewResolutionError("unresolved field %q", seg)
			}
			cur = next
		default:
			return nil, weave.NewResolutionError("cannot resolve field %q on non-entity value", seg)
		}
	}
	return cur, nil
}
