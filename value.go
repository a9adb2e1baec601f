package weave

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags a Value's variant. Arithmetic and comparison dispatch on the
// left operand's Kind; there is no cross-kind promotion.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
	KindDateTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// Value is a tagged typed value: Number, String, Bool, or DateTime. Every
// constructor validates at construction time; no invalid Value can exist.
type Value struct {
	kind Kind
	num  decimal.Decimal
	str  string
	b    bool
	t    time.Time

	precision *int
	scale     *int
	maxLen    *int
}

// Kind returns the value's variant tag.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the underlying boolean. Calling it on a non-Bool Value
// returns false; callers that care should check Kind first.
func (v Value) Bool() bool { return v.b }

// NewNumber parses text as an exact decimal, validating it against the
// optional precision (total significant digits) and scale (fractional
// digit cap). A scale violation or a magnitude >= 10^(precision-scale)
// is a construction-time ValidationError.
func NewNumber(text string, precision, scale *int) (Value, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return Value{}, NewValidationError("invalid number literal %q: %v", text, err).WithCause(err)
	}
	return wrapNumber(d, precision, scale)
}

// NumberFromDecimal wraps an already-parsed decimal.Decimal, validating it
// the same way NewNumber does.
func NumberFromDecimal(d decimal.Decimal, precision, scale *int) (Value, error) {
	return wrapNumber(d, precision, scale)
}

func wrapNumber(d decimal.Decimal, precision, scale *int) (Value, error) {
	if err := validateNumber(d, precision, scale); err != nil {
		return Value{}, err
	}
	return Value{kind: KindNumber, num: d, precision: precision, scale: scale}, nil
}

func validateNumber(d decimal.Decimal, precision, scale *int) error {
	effScale := 0
	if scale != nil {
		effScale = *scale
	}
	if scale != nil {
		if digits := fractionalDigits(d); digits > effScale {
			return NewValidationError("number %s has %d fractional digits, exceeds scale %d", d.String(), digits, effScale)
		}
	}
	if precision != nil {
		exp := *precision - effScale
		if exp < 0 {
			return NewValidationError("number precision %d smaller than scale %d", *precision, effScale)
		}
		limit := decimal.New(1, int32(exp))
		if d.Abs().GreaterThanOrEqual(limit) {
			return NewValidationError("number %s exceeds precision %d (scale %d)", d.String(), *precision, effScale)
		}
	}
	return nil
}

func fractionalDigits(d decimal.Decimal) int {
	s := d.String()
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		return len(s) - dot - 1
	}
	return 0
}

// NewString validates text against an optional max length (in runes).
func NewString(text string, maxLen *int) (Value, error) {
	if maxLen != nil && len([]rune(text)) > *maxLen {
		return Value{}, NewValidationError("string exceeds max length %d", *maxLen)
	}
	return Value{kind: KindString, str: text, maxLen: maxLen}, nil
}

// NewBool wraps a boolean; construction never fails.
func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

// NewDateTime wraps a time.Time; construction never fails.
func NewDateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

// ParseDateTime parses an RFC3339 timestamp, falling back to a bare date
// (YYYY-MM-DD) for literals that omit a time-of-day component.
func ParseDateTime(text string) (Value, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return NewDateTime(t), nil
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return NewDateTime(t), nil
	}
	return Value{}, NewValidationError("invalid datetime literal %q", text)
}

// Raw unwraps the value to its canonical storage scalar: Number and
// DateTime serialize to canonical text (for exact round-tripping through
// a text-typed column), String stays a string, Bool stays a bool.
func (v Value) Raw() any {
	switch v.kind {
	case KindNumber:
		if v.scale != nil {
			return v.num.StringFixed(int32(*v.scale))
		}
		return v.num.String()
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return nil
	}
}

func (v Value) String() string {
	if s, ok := v.Raw().(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v.Raw())
}

// WrapRaw reconstructs a Value of the given kind from a raw storage
// scalar (as read back from an adapter row), revalidating against the
// declared field constraints.
func WrapRaw(kind Kind, raw any, precision, scale, maxLen *int) (Value, error) {
	switch kind {
	case KindNumber:
		switch r := raw.(type) {
		case string:
			return NewNumber(r, precision, scale)
		case decimal.Decimal:
			return NumberFromDecimal(r, precision, scale)
		case float64:
			return NumberFromDecimal(decimal.NewFromFloat(r), precision, scale)
		case int64:
			return NumberFromDecimal(decimal.NewFromInt(r), precision, scale)
		default:
			return Value{}, NewValidationError("cannot wrap %T as number", raw)
		}
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, NewValidationError("cannot wrap %T as string", raw)
		}
		return NewString(s, maxLen)
	case KindBool:
		switch r := raw.(type) {
		case bool:
			return NewBool(r), nil
		case int64:
			return NewBool(r != 0), nil
		case string:
			b, err := strconv.ParseBool(r)
			if err != nil {
				return Value{}, NewValidationError("cannot wrap %q as bool", r)
			}
			return NewBool(b), nil
		default:
			return Value{}, NewValidationError("cannot wrap %T as bool", raw)
		}
	case KindDateTime:
		switch r := raw.(type) {
		case string:
			return ParseDateTime(r)
		case time.Time:
			return NewDateTime(r), nil
		default:
			return Value{}, NewValidationError("cannot wrap %T as datetime", raw)
		}
	default:
		return Value{}, NewValidationError("unknown kind %v", kind)
	}
}

// wrapLike constructs a raw scalar (any, not yet a typed Go value) into a
// Value of the same kind as v, used to coerce the right-hand "raw" side
// of a mixed typed/untyped comparison before dispatch.
func wrapLike(v Value, raw any) (Value, error) {
	if rv, ok := raw.(Value); ok {
		return rv, nil
	}
	return WrapRaw(v.kind, raw, v.precision, v.scale, v.maxLen)
}

// Add dispatches on the receiver's kind: numeric addition, string
// concatenation. Bool and DateTime have no Add.
func (v Value) Add(other any) (Value, error) {
	rhs, err := wrapLike(v, other)
	if err != nil {
		return Value{}, err
	}
	switch v.kind {
	case KindNumber:
		if rhs.kind != KindNumber {
			return Value{}, NewResolutionError("cannot add %s to number", rhs.kind)
		}
		return wrapNumber(v.num.Add(rhs.num), v.precision, v.scale)
	case KindString:
		if rhs.kind != KindString {
			return Value{}, NewResolutionError("cannot add %s to string", rhs.kind)
		}
		return NewString(v.str+rhs.str, v.maxLen)
	default:
		return Value{}, NewResolutionError("kind %s does not support add", v.kind)
	}
}

// Sub is defined only for Number.
func (v Value) Sub(other any) (Value, error) {
	if v.kind != KindNumber {
		return Value{}, NewResolutionError("kind %s does not support subtract", v.kind)
	}
	rhs, err := wrapLike(v, other)
	if err != nil {
		return Value{}, err
	}
	if rhs.kind != KindNumber {
		return Value{}, NewResolutionError("cannot subtract %s from number", rhs.kind)
	}
	return wrapNumber(v.num.Sub(rhs.num), v.precision, v.scale)
}

// Mul is defined only for Number.
func (v Value) Mul(other any) (Value, error) {
	if v.kind != KindNumber {
		return Value{}, NewResolutionError("kind %s does not support multiply", v.kind)
	}
	rhs, err := wrapLike(v, other)
	if err != nil {
		return Value{}, err
	}
	if rhs.kind != KindNumber {
		return Value{}, NewResolutionError("cannot multiply number by %s", rhs.kind)
	}
	return wrapNumber(v.num.Mul(rhs.num), v.precision, v.scale)
}

// Div is defined only for Number; division by zero is a ValidationError.
func (v Value) Div(other any) (Value, error) {
	if v.kind != KindNumber {
		return Value{}, NewResolutionError("kind %s does not support divide", v.kind)
	}
	rhs, err := wrapLike(v, other)
	if err != nil {
		return Value{}, err
	}
	if rhs.kind != KindNumber {
		return Value{}, NewResolutionError("cannot divide number by %s", rhs.kind)
	}
	if rhs.num.IsZero() {
		return Value{}, NewValidationError("division by zero")
	}
	// Divide at generous internal precision; the result is then
	// revalidated (and truncated in representation) against the
	// receiver's declared scale, per the "no silent rounding" contract:
	// any result whose exact value needs more fractional digits than
	// the declared scale errors rather than rounding silently.
	q := v.num.DivRound(rhs.num, int32(requiredDivScale(v.scale))+8)
	return wrapNumber(q, v.precision, v.scale)
}

func requiredDivScale(scale *int) int {
	if scale == nil {
		return 8
	}
	return *scale
}

// Round returns a new Number rounded half-away-from-zero to dp fractional
// digits. dp must not exceed the receiver's declared scale, if any.
func (v Value) Round(dp int) (Value, error) {
	if v.kind != KindNumber {
		return Value{}, NewResolutionError("kind %s does not support round", v.kind)
	}
	rounded := v.num.Round(int32(dp))
	return wrapNumber(rounded, v.precision, v.scale)
}

// Not negates a Bool.
func (v Value) Not() (Value, error) {
	if v.kind != KindBool {
		return Value{}, NewResolutionError("kind %s does not support not", v.kind)
	}
	return NewBool(!v.b), nil
}

// And/Or evaluate both operands (no short-circuiting) before combining,
// matching a value-level model rather than a control-flow one.
func (v Value) And(other Value) (Value, error) {
	if v.kind != KindBool || other.kind != KindBool {
		return Value{}, NewResolutionError("and requires two bools")
	}
	return NewBool(v.b && other.b), nil
}

func (v Value) Or(other Value) (Value, error) {
	if v.kind != KindBool || other.kind != KindBool {
		return Value{}, NewResolutionError("or requires two bools")
	}
	return NewBool(v.b || other.b), nil
}

// Eq compares for equality within a kind: decimal value equality for
// Number (not textual), full-text equality for String, value equality for
// Bool, instant equality for DateTime.
func (v Value) Eq(other any) (bool, error) {
	rhs, err := wrapLike(v, other)
	if err != nil {
		return false, err
	}
	if v.kind != rhs.kind {
		return false, NewResolutionError("cannot compare %s to %s", v.kind, rhs.kind)
	}
	switch v.kind {
	case KindNumber:
		return v.num.Equal(rhs.num), nil
	case KindString:
		return v.str == rhs.str, nil
	case KindBool:
		return v.b == rhs.b, nil
	case KindDateTime:
		return v.t.Equal(rhs.t), nil
	default:
		return false, NewResolutionError("unknown kind %v", v.kind)
	}
}

// Compare orders Number and DateTime values: -1, 0, 1 as usual.
func (v Value) Compare(other any) (int, error) {
	rhs, err := wrapLike(v, other)
	if err != nil {
		return 0, err
	}
	if v.kind != rhs.kind {
		return 0, NewResolutionError("cannot compare %s to %s", v.kind, rhs.kind)
	}
	switch v.kind {
	case KindNumber:
		return v.num.Cmp(rhs.num), nil
	case KindDateTime:
		switch {
		case v.t.Before(rhs.t):
			return -1, nil
		case v.t.After(rhs.t):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, NewResolutionError("kind %s does not support ordering", v.kind)
	}
}
