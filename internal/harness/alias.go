package harness

import (
	"fmt"
	"sort"
)

// Operator names the comparison a record was made with. It is the operator
// field of the diagnostic block.
type Operator string

const (
	OpOk                Operator = "ok"
	OpNotOk             Operator = "notOk"
	OpError             Operator = "error"
	OpEqual             Operator = "equal"
	OpNotEqual          Operator = "notEqual"
	OpDeepEqual         Operator = "deepEqual"
	OpNotDeepEqual      Operator = "notDeepEqual"
	OpDeepLooseEqual    Operator = "deepLooseEqual"
	OpNotDeepLooseEqual Operator = "notDeepLooseEqual"
	OpThrows            Operator = "throws"
	OpDoesNotThrow      Operator = "doesNotThrow"
	OpFail              Operator = "fail"
	OpPass              Operator = "pass"
	OpSkip              Operator = "skip"
)

// aliases maps every accepted assertion name to its operator.
var aliases = map[string]Operator{
	"ok":     OpOk,
	"true":   OpOk,
	"assert": OpOk,

	"notOk": OpNotOk,
	"false": OpNotOk,
	"notok": OpNotOk,

	"error":   OpError,
	"ifError": OpError,
	"ifErr":   OpError,
	"iferror": OpError,

	"equal":        OpEqual,
	"equals":       OpEqual,
	"isEqual":      OpEqual,
	"is":           OpEqual,
	"strictEqual":  OpEqual,
	"strictEquals": OpEqual,

	"notEqual":        OpNotEqual,
	"notEquals":       OpNotEqual,
	"notStrictEqual":  OpNotEqual,
	"notStrictEquals": OpNotEqual,
	"isNotEqual":      OpNotEqual,
	"isNot":           OpNotEqual,
	"not":             OpNotEqual,
	"doesNotEqual":    OpNotEqual,
	"isInequal":       OpNotEqual,

	"deepEqual":    OpDeepEqual,
	"deepEquals":   OpDeepEqual,
	"isEquivalent": OpDeepEqual,
	"same":         OpDeepEqual,

	"notDeepEqual":    OpNotDeepEqual,
	"notEquivalent":   OpNotDeepEqual,
	"notDeeply":       OpNotDeepEqual,
	"notSame":         OpNotDeepEqual,
	"isNotDeepEqual":  OpNotDeepEqual,
	"isNotDeeply":     OpNotDeepEqual,
	"isNotEquivalent": OpNotDeepEqual,
	"isInequivalent":  OpNotDeepEqual,

	"deepLooseEqual": OpDeepLooseEqual,
	"looseEqual":     OpDeepLooseEqual,
	"looseEquals":    OpDeepLooseEqual,

	"notDeepLooseEqual": OpNotDeepLooseEqual,
	"notLooseEqual":     OpNotDeepLooseEqual,
	"notLooseEquals":    OpNotDeepLooseEqual,

	"throws":       OpThrows,
	"doesNotThrow": OpDoesNotThrow,

	"fail": OpFail,
	"pass": OpPass,
	"skip": OpSkip,
}

// adapter binds an operator to its assertion method. arity is the number of
// leading value arguments; anything after them is the message.
type adapter struct {
	arity int
	call  func(t *T, args []any) bool
}

var adapters = map[Operator]adapter{
	OpOk:    {1, func(t *T, a []any) bool { return t.Ok(a[0], a[1:]...) }},
	OpNotOk: {1, func(t *T, a []any) bool { return t.NotOk(a[0], a[1:]...) }},
	OpError: {1, func(t *T, a []any) bool { return t.Error(asError(a[0]), a[1:]...) }},

	OpEqual:             {2, func(t *T, a []any) bool { return t.Equal(a[0], a[1], a[2:]...) }},
	OpNotEqual:          {2, func(t *T, a []any) bool { return t.NotEqual(a[0], a[1], a[2:]...) }},
	OpDeepEqual:         {2, func(t *T, a []any) bool { return t.DeepEqual(a[0], a[1], a[2:]...) }},
	OpNotDeepEqual:      {2, func(t *T, a []any) bool { return t.NotDeepEqual(a[0], a[1], a[2:]...) }},
	OpDeepLooseEqual:    {2, func(t *T, a []any) bool { return t.DeepLooseEqual(a[0], a[1], a[2:]...) }},
	OpNotDeepLooseEqual: {2, func(t *T, a []any) bool { return t.NotDeepLooseEqual(a[0], a[1], a[2:]...) }},

	OpThrows:       {1, func(t *T, a []any) bool { return t.Throws(a[0], a[1:]...) }},
	OpDoesNotThrow: {1, func(t *T, a []any) bool { return t.DoesNotThrow(a[0], a[1:]...) }},

	OpFail: {0, func(t *T, a []any) bool { return t.Fail(a...) }},
	OpPass: {0, func(t *T, a []any) bool { return t.Pass(a...) }},
	OpSkip: {0, func(t *T, a []any) bool { return t.SkipAssert(a...) }},
}

// Operators returns every operator in declaration order.
func Operators() []Operator {
	return []Operator{
		OpOk, OpNotOk, OpError, OpEqual, OpNotEqual, OpDeepEqual, OpNotDeepEqual,
		OpDeepLooseEqual, OpNotDeepLooseEqual, OpThrows, OpDoesNotThrow,
		OpFail, OpPass, OpSkip,
	}
}

// Lookup resolves an assertion name to its operator.
func Lookup(alias string) (Operator, bool) {
	op, ok := aliases[alias]
	return op, ok
}

// Aliases returns every accepted name for op, sorted.
func Aliases(op Operator) []string {
	var names []string
	for name, o := range aliases {
		if o == op {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Assert runs the assertion registered under alias with args, returning its
// outcome. An unknown alias or too few arguments records a failure and
// returns an error.
func (t *T) Assert(alias string, args ...any) (bool, error) {
	op, ok := aliases[alias]
	if !ok {
		err := fmt.Errorf("unknown assertion %q", alias)
		t.record(false, err.Error(), OpFail, nil, nil, extra{noValues: true, err: err.Error()})
		return false, err
	}
	ad := adapters[op]
	if len(args) < ad.arity {
		err := fmt.Errorf("assertion %q takes %d arguments, got %d", alias, ad.arity, len(args))
		t.record(false, err.Error(), op, nil, nil, extra{noValues: true, err: err.Error()})
		return false, err
	}
	return ad.call(t, args), nil
}

// asError turns the argument of an error assertion into an error. Non-error
// values other than nil fail the assertion with their text.
func asError(v any) error {
	switch e := v.(type) {
	case nil:
		return nil
	case error:
		return e
	}
	return fmt.Errorf("%v", v)
}
