package compare

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

type node struct {
	Name string
	Next *node
}

type pair struct {
	Tags []string
	N    int
}

func TestTruthy(t *testing.T) {
	var nilMap map[string]int
	var nilPtr *int

	falsy := []any{nil, false, 0, int8(0), uint(0), 0.0, math.NaN(), "", nilMap, nilPtr}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v should be falsy", v)
	}

	truthy := []any{true, 1, -1, 0.5, "x", map[string]int{}, []int{}, struct{}{}, errors.New("e")}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v should be truthy", v)
	}
}

func TestStrict(t *testing.T) {
	assert.True(t, Strict(1, 1))
	assert.True(t, Strict("a", "a"))
	assert.True(t, Strict(nil, nil))
	assert.False(t, Strict(1, int64(1)), "different types never match")
	assert.False(t, Strict(1, "1"))
	assert.False(t, Strict(math.NaN(), math.NaN()))
	assert.False(t, Strict((*int)(nil), nil))
}

func TestStrict_ReferenceIdentity(t *testing.T) {
	s := []string{"a", "b", "c"}
	assert.True(t, Strict(s, s))
	assert.False(t, Strict(s, []string{"a", "b", "c"}), "equal contents are not the same slice")
	assert.False(t, Strict(s, s[:2]))

	m := map[string]int{"a": 1}
	assert.True(t, Strict(m, m))
	assert.False(t, Strict(m, map[string]int{"a": 1}))

	p := pair{Tags: s, N: 1}
	assert.True(t, Strict(p, pair{Tags: s, N: 1}), "structs compare fields, slices by identity")
	assert.False(t, Strict(p, pair{Tags: []string{"x"}, N: 1}))
}

func TestLoose(t *testing.T) {
	assert.True(t, Loose(1, int64(1)))
	assert.True(t, Loose(1, 1.0))
	assert.True(t, Loose("1", 1))
	assert.True(t, Loose(" 2.5 ", 2.5))
	assert.True(t, Loose(true, 1))
	assert.True(t, Loose("", 0))
	assert.True(t, Loose(nil, (*int)(nil)))
	assert.True(t, Loose(complex(1, 0), 1))

	assert.False(t, Loose("a", 0))
	assert.False(t, Loose(nil, 0))
	assert.False(t, Loose(math.NaN(), math.NaN()))
	assert.False(t, Loose([]int{1}, []int{1}))
}

func TestDeepEqual(t *testing.T) {
	a := map[string]any{"list": []int{1, 2}, "nested": map[string]string{"k": "v"}}
	b := map[string]any{"list": []int{1, 2}, "nested": map[string]string{"k": "v"}}
	assert.True(t, DeepEqual(a, b))
	assert.True(t, DeepEqual(b, a))

	b["list"] = []int{1, 3}
	assert.False(t, DeepEqual(a, b))

	assert.False(t, DeepEqual([]int{1}, []int64{1}), "leaf types must match")
	assert.False(t, DeepEqual([]int(nil), []int{}))
	assert.False(t, DeepEqual(map[string]int{"a": 1}, map[string]int{"b": 1}))
	assert.True(t, DeepEqual(&node{Name: "x"}, &node{Name: "x"}))
	assert.True(t, DeepEqual(math.NaN(), math.NaN()), "deep equality stays reflexive")
}

func TestDeepEqual_Reflexive(t *testing.T) {
	values := []any{
		nil,
		42,
		"str",
		[]any{1, "two", []int{3}},
		map[int][]string{1: {"a"}},
		pair{Tags: []string{"t"}, N: 2},
		&node{Name: "head", Next: &node{Name: "tail"}},
	}
	for _, v := range values {
		assert.True(t, DeepEqual(v, v), "%#v", v)
		assert.True(t, DeepLooseEqual(v, v), "%#v", v)
	}
}

func TestDeepEqual_Cycles(t *testing.T) {
	a := &node{Name: "a"}
	a.Next = a
	b := &node{Name: "a"}
	b.Next = b

	assert.True(t, DeepEqual(a, b))
	assert.True(t, DeepLooseEqual(a, b))

	c := &node{Name: "c"}
	c.Next = c
	assert.False(t, DeepEqual(a, c))

	m1 := map[string]any{}
	m1["self"] = m1
	m2 := map[string]any{}
	m2["self"] = m2
	assert.True(t, DeepEqual(m1, m2))

	s1 := []any{nil}
	s1[0] = s1
	s2 := []any{nil}
	s2[0] = s2
	assert.True(t, DeepEqual(s1, s2))
}

func TestDeepLooseEqual_CyclesAcrossTypes(t *testing.T) {
	type list []any
	a := list{nil}
	a[0] = a
	b := []any{nil}
	b[0] = b
	assert.True(t, DeepLooseEqual(a, b))
	assert.False(t, DeepEqual(a, b))

	type table map[string]any
	m1 := table{}
	m1["self"] = m1
	m2 := map[string]any{}
	m2["self"] = m2
	assert.True(t, DeepLooseEqual(m1, m2))

	c := list{1, nil}
	c[1] = c
	d := []any{2, nil}
	d[1] = d
	assert.False(t, DeepLooseEqual(c, d))
}

func TestDeepEqual_SharedBackingArrays(t *testing.T) {
	x := []int{1, 2}
	y := []int{3, 4}
	assert.False(t, DeepEqual([]any{x[:0], x}, []any{y[:0], y}), "an empty prefix says nothing about the full slices")
	assert.False(t, DeepLooseEqual([]any{x[:0], x}, []any{y[:0], y}))

	z := []int{1, 2}
	assert.True(t, DeepEqual([]any{x[:1], x}, []any{z[:1], z}))
}

func TestDeepLooseEqual(t *testing.T) {
	assert.True(t, DeepLooseEqual([]any{1, "2"}, []any{"1", 2}))
	assert.True(t, DeepLooseEqual([]int{1, 2}, []int64{1, 2}))
	assert.True(t, DeepLooseEqual([]int{1, 2}, [2]float64{1, 2}))
	assert.True(t, DeepLooseEqual(map[string]int{"a": 1}, map[string]float64{"a": 1}))
	assert.True(t, DeepLooseEqual(map[int]string{1: "x"}, map[string]string{"1": "x"}))
	assert.True(t, DeepLooseEqual([]int(nil), []int{}))

	assert.False(t, DeepLooseEqual([]int{1}, []int{1, 2}))
	assert.False(t, DeepLooseEqual(map[string]int{"a": 1}, map[string]int{"a": 2}))
	assert.False(t, DeepLooseEqual(pair{N: 1}, node{Name: "1"}))
}

func TestInspect(t *testing.T) {
	assert.Equal(t, "nil", Inspect(nil))
	assert.Equal(t, `"hi"`, Inspect("hi"))
	assert.Equal(t, "42", Inspect(42))
	assert.Equal(t, "true", Inspect(true))
	assert.Equal(t, `"boom"`, Inspect(errors.New("boom")))

	first := Inspect(map[string]int{"b": 2, "a": 1})
	second := Inspect(map[string]int{"a": 1, "b": 2})
	assert.Equal(t, first, second, "map rendering is key-sorted")
	assert.Contains(t, first, `"a"`)
	assert.NotContains(t, Inspect(&node{Name: "x"}), "0x", "pointer addresses are omitted")
}

func TestDiff(t *testing.T) {
	assert.Empty(t, Diff(1, 2), "scalars do not need a diff")

	diff := Diff([]int{1, 2, 3}, []int{1, 5, 3})
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-  (int) 2")
	assert.Contains(t, diff, "+  (int) 5")
}
