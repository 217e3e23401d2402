package compare

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Truthy reports whether v counts as true for the ok/notOk assertion family.
func Truthy(v any) bool {
	rv := indirectInterface(reflect.ValueOf(v))
	if !rv.IsValid() {
		return false
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f)
	case reflect.Complex64, reflect.Complex128:
		return rv.Complex() != 0
	case reflect.String:
		return rv.Len() != 0
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return !rv.IsNil()
	default:
		return true
	}
}

// Strict reports whether a and b are strictly equal: identical dynamic types
// and equal under ==. Maps, slices, funcs, channels and pointers compare by
// identity; structs and arrays holding them compare field by field with the
// same rule. No coercion is performed, so NaN is never equal to itself.
func Strict(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Comparable() && vb.Comparable() {
		return a == b
	}
	return strictValue(va, vb)
}

// Loose reports whether a and b are equal after scalar coercion: numbers
// compare by value across kinds, numeric strings compare with numbers,
// booleans count as 0 and 1, and all nil-like values are equal to each other.
// Non-scalar values fall back to Strict.
func Loose(a, b any) bool {
	return looseValue(reflect.ValueOf(a), reflect.ValueOf(b))
}

func strictValue(va, vb reflect.Value) bool {
	va, vb = indirectInterface(va), indirectInterface(vb)
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return sameReference(va, vb)
	case reflect.Struct:
		for i := 0; i < va.NumField(); i++ {
			if !strictValue(va.Field(i), vb.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < va.Len(); i++ {
			if !strictValue(va.Index(i), vb.Index(i)) {
				return false
			}
		}
		return true
	default:
		return scalarStrict(va, vb, false)
	}
}

func looseValue(va, vb reflect.Value) bool {
	va, vb = indirectInterface(va), indirectInterface(vb)
	if isNilish(va) || isNilish(vb) {
		return isNilish(va) && isNilish(vb)
	}
	if isScalar(va) && isScalar(vb) {
		return scalarLoose(va, vb)
	}
	if va.Type() != vb.Type() {
		return false
	}
	return strictValue(va, vb)
}

// sameReference compares reference kinds by identity. Slices must also agree
// on length, since two slices of one array are different values.
func sameReference(va, vb reflect.Value) bool {
	if va.Kind() == reflect.Slice && va.Len() != vb.Len() {
		return false
	}
	return va.Pointer() == vb.Pointer()
}

// scalarStrict compares two scalar values of the same type. sameNaN makes NaN
// equal to itself, which the deep walks need to stay reflexive.
func scalarStrict(va, vb reflect.Value, sameNaN bool) bool {
	switch va.Kind() {
	case reflect.Bool:
		return va.Bool() == vb.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return va.Int() == vb.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return va.Uint() == vb.Uint()
	case reflect.Float32, reflect.Float64:
		fa, fb := va.Float(), vb.Float()
		if sameNaN && math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
		return fa == fb
	case reflect.Complex64, reflect.Complex128:
		return va.Complex() == vb.Complex()
	case reflect.String:
		return va.String() == vb.String()
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return sameReference(va, vb)
	default:
		return false
	}
}

func scalarLoose(va, vb reflect.Value) bool {
	if va.Kind() == reflect.String && vb.Kind() == reflect.String {
		return va.String() == vb.String()
	}
	if isComplex(va) || isComplex(vb) {
		ca, okA := toComplex(va)
		cb, okB := toComplex(vb)
		return okA && okB && ca == cb
	}
	fa, okA := toNumber(va)
	fb, okB := toNumber(vb)
	if !okA || !okB {
		return false
	}
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return false
	}
	return fa == fb
}

func isScalar(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

func isComplex(v reflect.Value) bool {
	return v.Kind() == reflect.Complex64 || v.Kind() == reflect.Complex128
}

func toComplex(v reflect.Value) (complex128, bool) {
	if isComplex(v) {
		return v.Complex(), true
	}
	f, ok := toNumber(v)
	return complex(f, 0), ok
}

// toNumber converts a scalar to float64. Strings are trimmed and parsed; the
// empty string counts as zero.
func toNumber(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return 1, true
		}
		return 0, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func isNilish(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}

func indirectInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
