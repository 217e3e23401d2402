package compare

import (
	"reflect"
	"unsafe"
)

// DeepEqual reports whether a and b are structurally equal with strict leaves.
// Types must match at every level; slices, arrays, maps, structs and pointers
// are compared by content. A nil slice or map differs from an empty one.
func DeepEqual(a, b any) bool {
	w := newWalker(false)
	return w.equal(reflect.ValueOf(a), reflect.ValueOf(b))
}

// DeepLooseEqual is DeepEqual with coercing leaves: scalars compare as in
// Loose, containers may differ in concrete type (slice against array, map
// key types that coerce), and nil containers equal empty ones.
func DeepLooseEqual(a, b any) bool {
	w := newWalker(true)
	return w.equal(reflect.ValueOf(a), reflect.ValueOf(b))
}

// visit is a pair of references already entered by a walk. Slices are keyed
// by length too, since two slices can share a backing array.
type visit struct {
	a1, a2 unsafe.Pointer
	t1, t2 reflect.Type
	n1, n2 int
}

type walker struct {
	loose   bool
	visited map[visit]bool
}

func newWalker(loose bool) *walker {
	return &walker{loose: loose, visited: make(map[visit]bool)}
}

func (w *walker) equal(va, vb reflect.Value) bool {
	va, vb = indirectInterface(va), indirectInterface(vb)

	if w.loose {
		if isNilish(va) || isNilish(vb) {
			return w.emptyish(va) && w.emptyish(vb)
		}
	} else if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}

	if va.Type() != vb.Type() && !w.loose {
		return false
	}
	if w.seen(va, vb) {
		return true
	}
	if va.Type() != vb.Type() {
		return w.looseMismatched(va, vb)
	}

	switch va.Kind() {
	case reflect.Array:
		return w.sequence(va, vb)
	case reflect.Slice:
		if va.IsNil() != vb.IsNil() {
			return false
		}
		if va.Len() == vb.Len() && va.Pointer() == vb.Pointer() {
			return true
		}
		return w.sequence(va, vb)
	case reflect.Map:
		if va.IsNil() != vb.IsNil() {
			return false
		}
		if va.Pointer() == vb.Pointer() {
			return true
		}
		return w.mapping(va, vb)
	case reflect.Struct:
		for i := 0; i < va.NumField(); i++ {
			if !w.equal(va.Field(i), vb.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Pointer:
		if va.Pointer() == vb.Pointer() {
			return true
		}
		if va.IsNil() || vb.IsNil() {
			return false
		}
		return w.equal(va.Elem(), vb.Elem())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	default:
		if w.loose {
			return scalarLoose(va, vb) || scalarStrict(va, vb, true)
		}
		return scalarStrict(va, vb, true)
	}
}

// looseMismatched handles two values of different types under loose rules.
func (w *walker) looseMismatched(va, vb reflect.Value) bool {
	switch {
	case isScalar(va) && isScalar(vb):
		return scalarLoose(va, vb)
	case isSequence(va) && isSequence(vb):
		return w.sequence(va, vb)
	case va.Kind() == reflect.Map && vb.Kind() == reflect.Map:
		return w.mapping(va, vb)
	case va.Kind() == reflect.Pointer && vb.Kind() == reflect.Pointer:
		return w.equal(va.Elem(), vb.Elem())
	}
	return false
}

func (w *walker) sequence(va, vb reflect.Value) bool {
	if va.Len() != vb.Len() {
		return false
	}
	for i := 0; i < va.Len(); i++ {
		if !w.equal(va.Index(i), vb.Index(i)) {
			return false
		}
	}
	return true
}

func (w *walker) mapping(va, vb reflect.Value) bool {
	if va.Len() != vb.Len() {
		return false
	}
	sameKeys := va.Type().Key() == vb.Type().Key()
	iter := va.MapRange()
	for iter.Next() {
		var other reflect.Value
		if sameKeys {
			other = vb.MapIndex(iter.Key())
		} else {
			other = w.lookupLoose(vb, iter.Key())
		}
		if !other.IsValid() {
			return false
		}
		if !w.equal(iter.Value(), other) {
			return false
		}
	}
	return true
}

// lookupLoose finds the value in m whose key loosely equals key.
func (w *walker) lookupLoose(m, key reflect.Value) reflect.Value {
	iter := m.MapRange()
	for iter.Next() {
		if looseValue(iter.Key(), key) {
			return iter.Value()
		}
	}
	return reflect.Value{}
}

// seen records the reference pair (va, vb) and reports whether the walk has
// already entered it.
func (w *walker) seen(va, vb reflect.Value) bool {
	if !isReference(va) || !isReference(vb) {
		return false
	}
	if va.IsNil() || vb.IsNil() {
		return false
	}
	v := visit{a1: va.UnsafePointer(), a2: vb.UnsafePointer(), t1: va.Type(), t2: vb.Type()}
	if va.Kind() == reflect.Slice {
		v.n1 = va.Len()
	}
	if vb.Kind() == reflect.Slice {
		v.n2 = vb.Len()
	}
	if w.visited[v] {
		return true
	}
	w.visited[v] = true
	return false
}

// emptyish reports whether v is nil-like, or under loose rules an empty
// slice or map, which compare equal to nil.
func (w *walker) emptyish(v reflect.Value) bool {
	if isNilish(v) {
		return true
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	}
	return false
}

func isReference(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		return true
	}
	return false
}

func isSequence(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}
