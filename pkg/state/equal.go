package state

import "reflect"

// Same reports whether a and b denote the same state. Pointers, maps, slices,
// channels and funcs compare by identity; other comparable values compare
// with ==. Values that cannot be compared are never the same.
func Same[S any](a, b S) bool {
	va, vb := reflect.ValueOf(&a).Elem(), reflect.ValueOf(&b).Elem()
	return same(va, vb)
}

func same(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() && b.IsNil()
		}
		a, b = a.Elem(), b.Elem()
		if a.Type() != b.Type() {
			return false
		}
		return same(a, b)
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Slice:
		return a.Pointer() == b.Pointer() && a.Len() == b.Len()
	}
	if !a.Comparable() || !b.Comparable() {
		return false
	}
	return a.Equal(b)
}
