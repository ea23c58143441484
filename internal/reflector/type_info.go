// Package reflector caches type names and fixed binary layouts.
package reflector

import (
	"encoding/binary"
	"reflect"
	"sync"
)

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	Name string
	Type reflect.Type
	// Size is the encoded size of a value under encoding/binary, or -1 if
	// the type has no fixed layout.
	Size int
}

// Fixed reports whether values of the type always encode to Size bytes.
func (ti TypeInfo) Fixed() bool { return ti.Size >= 0 }

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{Size: -1}
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Name: nameOf(t), Type: t, Size: -1}
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.String, reflect.Map, reflect.Chan, reflect.Func:
	default:
		ti.Size = binary.Size(reflect.New(t).Elem().Interface())
	}

	muCache.Lock()
	cache[t] = ti
	muCache.Unlock()
	return ti
}

func nameOf(t reflect.Type) string {
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
