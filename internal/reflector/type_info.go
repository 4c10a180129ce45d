// Package reflector derives stable names for event and command types.
package reflector

import (
	"path"
	"reflect"
	"sync"
)

// TypeInfo names a type. Pointer types are described by their element.
type TypeInfo struct {
	// Name is "pkg.Type", where pkg is the last element of the package path.
	Name string
	// FullName is "full/pkg/path.Type".
	FullName string
	Type     reflect.Type
}

var described sync.Map // reflect.Type -> TypeInfo

func TypeInfoOf(x any) TypeInfo    { return TypeInfoForType(reflect.TypeOf(x)) }
func TypeInfoFor[T any]() TypeInfo { return TypeInfoForType(reflect.TypeFor[T]()) }

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if ti, ok := described.Load(t); ok {
		return ti.(TypeInfo)
	}
	ti := describe(t)
	described.Store(t, ti)
	return ti
}

func describe(t reflect.Type) TypeInfo {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	pkg := t.PkgPath()
	if pkg == "" {
		return TypeInfo{Name: name, FullName: name, Type: t}
	}
	return TypeInfo{Name: path.Base(pkg) + "." + name, FullName: pkg + "." + name, Type: t}
}
