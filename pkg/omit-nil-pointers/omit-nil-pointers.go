package omitnilpointers

import (
	"reflect"
)

// OmitNilPointers returns the entries of fields that carry a value, dereferencing
// non-nil pointers. Nil interfaces and nil pointers are left out, so a struct of
// optional pointer fields can be turned into a partial HSET argument.
func OmitNilPointers(fields map[string]any) map[string]any {
	omitted := make(map[string]any, len(fields))
	for key, value := range fields {
		if value == nil {
			continue
		}

		v := reflect.ValueOf(value)
		if v.Kind() != reflect.Ptr {
			omitted[key] = value
			continue
		}

		if v.IsNil() {
			continue
		}

		omitted[key] = v.Elem().Interface()
	}

	return omitted
}
