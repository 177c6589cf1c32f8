package contractmodel

import "reflect"

// writeValue stores value at path, recursing field-by-field for a
// struct so each field lands at its own sub-path exactly the way Load
// expects to read it back, and writing everything else as a single
// leaf.
func writeValue(wctx WriteContext, path Path, value interface{}) error {
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return wctx.Set(path.String(), nil)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return wctx.Set(path.String(), value)
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if err := writeValue(wctx, path.Push(field.Name), v.Field(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
