package contractmodel

import (
	"fmt"
	"reflect"

	"github.com/ouziel-slama/kontor/kerrors"
)

// Wrapper binds a storage path to a Go type, producing child accessors
// field by field and materializing the live value with Load.
type Wrapper struct {
	ctx  ReadContext
	path Path
	typ  reflect.Type
}

// NewWrapper roots a Wrapper at path for the given struct value or
// pointer-to-struct sample (only its type is used).
func NewWrapper(ctx ReadContext, path Path, sample interface{}) (*Wrapper, error) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, kerrors.Contract("contractmodel: root sample must be a struct", nil)
	}
	return &Wrapper{ctx: ctx, path: path, typ: t}, nil
}

// Field descends into a named struct field and returns a *Wrapper rooted
// at it, whatever the field's Go kind: a map field is then reached with
// Map, a pointer field (Option<T>) checked with IsVoid, a struct field
// descended with Field again, and a scalar leaf read or written with
// Get/Set.
func (w *Wrapper) Field(name string) (*Wrapper, error) {
	if w.typ.Kind() != reflect.Struct {
		return nil, kerrors.Contract(fmt.Sprintf("contractmodel: %s is not a struct field container", w.path), nil)
	}
	f, ok := w.typ.FieldByName(name)
	if !ok {
		return nil, kerrors.Contract(fmt.Sprintf("contractmodel: no field %q on %s", name, w.typ), nil)
	}
	return &Wrapper{ctx: w.ctx, path: w.path.Push(name), typ: f.Type}, nil
}

// Map re-interprets the current node as a Map<K, V>, returning an error
// if the underlying type is not a Go map.
func (w *Wrapper) Map() (*MapAccessor, error) {
	if w.typ.Kind() != reflect.Map {
		return nil, kerrors.Contract(fmt.Sprintf("contractmodel: %s is not a map field", w.path), nil)
	}
	return &MapAccessor{ctx: w.ctx, path: w.path, valueType: w.typ.Elem()}, nil
}

// IsVoid reports an Option field's absence.
func (w *Wrapper) IsVoid() (bool, error) {
	exists, err := w.ctx.Exists(w.path.String())
	return !exists, err
}

// Get decodes a scalar leaf's current value into out.
func (w *Wrapper) Get(out interface{}) (bool, error) {
	return w.ctx.Get(w.path.String(), out)
}

// Set writes this node's value: a scalar leaf is written directly,
// while a struct-typed node is split field-by-field so Load can read it
// back the same way it reads any other nested struct.
func (w *Wrapper) Set(wctx WriteContext, value interface{}) error {
	return writeValue(wctx, w.path, value)
}

// Load recursively materializes the struct value this Wrapper roots:
// structs recurse field by field, maps delegate to MapAccessor.Load,
// everything else is read as a scalar leaf.
func (w *Wrapper) Load(out interface{}) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.Elem().Type() != w.typ {
		return kerrors.Contract("contractmodel: Load requires a pointer to the wrapped type", nil)
	}
	return w.load(v.Elem())
}

func (w *Wrapper) load(dst reflect.Value) error {
	switch w.typ.Kind() {
	case reflect.Struct:
		for i := 0; i < w.typ.NumField(); i++ {
			field := w.typ.Field(i)
			if !field.IsExported() {
				continue
			}
			child, err := w.Field(field.Name)
			if err != nil {
				return err
			}
			if err := child.load(dst.Field(i)); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		m, err := w.Map()
		if err != nil {
			return err
		}
		loaded, err := m.Load()
		if err != nil {
			return err
		}
		dst.Set(loaded)
		return nil

	default:
		found, err := w.ctx.Get(w.path.String(), dst.Addr().Interface())
		if err != nil || !found {
			return err
		}
		return nil
	}
}
