package contractmodel

import "reflect"

// MapAccessor is the accessor for a map-typed field: keys are storage
// path segments, so Keys() enumerates them via the store's distinct
// prefix scan rather than any in-memory index.
type MapAccessor struct {
	ctx       ReadContext
	path      Path
	valueType reflect.Type
}

// Get reads one entry. Keys are always their string form, since a
// storage path segment is text.
func (m *MapAccessor) Get(key string, out interface{}) (bool, error) {
	return m.ctx.Get(m.path.Push(key).String(), out)
}

func (m *MapAccessor) Set(wctx WriteContext, key string, value interface{}) error {
	return writeValue(wctx, m.path.Push(key), value)
}

func (m *MapAccessor) Delete(wctx WriteContext, key string) error {
	return wctx.Delete(m.path.Push(key).String())
}

// Keys lists the map's current entries.
func (m *MapAccessor) Keys() ([]string, error) {
	return m.ctx.PrefixKeys(m.path.String() + "/")
}

// At roots a Wrapper at one entry of a struct-valued map, letting a
// caller descend into individual sub-fields (e.g. a counter field it
// wants to bump) without loading the entry's other fields — the same
// never-load-more-than-needed laziness Wrapper gives struct fields,
// just reached via a map key instead of a field name.
func (m *MapAccessor) At(key string) *Wrapper {
	return &Wrapper{ctx: m.ctx, path: m.path.Push(key), typ: m.valueType}
}

// LoadOne materializes a single entry's struct value without loading
// every other key the map currently holds, the map-keyed counterpart to
// Wrapper.Load for a map whose value type is a struct.
func (m *MapAccessor) LoadOne(key string, out interface{}) (bool, error) {
	if m.valueType.Kind() != reflect.Struct {
		found, err := m.ctx.Get(m.path.Push(key).String(), out)
		return found, err
	}
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Ptr || v.Elem().Type() != m.valueType {
		return false, nil
	}
	exists, err := m.ctx.Exists(m.path.Push(key).String())
	if err != nil || !exists {
		return false, err
	}
	return true, m.At(key).load(v.Elem())
}

// Load materializes the whole map, recursing through Wrapper.load for
// struct-valued entries and reading scalars directly otherwise.
func (m *MapAccessor) Load() (reflect.Value, error) {
	keys, err := m.Keys()
	if err != nil {
		return reflect.Value{}, err
	}

	mapType := reflect.MapOf(reflect.TypeOf(""), m.valueType)
	result := reflect.MakeMapWithSize(mapType, len(keys))

	for _, k := range keys {
		valPtr := reflect.New(m.valueType)
		if m.valueType.Kind() == reflect.Struct {
			child := &Wrapper{ctx: m.ctx, path: m.path.Push(k), typ: m.valueType}
			if err := child.load(valPtr.Elem()); err != nil {
				return reflect.Value{}, err
			}
		} else {
			found, err := m.ctx.Get(m.path.Push(k).String(), valPtr.Interface())
			if err != nil {
				return reflect.Value{}, err
			}
			if !found {
				continue
			}
		}
		result.SetMapIndex(reflect.ValueOf(k), valPtr.Elem())
	}
	return result, nil
}
