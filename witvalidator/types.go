// Package witvalidator validates the WIT world a contract exports: its
// required exports, function signatures, and type definitions. It works
// over a TOML intermediate representation since no Go port of wit-parser
// exists: the IR's Type fields carry WIT type-expression syntax as
// strings (e.g. "list<u8>", "borrow<proc-context>", "result<u64,error>")
// and typeexpr.go parses them into a structured shape the rules walk.
package witvalidator

// Document is the root of a decoded world-IR TOML file. A document may
// describe more than one world, the same way a .wit package can.
type Document struct {
	Worlds []World `toml:"world"`
}

// World mirrors one `world` block of a WIT package: a name, its
// exported functions, and the type definitions it uses.
type World struct {
	Name    string     `toml:"name"`
	Exports []Function `toml:"export"`
	Types   []TypeDef  `toml:"type"`

	byName map[string]*TypeDef
}

// Function is one exported function signature.
type Function struct {
	Name   string  `toml:"name"`
	Async  bool    `toml:"async"`
	Params []Param `toml:"param"`
	Result string  `toml:"result"` // WIT type expression; "" means no return type
}

// Param is one function parameter.
type Param struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// TypeDef is one named type definition: record, variant, enum, flags,
// or a plain alias to another type expression.
type TypeDef struct {
	Name   string  `toml:"name"`
	Kind   string  `toml:"kind"` // "record", "variant", "enum", "flags", "alias"
	Fields []Field `toml:"field"`
	Cases  []Case  `toml:"case"`
	Alias  string  `toml:"alias"`
}

// Field is one record field.
type Field struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// Case is one variant (or enum) case. A case with Fields set is an
// inline record payload, which validateTypeDefinitions rejects in
// favor of a named record type. A case with neither Type nor Fields is
// a unit case.
type Case struct {
	Name   string  `toml:"name"`
	Type   string  `toml:"type"`
	Fields []Field `toml:"field"`
}

// ErrorTypeName is the only type accepted as a result's error payload.
const ErrorTypeName = "error"

// builtinTypeNames are the context and error types the grammar treats
// as always defined, so they are never subject to type-definition or
// cycle validation themselves.
var builtinTypeNames = map[string]bool{
	ErrorTypeName:  true,
	"proc-context": true,
	"view-context": true,
	"core-context": true,
	"fall-context": true,
}

func isBuiltinType(name string) bool {
	return builtinTypeNames[name]
}

// isContextType reports whether name is one of the four borrow targets
// a function's first parameter is allowed to name.
func isContextType(name string) bool {
	switch name {
	case "proc-context", "view-context", "core-context", "fall-context":
		return true
	}
	return false
}

// typeByName resolves a named type reference within the world, caching
// the lookup table on first use.
func (w *World) typeByName(name string) (*TypeDef, bool) {
	if w.byName == nil {
		w.byName = make(map[string]*TypeDef, len(w.Types))
		for i := range w.Types {
			w.byName[w.Types[i].Name] = &w.Types[i]
		}
	}
	td, ok := w.byName[name]
	return td, ok
}
