package witvalidator

import (
	"strings"

	"github.com/ouziel-slama/kontor/kerrors"
)

// TypeKind classifies a parsed type expression.
type TypeKind int

const (
	KindBool TypeKind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindS8
	KindS16
	KindS32
	KindS64
	KindF32
	KindF64
	KindChar
	KindString
	KindErrorContext
	KindNamed
	KindList
	KindOption
	KindResult
	KindBorrow
	KindOwn
	KindFuture
	KindStream
	KindTuple
)

var primitiveKinds = map[string]TypeKind{
	"bool":          KindBool,
	"u8":            KindU8,
	"u16":           KindU16,
	"u32":           KindU32,
	"u64":           KindU64,
	"s8":            KindS8,
	"s16":           KindS16,
	"s32":           KindS32,
	"s64":           KindS64,
	"f32":           KindF32,
	"f64":           KindF64,
	"char":          KindChar,
	"string":        KindString,
	"error-context": KindErrorContext,
}

// Type is a parsed WIT type expression, the Go analogue of
// wit_parser::Type plus the TypeDefKind it resolves to for the Id
// case. Elem holds the single type argument of list/option/future/
// stream (nil for a bare future or stream); Ok/Err hold a result's two
// slots; Args holds a tuple's element list; Name holds a named (possibly
// builtin) reference's identifier, and for borrow/own the resource name
// they take.
type Type struct {
	Kind TypeKind
	Name string
	Elem *Type
	Ok   *Type
	Err  *Type
	Args []*Type
}

// parseTypeExpr parses one WIT type expression string, e.g.
// "list<u8>", "result<u64,error>", "borrow<proc-context>".
func parseTypeExpr(s string) (*Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, kerrors.Validation("witvalidator: empty type expression", nil)
	}

	name, args, hasArgs, err := splitTypeExpr(s)
	if err != nil {
		return nil, err
	}

	if kind, ok := primitiveKinds[name]; ok {
		if hasArgs {
			return nil, kerrors.Validation("witvalidator: primitive type "+name+" takes no arguments", nil)
		}
		return &Type{Kind: kind, Name: name}, nil
	}

	switch name {
	case "list":
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindList, Elem: elem}, nil

	case "option":
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindOption, Elem: elem}, nil

	case "borrow":
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		if elem.Kind != KindNamed {
			return nil, kerrors.Validation("witvalidator: borrow<T> requires a named resource type", nil)
		}
		return &Type{Kind: KindBorrow, Name: elem.Name}, nil

	case "own":
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		if elem.Kind != KindNamed {
			return nil, kerrors.Validation("witvalidator: own<T> requires a named resource type", nil)
		}
		return &Type{Kind: KindOwn, Name: elem.Name}, nil

	case "future":
		if !hasArgs {
			return &Type{Kind: KindFuture}, nil
		}
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindFuture, Elem: elem}, nil

	case "stream":
		if !hasArgs {
			return &Type{Kind: KindStream}, nil
		}
		elem, err := requireOneArg(name, args)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindStream, Elem: elem}, nil

	case "tuple":
		elems, err := parseArgList(args)
		if err != nil {
			return nil, err
		}
		return &Type{Kind: KindTuple, Args: elems}, nil

	case "result":
		if !hasArgs {
			return &Type{Kind: KindResult}, nil
		}
		parts, err := parseArgList(args)
		if err != nil {
			return nil, err
		}
		t := &Type{Kind: KindResult}
		switch len(parts) {
		case 1:
			t.Ok = parts[0]
		case 2:
			if parts[0].Kind != KindNamed || parts[0].Name != "_" {
				t.Ok = parts[0]
			}
			t.Err = parts[1]
		default:
			return nil, kerrors.Validation("witvalidator: result<> takes at most two arguments", nil)
		}
		return t, nil
	}

	if hasArgs {
		return nil, kerrors.Validation("witvalidator: unknown generic type "+name, nil)
	}
	return &Type{Kind: KindNamed, Name: name}, nil
}

func requireOneArg(name string, args string) (*Type, error) {
	parts, err := parseArgList(args)
	if err != nil {
		return nil, err
	}
	if len(parts) != 1 {
		return nil, kerrors.Validation("witvalidator: "+name+"<T> requires exactly one argument", nil)
	}
	return parts[0], nil
}

// splitTypeExpr splits "name<args>" into ("name", "args", true) or
// "name" into ("name", "", false).
func splitTypeExpr(s string) (name string, args string, hasArgs bool, err error) {
	open := strings.IndexByte(s, '<')
	if open < 0 {
		return s, "", false, nil
	}
	if !strings.HasSuffix(s, ">") {
		return "", "", false, kerrors.Validation("witvalidator: unbalanced '<' in type expression "+s, nil)
	}
	return s[:open], s[open+1 : len(s)-1], true, nil
}

// parseArgList splits a comma-separated argument list at top-level
// commas (ignoring commas nested inside further '<' '>' pairs) and
// parses each argument.
func parseArgList(s string) ([]*Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])

	out := make([]*Type, 0, len(parts))
	for _, p := range parts {
		t, err := parseTypeExpr(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
