package witvalidator

// Validate runs every rule over doc and collects all violations; it
// never stops at the first one found.
func Validate(doc *Document) []ValidationError {
	var errs []ValidationError
	for i := range doc.Worlds {
		w := &doc.Worlds[i]
		errs = append(errs, validateRequiredExports(w)...)
		errs = append(errs, validateFunctionSignatures(w)...)
		errs = append(errs, validateTypeDefinitions(w)...)
		errs = append(errs, validateCycles(w)...)
	}
	return errs
}

const builtInWorldName = "built-in"

func validateRequiredExports(w *World) []ValidationError {
	if w.Name == builtInWorldName {
		return nil
	}
	for _, fn := range w.Exports {
		if fn.Name == "init" {
			return nil
		}
	}
	return []ValidationError{newErr("contract must export an init function", typeDefLocation(w.Name))}
}

// typeContext records where in a signature a type expression was
// found, since several rules only apply in some positions.
type typeContext int

const (
	ctxFunctionParam typeContext = iota
	ctxFunctionReturn
	ctxRecordField
	ctxVariantPayload
)

func validateFunctionSignatures(w *World) []ValidationError {
	var errs []ValidationError

	for _, fn := range w.Exports {
		switch fn.Name {
		case "init":
			errs = append(errs, validateInitFunction(fn)...)
			continue
		case "fallback":
			errs = append(errs, validateFallbackFunction(fn)...)
			continue
		}

		if !fn.Async {
			errs = append(errs, newErr("exported functions must be async", functionLocation(fn.Name)))
		}

		if len(fn.Params) == 0 {
			errs = append(errs, newErr("function must have a context parameter as its first argument", functionLocation(fn.Name)))
			continue
		}

		first := fn.Params[0]
		contextName, ok, err := borrowedTypeName(first.Type)
		if err != nil {
			errs = append(errs, newErr(err.Error(), parameterLocation(fn.Name, first.Name)))
		} else if !ok {
			errs = append(errs, newErr(
				"first parameter must be a borrow of a context type (e.g., `ctx: borrow<proc-context>`)",
				parameterLocation(fn.Name, first.Name)))
		} else if !isContextType(contextName) {
			errs = append(errs, newErr(
				"first parameter must be a borrow of a valid context type "+
					"(proc-context, view-context, core-context, or fall-context), found '"+contextName+"'",
				parameterLocation(fn.Name, first.Name)))
		}

		for _, p := range fn.Params[1:] {
			t, err := parseTypeExpr(p.Type)
			if err != nil {
				errs = append(errs, newErr(err.Error(), parameterLocation(fn.Name, p.Name)))
				continue
			}
			errs = append(errs, validateTypeInContext(w, t, ctxFunctionParam, parameterLocation(fn.Name, p.Name))...)
		}

		if fn.Result != "" {
			t, err := parseTypeExpr(fn.Result)
			if err != nil {
				errs = append(errs, newErr(err.Error(), returnTypeLocation(fn.Name)))
			} else {
				errs = append(errs, validateTypeInContext(w, t, ctxFunctionReturn, returnTypeLocation(fn.Name))...)
			}
		}
	}

	return errs
}

// validateInitFunction checks `init` is exactly
// `async func(ctx: borrow<proc-context>)`.
func validateInitFunction(fn Function) []ValidationError {
	var errs []ValidationError
	name := "init"

	if !fn.Async {
		errs = append(errs, newErr("init must be async", functionLocation(name)))
	}

	if len(fn.Params) != 1 {
		errs = append(errs, newErr("init must have exactly one parameter: ctx: borrow<proc-context>", functionLocation(name)))
	} else {
		p := fn.Params[0]
		contextName, ok, _ := borrowedTypeName(p.Type)
		if !ok || contextName != "proc-context" {
			errs = append(errs, newErr("init parameter must be borrow<proc-context>", parameterLocation(name, p.Name)))
		}
	}

	if fn.Result != "" {
		errs = append(errs, newErr("init must not have a return type", returnTypeLocation(name)))
	}

	return errs
}

// validateFallbackFunction checks `fallback` is exactly
// `async func(ctx: borrow<fall-context>, expr: string) -> string`.
func validateFallbackFunction(fn Function) []ValidationError {
	var errs []ValidationError
	name := "fallback"

	if !fn.Async {
		errs = append(errs, newErr("fallback must be async", functionLocation(name)))
	}

	if len(fn.Params) != 2 {
		errs = append(errs, newErr("fallback must have exactly two parameters: ctx: borrow<fall-context>, expr: string", functionLocation(name)))
	} else {
		ctxParam := fn.Params[0]
		contextName, ok, _ := borrowedTypeName(ctxParam.Type)
		if !ok || contextName != "fall-context" {
			errs = append(errs, newErr("fallback first parameter must be borrow<fall-context>", parameterLocation(name, ctxParam.Name)))
		}

		exprParam := fn.Params[1]
		if exprParam.Type != "string" {
			errs = append(errs, newErr("fallback second parameter must be string", parameterLocation(name, exprParam.Name)))
		}
	}

	if fn.Result != "string" {
		errs = append(errs, newErr("fallback must return string", returnTypeLocation(name)))
	}

	return errs
}

func validateTypeDefinitions(w *World) []ValidationError {
	var errs []ValidationError

	for _, td := range w.Types {
		if isBuiltinType(td.Name) {
			continue
		}

		switch td.Kind {
		case "record":
			if len(td.Fields) == 0 {
				errs = append(errs, newErr("record must have at least one field", typeDefLocation(td.Name)))
			}
			for _, f := range td.Fields {
				t, err := parseTypeExpr(f.Type)
				if err != nil {
					errs = append(errs, newErr(err.Error(), fieldLocation(td.Name, f.Name)))
					continue
				}
				errs = append(errs, validateTypeInContext(w, t, ctxRecordField, fieldLocation(td.Name, f.Name))...)
			}

		case "variant":
			for _, c := range td.Cases {
				if len(c.Fields) > 0 {
					errs = append(errs, newErr(
						"variant case payload cannot be an inline record; define a named record type instead",
						variantCaseLocation(td.Name, c.Name)))
					continue
				}
				if c.Type == "" {
					continue
				}
				t, err := parseTypeExpr(c.Type)
				if err != nil {
					errs = append(errs, newErr(err.Error(), variantCaseLocation(td.Name, c.Name)))
					continue
				}
				errs = append(errs, validateTypeInContext(w, t, ctxVariantPayload, variantCaseLocation(td.Name, c.Name))...)
			}

		case "flags":
			errs = append(errs, newErr("flags types are not supported", typeDefLocation(td.Name)))

		case "enum":
			// no further constraints

		default:
			// alias or unrecognized kind: nothing to check structurally
		}
	}

	return errs
}

func validateTypeInContext(w *World, t *Type, ctx typeContext, loc Location) []ValidationError {
	var errs []ValidationError

	switch t.Kind {
	case KindChar:
		errs = append(errs, newErr("char type is not supported", loc))

	case KindF32, KindF64:
		errs = append(errs, newErr("floating point types are not supported", loc))

	case KindU8:
		errs = append(errs, newErr("u8 type is only allowed as list<u8>", loc))

	case KindU16, KindU32, KindS8, KindS16, KindS32:
		errs = append(errs, newErr("8/16/32-bit integer types are not supported; use s64 or u64", loc))

	case KindResult:
		if ctx != ctxFunctionReturn {
			errs = append(errs, newErr("result type can only be used as a function return type", loc))
		}

		if t.Err == nil {
			errs = append(errs, newErr("result type must have an error type (use result<T, error>)", loc))
		} else if !isErrorType(t.Err) {
			errs = append(errs, newErr("result error type must be 'error', found '"+typeExprName(t.Err)+"'", loc))
		}

		if t.Ok != nil && t.Ok.Kind == KindResult {
			errs = append(errs, newErr("nested result types are not allowed", loc))
		}

		if t.Ok != nil {
			errs = append(errs, validateTypeInContext(w, t.Ok, ctxFunctionReturn, loc)...)
		}

	case KindList:
		if t.Elem.Kind != KindU8 && (ctx == ctxRecordField || ctx == ctxVariantPayload) {
			errs = append(errs, newErr(
				"list<T> (where T is not u8) can only be used in function signatures, not in record fields or variant payloads",
				loc))
		}
		if t.Elem.Kind == KindList {
			errs = append(errs, newErr("nested list types are not allowed", loc))
		}
		if t.Elem.Kind != KindU8 {
			errs = append(errs, validateTypeInContext(w, t.Elem, ctx, loc)...)
		}

	case KindOption:
		if t.Elem.Kind == KindOption {
			errs = append(errs, newErr("nested option types are not allowed", loc))
		}
		errs = append(errs, validateTypeInContext(w, t.Elem, ctx, loc)...)

	case KindOwn:
		errs = append(errs, newErr("own<T> handles are not supported; use borrow<T>", loc))

	case KindFuture:
		errs = append(errs, newErr("future types are not supported", loc))

	case KindStream:
		errs = append(errs, newErr("stream types are not supported", loc))

	case KindTuple:
		errs = append(errs, newErr("tuple types are not supported; use a named record instead", loc))

	case KindNamed:
		if td, ok := w.typeByName(t.Name); ok && td.Kind == "alias" {
			if inner, err := parseTypeExpr(td.Alias); err == nil {
				errs = append(errs, validateTypeInContext(w, inner, ctx, loc)...)
			}
		}
	}

	return errs
}

// borrowedTypeName extracts the resource name out of a `borrow<T>`
// parameter type expression. ok is false if the expression doesn't
// parse as a borrow at all (rather than parsing but naming the wrong
// resource, which the caller checks separately).
func borrowedTypeName(typeExpr string) (name string, ok bool, err error) {
	t, err := parseTypeExpr(typeExpr)
	if err != nil {
		return "", false, err
	}
	if t.Kind != KindBorrow {
		return "", false, nil
	}
	return t.Name, true, nil
}

func isErrorType(t *Type) bool {
	return t.Kind == KindNamed && t.Name == ErrorTypeName
}

func typeExprName(t *Type) string {
	if t.Kind == KindNamed {
		return t.Name
	}
	names := map[TypeKind]string{
		KindBool: "bool", KindU8: "u8", KindU16: "u16", KindU32: "u32", KindU64: "u64",
		KindS8: "s8", KindS16: "s16", KindS32: "s32", KindS64: "s64",
		KindF32: "f32", KindF64: "f64", KindChar: "char", KindString: "string",
		KindErrorContext: "error-context", KindList: "list", KindOption: "option",
		KindResult: "result", KindBorrow: "borrow", KindOwn: "own",
		KindFuture: "future", KindStream: "stream", KindTuple: "tuple",
	}
	if n, ok := names[t.Kind]; ok {
		return n
	}
	return "<anonymous>"
}
