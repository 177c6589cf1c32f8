package witvalidator

// validateCycles performs a DFS with an in-stack set over each named
// type's dependency edges, reporting the first type found to close a
// cycle back on itself. Iteration follows declaration order, which
// keeps the result deterministic without ranging over an unordered
// map.
func validateCycles(w *World) []ValidationError {
	deps := make(map[string][]string, len(w.Types))
	for _, td := range w.Types {
		if isBuiltinType(td.Name) {
			continue
		}
		deps[td.Name] = collectTypeDependencies(td)
	}

	visited := make(map[string]bool, len(deps))
	inStack := make(map[string]bool, len(deps))
	var errs []ValidationError

	for _, td := range w.Types {
		name := td.Name
		if isBuiltinType(name) || visited[name] {
			continue
		}
		if cycleName, found := detectCycle(name, deps, visited, inStack); found {
			errs = append(errs, newErr("cyclic type reference detected", typeDefLocation(cycleName)))
		}
	}

	return errs
}

func collectTypeDependencies(td TypeDef) []string {
	var deps []string

	collect := func(expr string) {
		if expr == "" {
			return
		}
		if t, err := parseTypeExpr(expr); err == nil {
			collectTypeRefs(t, &deps)
		}
	}

	switch td.Kind {
	case "record":
		for _, f := range td.Fields {
			collect(f.Type)
		}
	case "variant":
		for _, c := range td.Cases {
			collect(c.Type)
			for _, f := range c.Fields {
				collect(f.Type)
			}
		}
	case "alias":
		collect(td.Alias)
	}

	return deps
}

func collectTypeRefs(t *Type, deps *[]string) {
	switch t.Kind {
	case KindNamed:
		if !isBuiltinType(t.Name) {
			*deps = append(*deps, t.Name)
		}
	case KindOption, KindList, KindFuture, KindStream:
		if t.Elem != nil {
			collectTypeRefs(t.Elem, deps)
		}
	case KindResult:
		if t.Ok != nil {
			collectTypeRefs(t.Ok, deps)
		}
		if t.Err != nil {
			collectTypeRefs(t.Err, deps)
		}
	case KindTuple:
		for _, a := range t.Args {
			collectTypeRefs(a, deps)
		}
	}
}

func detectCycle(name string, deps map[string][]string, visited, inStack map[string]bool) (string, bool) {
	visited[name] = true
	inStack[name] = true

	for _, neighbor := range deps[name] {
		if !visited[neighbor] {
			if cycleName, found := detectCycle(neighbor, deps, visited, inStack); found {
				return cycleName, true
			}
		} else if inStack[neighbor] {
			return neighbor, true
		}
	}

	inStack[name] = false
	return "", false
}
