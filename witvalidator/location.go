package witvalidator

import "fmt"

// Location pinpoints where in a world a ValidationError was raised.
type Location struct {
	kind string
	name string
	sub  string
}

func typeDefLocation(name string) Location        { return Location{kind: "type", name: name} }
func functionLocation(name string) Location       { return Location{kind: "function", name: name} }
func returnTypeLocation(fn string) Location       { return Location{kind: "return", name: fn} }
func fieldLocation(typ, field string) Location    { return Location{kind: "field", name: typ, sub: field} }
func variantCaseLocation(typ, c string) Location  { return Location{kind: "variant_case", name: typ, sub: c} }
func parameterLocation(fn, param string) Location { return Location{kind: "parameter", name: fn, sub: param} }

func (l Location) String() string {
	switch l.kind {
	case "type":
		return fmt.Sprintf("type %s", l.name)
	case "function":
		return fmt.Sprintf("function %s", l.name)
	case "return":
		return fmt.Sprintf("function %s, return type", l.name)
	case "field":
		return fmt.Sprintf("type %s, field %s", l.name, l.sub)
	case "variant_case":
		return fmt.Sprintf("type %s, case %s", l.name, l.sub)
	case "parameter":
		return fmt.Sprintf("function %s, parameter %s", l.name, l.sub)
	default:
		return l.name
	}
}

// ValidationError is one rule violation. Validate collects every one
// it finds rather than stopping at the first.
type ValidationError struct {
	Message  string
	Location Location
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

func newErr(msg string, loc Location) ValidationError {
	return ValidationError{Message: msg, Location: loc}
}
