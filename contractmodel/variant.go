package contractmodel

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ouziel-slama/kontor/kerrors"
)

// Variant declares one case of an enum-shaped contract value. Sample is
// nil for a unit variant; otherwise it is a sample of the variant's
// associated struct or scalar type, used only for its reflect.Type.
type Variant struct {
	Name   string
	Sample interface{}
}

// VariantAccessor is the accessor for an enum-shaped value: each case is
// stored under the enum's base path at a sub-path named by the variant's
// lowercase tag, earlier cases' rows stay in place, and Resolve discovers
// the newest one via a single regex scan.
type VariantAccessor struct {
	ctx      ReadContext
	path     Path
	variants []Variant
}

// NewVariantAccessor roots a VariantAccessor at path for the given set
// of variants.
func NewVariantAccessor(ctx ReadContext, path Path, variants []Variant) *VariantAccessor {
	return &VariantAccessor{ctx: ctx, path: path, variants: variants}
}

// Resolve finds the live variant and, for a non-unit variant, a Wrapper
// rooted at its associated value.
func (v *VariantAccessor) Resolve() (string, *Wrapper, error) {
	names := make([]string, len(v.variants))
	for i, variant := range v.variants {
		names[i] = strings.ToLower(variant.Name)
	}
	pattern := fmt.Sprintf(`^%s/(%s)(/.*|$)`, regexp.QuoteMeta(v.path.String()), strings.Join(names, "|"))

	matched, found, err := v.ctx.MatchingPath(pattern)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, kerrors.Contract("contractmodel: no live variant at "+v.path.String(), nil)
	}

	for _, variant := range v.variants {
		variantPath := v.path.Push(strings.ToLower(variant.Name))
		base := variantPath.String()
		if matched != base && !strings.HasPrefix(matched, base+"/") {
			continue
		}
		if variant.Sample == nil {
			return variant.Name, nil, nil
		}
		t := reflect.TypeOf(variant.Sample)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		return variant.Name, &Wrapper{ctx: v.ctx, path: variantPath, typ: t}, nil
	}
	return "", nil, kerrors.Contract("contractmodel: matched path does not correspond to a declared variant", nil)
}

// Set selects which variant is live by writing the variant's marker at
// its own sub-path, tombstoning nothing (enum storage is append-only
// like every other path): Resolve's latest-wins matching-path scan is
// what makes the newest write the live case even after repeated
// switches. A valued variant's caller writes through the returned
// Wrapper's own Set calls afterward.
func (v *VariantAccessor) Set(wctx WriteContext, name string) error {
	for _, variant := range v.variants {
		if variant.Name == name {
			return wctx.Set(v.path.Push(strings.ToLower(name)).String(), true)
		}
	}
	return kerrors.Contract("contractmodel: unknown variant "+name, nil)
}
