package witvalidator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Decode([]byte(src))
	require.NoError(t, err)
	return doc
}

func findErr(errs []ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

const validWorld = `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "create-agreement"
async = true
result = "result<u64,error>"
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
[[world.export.param]]
name = "size"
type = "u64"
`

func TestValidWorldPasses(t *testing.T) {
	doc := mustDecode(t, validWorld)
	errs := Validate(doc)
	require.Empty(t, errs)
}

func TestMissingInitIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "create-agreement"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "must export an init function"))
}

func TestBuiltInWorldSkipsInitRequirement(t *testing.T) {
	src := `
[[world]]
name = "built-in"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.Empty(t, errs)
}

func TestNonAsyncExportIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = false
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "must be async"))
}

func TestMissingContextParamIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "context parameter"))
}

func TestFirstParamMustBeBorrowOfContextType(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "amount"
type = "u64"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "borrow of a context type"))
}

func TestWrongBorrowTargetIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "res"
type = "borrow<some-resource>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "valid context type"))
}

func TestInitSignatureChecks(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = false
result = "string"
[[world.export.param]]
name = "expr"
type = "string"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "init must be async"))
	require.True(t, findErr(errs, "init parameter must be borrow<proc-context>"))
	require.True(t, findErr(errs, "init must not have a return type"))
}

func TestFallbackSignatureChecks(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "fallback"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<fall-context>"
[[world.export.param]]
name = "expr"
type = "u64"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "fallback second parameter must be string"))
	require.True(t, findErr(errs, "fallback must return string"))
}

func TestResultWrongErrorTypeIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
result = "result<u64,u64>"
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "result error type must be 'error'"))
}

func TestScalarBanlist(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
[[world.export.param]]
name = "a"
type = "u16"
[[world.export.param]]
name = "b"
type = "char"
[[world.export.param]]
name = "c"
type = "f64"
[[world.export.param]]
name = "d"
type = "u8"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "8/16/32-bit integer types"))
	require.True(t, findErr(errs, "char type is not supported"))
	require.True(t, findErr(errs, "floating point types"))
	require.True(t, findErr(errs, "u8 type is only allowed as list<u8>"))
}

func TestListU8ParamIsAllowed(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
[[world.export.param]]
name = "blob"
type = "list<u8>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.Empty(t, errs)
}

func TestOwnFutureStreamTupleAreRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
[[world.export.param]]
name = "a"
type = "own<some-resource>"
[[world.export.param]]
name = "b"
type = "future<u64>"
[[world.export.param]]
name = "c"
type = "stream<u64>"
[[world.export.param]]
name = "d"
type = "tuple<u64,string>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "own<T> handles are not supported"))
	require.True(t, findErr(errs, "future types are not supported"))
	require.True(t, findErr(errs, "stream types are not supported"))
	require.True(t, findErr(errs, "tuple types are not supported"))
}

func TestNestedListAndOptionAreRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.export]]
name = "poke"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"
[[world.export.param]]
name = "a"
type = "list<list<u64>>"
[[world.export.param]]
name = "b"
type = "option<option<u64>>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "nested list types are not allowed"))
	require.True(t, findErr(errs, "nested option types are not allowed"))
}

func TestEmptyRecordIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "empty-record"
kind = "record"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "record must have at least one field"))
}

func TestListFieldInRecordIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "challenge"
kind = "record"
[[world.type.field]]
name = "proofs"
type = "list<u64>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "can only be used in function signatures"))
}

func TestListU8FieldInRecordIsAllowed(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "challenge"
kind = "record"
[[world.type.field]]
name = "proof"
type = "list<u8>"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.Empty(t, errs)
}

func TestFlagsAreRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "perms"
kind = "flags"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "flags types are not supported"))
}

func TestInlineRecordInVariantIsRejected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "status"
kind = "variant"
[[world.type.case]]
name = "settled"
[[world.type.case.field]]
name = "amount"
type = "u64"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "cannot be an inline record"))
}

func TestNamedRecordPayloadInVariantIsAllowed(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "settlement"
kind = "record"
[[world.type.field]]
name = "amount"
type = "u64"

[[world.type]]
name = "status"
kind = "variant"
[[world.type.case]]
name = "pending"
[[world.type.case]]
name = "settled"
type = "settlement"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.Empty(t, errs)
}

func TestCyclicTypeReferenceIsDetected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "a"
kind = "record"
[[world.type.field]]
name = "b"
type = "b"

[[world.type]]
name = "b"
kind = "record"
[[world.type.field]]
name = "a"
type = "a"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "cyclic type reference detected"))
}

func TestSelfReferentialAliasIsDetected(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "init"
async = true
[[world.export.param]]
name = "ctx"
type = "borrow<proc-context>"

[[world.type]]
name = "looped"
kind = "alias"
alias = "looped"
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "cyclic type reference detected"))
}

func TestTotalValidationCollectsEveryError(t *testing.T) {
	src := `
[[world]]
name = "filestorage"

[[world.export]]
name = "poke"
async = false
`
	doc := mustDecode(t, src)
	errs := Validate(doc)
	require.True(t, findErr(errs, "must export an init function"))
	require.True(t, findErr(errs, "must be async"))
	require.True(t, findErr(errs, "context parameter"))
	require.GreaterOrEqual(t, len(errs), 3)
}
