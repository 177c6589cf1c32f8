package contractmodel

// ReadContext is the storage read surface a Wrapper needs.
type ReadContext interface {
	// Get decodes the latest non-deleted value at path into out,
	// reporting found=false if nothing has ever been written there.
	Get(path string, out interface{}) (found bool, err error)
	// Exists reports whether any non-deleted row's path starts with
	// prefix, used for Option-field presence checks.
	Exists(prefix string) (bool, error)
	// MatchingPath returns the path of the first non-deleted row whose
	// path matches pattern, used to discover which enum variant is
	// live.
	MatchingPath(pattern string) (path string, found bool, err error)
	// PrefixKeys lists the distinct immediate child segments under
	// prefix, used to enumerate a Map field's keys.
	PrefixKeys(prefix string) ([]string, error)
}

// WriteContext additionally allows writing.
type WriteContext interface {
	ReadContext
	Set(path string, value interface{}) error
	Delete(path string) error
}
