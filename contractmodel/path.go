// Package contractmodel produces the typed, per-field storage-path
// accessors a contract's state model needs, derived at runtime via
// reflection over the contract's plain Go struct definition rather
// than generated ahead of time.
package contractmodel

import "strings"

// Path is a storage path built up field-by-field, joined with "/" to
// match contract_state's path column convention (storage/schema.go).
type Path []string

func (p Path) String() string { return strings.Join(p, "/") }

// Push returns a new Path with seg appended; Path is never mutated in
// place so a parent Wrapper's path can be shared safely across fields.
func (p Path) Push(seg string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// RootPath is the base path of a contract's whole storage tree.
func RootPath() Path { return Path{} }
