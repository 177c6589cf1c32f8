// Package filestorage is a native contract built on contractmodel/ and
// storage/: file storage agreements, deadline-bound challenges, and
// proof submission, with all state held as contract_state paths reached
// through contractmodel's Wrapper/MapAccessor.
package filestorage

// Protocol defaults written into ProtocolState by init.
const (
	DefaultMinNodes                uint64 = 3
	DefaultChallengeDeadlineBlocks uint64 = 2016
)

// FileMetadata is the per-file registration record.
type FileMetadata struct {
	FileID       string
	Root         []byte
	PaddedLen    uint64
	OriginalSize uint64
	Filename     string
}

// Agreement is a storage agreement for a file. Nodes maps node_id to
// active status: true means active, false means the node left but the
// entry is kept rather than deleted (append-only storage has no use for
// tombstoning a still-relevant membership fact).
type Agreement struct {
	AgreementID  string
	FileMetadata FileMetadata
	Active       bool
	Nodes        map[string]bool
	NodeCount    uint64
}

// ChallengeStatus is a path-encoded, no-payload variant: Wrapper writes
// and reads it as an ordinary JSON string scalar, since a C-style enum
// with no associated data needs none of VariantAccessor's case-resolution
// machinery (that is exercised instead by contractmodel's own tests,
// against a variant that does carry a payload).
type ChallengeStatus string

const (
	StatusActive   ChallengeStatus = "active"
	StatusProven   ChallengeStatus = "proven"
	StatusExpired  ChallengeStatus = "expired"
	StatusBadProof ChallengeStatus = "bad_proof"
)

// Challenge is one issued storage challenge against a node.
type Challenge struct {
	ChallengeID    string
	AgreementID    string
	FileID         string
	NodeID         string
	IssuedHeight   uint64
	DeadlineHeight uint64
	Seed           []byte
	NumChallenges  uint64
	Status         ChallengeStatus
}

// ProtocolState is the contract's storage root.
type ProtocolState struct {
	MinNodes                uint64
	ChallengeDeadlineBlocks uint64
	Agreements              map[string]Agreement
	AgreementCount          uint64
	Challenges              map[string]Challenge
}
