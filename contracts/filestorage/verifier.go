package filestorage

// Verifier checks a node's storage proof against a challenge. Proof
// generation happens off-process; this hook only verifies.
type Verifier interface {
	VerifyProof(challengeID string, seed []byte, numChallenges uint64, proof []byte) (bool, error)
}

// StubVerifier always accepts, standing in for the real storage-proof
// scheme (erasure-coded Merkle opening against the file's root) that a
// production deployment plugs in here.
type StubVerifier struct{}

func (StubVerifier) VerifyProof(string, []byte, uint64, []byte) (bool, error) {
	return true, nil
}
