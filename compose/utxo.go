package compose

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
)

// shuffleUTXOs returns a copy of utxos in a deterministic order seeded
// by the participant's own x-only public key: same participant, same
// UTXO set in, same order out, with no dependence on caller-supplied
// ordering, so two composers fed the same inputs always select the same
// subset.
func shuffleUTXOs(xonly [32]byte, utxos []UTXO) []UTXO {
	out := make([]UTXO, len(utxos))
	copy(out, utxos)

	sum := sha256.Sum256(xonly[:])
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
