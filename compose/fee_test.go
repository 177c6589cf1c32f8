package compose

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// signedVsize fills every input of a copy of tx with the witness shape a
// real spend would carry and returns the resulting vsize: key-path
// inputs get a single 65-byte signature, script-path inputs the
// [sig, leaf script, control block] stack recorded for them.
func signedVsize(tx *wire.MsgTx, scriptPath map[int]TapLeafScript) int64 {
	clone := tx.Copy()
	for i, in := range clone.TxIn {
		if leaf, ok := scriptPath[i]; ok {
			in.Witness = placeholderWitness(leaf.Script, leaf.ControlBlock)
		} else {
			in.Witness = wire.TxWitness{make([]byte, DummySchnorrSigLen)}
		}
	}
	return vsize(clone)
}

// TestFeeSufficiency: for both produced transactions, the fee actually
// paid (inputs minus outputs) covers the signed transaction's vsize at
// the requested fee rate.
func TestFeeSufficiency(t *testing.T) {
	const feeRate = 3

	p0 := newTestParticipant(t, 90_000, []byte("first instruction payload"))
	p1 := newTestParticipant(t, 250_000, []byte("second, rather longer, instruction payload spanning more bytes"))
	p1.UTXOs[0].ID = "utxo-1"

	commit, err := ComposeCommit(feeRate, []Participant{p0, p1})
	require.NoError(t, err)

	// Each test participant funds with exactly one UTXO, so the input
	// total is just the two funding values.
	commitIn := int64(90_000 + 250_000)
	var commitOut int64
	for _, out := range commit.Tx.TxOut {
		commitOut += out.Value
	}
	commitFee := commitIn - commitOut
	require.GreaterOrEqual(t, commitFee, signedVsize(commit.Tx, nil)*feeRate)

	reveal, err := ComposeReveal(feeRate, commit.Participants, []byte("payload"))
	require.NoError(t, err)

	var revealIn int64
	for _, rp := range commit.Participants {
		revealIn += rp.CommitPrevout.Value
	}
	var revealOut int64
	for _, out := range reveal.Tx.TxOut {
		revealOut += out.Value
	}
	revealFee := revealIn - revealOut

	scriptPath := make(map[int]TapLeafScript, len(reveal.Scripts))
	for i, s := range reveal.Scripts {
		scriptPath[i] = s.Commit
	}
	require.GreaterOrEqual(t, revealFee, signedVsize(reveal.Tx, scriptPath)*feeRate)
}

// TestRevealFeeEnvelopeInvariance: the value locked in the commit
// output must not affect the reveal fee estimate, only the change
// returned. Two otherwise identical
// participants whose commit outputs differ in value must pay the same
// reveal fee, with the value delta flowing entirely to change.
func TestRevealFeeEnvelopeInvariance(t *testing.T) {
	const feeRate = 2

	p := newTestParticipant(t, 500_000, []byte("invariant"))
	commit, err := ComposeCommit(feeRate, []Participant{p})
	require.NoError(t, err)

	// Lift both variants well clear of the dust floor so each takes the
	// change-output path; only then is fee equality the interesting claim.
	base := commit.Participants[0]
	base.CommitPrevout.Value += 50_000
	bumped := base
	bumped.CommitPrevout.Value += 10_000

	revealA, err := ComposeReveal(feeRate, []RevealParticipant{base}, nil)
	require.NoError(t, err)
	revealB, err := ComposeReveal(feeRate, []RevealParticipant{bumped}, nil)
	require.NoError(t, err)

	feeA := base.CommitPrevout.Value - sumOutputs(revealA.Tx)
	feeB := bumped.CommitPrevout.Value - sumOutputs(revealB.Tx)
	require.Equal(t, feeA, feeB)
}

func sumOutputs(tx *wire.MsgTx) int64 {
	var total int64
	for _, out := range tx.TxOut {
		total += out.Value
	}
	return total
}
