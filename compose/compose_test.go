package compose

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/kerrors"
)

func newTestParticipant(t *testing.T, value int64, instruction []byte) Participant {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	xonlyBytes := schnorr.SerializePubKey(priv.PubKey())
	var xonly [32]byte
	copy(xonly[:], xonlyBytes)

	addr, err := btcutil.NewAddressTaproot(xonlyBytes, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return Participant{
		Address:     addr,
		XOnlyPubKey: xonly,
		Instruction: instruction,
		UTXOs: []UTXO{
			{ID: "utxo-0", Outpoint: wire.OutPoint{Index: 0}, Value: value, PkScript: pkScript},
		},
	}
}

// TestComposeCommitRevealRoundTrip: one participant, a minimal
// instruction, commit followed by reveal with no OP_RETURN data.
func TestComposeCommitRevealRoundTrip(t *testing.T) {
	p := newTestParticipant(t, 100_000, []byte("hello"))

	commit, err := ComposeCommit(5, []Participant{p})
	require.NoError(t, err)
	require.Len(t, commit.Tx.TxIn, 1)
	require.GreaterOrEqual(t, len(commit.Tx.TxOut), 1)
	require.Equal(t, commit.Tx.TxHash(), commit.Participants[0].CommitOutpoint.Hash)
	require.NotEmpty(t, commit.Hex)

	reveal, err := ComposeReveal(5, commit.Participants, nil)
	require.NoError(t, err)
	require.Len(t, reveal.Tx.TxIn, 1)
	require.Equal(t, commit.Participants[0].CommitOutpoint, reveal.Tx.TxIn[0].PreviousOutPoint)
	require.NotEmpty(t, reveal.Hex)
	require.Len(t, reveal.Scripts, 1)
	require.Nil(t, reveal.Scripts[0].Chained)

	// Both PSBTs carry per-input signing metadata: witness_utxo and the
	// tap internal key on the commit, plus the tap leaf script on the
	// reveal.
	require.NotEmpty(t, commit.PacketBase64)
	require.Len(t, commit.Packet.Inputs, 1)
	require.NotNil(t, commit.Packet.Inputs[0].WitnessUtxo)
	require.Equal(t, p.XOnlyPubKey[:], commit.Packet.Inputs[0].TaprootInternalKey)

	require.NotEmpty(t, reveal.PacketBase64)
	require.Len(t, reveal.Packet.Inputs, 1)
	require.Equal(t, commit.Participants[0].CommitPrevout.PkScript, reveal.Packet.Inputs[0].WitnessUtxo.PkScript)
	require.Len(t, reveal.Packet.Inputs[0].TaprootLeafScript, 1)
	require.Equal(t, commit.Participants[0].CommitTapLeafScript.Script, reveal.Packet.Inputs[0].TaprootLeafScript[0].Script)
}

// A UTXO too small to ever cover the script output and its own fee
// must fail funding validation rather than produce an unbalanced
// transaction.
func TestComposeCommitInsufficientFunds(t *testing.T) {
	p := newTestParticipant(t, 100, []byte("x"))

	_, err := ComposeCommit(5, []Participant{p})
	require.Error(t, err)
	require.True(t, kerrors.Is(err, kerrors.KindFunding))
}

// TestOpReturnBoundary: the 3-byte protocol tag counts against the
// 80-byte OP_RETURN relay limit, so 77 bytes of payload is the last
// accepted size and 78 overflows it.
func TestOpReturnBoundary(t *testing.T) {
	p := newTestParticipant(t, 100_000, []byte("hello"))
	commit, err := ComposeCommit(5, []Participant{p})
	require.NoError(t, err)

	ok := make([]byte, 77)
	_, err = ComposeReveal(5, commit.Participants, ok)
	require.NoError(t, err)

	tooBig := make([]byte, 78)
	_, err = ComposeReveal(5, commit.Participants, tooBig)
	require.Error(t, err)
	require.True(t, kerrors.Is(err, kerrors.KindValidation))
}

// TestCommitOutputOrdering: the script output always precedes any
// change output within a participant's slice of outputs.
func TestCommitOutputOrdering(t *testing.T) {
	p := newTestParticipant(t, 1_000_000, []byte("payload"))
	commit, err := ComposeCommit(2, []Participant{p})
	require.NoError(t, err)
	require.Len(t, commit.Tx.TxOut, 2)
	require.Equal(t, commit.Participants[0].CommitPrevout.PkScript, commit.Tx.TxOut[0].PkScript)
}

// TestChainedParticipantForwardsEnvelope ensures a chained participant's
// reveal transaction both forwards a second envelope output and returns
// its reconstructable script.
func TestChainedParticipantForwardsEnvelope(t *testing.T) {
	p := newTestParticipant(t, 1_000_000, []byte("first"))
	p.Chained = true
	p.ChainedData = []byte("second")
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	copy(p.ChainedPubKey[:], schnorr.SerializePubKey(priv.PubKey()))

	commit, err := ComposeCommit(3, []Participant{p})
	require.NoError(t, err)

	reveal, err := ComposeReveal(3, commit.Participants, nil)
	require.NoError(t, err)
	require.NotNil(t, reveal.Scripts[0].Chained)
	require.GreaterOrEqual(t, len(reveal.Tx.TxOut), 1)
}

// TestRevealOutputLayout: with a chained participant ahead of a plain
// one and an OP_RETURN payload, the reveal transaction must lay outputs
// out as [chained(p0), change(p0)?, change(p1)?, op_return], never
// interleaving a later participant's outputs between an earlier chained
// output and the trailing OP_RETURN.
func TestRevealOutputLayout(t *testing.T) {
	p0 := newTestParticipant(t, 200_000, []byte("first"))
	p0.Chained = true
	p0.ChainedData = []byte("chain0")
	priv0, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	copy(p0.ChainedPubKey[:], schnorr.SerializePubKey(priv0.PubKey()))

	p1 := newTestParticipant(t, 200_000, []byte("second"))
	p1.UTXOs[0].ID = "utxo-1"

	commit, err := ComposeCommit(4, []Participant{p0, p1})
	require.NoError(t, err)

	reveal, err := ComposeReveal(4, commit.Participants, []byte("payload"))
	require.NoError(t, err)

	require.Len(t, reveal.Tx.TxIn, 2)
	require.GreaterOrEqual(t, len(reveal.Tx.TxOut), 2)

	chainedInfo, err := buildEnvelopeTaproot(commit.Participants[0].ChainedPubKey, commit.Participants[0].ChainedInstruction)
	require.NoError(t, err)
	require.Equal(t, chainedInfo.PkScript, reveal.Tx.TxOut[0].PkScript)

	last := reveal.Tx.TxOut[len(reveal.Tx.TxOut)-1]
	require.Equal(t, byte(txscript.OP_RETURN), last.PkScript[0])
}

func TestTooManyParticipantsRejected(t *testing.T) {
	participants := make([]Participant, MaxParticipants+1)
	for i := range participants {
		participants[i] = newTestParticipant(t, 100_000, []byte("x"))
	}
	_, err := ComposeCommit(1, participants)
	require.Error(t, err)
	require.True(t, kerrors.Is(err, kerrors.KindValidation))
}
