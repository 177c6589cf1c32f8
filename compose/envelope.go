package compose

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"

	"github.com/ouziel-slama/kontor/kerrors"
)

// schnorrParsePubKey parses a BIP340 x-only public key into its
// even-y-normalized *btcec.PublicKey, the form every Taproot helper in
// txscript expects as an internal key.
func schnorrParsePubKey(xonly []byte) (*btcec.PublicKey, error) {
	pk, err := schnorr.ParsePubKey(xonly)
	if err != nil {
		return nil, kerrors.Validation("invalid x-only public key", err)
	}
	return pk, nil
}

// buildEnvelopeScript constructs the protocol envelope leaf:
//
//	<xonly_pubkey> OP_CHECKSIG OP_FALSE OP_IF <"kon"> OP_0 <data chunks...> OP_ENDIF
//
// Data is split into <=520-byte pushes, the maximum a single script data
// push may carry.
func buildEnvelopeScript(xonly [32]byte, data []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(xonly[:])
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_FALSE)
	b.AddOp(txscript.OP_IF)
	b.AddData([]byte(ProtocolTag))
	b.AddOp(txscript.OP_0)
	for len(data) > 0 {
		n := len(data)
		if n > MaxScriptDataChunk {
			n = MaxScriptDataChunk
		}
		b.AddData(data[:n])
		data = data[n:]
	}
	b.AddOp(txscript.OP_ENDIF)
	return b.Script()
}

// taprootSpendInfo is everything needed to both construct the P2TR
// output script and later reconstruct a script-path spend of it.
type taprootSpendInfo struct {
	PkScript     []byte
	LeafScript   []byte
	LeafVersion  byte
	ControlBlock []byte
}

// buildEnvelopeTaproot builds a single-leaf Taproot output committing to
// the envelope script above, keyed by the participant's own x-only
// public key as the internal key. The output therefore also has a key
// path, spendable by whoever holds that key; this composer only builds
// script-path spends of it.
func buildEnvelopeTaproot(xonly [32]byte, data []byte) (*taprootSpendInfo, error) {
	internalKey, err := schnorrParsePubKey(xonly[:])
	if err != nil {
		return nil, err
	}

	leafScript, err := buildEnvelopeScript(xonly, data)
	if err != nil {
		return nil, kerrors.Validation("failed to build envelope script", err)
	}

	leaf := txscript.NewBaseTapLeaf(leafScript)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	rootHash := tree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(internalKey, rootHash[:])
	pkScript, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, kerrors.Validation("failed to build taproot output script", err)
	}

	ctrlBlock := tree.LeafMerkleProofs[0].ToControlBlock(internalKey)
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, kerrors.Validation("failed to serialize control block", err)
	}

	return &taprootSpendInfo{
		PkScript:     pkScript,
		LeafScript:   leafScript,
		LeafVersion:  byte(txscript.BaseLeafVersion),
		ControlBlock: ctrlBlockBytes,
	}, nil
}
