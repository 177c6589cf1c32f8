package compose

import (
	"github.com/btcsuite/btcd/wire"
)

// vsize computes a transaction's virtual size per BIP141: weight is the
// stripped (non-witness) serialized size times four plus the witness
// byte count, and vsize is that weight divided by four, rounded up.
func vsize(tx *wire.MsgTx) int64 {
	base := int64(tx.SerializeSizeStripped())
	total := int64(tx.SerializeSize())
	witness := total - base
	weight := base*4 + witness
	return (weight + 3) / 4
}

// deltaFee clones tx, applies mutate to the clone, and returns
// feeRate*(vsize(after)-vsize(before)). tx itself is left untouched.
func deltaFee(tx *wire.MsgTx, feeRate int64, mutate func(*wire.MsgTx)) int64 {
	before := vsize(tx)
	clone := tx.Copy()
	mutate(clone)
	after := vsize(clone)
	return feeRate * (after - before)
}

// placeholderWitness is a dummy 65-byte Schnorr signature used to
// estimate the vsize a real script-path spend witness will occupy,
// stacked with the leaf script and control block for the spends that
// need them.
func placeholderWitness(leafScript, controlBlock []byte) wire.TxWitness {
	return wire.TxWitness{
		make([]byte, DummySchnorrSigLen),
		leafScript,
		controlBlock,
	}
}

// appendPlaceholderInput appends a zero-value-outpoint input carrying a
// script-path witness placeholder, used only for fee/vsize estimation.
func appendPlaceholderInput(tx *wire.MsgTx, leafScript, controlBlock []byte) {
	in := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	in.Witness = placeholderWitness(leafScript, controlBlock)
	tx.AddTxIn(in)
}

// appendKeyPathInput appends an input spent via the Taproot key path
// (a plain funding UTXO), carrying a single-element signature placeholder.
func appendKeyPathInput(tx *wire.MsgTx, outpoint wire.OutPoint) {
	in := wire.NewTxIn(&outpoint, nil, nil)
	in.Witness = wire.TxWitness{make([]byte, DummySchnorrSigLen)}
	tx.AddTxIn(in)
}
