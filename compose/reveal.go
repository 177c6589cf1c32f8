package compose

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ouziel-slama/kontor/kerrors"
)

// ComposeReveal builds the spending ("reveal") transaction for the
// participants produced by a prior ComposeCommit call. Each commit
// output is spent via its script-path leaf; a participant
// marked Chained forwards a second envelope output funded out of its
// own commit value, and the remainder above the dust floor returns to
// the participant as change. Chained outputs and change outputs are
// each queued during the loop and appended only afterward, in the
// published layout: all chained outputs (in participant order),
// then all change outputs (in participant order), then the optional
// trailing OP_RETURN. When opReturnData is non-empty, a single
// protocol-tagged OP_RETURN output is appended last; its marginal fee
// (op_return_fee_per_participant), together with the transaction's
// fixed overhead, is computed once, up front, and charged entirely to
// the first participant processed.
func ComposeReveal(feeRate int64, participants []RevealParticipant, opReturnData []byte) (*RevealResult, error) {
	if feeRate <= 0 {
		return nil, kerrors.Validation("fee rate must be positive", nil)
	}
	if len(participants) == 0 {
		return nil, kerrors.Validation("compose_reveal requires at least one participant", nil)
	}

	var opReturnScript []byte
	if len(opReturnData) > 0 {
		script, err := buildOpReturnScript(opReturnData)
		if err != nil {
			return nil, err
		}
		opReturnScript = script
	}
	placeholderTagScript, err := buildOpReturnScript(nil)
	if err != nil {
		return nil, err
	}
	opReturnCandidate := opReturnScript
	if opReturnCandidate == nil {
		opReturnCandidate = placeholderTagScript
	}

	revealTx := wire.NewMsgTx(2)
	estimator := wire.NewMsgTx(2)

	// The OP_RETURN output's own marginal vsize cost, together with the
	// transaction's fixed overhead (version, locktime, input/output
	// counts), is charged to the first participant rather than divided
	// across all of them.
	opReturnFee := feeRate*vsize(estimator) + deltaFee(estimator, feeRate, func(tx *wire.MsgTx) {
		tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: opReturnCandidate})
	})

	scriptsOut := make([]ParticipantScripts, len(participants))
	chainedOuts := make([]*wire.TxOut, 0, len(participants))
	changeOuts := make([]*wire.TxOut, 0, len(participants))

	for i, p := range participants {
		leafScript := p.CommitTapLeafScript.Script
		ctrlBlock := p.CommitTapLeafScript.ControlBlock

		var chainedInfo *taprootSpendInfo
		var chainedValue int64
		if p.chained {
			info, err := buildEnvelopeTaproot(p.ChainedPubKey, p.ChainedInstruction)
			if err != nil {
				return nil, err
			}
			chainedInfo = info
			chainedValue = MinEnvelopeValue
		}

		changePkScript, err := txscript.PayToAddrScript(p.Address)
		if err != nil {
			return nil, kerrors.Validation("failed to build change pkscript", err)
		}

		var opReturnShare int64
		if i == 0 {
			opReturnShare = opReturnFee
		}

		feeWithChange := deltaFee(estimator, feeRate, func(tx *wire.MsgTx) {
			appendPlaceholderInput(tx, leafScript, ctrlBlock)
			if chainedInfo != nil {
				tx.AddTxOut(&wire.TxOut{Value: chainedValue, PkScript: chainedInfo.PkScript})
			}
			tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: changePkScript})
		}) + opReturnShare

		available := p.CommitPrevout.Value
		change := available - chainedValue - feeWithChange
		includeChange := change >= MinEnvelopeValue
		fee := feeWithChange
		if !includeChange {
			fee = deltaFee(estimator, feeRate, func(tx *wire.MsgTx) {
				appendPlaceholderInput(tx, leafScript, ctrlBlock)
				if chainedInfo != nil {
					tx.AddTxOut(&wire.TxOut{Value: chainedValue, PkScript: chainedInfo.PkScript})
				}
			}) + opReturnShare
			change = available - chainedValue - fee
		}
		if change < 0 {
			return nil, kerrors.Funding("commit output insufficient to cover reveal fee", nil)
		}

		// Commit the chosen shape to the estimator so the next
		// participant's delta reflects it.
		appendPlaceholderInput(estimator, leafScript, ctrlBlock)
		if chainedInfo != nil {
			estimator.AddTxOut(&wire.TxOut{Value: chainedValue, PkScript: chainedInfo.PkScript})
		}
		if includeChange {
			estimator.AddTxOut(&wire.TxOut{Value: change, PkScript: changePkScript})
		}

		revealTx.AddTxIn(wire.NewTxIn(&p.CommitOutpoint, nil, nil))

		var chainedScript *TapLeafScript
		if chainedInfo != nil {
			chainedOuts = append(chainedOuts, &wire.TxOut{Value: chainedValue, PkScript: chainedInfo.PkScript})
			chainedScript = &TapLeafScript{
				LeafVersion:  chainedInfo.LeafVersion,
				Script:       chainedInfo.LeafScript,
				ControlBlock: chainedInfo.ControlBlock,
			}
		}
		if includeChange {
			changeOuts = append(changeOuts, &wire.TxOut{Value: change, PkScript: changePkScript})
		}

		scriptsOut[i] = ParticipantScripts{Commit: p.CommitTapLeafScript, Chained: chainedScript}
	}

	for _, out := range chainedOuts {
		revealTx.AddTxOut(out)
	}
	for _, out := range changeOuts {
		revealTx.AddTxOut(out)
	}
	switch {
	case opReturnScript != nil:
		revealTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: opReturnScript})
	case len(chainedOuts) == 0 && len(changeOuts) == 0:
		revealTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: placeholderTagScript})
	}

	var buf []byte
	buf = make([]byte, 0, revealTx.SerializeSize())
	if err := revealTx.Serialize(byteSliceWriter{&buf}); err != nil {
		return nil, kerrors.Persistence("failed to serialize reveal transaction", err)
	}

	packet, err := psbt.NewFromUnsignedTx(revealTx)
	if err != nil {
		return nil, kerrors.Persistence("failed to build reveal psbt", err)
	}
	for i, p := range participants {
		prevout := p.CommitPrevout
		packet.Inputs[i].WitnessUtxo = &prevout
		packet.Inputs[i].TaprootInternalKey = append([]byte(nil), p.XOnlyPubKey[:]...)
		packet.Inputs[i].TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
			ControlBlock: p.CommitTapLeafScript.ControlBlock,
			Script:       p.CommitTapLeafScript.Script,
			LeafVersion:  txscript.TapscriptLeafVersion(p.CommitTapLeafScript.LeafVersion),
		}}
	}
	b64, err := packet.B64Encode()
	if err != nil {
		return nil, kerrors.Persistence("failed to encode reveal psbt", err)
	}

	return &RevealResult{
		Tx:           revealTx,
		Hex:          hex.EncodeToString(buf),
		Packet:       packet,
		PacketBase64: b64,
		Scripts:      scriptsOut,
	}, nil
}

// buildOpReturnScript prefixes the protocol tag onto the caller's
// payload and enforces the standard 80-byte OP_RETURN relay limit.
func buildOpReturnScript(data []byte) ([]byte, error) {
	payload := append([]byte(ProtocolTag), data...)
	if len(payload) > MaxOpReturnBytes {
		return nil, kerrors.Validation("OP_RETURN data exceeds 80 bytes", nil)
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_RETURN)
	b.AddData(payload)
	return b.Script()
}
