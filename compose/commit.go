package compose

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ouziel-slama/kontor/kerrors"
)

// ComposeCommit builds the funding ("commit") transaction for one or
// more envelope participants. Each participant's
// script output value covers the envelope dust floor plus the fee its
// own reveal-time input+witness will cost, plus a second envelope floor
// when chained. UTXOs are selected greedily, in a deterministic order
// seeded by the participant's own key, until the selected sum covers
// the script output plus this participant's own marginal commit fee;
// any remainder above the dust floor becomes a change output back to
// the participant's own address.
func ComposeCommit(feeRate int64, participants []Participant) (*CommitResult, error) {
	if feeRate <= 0 {
		return nil, kerrors.Validation("fee rate must be positive", nil)
	}
	if len(participants) == 0 {
		return nil, kerrors.Validation("compose_commit requires at least one participant", nil)
	}
	if len(participants) > MaxParticipants {
		return nil, kerrors.Validation("too many participants", nil)
	}
	seenUTXOIDs := make(map[string]struct{})
	for _, p := range participants {
		if len(p.Instruction) == 0 {
			return nil, kerrors.Validation("envelope script data must not be empty", nil)
		}
		if len(p.Instruction) > MaxScriptDataTotal {
			return nil, kerrors.Validation("instruction exceeds the maximum script data size", nil)
		}
		if len(p.UTXOs) == 0 {
			return nil, kerrors.Funding("participant supplied no funding UTXOs", nil)
		}
		if len(p.UTXOs) > MaxUTXOsPerParty {
			return nil, kerrors.Validation("too many UTXOs for one participant", nil)
		}
		if !isTaproot(p.Address) {
			return nil, kerrors.Validation("participant address is not P2TR", nil)
		}
		if p.Chained && len(p.ChainedData) == 0 {
			return nil, kerrors.Validation("chained participant requires chained instruction data", nil)
		}

		localIDs := make(map[string]struct{}, len(p.UTXOs))
		for _, u := range p.UTXOs {
			if _, dup := localIDs[u.ID]; dup {
				return nil, kerrors.Validation("duplicate UTXO id within one participant", nil)
			}
			localIDs[u.ID] = struct{}{}
			if _, dup := seenUTXOIDs[u.ID]; dup {
				return nil, kerrors.Validation("duplicate UTXO id across participants", nil)
			}
			seenUTXOIDs[u.ID] = struct{}{}
		}
	}

	commitTx := wire.NewMsgTx(2)
	revealEstimator := wire.NewMsgTx(2)

	// Reserve reveal-side fee room for the reveal transaction's fixed
	// overhead (version, locktime, input/output counts) and a worst-case
	// protocol-tagged OP_RETURN, charged to the first participant the same
	// way the reveal stage charges the real ones. Without this reserve a
	// large OP_RETURN payload could leave the commit output short at
	// reveal time.
	maxOpReturn, err := buildOpReturnScript(make([]byte, MaxOpReturnBytes-len(ProtocolTag)))
	if err != nil {
		return nil, err
	}
	opReturnReserve := feeRate*vsize(revealEstimator) + deltaFee(revealEstimator, feeRate, func(tx *wire.MsgTx) {
		tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: maxOpReturn})
	})
	revealEstimator.AddTxOut(&wire.TxOut{Value: 0, PkScript: maxOpReturn})

	// One entry per commit input, in append order, for the PSBT's
	// witness_utxo / tap_internal_key metadata.
	type inputMeta struct {
		utxo        UTXO
		internalKey [32]byte
	}
	var inputMetas []inputMeta

	participantSpends := make([]*taprootSpendInfo, len(participants))
	for i, p := range participants {
		info, err := buildEnvelopeTaproot(p.XOnlyPubKey, p.Instruction)
		if err != nil {
			return nil, err
		}
		participantSpends[i] = info
	}

	results := make([]RevealParticipant, len(participants))

	// The commit transaction's fixed overhead is charged to the first
	// participant: no delta measured against the running transaction
	// includes it.
	commitOverheadFee := feeRate * vsize(commitTx)

	for i, p := range participants {
		info := participantSpends[i]

		// Marginal reveal-time fee this participant's own input will
		// cost, estimated against a running reveal-fee tracker shared
		// across all participants so later participants correctly see
		// the tx grow.
		revealDelta := deltaFee(revealEstimator, feeRate, func(tx *wire.MsgTx) {
			appendPlaceholderInput(tx, info.LeafScript, info.ControlBlock)
		})
		appendPlaceholderInput(revealEstimator, info.LeafScript, info.ControlBlock)

		scriptOutValue := int64(MinEnvelopeValue) + revealDelta
		if i == 0 {
			scriptOutValue += opReturnReserve
		}
		if p.Chained {
			scriptOutValue += MinEnvelopeValue
		}

		changePkScript, err := txscript.PayToAddrScript(p.Address)
		if err != nil {
			return nil, kerrors.Validation("failed to build change pkscript", err)
		}

		var overheadFee int64
		if i == 0 {
			overheadFee = commitOverheadFee
		}

		shuffled := shuffleUTXOs(p.XOnlyPubKey, p.UTXOs)

		var selected []UTXO
		var sum int64
		var feeWithChange int64
		satisfied := false

		for _, u := range shuffled {
			selected = append(selected, u)
			sum += u.Value

			feeWithChange = deltaFee(commitTx, feeRate, func(tx *wire.MsgTx) {
				for _, s := range selected {
					appendKeyPathInput(tx, s.Outpoint)
				}
				tx.AddTxOut(&wire.TxOut{Value: scriptOutValue, PkScript: info.PkScript})
				tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: changePkScript})
			}) + overheadFee

			if sum >= scriptOutValue+feeWithChange {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return nil, kerrors.Funding("insufficient funds: participant UTXOs cannot cover script output and fees", nil)
		}

		change := sum - scriptOutValue - feeWithChange
		includeChange := change >= MinEnvelopeValue
		fee := feeWithChange
		if !includeChange {
			logger.Debug("commit change below dust floor, absorbing into fee", "participant", i, "change", change)
			fee = deltaFee(commitTx, feeRate, func(tx *wire.MsgTx) {
				for _, s := range selected {
					appendKeyPathInput(tx, s.Outpoint)
				}
				tx.AddTxOut(&wire.TxOut{Value: scriptOutValue, PkScript: info.PkScript})
			}) + overheadFee
			change = sum - scriptOutValue - fee
		}

		// The returned commit transaction is unsigned: witnesses are
		// attached by the wallet holding each participant's key. Only
		// the fee-estimation clones above carry placeholder witnesses.
		for _, s := range selected {
			commitTx.AddTxIn(wire.NewTxIn(&s.Outpoint, nil, nil))
			inputMetas = append(inputMetas, inputMeta{utxo: s, internalKey: p.XOnlyPubKey})
		}
		scriptOutIndex := len(commitTx.TxOut)
		commitTx.AddTxOut(&wire.TxOut{Value: scriptOutValue, PkScript: info.PkScript})
		if includeChange {
			commitTx.AddTxOut(&wire.TxOut{Value: change, PkScript: changePkScript})
		}

		results[i] = RevealParticipant{
			Address:        p.Address,
			XOnlyPubKey:    p.XOnlyPubKey,
			CommitOutpoint: wire.OutPoint{Index: uint32(scriptOutIndex)}, // Hash patched below
			CommitPrevout:  wire.TxOut{Value: scriptOutValue, PkScript: info.PkScript},
			CommitTapLeafScript: TapLeafScript{
				LeafVersion:  info.LeafVersion,
				Script:       info.LeafScript,
				ControlBlock: info.ControlBlock,
			},
			ChainedInstruction: p.ChainedData,
			ChainedPubKey:      p.ChainedPubKey,
			chained:            p.Chained,
		}
	}

	txid := commitTx.TxHash()
	for i := range results {
		results[i].CommitOutpoint.Hash = txid
	}

	var buf []byte
	buf = make([]byte, 0, commitTx.SerializeSize())
	w := byteSliceWriter{&buf}
	if err := commitTx.Serialize(w); err != nil {
		return nil, kerrors.Persistence("failed to serialize commit transaction", err)
	}

	packet, err := psbt.NewFromUnsignedTx(commitTx)
	if err != nil {
		return nil, kerrors.Persistence("failed to build commit psbt", err)
	}
	for i, meta := range inputMetas {
		packet.Inputs[i].WitnessUtxo = &wire.TxOut{Value: meta.utxo.Value, PkScript: meta.utxo.PkScript}
		packet.Inputs[i].TaprootInternalKey = append([]byte(nil), meta.internalKey[:]...)
	}
	b64, err := packet.B64Encode()
	if err != nil {
		return nil, kerrors.Persistence("failed to encode commit psbt", err)
	}

	return &CommitResult{
		Tx:           commitTx,
		Hex:          hex.EncodeToString(buf),
		Packet:       packet,
		PacketBase64: b64,
		Participants: results,
	}, nil
}

// byteSliceWriter adapts a *[]byte to io.Writer for wire.MsgTx.Serialize.
type byteSliceWriter struct{ buf *[]byte }

func (w byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
