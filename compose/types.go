// Package compose implements a fee-accurate, multi-participant Taproot
// transaction builder producing two linked transactions that fund and
// then spend an arbitrary protocol-tagged script envelope.
package compose

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/ouziel-slama/kontor/log"
)

var logger = log.NewModuleLogger(log.Compose)

// ProtocolTag is the fixed 3-byte ASCII string every envelope leaf and
// OP_RETURN output carries.
const ProtocolTag = "kon"

// UTXO is one funding input a participant offers to the composer.
type UTXO struct {
	ID       string // caller-assigned, must be globally unique across all participants
	Outpoint wire.OutPoint
	Value    int64 // satoshis
	PkScript []byte
}

// Participant is one contributor to a compose_commit call.
type Participant struct {
	Address       btcutil.Address // P2TR change/funding address
	XOnlyPubKey   [32]byte
	Instruction   []byte
	UTXOs         []UTXO
	Chained       bool   // whether the reveal output re-chains into another envelope
	ChainedData   []byte // next instruction, required when Chained
	ChainedPubKey [32]byte
}

// TapLeafScript is bit-exact reconstruction data for a Taproot
// script-path spend.
type TapLeafScript struct {
	LeafVersion  byte
	Script       []byte
	ControlBlock []byte
}

// RevealParticipant is produced by compose_commit and consumed by
// compose_reveal. No caller ever observes a placeholder txid directly:
// it is patched to the real commit txid before this value is returned to
// any caller.
type RevealParticipant struct {
	Address             btcutil.Address
	XOnlyPubKey         [32]byte
	CommitOutpoint      wire.OutPoint
	CommitPrevout       wire.TxOut
	CommitTapLeafScript TapLeafScript
	ChainedInstruction  []byte
	ChainedPubKey       [32]byte
	chained             bool
}

// CommitResult is compose_commit's return value: the unsigned
// transaction in bare, hex, and PSBT form, plus the per-participant
// reveal-stage inputs. Each PSBT input carries the funding UTXO's
// witness_utxo and the participant's tap internal key so any
// participant's wallet can sign its own inputs in isolation.
type CommitResult struct {
	Tx           *wire.MsgTx
	Hex          string
	Packet       *psbt.Packet
	PacketBase64 string
	Participants []RevealParticipant
}

// ParticipantScripts is recorded per participant during compose_reveal,
// carrying both the commit-spend leaf and the optional chained leaf.
type ParticipantScripts struct {
	Commit  TapLeafScript
	Chained *TapLeafScript
}

// RevealResult is compose_reveal's return value. The PSBT's inputs
// carry the commit prevout, tap internal key, and tap leaf script
// needed for each participant's script-path signature.
type RevealResult struct {
	Tx           *wire.MsgTx
	Hex          string
	Packet       *psbt.Packet
	PacketBase64 string
	Scripts      []ParticipantScripts
}
