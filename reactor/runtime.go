package reactor

import (
	"context"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/storage"
)

// RunContext is the per-op runtime context the reactor installs before
// invoking the corresponding runtime entry point: {height, tx_index,
// input_index, txid, op_return_data} plus the gas limit and signer
// carried by the op. OpReturnData is the payload found on the previous
// output consumed by the op's input, if any. The contract VM itself
// lives outside this package; this is only the surface it sees.
type RunContext struct {
	Store        *storage.Store
	Height       uint64
	TxIndex      int
	TxRowID      int64
	InputIndex   int
	Txid         chain.Txid
	OpReturnData []byte
	GasLimit     uint64
	Signer       string

	// ContractID is resolved by the reactor before invocation: the
	// newly inserted row id for Publish, the address lookup result for
	// Call, zero for Issuance.
	ContractID int64
}

// Runtime is the contract VM surface the core demands of it: one entry
// point per Op variant. Errors are per-op failures (kerrors.Contract),
// logged at warn and do not abort the enclosing block.
type Runtime interface {
	Publish(ctx context.Context, rc RunContext, name string, bytes []byte) error
	Call(ctx context.Context, rc RunContext, expr []byte) error
	Issuance(ctx context.Context, rc RunContext) error
}
