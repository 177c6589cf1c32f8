package follower

import "github.com/ouziel-slama/kontor/chain"

// Mode tags which upstream source the reconciler currently trusts for
// ordered block delivery.
type Mode int

const (
	ModeRpc Mode = iota
	ModeZmq
)

func (m Mode) String() string {
	if m == ModeZmq {
		return "zmq"
	}
	return "rpc"
}

// EventKind tags the variant carried by Event, the reconciler's single
// ordered output stream consumed by the reactor.
type EventKind int

const (
	EventMempoolUpdate EventKind = iota
	EventBlock
	EventMempoolSet
	EventRollback
)

// Event is the reconciler's single ordered output type.
type Event struct {
	Kind EventKind

	// EventBlock
	Target uint64
	Block  chain.Block

	// EventMempoolUpdate
	Added   []chain.Txid
	Removed []chain.Txid

	// EventMempoolSet
	Mempool map[chain.Txid]chain.Tx

	// EventRollback
	RollbackHeight uint64
}

// Seek is the control signal that (re)starts ingestion at a given height,
// optionally asserting the hash expected at start-1.
type Seek struct {
	Start    uint64
	LastHash *chain.Hash
}
