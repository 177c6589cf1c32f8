// Package chain defines the domain entities and external interfaces that
// flow between the ingestion pipeline, the reconciler, and the reactor:
// blocks, transactions, operations, and the Bitcoin RPC / push-transport
// surfaces the core consumes but does not implement.
package chain

import "context"

// Hash is a 32-byte block or transaction hash, big-endian display order
// left to the caller.
type Hash [32]byte

var ZeroHash Hash

// Txid identifies a transaction.
type Txid Hash

// Block is the unit the ingestion pipeline and reactor operate on.
type Block struct {
	Height       uint64
	Hash         Hash
	PrevHash     Hash
	Transactions []Tx
}

// Tx carries a txid, its index within the block, the operations parsed
// out of it, and a mapping from input index to an optional OP_RETURN
// payload found on the previous output consumed by that input.
type Tx struct {
	Txid          Txid
	Index         int
	Ops           []Op
	InputPrevOuts map[int][]byte // input index -> op_return payload, if any
}

// OpKind tags the variant carried by Op.
type OpKind int

const (
	OpPublish OpKind = iota
	OpCall
	OpIssuance
)

// ContractAddress uniquely identifies a deployed contract by the
// block/index of its publication.
type ContractAddress struct {
	Name    string
	Height  uint64
	TxIndex int
}

// Op is a tagged variant over the three operation kinds a transaction's
// envelope can carry. Immutable once produced.
type Op struct {
	Kind OpKind

	Signer string

	// Publish
	GasLimit uint64
	Name     string
	Bytes    []byte

	// Call
	ContractAddr ContractAddress
	Expr         []byte
}

// BlockchainInfo is the subset of getblockchaininfo the core needs.
type BlockchainInfo struct {
	Blocks uint64
}

// RawTxResult is one element of get_raw_transactions' per-txid result set.
type RawTxResult struct {
	Txid Txid
	Raw  []byte
	Err  error
}

// MempoolAcceptResult is one element of test_mempool_accept's response.
type MempoolAcceptResult struct {
	Allowed      bool
	RejectReason string
}

// RPC is the Bitcoin RPC client surface the core demands of any backend.
type RPC interface {
	GetBlockchainInfo(ctx context.Context) (BlockchainInfo, error)
	GetBlockHash(ctx context.Context, height uint64) (Hash, error)
	GetBlock(ctx context.Context, hash Hash) (RawBlock, error)
	GetRawMempool(ctx context.Context) ([]Txid, error)
	GetRawTransactions(ctx context.Context, txids []Txid) ([]RawTxResult, error)
	TestMempoolAccept(ctx context.Context, rawHex []string) ([]MempoolAcceptResult, error)
}

// RawBlock is the unparsed block as returned by the RPC client; ParseFunc
// turns its transactions into Tx values the pipeline forwards.
type RawBlock struct {
	Height       uint64
	Hash         Hash
	PrevHash     Hash
	RawTx        [][]byte
}

// ParseFunc is the user-supplied pure function the Processor stage maps
// over a block's raw transactions. Returning (zero, false) drops the tx.
type ParseFunc func(raw []byte) (Tx, bool)
