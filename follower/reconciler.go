// Package follower implements the reconciler: the state machine that
// merges the RPC-poll ingestion pipeline and the ZMQ push stream into
// one strictly-ordered event stream, owning the Rpc/Zmq mode switch.
package follower

import (
	"context"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/ingestion"
	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/retry"
	"github.com/ouziel-slama/kontor/storage"
)

var logger = log.NewModuleLogger(log.Follower)

const zmqReconnectBackoff = 10

type state struct {
	mempool      *orderedMempool
	rpcLatest    *uint64
	zmqLatest    *uint64
	targetHeight *uint64
	zmqConnected bool
	mode         Mode
}

func newState() *state {
	return &state{mempool: newOrderedMempool(), mode: ModeRpc}
}

// Reconciler owns the Fetcher sub-pipeline and the push transport,
// merging both into a single Event stream. The store is read-only here:
// a push BlockDisconnected names a block no longer on the best chain,
// which only the locally persisted rows are guaranteed to still know.
type Reconciler struct {
	rpc   chain.RPC
	push  chain.PushTransport
	store *storage.Store
	parse chain.ParseFunc

	seekCh <-chan Seek
	out    chan Event

	st      *state
	fetcher *ingestion.Fetcher
	rpcIn   chan ingestion.OrderedBlock
}

func New(rpc chain.RPC, push chain.PushTransport, store *storage.Store, parse chain.ParseFunc, seekCh <-chan Seek) *Reconciler {
	r := &Reconciler{
		rpc:    rpc,
		push:   push,
		store:  store,
		parse:  parse,
		seekCh: seekCh,
		out:    make(chan Event, 10),
		st:     newState(),
		rpcIn:  make(chan ingestion.OrderedBlock, 10),
	}
	r.fetcher = ingestion.NewFetcher(rpc, parse, r.rpcIn)
	return r
}

// Events is the reconciler's ordered output stream.
func (r *Reconciler) Events() <-chan Event { return r.out }

// Run drives the select loop over the control channel, the push
// transport's event/monitor channels, and the RPC pipeline output,
// until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.out)

	var pushEvents <-chan chain.PushEvent
	var pushMonitor <-chan chain.MonitorEvent
	if r.push != nil {
		pushEvents = r.push.Events()
		pushMonitor = r.push.Monitor()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler cancelled")
			if r.fetcher.Running() {
				r.fetcher.Stop()
			}
			return

		case seek, ok := <-r.seekCh:
			if !ok {
				r.seekCh = nil
				continue
			}
			r.handleSeek(ctx, seek)

		case ob, ok := <-r.rpcIn:
			if !ok {
				r.rpcIn = nil
				continue
			}
			r.handleRPCBlock(ctx, ob)

		case mon, ok := <-pushMonitor:
			if !ok {
				pushMonitor = nil
				continue
			}
			r.handleMonitorEvent(ctx, mon)

		case ev, ok := <-pushEvents:
			if !ok {
				pushEvents = nil
				continue
			}
			r.handlePushEvent(ctx, ev)
		}
	}
}

func (r *Reconciler) emit(ctx context.Context, ev Event) {
	select {
	case r.out <- ev:
	case <-ctx.Done():
	}
}

// handleSeek implements Seek(start, last_hash?): stop/drain the
// fetcher, optionally verify the hash at start-1, and restart.
func (r *Reconciler) handleSeek(ctx context.Context, seek Seek) {
	if r.fetcher.Running() {
		r.fetcher.Stop()
	}

	if seek.LastHash != nil && seek.Start >= 2 {
		hash, err := r.rpc.GetBlockHash(ctx, seek.Start-1)
		if err != nil || hash != *seek.LastHash {
			if seek.Start >= 2 {
				r.emit(ctx, Event{Kind: EventRollback, RollbackHeight: seek.Start - 2})
			}
			return
		}
	}

	info, err := r.rpc.GetBlockchainInfo(ctx)
	if err == nil {
		h := info.Blocks
		r.st.targetHeight = &h
	}
	r.st.mode = ModeRpc
	rpcLatest := uint64(0)
	if seek.Start > 0 {
		rpcLatest = seek.Start - 1
	}
	r.st.rpcLatest = &rpcLatest
	r.fetcher.Start(seek.Start)
	r.backfillMempool(ctx)
}

// handleRPCBlock implements the RPC block event branch: updates
// rpc_latest/target, emits MempoolUpdate then Block, and checks for a
// mode switch into Zmq once caught up.
func (r *Reconciler) handleRPCBlock(ctx context.Context, ob ingestion.OrderedBlock) {
	h := ob.Block.Height
	r.st.rpcLatest = &h
	if r.st.targetHeight == nil || ob.Target > *r.st.targetHeight {
		t := ob.Target
		r.st.targetHeight = &t
	}

	removed := r.st.mempool.removeConfirmed(ob.Block)
	r.emit(ctx, Event{Kind: EventMempoolUpdate, Removed: removed})
	r.emit(ctx, Event{Kind: EventBlock, Target: ob.Target, Block: ob.Block})

	if r.st.zmqConnected && r.st.mode == ModeRpc && r.st.targetHeight != nil && h == *r.st.targetHeight {
		r.switchToZmq(ctx)
	}
}

func (r *Reconciler) switchToZmq(ctx context.Context) {
	if r.fetcher.Running() {
		r.fetcher.Stop()
	}
	r.st.mode = ModeZmq
	r.backfillMempool(ctx)
	r.emit(ctx, Event{Kind: EventMempoolSet, Mempool: r.st.mempool.snapshot()})
}

// backfillMempool bulk-fetches the node's current mempool contents and
// merges any txid the cache doesn't already hold, run on startup and on
// every Rpc->Zmq switch rather than relying solely on incremental push
// events. Both RPC calls use the bounded backoff policy (mempool
// requests get retried, never the unbounded critical-path policy);
// exhaustion is logged and the backfill skipped rather than treated as
// fatal.
func (r *Reconciler) backfillMempool(ctx context.Context) {
	txids, err := retry.Do(ctx, "get_raw_mempool", retry.NewBackoffLimited(), func() ([]chain.Txid, error) {
		return r.rpc.GetRawMempool(ctx)
	})
	if err != nil {
		logger.Warn("mempool backfill: get_raw_mempool exhausted retries", "err", err)
		return
	}

	var missing []chain.Txid
	for _, id := range txids {
		if !r.st.mempool.has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}

	results, err := retry.Do(ctx, "get_raw_transactions", retry.NewBackoffLimited(), func() ([]chain.RawTxResult, error) {
		return r.rpc.GetRawTransactions(ctx, missing)
	})
	if err != nil {
		logger.Warn("mempool backfill: get_raw_transactions exhausted retries", "err", err)
		return
	}
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		tx, ok := r.parse(res.Raw)
		if !ok {
			continue
		}
		r.st.mempool.add(tx)
	}
}

func (r *Reconciler) handleMonitorEvent(ctx context.Context, mon chain.MonitorEvent) {
	switch mon.Kind {
	case chain.MonitorConnected, chain.MonitorHandshakeSucceeded:
		r.st.zmqConnected = true
		if r.st.mode == ModeRpc && r.st.targetHeight != nil && r.st.rpcLatest != nil && *r.st.rpcLatest >= *r.st.targetHeight {
			r.switchToZmq(ctx)
		}
	case chain.MonitorDisconnected:
		r.st.zmqConnected = false
		if r.st.mode == ModeZmq {
			r.st.mode = ModeRpc
			start := uint64(1)
			if r.st.zmqLatest != nil {
				start = *r.st.zmqLatest + 1
			}
			if r.st.rpcLatest != nil && *r.st.rpcLatest+1 > start {
				start = *r.st.rpcLatest + 1
			}
			r.st.zmqLatest = nil
			r.fetcher.Start(start)
		}
	}
}

func (r *Reconciler) handlePushEvent(ctx context.Context, ev chain.PushEvent) {
	switch ev.Kind {
	case chain.PushBlockConnected:
		r.handleBlockConnected(ctx, ev)
	case chain.PushBlockDisconnected:
		r.handleBlockDisconnected(ctx, ev)
	case chain.PushTransactionAdded, chain.PushTransactionRemoved:
		r.handleMempoolEvent(ctx, ev)
	}
}

func (r *Reconciler) handleBlockConnected(ctx context.Context, ev chain.PushEvent) {
	if r.st.mode != ModeZmq {
		return
	}
	block, err := r.lookupBlockByHash(ctx, ev.Hash)
	if err != nil {
		return
	}
	if r.st.rpcLatest != nil && block.Height <= *r.st.rpcLatest {
		return
	}
	h := block.Height
	r.st.zmqLatest = &h

	removed := r.st.mempool.removeConfirmed(block)
	r.emit(ctx, Event{Kind: EventMempoolUpdate, Removed: removed})
	r.emit(ctx, Event{Kind: EventBlock, Target: block.Height, Block: block})
}

// handleBlockDisconnected resolves the disconnected hash against the
// locally stored rows, never the RPC client: the block just left the
// best chain, and a pruned node's getblock may no longer serve it,
// while the reactor persisted it before it could ever be disconnected.
func (r *Reconciler) handleBlockDisconnected(ctx context.Context, ev chain.PushEvent) {
	if r.st.mode != ModeZmq {
		r.st.zmqLatest = nil
		return
	}
	height, found, err := r.store.SelectBlockHeightByHash(ev.Hash)
	if err != nil || !found || height == 0 {
		logger.Warn("block disconnected for unknown hash", "hash", ev.Hash, "err", err)
		return
	}
	if _, found, err := r.store.SelectBlockAtHeight(height - 1); err != nil || !found {
		logger.Warn("block disconnected with no stored parent", "height", height, "err", err)
		return
	}
	r.emit(ctx, Event{Kind: EventRollback, RollbackHeight: height - 1})
	h := height
	r.st.zmqLatest = &h
}

// lookupBlockByHash resolves a push-reported hash of a newly connected
// block to a parsed chain.Block via the RPC client.
func (r *Reconciler) lookupBlockByHash(ctx context.Context, hash chain.Hash) (chain.Block, error) {
	raw, err := r.rpc.GetBlock(ctx, hash)
	if err != nil {
		return chain.Block{}, err
	}
	var txs []chain.Tx
	for i, rt := range raw.RawTx {
		if tx, ok := r.parse(rt); ok {
			tx.Index = i
			txs = append(txs, tx)
		}
	}
	return chain.Block{Height: raw.Height, Hash: raw.Hash, PrevHash: raw.PrevHash, Transactions: txs}, nil
}

func (r *Reconciler) handleMempoolEvent(ctx context.Context, ev chain.PushEvent) {
	switch ev.Kind {
	case chain.PushTransactionAdded:
		results, err := retry.Do(ctx, "get_raw_transactions", retry.NewBackoffLimited(), func() ([]chain.RawTxResult, error) {
			return r.rpc.GetRawTransactions(ctx, []chain.Txid{ev.Txid})
		})
		if err != nil {
			logger.Warn("mempool add: get_raw_transactions exhausted retries", "txid", ev.Txid, "err", err)
			return
		}
		if len(results) == 0 || results[0].Err != nil {
			logger.Warn("mempool add: no result for txid", "txid", ev.Txid)
			return
		}
		tx, ok := r.parse(results[0].Raw)
		if !ok {
			return
		}
		r.st.mempool.add(tx)
		if r.st.mode == ModeZmq {
			r.emit(ctx, Event{Kind: EventMempoolUpdate, Added: []chain.Txid{ev.Txid}})
		}
	case chain.PushTransactionRemoved:
		if r.st.mempool.remove(ev.Txid) && r.st.mode == ModeZmq {
			r.emit(ctx, Event{Kind: EventMempoolUpdate, Removed: []chain.Txid{ev.Txid}})
		}
	}
}
