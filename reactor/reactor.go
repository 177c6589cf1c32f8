// Package reactor implements the event loop that applies the
// reconciler's ordered Block/Rollback/MempoolUpdate/MempoolSet stream to
// the contract runtime and the writable store, detects and recovers from
// reorgs via rollback, and exposes a savepoint-isolated simulation
// endpoint.
package reactor

import (
	"context"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/feed"
	"github.com/ouziel-slama/kontor/follower"
	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/ledger"
	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/storage"
)

var logger = log.NewModuleLogger(log.Reactor)

// OpResult is one op's outcome, returned to Simulate callers and used
// internally to decide whether a failure should be logged.
type OpResult struct {
	Kind chain.OpKind
	Err  error
}

// SimulateRequest carries a raw transaction and a one-shot reply channel
// for an out-of-band "simulate this tx and return its op results" ask.
type SimulateRequest struct {
	Raw   []byte
	Reply chan<- SimulateResult
}

type SimulateResult struct {
	Ops []OpResult
	Err error
}

// Reactor owns the contract runtime and the writable database handle.
type Reactor struct {
	store   *storage.Store
	ledger  *ledger.Ledger
	runtime Runtime
	parse   chain.ParseFunc
	feed    *feed.Feed
	cancel  context.CancelFunc

	seekOut chan follower.Seek

	expectedHeight uint64
	lastHash       *chain.Hash
}

// New builds a Reactor seeded at startHeight (used only if the store is
// currently empty); SeekChan() must be wired into follower.New's seekCh
// parameter by the caller.
func New(store *storage.Store, led *ledger.Ledger, runtime Runtime, parse chain.ParseFunc, f *feed.Feed, cancel context.CancelFunc, startHeight uint64) *Reactor {
	r := &Reactor{
		store:          store,
		ledger:         led,
		runtime:        runtime,
		parse:          parse,
		feed:           f,
		cancel:         cancel,
		seekOut:        make(chan follower.Seek, 1),
		expectedHeight: startHeight,
	}
	if height, hash, found, err := store.SelectBlockLatest(); err == nil && found {
		r.expectedHeight = height + 1
		h := hash
		r.lastHash = &h
	}
	return r
}

// SeekChan is the channel the caller passes as follower.New's seekCh
// argument: the reactor is the sole producer of Seek requests.
func (r *Reactor) SeekChan() chan follower.Seek { return r.seekOut }

// Run drives the select loop over the reconciler's event stream and the
// simulation request channel until ctx is cancelled.
func (r *Reactor) Run(ctx context.Context, events <-chan follower.Event, simulate <-chan SimulateRequest) {
	r.seek(ctx, follower.Seek{Start: r.expectedHeight, LastHash: r.lastHash})

	for {
		select {
		case <-ctx.Done():
			logger.Info("reactor cancelled")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("reconciler event stream closed")
				return
			}
			if !r.handleEvent(ctx, ev) {
				return
			}

		case req, ok := <-simulate:
			if !ok {
				simulate = nil
				continue
			}
			r.handleSimulate(req)
		}
	}
}

func (r *Reactor) seek(ctx context.Context, s follower.Seek) {
	select {
	case r.seekOut <- s:
	case <-ctx.Done():
	}
}

// handleEvent dispatches one reconciler event; returns false if the
// reactor must stop (fatal OrderViolation).
func (r *Reactor) handleEvent(ctx context.Context, ev follower.Event) bool {
	switch ev.Kind {
	case follower.EventBlock:
		return r.handleBlock(ctx, ev.Block)
	case follower.EventRollback:
		r.rollbackTo(ctx, ev.RollbackHeight)
		return true
	case follower.EventMempoolUpdate, follower.EventMempoolSet:
		// Dropped: feed.Event has only Processed and Rolledback kinds,
		// so mempool events reach no subscriber; no state change.
		return true
	default:
		return true
	}
}

// handleBlock handles one Block(target, block) event from the reconciler.
func (r *Reactor) handleBlock(ctx context.Context, block chain.Block) bool {
	switch {
	case block.Height < r.expectedHeight:
		r.rollbackTo(ctx, block.Height-1)
		return true

	case block.Height > r.expectedHeight:
		err := kerrors.OrderViolation("unexpected block height", nil)
		logger.Error("fatal order violation, cancelling reactor", "expected", r.expectedHeight, "got", block.Height, "err", err)
		r.cancel()
		return false

	case r.lastHash != nil && block.PrevHash != *r.lastHash:
		// Distrust both the incoming block and the previously stored
		// one: roll back to height-2.
		if block.Height < 2 {
			err := kerrors.OrderViolation("hash mismatch with no room to roll back", nil)
			logger.Error("fatal order violation", "err", err)
			r.cancel()
			return false
		}
		r.rollbackTo(ctx, block.Height-2)
		return true

	default:
		sp, err := r.store.Begin()
		if err != nil {
			logger.Error("failed to open savepoint for block", "height", block.Height, "err", err)
			return true
		}
		results, err := r.applyBlock(ctx, block)
		if err != nil {
			sp.Rollback()
			logger.Error("failed to apply block, rolled back savepoint", "height", block.Height, "err", err)
			return true
		}
		if err := sp.Release(); err != nil {
			logger.Error("failed to release savepoint", "height", block.Height, "err", err)
			return true
		}
		logOpFailures(results)

		r.expectedHeight = block.Height + 1
		h := block.Hash
		r.lastHash = &h

		if err := r.ledger.ResyncFromDB(); err != nil {
			logger.Error("ledger resync failed after block", "height", block.Height, "err", err)
		}

		if r.feed != nil {
			r.feed.Publish(feed.Event{Kind: feed.Processed, Block: block})
		}
		return true
	}
}

func logOpFailures(results []OpResult) {
	for _, r := range results {
		if r.Err != nil {
			logger.Warn("op failed, block continues", "kind", r.Kind, "err", r.Err)
		}
	}
}

// applyBlock inserts the block row, each transaction, and runs every
// op's corresponding runtime entry point, inside the caller's already-
// open savepoint. Individual op failures are collected, not propagated:
// only a persistence failure aborts the whole block.
func (r *Reactor) applyBlock(ctx context.Context, block chain.Block) ([]OpResult, error) {
	if err := r.store.InsertBlock(block.Height, block.Hash); err != nil {
		return nil, err
	}

	var results []OpResult
	for _, tx := range block.Transactions {
		txRowID, err := r.store.InsertTransaction(block.Height, tx.Index, tx.Txid)
		if err != nil {
			return nil, err
		}

		for i, op := range tx.Ops {
			rc := RunContext{
				Store:          r.store,
				Height:         block.Height,
				TxIndex:        tx.Index,
				TxRowID:        txRowID,
				InputIndex:     i,
				Txid:           tx.Txid,
				OpReturnData:   tx.InputPrevOuts[i],
				GasLimit:       op.GasLimit,
				Signer:         op.Signer,
			}

			var opErr error
			switch op.Kind {
			case chain.OpPublish:
				contractID, err := r.store.InsertContract(op.Name, block.Height, tx.Index, op.Bytes)
				if err != nil {
					return nil, err
				}
				rc.ContractID = contractID
				opErr = r.runtime.Publish(ctx, rc, op.Name, op.Bytes)

			case chain.OpCall:
				contractID, found, err := r.store.GetContractIDFromAddress(op.ContractAddr)
				if err != nil {
					return nil, err
				}
				if !found {
					opErr = kerrors.Contract("call: unknown contract address", nil)
					break
				}
				rc.ContractID = contractID
				opErr = r.runtime.Call(ctx, rc, op.Expr)

			case chain.OpIssuance:
				opErr = r.runtime.Issuance(ctx, rc)
			}

			results = append(results, OpResult{Kind: op.Kind, Err: opErr})
		}
	}
	return results, nil
}

// rollbackTo handles a Rollback(height) event: delete every stored row
// above height, force-resync the ledger, and re-seek the reconciler,
// asserting the hash still stored at height if any remains.
func (r *Reactor) rollbackTo(ctx context.Context, height uint64) {
	logger.Warn("rolling back", "height", height)

	if err := r.store.RollbackToHeight(height); err != nil {
		logger.Error("rollback failed", "height", height, "err", err)
		return
	}
	if err := r.ledger.ForceResyncFromDB(); err != nil {
		logger.Error("ledger force resync failed after rollback", "err", err)
	}

	var lastHash *chain.Hash
	if height > 0 {
		if hash, found, err := r.store.SelectBlockAtHeight(height); err == nil && found {
			lastHash = &hash
		}
	}

	r.expectedHeight = height + 1
	r.lastHash = lastHash

	if r.feed != nil {
		r.feed.Publish(feed.Event{Kind: feed.Rolledback, Height: height})
	}

	r.seek(ctx, follower.Seek{Start: height + 1, LastHash: lastHash})
}

// handleSimulate opens a savepoint, runs the block-handler on a
// synthetic one-transaction block at expected_height with a mock hash,
// and unconditionally rolls back: the only place ops execute without
// being committed.
func (r *Reactor) handleSimulate(req SimulateRequest) {
	tx, ok := r.parse(req.Raw)
	if !ok {
		req.Reply <- SimulateResult{Err: kerrors.Validation("simulate: transaction failed to parse", nil)}
		return
	}
	tx.Index = 0

	var mockHash chain.Hash
	mockHash[0] = 0xff
	block := chain.Block{
		Height:       r.expectedHeight,
		Hash:         mockHash,
		PrevHash:     derefHash(r.lastHash),
		Transactions: []chain.Tx{tx},
	}

	sp, err := r.store.Begin()
	if err != nil {
		req.Reply <- SimulateResult{Err: err}
		return
	}
	defer sp.Rollback()

	results, err := r.applyBlock(context.Background(), block)
	req.Reply <- SimulateResult{Ops: results, Err: err}
}

func derefHash(h *chain.Hash) chain.Hash {
	if h == nil {
		return chain.Hash{}
	}
	return *h
}
