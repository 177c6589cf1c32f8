package follower

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/chain"
)

type fakePush struct {
	events  chan chain.PushEvent
	monitor chan chain.MonitorEvent
}

func newFakePush() *fakePush {
	return &fakePush{
		events:  make(chan chain.PushEvent, 16),
		monitor: make(chan chain.MonitorEvent, 16),
	}
}

func (f *fakePush) Events() <-chan chain.PushEvent     { return f.events }
func (f *fakePush) Monitor() <-chan chain.MonitorEvent { return f.monitor }
func (f *fakePush) Close() error                       { return nil }

func collectUntil(t *testing.T, events <-chan Event, stop func(Event) bool) []Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out; got %d events", len(out))
		}
	}
}

// TestRpcToZmqSwitchEmitsMempoolSetBarrier: once the RPC
// pipeline reaches the chain tip with the push socket connected, the
// reconciler switches to Zmq mode and the switch is marked by a
// MempoolSet event, with no Block event crossing the boundary first.
func TestRpcToZmqSwitchEmitsMempoolSetBarrier(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push := newFakePush()
	seekCh := make(chan Seek, 1)
	r := New(&fakeRPC{tip: 3}, push, newTestStore(t), noopParse, seekCh)

	go r.Run(ctx)
	push.monitor <- chain.MonitorEvent{Kind: chain.MonitorConnected}
	seekCh <- Seek{Start: 1}

	got := collectUntil(t, r.Events(), func(ev Event) bool { return ev.Kind == EventMempoolSet })

	var blockHeights []uint64
	sawSet := false
	for _, ev := range got {
		switch ev.Kind {
		case EventBlock:
			require.False(t, sawSet, "no Block event may cross the mode boundary")
			blockHeights = append(blockHeights, ev.Block.Height)
		case EventMempoolSet:
			sawSet = true
		}
	}
	require.True(t, sawSet)
	require.Equal(t, []uint64{1, 2, 3}, blockHeights)

	// After the barrier the reconciler is in Zmq mode: a push
	// BlockConnected for height 4 is delivered as a Block event.
	var h4 chain.Hash
	h4[0] = 4
	push.events <- chain.PushEvent{Kind: chain.PushBlockConnected, Hash: h4}

	got = collectUntil(t, r.Events(), func(ev Event) bool { return ev.Kind == EventBlock })
	last := got[len(got)-1]
	require.Equal(t, uint64(4), last.Block.Height)
}

// TestZmqBlockDisconnectedEmitsRollback: a push BlockDisconnected names
// a block no longer on the best chain, so it is resolved against the
// locally stored rows rather than the RPC client, and rolls back to the
// stored parent's height.
func TestZmqBlockDisconnectedEmitsRollback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push := newFakePush()
	seekCh := make(chan Seek, 1)
	st := newTestStore(t)
	for h := uint64(1); h <= 3; h++ {
		var hash chain.Hash
		hash[0] = byte(h)
		require.NoError(t, st.InsertBlock(h, hash))
	}
	r := New(&fakeRPC{tip: 3}, push, st, noopParse, seekCh)

	go r.Run(ctx)
	push.monitor <- chain.MonitorEvent{Kind: chain.MonitorConnected}
	seekCh <- Seek{Start: 1}
	collectUntil(t, r.Events(), func(ev Event) bool { return ev.Kind == EventMempoolSet })

	var h3 chain.Hash
	h3[0] = 3
	push.events <- chain.PushEvent{Kind: chain.PushBlockDisconnected, Hash: h3}

	got := collectUntil(t, r.Events(), func(ev Event) bool { return ev.Kind == EventRollback })
	require.Equal(t, uint64(2), got[len(got)-1].RollbackHeight)
}

// switchRPC is a fakeRPC whose tip can be raised mid-test without racing
// the reconciler's poll loop.
type switchRPC struct {
	fakeRPC
	tip atomic.Uint64
}

func (f *switchRPC) GetBlockchainInfo(ctx context.Context) (chain.BlockchainInfo, error) {
	return chain.BlockchainInfo{Blocks: f.tip.Load()}, nil
}

// TestZmqDisconnectFallsBackToRpc: losing the push socket in Zmq mode
// restarts the RPC fetcher just past the last height either source
// delivered, so subsequent chain growth arrives via RPC Block events.
func TestZmqDisconnectFallsBackToRpc(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	push := newFakePush()
	seekCh := make(chan Seek, 1)
	rpc := &switchRPC{}
	rpc.tip.Store(2)
	r := New(rpc, push, newTestStore(t), noopParse, seekCh)

	go r.Run(ctx)
	push.monitor <- chain.MonitorEvent{Kind: chain.MonitorConnected}
	seekCh <- Seek{Start: 1}

	collectUntil(t, r.Events(), func(ev Event) bool { return ev.Kind == EventMempoolSet })

	// Height 3 arrives over the push socket, then the socket dies with
	// the chain already grown to 5: the fetcher must resume at 4.
	var h3 chain.Hash
	h3[0] = 3
	push.events <- chain.PushEvent{Kind: chain.PushBlockConnected, Hash: h3}
	collectUntil(t, r.Events(), func(ev Event) bool {
		return ev.Kind == EventBlock && ev.Block.Height == 3
	})

	rpc.tip.Store(5)
	push.monitor <- chain.MonitorEvent{Kind: chain.MonitorDisconnected}

	var heights []uint64
	collectUntil(t, r.Events(), func(ev Event) bool {
		if ev.Kind == EventBlock {
			heights = append(heights, ev.Block.Height)
		}
		return ev.Kind == EventBlock && ev.Block.Height == 5
	})
	require.Equal(t, []uint64{4, 5}, heights)
}
