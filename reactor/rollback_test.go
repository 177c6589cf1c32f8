package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/follower"
)

// TestRollbackDuringCatchUp: after blocks 1..3 apply, the
// chain is replaced from height 2 onward. The stale-height block event
// triggers a rollback to height 1 and a re-seek at 2 asserting block 1's
// hash; replaying the fresh chain leaves the new hashes stored.
func TestRollbackDuringCatchUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, st := newTestReactor(t, 1, cancel)

	events := make(chan follower.Event, 8)
	simulate := make(chan SimulateRequest)

	runCtx, runCancel := context.WithTimeout(ctx, 3*time.Second)
	defer runCancel()
	go r.Run(runCtx, events, simulate)
	<-r.SeekChan() // initial seek

	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 1, Hash: hashByte(1), PrevHash: hashByte(0)}}
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 2, Hash: hashByte(2), PrevHash: hashByte(1)}}
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 3, Hash: hashByte(3), PrevHash: hashByte(2)}}

	// The replacement chain re-announces height 2: a height below the
	// next expected one means the upstream reorganized.
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 2, Hash: hashByte(0x22), PrevHash: hashByte(1)}}

	seek := <-r.SeekChan()
	require.Equal(t, uint64(2), seek.Start)
	require.NotNil(t, seek.LastHash)
	require.Equal(t, hashByte(1), *seek.LastHash)

	// Replay the fresh extension the re-seek would fetch.
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 2, Hash: hashByte(0x22), PrevHash: hashByte(1)}}
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 3, Hash: hashByte(0x23), PrevHash: hashByte(0x22)}}
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 4, Hash: hashByte(0x24), PrevHash: hashByte(0x23)}}

	require.Eventually(t, func() bool {
		height, hash, found, err := st.SelectBlockLatest()
		return err == nil && found && height == 4 && hash == hashByte(0x24)
	}, 2*time.Second, 10*time.Millisecond)

	hash, found, err := st.SelectBlockAtHeight(3)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, hashByte(0x23), hash)
}

// TestExplicitRollbackEvent: a Rollback(height) event from the
// reconciler deletes everything above height and re-seeks at height+1.
func TestExplicitRollbackEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, st := newTestReactor(t, 1, cancel)

	events := make(chan follower.Event, 8)
	simulate := make(chan SimulateRequest)

	runCtx, runCancel := context.WithTimeout(ctx, 3*time.Second)
	defer runCancel()
	go r.Run(runCtx, events, simulate)
	<-r.SeekChan()

	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 1, Hash: hashByte(1), PrevHash: hashByte(0)}}
	events <- follower.Event{Kind: follower.EventBlock, Block: chain.Block{Height: 2, Hash: hashByte(2), PrevHash: hashByte(1)}}
	events <- follower.Event{Kind: follower.EventRollback, RollbackHeight: 1}

	seek := <-r.SeekChan()
	require.Equal(t, uint64(2), seek.Start)

	require.Eventually(t, func() bool {
		height, _, found, err := st.SelectBlockLatest()
		return err == nil && found && height == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, found, err := st.SelectBlockAtHeight(2)
	require.NoError(t, err)
	require.False(t, found)
}
