package follower

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeRPC struct {
	tip uint64
}

func (f *fakeRPC) GetBlockchainInfo(ctx context.Context) (chain.BlockchainInfo, error) {
	return chain.BlockchainInfo{Blocks: f.tip}, nil
}

func (f *fakeRPC) GetBlockHash(ctx context.Context, height uint64) (chain.Hash, error) {
	var h chain.Hash
	h[0] = byte(height)
	return h, nil
}

func (f *fakeRPC) GetBlock(ctx context.Context, hash chain.Hash) (chain.RawBlock, error) {
	return chain.RawBlock{Height: uint64(hash[0]), Hash: hash}, nil
}

func (f *fakeRPC) GetRawMempool(ctx context.Context) ([]chain.Txid, error) { return nil, nil }

func (f *fakeRPC) GetRawTransactions(ctx context.Context, txids []chain.Txid) ([]chain.RawTxResult, error) {
	return nil, nil
}

func (f *fakeRPC) TestMempoolAccept(ctx context.Context, rawHex []string) ([]chain.MempoolAcceptResult, error) {
	return nil, nil
}

func noopParse(raw []byte) (chain.Tx, bool) { return chain.Tx{}, false }

func TestReconcilerEmitsOrderedBlocksAfterSeek(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seekCh := make(chan Seek, 1)
	r := New(&fakeRPC{tip: 3}, nil, newTestStore(t), noopParse, seekCh)

	go r.Run(ctx)
	seekCh <- Seek{Start: 1}

	var heights []uint64
	for len(heights) < 3 {
		ev, ok := <-r.Events()
		require.True(t, ok, "event stream closed")
		// Every RPC block is preceded by its MempoolUpdate.
		if ev.Kind == EventMempoolUpdate {
			continue
		}
		require.Equal(t, EventBlock, ev.Kind)
		heights = append(heights, ev.Block.Height)
	}
	for i := 1; i < len(heights); i++ {
		assert.Greater(t, heights[i], heights[i-1])
	}
}

func TestOrderedMempoolDiff(t *testing.T) {
	m := newOrderedMempool()
	tx1 := chain.Tx{Txid: chain.Txid{1}}
	tx2 := chain.Tx{Txid: chain.Txid{2}}
	m.add(tx1)

	added, removed := m.diff([]chain.Tx{tx2})
	assert.Equal(t, []chain.Txid{tx2.Txid}, added)
	assert.Equal(t, []chain.Txid{tx1.Txid}, removed)
	assert.Len(t, m.snapshot(), 1)
}
