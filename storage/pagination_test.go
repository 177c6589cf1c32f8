package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouziel-slama/kontor/chain"
)

// TestCursorThenOffset: a cursor supplied together with an offset wins,
// and the offset is silently ignored.
func TestCursorThenOffset(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	for _, h := range []uint64{800000, 800001, 800002} {
		require.NoError(t, s.InsertBlock(h, chain.Hash{}))
	}
	for i := 0; i < 10; i++ {
		var txid chain.Txid
		txid[0] = byte(i + 1)
		h := []uint64{800000, 800001, 800002}[i%3]
		_, err := s.InsertTransaction(h, i, txid)
		require.NoError(t, err)
	}

	first, err := s.ListTransactions(ListTransactionsParams{Limit: 3, Descending: true})
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	require.True(t, first.HasMore)
	require.NotNil(t, first.NextCursor)
	require.NotNil(t, first.NextOffset)
	require.Equal(t, 3, *first.NextOffset)
	require.Equal(t, int64(10), first.TotalCount)

	second, err := s.ListTransactions(ListTransactionsParams{
		Limit:      3,
		Cursor:     *first.NextCursor,
		Offset:     5, // must be ignored: cursor wins
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 3)
	require.Nil(t, second.NextOffset)
	require.NotNil(t, second.NextCursor)
	require.Equal(t, int64(10), second.TotalCount)

	// Strictly decreasing ids across the two pages, no overlap.
	require.Greater(t, first.Items[0].ID, first.Items[1].ID)
	require.Greater(t, first.Items[2].ID, second.Items[0].ID)
}

// TestPaginationMonotonicity: ids strictly decrease across descending
// pages, the concatenation covers every row exactly once, and
// total_count is stable from page to page.
func TestPaginationMonotonicity(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertBlock(1, chain.Hash{}))
	const n = 23
	for i := 0; i < n; i++ {
		var txid chain.Txid
		txid[0] = byte(i + 1)
		_, err := s.InsertTransaction(1, i, txid)
		require.NoError(t, err)
	}

	var all []TransactionRow
	var cursor string
	total := int64(-1)
	for {
		page, err := s.ListTransactions(ListTransactionsParams{Limit: 5, Cursor: cursor, Descending: true})
		require.NoError(t, err)
		if total == -1 {
			total = page.TotalCount
		} else {
			require.Equal(t, total, page.TotalCount)
		}
		all = append(all, page.Items...)
		if !page.HasMore {
			break
		}
		cursor = *page.NextCursor
	}

	require.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i].ID, all[i-1].ID)
	}
}

func TestContractFilterDeduplicatesTransactions(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.InsertBlock(1, chain.Hash{}))
	contractID, err := s.InsertContract("demo", 1, 0, []byte("bytecode"))
	require.NoError(t, err)

	txID, err := s.InsertTransaction(1, 0, chain.Txid{1})
	require.NoError(t, err)

	_, err = s.InsertContractState(contractID, txID, 1, "a", []byte("1"))
	require.NoError(t, err)
	_, err = s.InsertContractState(contractID, txID, 1, "b", []byte("2"))
	require.NoError(t, err)

	addr := chain.ContractAddress{Name: "demo", Height: 1, TxIndex: 0}
	res, err := s.ListTransactions(ListTransactionsParams{Limit: 10, ContractAddr: &addr, Descending: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	require.Equal(t, int64(1), res.TotalCount)
}
