// Pagination for the transactions table: cursor (row id) and legacy
// offset modes, with height and contract-address filters.
package storage

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/kerrors"
)

// ListTransactionsParams selects and paginates rows of the transactions
// table. Cursor and Offset are mutually exclusive; if both are supplied,
// Cursor wins and Offset is silently ignored.
type ListTransactionsParams struct {
	Height       *uint64
	ContractAddr *chain.ContractAddress
	Limit        int
	Cursor       string
	Offset       int
	Descending   bool
}

// ListTransactionsResult holds a page of rows plus the bookkeeping a
// caller needs to fetch the next one: items, has_more, next_cursor?,
// next_offset?, total_count.
type ListTransactionsResult struct {
	Items      []TransactionRow
	HasMore    bool
	NextCursor *string
	NextOffset *int
	TotalCount int64
}

// ListTransactions implements the dual offset/cursor pagination over
// transactions, with optional height and contract-address filters. The
// contract filter joins through contract_state and returns DISTINCT
// transaction rows so a transaction that wrote multiple paths is not
// duplicated.
func (s *Store) ListTransactions(p ListTransactionsParams) (ListTransactionsResult, error) {
	if p.Limit <= 0 {
		p.Limit = 50
	}

	var cursorID int64
	usingCursor := p.Cursor != ""
	if usingCursor {
		id, err := decodeCursor(s, p.Cursor)
		if err != nil {
			return ListTransactionsResult{}, err
		}
		cursorID = id
	}

	order := "DESC"
	cmp := "<"
	if !p.Descending {
		order = "ASC"
		cmp = ">"
	}

	var (
		selectSQL strings.Builder
		countSQL  strings.Builder
		args      []interface{}
		countArgs []interface{}
	)

	selectSQL.WriteString(`SELECT DISTINCT t.id, t.height, t.tx_index, t.txid FROM transactions t`)
	countSQL.WriteString(`SELECT COUNT(DISTINCT t.id) FROM transactions t`)
	if p.ContractAddr != nil {
		join := ` JOIN contract_state cs ON cs.tx_id = t.id`
		selectSQL.WriteString(join)
		countSQL.WriteString(join)
	}

	var where []string
	if p.Height != nil {
		where = append(where, "t.height = ?")
		args = append(args, *p.Height)
		countArgs = append(countArgs, *p.Height)
	}
	if p.ContractAddr != nil {
		contractID, found, err := s.GetContractIDFromAddress(*p.ContractAddr)
		if err != nil {
			return ListTransactionsResult{}, err
		}
		if !found {
			return ListTransactionsResult{Items: nil, TotalCount: 0}, nil
		}
		where = append(where, "cs.contract_id = ?")
		args = append(args, contractID)
		countArgs = append(countArgs, contractID)
	}

	countWhere := where
	if usingCursor {
		where = append(where, fmt.Sprintf("t.id %s ?", cmp))
		args = append(args, cursorID)
	}

	if len(where) > 0 {
		selectSQL.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if len(countWhere) > 0 {
		countSQL.WriteString(" WHERE " + strings.Join(countWhere, " AND "))
	}
	selectSQL.WriteString(fmt.Sprintf(" ORDER BY t.id %s", order))

	fetchLimit := p.Limit + 1
	args = append(args, fetchLimit)
	selectSQL.WriteString(" LIMIT ?")

	if !usingCursor && p.Offset > 0 {
		args = append(args, p.Offset)
		selectSQL.WriteString(" OFFSET ?")
	}

	rows, err := s.readers.Query(selectSQL.String(), args...)
	if err != nil {
		return ListTransactionsResult{}, kerrors.Persistence("list transactions", err)
	}
	items, err := scanTransactionRows(rows)
	rows.Close()
	if err != nil {
		return ListTransactionsResult{}, err
	}

	hasMore := len(items) > p.Limit
	if hasMore {
		items = items[:p.Limit]
	}

	var total int64
	row := s.readers.QueryRow(countSQL.String(), countArgs...)
	if err := row.Scan(&total); err != nil {
		return ListTransactionsResult{}, kerrors.Persistence("count transactions", err)
	}

	result := ListTransactionsResult{Items: items, HasMore: hasMore, TotalCount: total}

	if hasMore && len(items) > 0 {
		c := encodeCursor(items[len(items)-1].ID)
		result.NextCursor = &c
	}
	if !usingCursor {
		next := p.Offset + len(items)
		result.NextOffset = &next
	}

	return result, nil
}

// encodeCursor produces the standardized id-based cursor.
func encodeCursor(id int64) string {
	return base64.StdEncoding.EncodeToString([]byte("id:" + strconv.FormatInt(id, 10)))
}

// decodeCursor accepts both the current id-based cursor and the legacy
// base64(height:tx_index) cursor still in the wild, up-converting the
// legacy form to a row id on first use.
func decodeCursor(s *Store, cursor string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, kerrors.Cursor("malformed cursor encoding", err)
	}
	text := string(raw)

	if id, ok := strings.CutPrefix(text, "id:"); ok {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, kerrors.Cursor("malformed id cursor", err)
		}
		return n, nil
	}

	parts := strings.SplitN(text, ":", 2)
	if len(parts) != 2 {
		return 0, kerrors.Cursor("unrecognized cursor format", nil)
	}
	height, err1 := strconv.ParseUint(parts[0], 10, 64)
	txIndex, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, kerrors.Cursor("malformed legacy cursor", nil)
	}

	row := s.readers.QueryRow(`SELECT id FROM transactions WHERE height = ? AND tx_index = ?`, height, txIndex)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, kerrors.Cursor("legacy cursor does not reference a known transaction", err)
	}
	return id, nil
}
