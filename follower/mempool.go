package follower

import "github.com/ouziel-slama/kontor/chain"

// orderedMempool is an insertion-order-preserving map<txid, Tx>.
// hashicorp/golang-lru is an eviction cache and does not preserve
// insertion order on removal, so this is hand-rolled rather than
// reaching for that dependency here.
type orderedMempool struct {
	order []chain.Txid
	byTxid map[chain.Txid]chain.Tx
}

func newOrderedMempool() *orderedMempool {
	return &orderedMempool{byTxid: make(map[chain.Txid]chain.Tx)}
}

func (m *orderedMempool) add(tx chain.Tx) {
	if _, ok := m.byTxid[tx.Txid]; !ok {
		m.order = append(m.order, tx.Txid)
	}
	m.byTxid[tx.Txid] = tx
}

func (m *orderedMempool) has(txid chain.Txid) bool {
	_, ok := m.byTxid[txid]
	return ok
}

func (m *orderedMempool) remove(txid chain.Txid) bool {
	if _, ok := m.byTxid[txid]; !ok {
		return false
	}
	delete(m.byTxid, txid)
	for i, t := range m.order {
		if t == txid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *orderedMempool) snapshot() map[chain.Txid]chain.Tx {
	out := make(map[chain.Txid]chain.Tx, len(m.byTxid))
	for k, v := range m.byTxid {
		out[k] = v
	}
	return out
}

// removeConfirmed drops every tx in block from the cache and returns the
// txids that were actually present, for the MempoolUpdate.Removed diff.
func (m *orderedMempool) removeConfirmed(block chain.Block) []chain.Txid {
	var removed []chain.Txid
	for _, tx := range block.Transactions {
		if m.remove(tx.Txid) {
			removed = append(removed, tx.Txid)
		}
	}
	return removed
}

// diff computes the minimal add/remove sets needed to make the cache
// match the incoming full mempool transaction list.
func (m *orderedMempool) diff(incoming []chain.Tx) (added, removed []chain.Txid) {
	incomingSet := make(map[chain.Txid]struct{}, len(incoming))
	for _, tx := range incoming {
		incomingSet[tx.Txid] = struct{}{}
		if _, ok := m.byTxid[tx.Txid]; !ok {
			added = append(added, tx.Txid)
		}
	}
	for _, txid := range m.order {
		if _, ok := incomingSet[txid]; !ok {
			removed = append(removed, txid)
		}
	}
	for _, tx := range incoming {
		m.add(tx)
	}
	for _, txid := range removed {
		m.remove(txid)
	}
	return added, removed
}
