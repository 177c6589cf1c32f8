package contractmodel

import (
	"encoding/json"

	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/reactor"
	"github.com/ouziel-slama/kontor/storage"
)

// StoreContext binds one contract's storage tree to the underlying
// path-KV store, implementing WriteContext. Values are JSON-encoded
// before being handed to storage.Store.
type StoreContext struct {
	Store      *storage.Store
	ContractID int64
	TxRowID    int64
	Height     uint64
}

// NewStoreContext adapts a reactor.RunContext, the runtime's per-op
// entry point argument, into the storage surface contractmodel needs.
func NewStoreContext(rc reactor.RunContext) *StoreContext {
	return &StoreContext{
		Store:      rc.Store,
		ContractID: rc.ContractID,
		TxRowID:    rc.TxRowID,
		Height:     rc.Height,
	}
}

func (c *StoreContext) Get(path string, out interface{}) (bool, error) {
	value, found, err := c.Store.GetLatestContractStateValue(c.ContractID, path)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(value, out); err != nil {
		return true, kerrors.Contract("decode contract state value at "+path, err)
	}
	return true, nil
}

func (c *StoreContext) Exists(prefix string) (bool, error) {
	return c.Store.ExistsContractState(c.ContractID, prefix)
}

func (c *StoreContext) MatchingPath(pattern string) (string, bool, error) {
	row, found, err := c.Store.MatchingPath(c.ContractID, pattern)
	if err != nil || !found {
		return "", found, err
	}
	return row.Path, true, nil
}

func (c *StoreContext) PrefixKeys(prefix string) ([]string, error) {
	next, closeFn := c.Store.PathPrefixFilterContractState(c.ContractID, prefix)
	defer closeFn()

	var keys []string
	for {
		key, ok, err := next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return keys, nil
		}
		keys = append(keys, key)
	}
}

func (c *StoreContext) Set(path string, value interface{}) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return kerrors.Contract("encode contract state value at "+path, err)
	}
	_, err = c.Store.InsertContractState(c.ContractID, c.TxRowID, c.Height, path, bytes)
	return err
}

func (c *StoreContext) Delete(path string) error {
	_, err := c.Store.DeleteContractState(c.ContractID, c.TxRowID, c.Height, path)
	return err
}
