package compose

import "github.com/btcsuite/btcd/btcutil"

// isTaproot reports whether addr is a P2TR (bech32m, witness v1)
// address. The composer's hardening rules require every participant
// change/funding address to be P2TR: anything else cannot be spent via
// the key path this composer assumes for funding inputs.
func isTaproot(addr btcutil.Address) bool {
	_, ok := addr.(*btcutil.AddressTaproot)
	return ok
}
