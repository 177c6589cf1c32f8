// Package params holds the indexer's TOML-loadable configuration: a
// plain struct decoded with github.com/naoina/toml, keys matching Go
// field names one-for-one, with flag overrides applied by cmd/
// afterward. The CLI and config-loader wiring live in cmd/; this
// package only defines what gets loaded.
package params

import (
	"bufio"
	"errors"
	"os"
	"reflect"

	"github.com/naoina/toml"
)

// tomlSettings keeps NormFieldName/FieldToKey as identity functions so
// TOML keys are exactly the Go struct field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// ComposerDefaults holds default composer parameters (fee rate and
// envelope value) loaded with the rest of the configuration; no code in
// this module reads them or passes them to compose.ComposeCommit/
// compose.ComposeReveal.
type ComposerDefaults struct {
	FeeRateSatPerVByte uint64
	EnvelopeSats       uint64
}

// ChainConfig is the indexer's top-level configuration: network
// selection, the ingestion start height, the RPC/ZMQ endpoints the core
// consumes but does not implement, the storage DSN, and composer
// defaults.
type ChainConfig struct {
	Network     string
	StartHeight uint64
	RPCEndpoint string
	RPCUser     string
	RPCPass     string
	ZMQEndpoint string
	StorageDSN  string

	// StateCacheDir enables the persistent tier of the contract-state
	// read-through cache when non-empty; StateCacheBackend picks the
	// embedded store ("leveldb" or "badger") and StateCacheSize the
	// in-memory LRU entry count.
	StateCacheDir     string
	StateCacheBackend string
	StateCacheSize    int

	Composer ComposerDefaults
}

// DefaultConfig is a ready-to-use baseline a caller overrides field by
// field or via a TOML file.
var DefaultConfig = ChainConfig{
	Network:     "mainnet",
	StartHeight: 1,
	RPCEndpoint: "http://127.0.0.1:8332",
	ZMQEndpoint: "tcp://127.0.0.1:28332",
	StorageDSN:  "kontor.db",

	StateCacheBackend: "leveldb",
	StateCacheSize:    4096,
	Composer: ComposerDefaults{
		FeeRateSatPerVByte: 2,
		EnvelopeSats:       330,
	},
}

// LoadFile decodes a TOML config file into cfg, following
// cmd/ranger/config.go's loadConfig: open, decode, and prefix line-
// numbered TOML errors with the file name.
func LoadFile(path string, cfg *ChainConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return errors.New(path + ", " + err.Error())
		}
		return err
	}
	return nil
}

// Marshal renders cfg back to TOML, the read side of dumpconfig in
// cmd/ranger/config.go.
func Marshal(cfg *ChainConfig) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}
