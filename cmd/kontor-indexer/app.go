// Package main wires retry -> ingestion -> follower -> reactor ->
// storage -> ledger -> feed into a single running process: each
// subsystem owns its own goroutine, started and stopped together by one
// owner. The Bitcoin RPC client and push-notification transport are
// external collaborators consumed through chain.RPC / chain.PushTransport;
// this package does not implement them, it only wires whatever concrete
// implementation the caller supplies.
package main

import (
	"context"
	"sync"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/feed"
	"github.com/ouziel-slama/kontor/follower"
	"github.com/ouziel-slama/kontor/kerrors"
	"github.com/ouziel-slama/kontor/ledger"
	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/params"
	"github.com/ouziel-slama/kontor/reactor"
	"github.com/ouziel-slama/kontor/storage"
)

var logger = log.NewModuleLogger(log.CLI)

// App owns every long-lived component of one indexer instance.
type App struct {
	cfg     params.ChainConfig
	store   *storage.Store
	kvdb    storage.KVDatabase
	ledger  *ledger.Ledger
	feed    *feed.Feed
	reactor *reactor.Reactor

	rpc     chain.RPC
	push    chain.PushTransport
	parse   chain.ParseFunc
	runtime reactor.Runtime

	simulate chan reactor.SimulateRequest

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the store, rebuilds the file ledger, and builds the event
// feed, keeping the caller-supplied RPC/push/runtime implementations for
// Run. It neither constructs the reactor nor starts anything; Run does
// both.
func New(cfg params.ChainConfig, rpc chain.RPC, push chain.PushTransport, parse chain.ParseFunc, runtime reactor.Runtime) (*App, error) {
	if rpc == nil {
		return nil, kerrors.Validation("cmd/kontor-indexer: no chain.RPC implementation supplied", nil)
	}
	if parse == nil {
		return nil, kerrors.Validation("cmd/kontor-indexer: no chain.ParseFunc supplied", nil)
	}
	if runtime == nil {
		return nil, kerrors.Validation("cmd/kontor-indexer: no reactor.Runtime supplied", nil)
	}

	store, err := storage.Open(cfg.StorageDSN)
	if err != nil {
		return nil, err
	}

	var kvdb storage.KVDatabase
	if cfg.StateCacheDir != "" {
		size := cfg.StateCacheSize
		if size <= 0 {
			size = params.DefaultConfig.StateCacheSize
		}
		cache, err := storage.NewCache(size)
		if err != nil {
			store.Close()
			return nil, err
		}
		kvdb, err = storage.OpenKVDatabase(storage.KVBackend(cfg.StateCacheBackend), cfg.StateCacheDir)
		if err != nil {
			store.Close()
			return nil, err
		}
		store.WithCache(cache.WithPersistence(kvdb))
	}

	led := ledger.New(store)
	if err := led.RebuildFromDB(); err != nil {
		if kvdb != nil {
			kvdb.Close()
		}
		store.Close()
		return nil, err
	}

	f := feed.NewFeed()

	app := &App{
		cfg:      cfg,
		store:    store,
		kvdb:     kvdb,
		ledger:   led,
		feed:     f,
		rpc:      rpc,
		push:     push,
		parse:    parse,
		runtime:  runtime,
		simulate: make(chan reactor.SimulateRequest),
	}
	return app, nil
}

// Feed exposes the event feed a caller can subscribe to for processed-
// block / rollback notifications.
func (a *App) Feed() *feed.Feed { return a.feed }

// Run starts the reconciler and reactor and blocks until ctx is
// cancelled or a fatal error (an OrderViolation) stops the reactor. It
// is safe to call once per App.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	r := reactor.New(a.store, a.ledger, a.runtime, a.parse, a.feed, cancel, a.cfg.StartHeight)
	a.reactor = r

	rec := follower.New(a.rpc, a.push, a.store, a.parse, r.SeekChan())

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		rec.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		r.Run(runCtx, rec.Events(), a.simulate)
	}()

	logger.Info("kontor-indexer started", "network", a.cfg.Network, "start_height", a.cfg.StartHeight)
	<-runCtx.Done()
	a.wg.Wait()
	if a.kvdb != nil {
		a.kvdb.Close()
	}
	return a.store.Close()
}

// Simulate exposes the reactor's savepoint-isolated simulation endpoint
// to a caller, e.g. an HTTP handler outside this package's scope. It
// must only be called while Run is active.
func (a *App) Simulate(ctx context.Context, raw []byte) (reactor.SimulateResult, error) {
	reply := make(chan reactor.SimulateResult, 1)
	select {
	case a.simulate <- reactor.SimulateRequest{Raw: raw, Reply: reply}:
	case <-ctx.Done():
		return reactor.SimulateResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return reactor.SimulateResult{}, ctx.Err()
	}
}
