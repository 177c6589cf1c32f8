// Package ingestion implements the Producer -> Fetcher -> Processor ->
// Orderer block pipeline: bounded channels, semaphore-bounded fan-out,
// and min-heap reordering so blocks reach the reactor in strict height
// order even when fetches complete out of order.
package ingestion

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcrowley/go-metrics"

	"github.com/ouziel-slama/kontor/chain"
	"github.com/ouziel-slama/kontor/log"
	"github.com/ouziel-slama/kontor/retry"
)

var logger = log.NewModuleLogger(log.Ingestion)

const (
	queueCapacity  = 10
	fetchConcurrency = 10
	tipPollInterval  = 10 * time.Second
)

var (
	blocksFetched = metrics.NewRegisteredCounter("ingestion/blocks_fetched", metrics.DefaultRegistry)

	blocksOrdered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kontor_ingestion_blocks_ordered_total",
		Help: "Blocks emitted by the orderer stage in strict height order.",
	})
)

func init() {
	prometheus.MustRegister(blocksOrdered)
}

// targetHeightPair carries the producer's view of the chain tip
// alongside the height it is requesting.
type targetHeightPair struct {
	target uint64
	height uint64
}

type fetchedBlock struct {
	target uint64
	height uint64
	raw    chain.RawBlock
}

type OrderedBlock struct {
	Target uint64
	Block  chain.Block
}

// RunProducer maintains height/target_height and emits the next height to
// fetch once the chain tip is known to be at or beyond it.
func RunProducer(ctx context.Context, startHeight uint64, rpc chain.RPC) (<-chan targetHeightPair, <-chan struct{}) {
	out := make(chan targetHeightPair, queueCapacity)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer close(done)

		height := startHeight
		var targetHeight uint64
		if height > 0 {
			targetHeight = height - 1
		}

		for {
			if ctx.Err() != nil {
				logger.Info("producer cancelled")
				return
			}

			if targetHeight < height {
				info, err := retry.Do(ctx, "get blockchain info", retry.NewBackoffUnlimited(), func() (chain.BlockchainInfo, error) {
					return rpc.GetBlockchainInfo(ctx)
				})
				if err != nil {
					logger.Info("producer cancelled fetching blockchain info", "err", err)
					return
				}
				targetHeight = info.Blocks
			}

			if targetHeight < height {
				timer := time.NewTimer(tipPollInterval)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
				continue
			}

			select {
			case out <- targetHeightPair{target: targetHeight, height: height}:
			case <-ctx.Done():
				logger.Info("producer exiting on cancel")
				return
			}
			height++
		}
	}()

	return out, done
}

// RunFetcher fans out each (target, height) pair to at most
// fetchConcurrency concurrent RPC fetches, forwarding (target, height,
// raw block) once both the hash and block lookups succeed.
func RunFetcher(ctx context.Context, in <-chan targetHeightPair, rpc chain.RPC) <-chan fetchedBlock {
	out := make(chan fetchedBlock, queueCapacity)
	sem := make(chan struct{}, fetchConcurrency)

	go func() {
		defer close(out)
		var wg sync.WaitGroup

		for {
			select {
			case <-ctx.Done():
				logger.Info("fetcher cancelled")
				wg.Wait()
				drain(in)
				return
			case pair, ok := <-in:
				if !ok {
					wg.Wait()
					logger.Info("fetcher exited")
					return
				}

				sem <- struct{}{}
				wg.Add(1)
				go func(p targetHeightPair) {
					defer wg.Done()
					defer func() { <-sem }()

					hash, err := retry.Do(ctx, "get block hash", retry.NewBackoffUnlimited(), func() (chain.Hash, error) {
						return rpc.GetBlockHash(ctx, p.height)
					})
					if err != nil {
						return
					}
					raw, err := retry.Do(ctx, "get block", retry.NewBackoffUnlimited(), func() (chain.RawBlock, error) {
						return rpc.GetBlock(ctx, hash)
					})
					if err != nil {
						return
					}
					blocksFetched.Inc(1)

					select {
					case out <- fetchedBlock{target: p.target, height: p.height, raw: raw}:
					case <-ctx.Done():
					}
				}(pair)
			}
		}
	}()

	return out
}

// RunProcessor applies f over each transaction of the raw block
// concurrently and forwards a chain.Block containing only successfully
// parsed transactions.
func RunProcessor(ctx context.Context, in <-chan fetchedBlock, f chain.ParseFunc) <-chan OrderedBlock {
	out := make(chan OrderedBlock, queueCapacity)
	sem := make(chan struct{}, fetchConcurrency)

	go func() {
		defer close(out)
		var wg sync.WaitGroup

		for {
			select {
			case <-ctx.Done():
				logger.Info("processor cancelled")
				wg.Wait()
				drain(in)
				return
			case fb, ok := <-in:
				if !ok {
					wg.Wait()
					logger.Info("processor exited")
					return
				}

				sem <- struct{}{}
				wg.Add(1)
				go func(fb fetchedBlock) {
					defer wg.Done()
					defer func() { <-sem }()

					txs := parallelFilterMap(fb.raw.RawTx, f)
					blk := chain.Block{
						Height:       fb.height,
						Hash:         fb.raw.Hash,
						PrevHash:     fb.raw.PrevHash,
						Transactions: txs,
					}

					select {
					case out <- OrderedBlock{Target: fb.target, Block: blk}:
					case <-ctx.Done():
					}
				}(fb)
			}
		}
	}()

	return out
}

func parallelFilterMap(rawTx [][]byte, f chain.ParseFunc) []chain.Tx {
	results := make([]*chain.Tx, len(rawTx))
	var wg sync.WaitGroup
	for i, raw := range rawTx {
		wg.Add(1)
		go func(i int, raw []byte) {
			defer wg.Done()
			if tx, ok := f(raw); ok {
				tx.Index = i
				results[i] = &tx
			}
		}(i, raw)
	}
	wg.Wait()

	out := make([]chain.Tx, 0, len(rawTx))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// blockHeap implements a min-heap over block heights for the orderer
// stage.
type blockHeap []uint64

func (h blockHeap) Len() int            { return len(h) }
func (h blockHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h blockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *blockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// RunOrderer reassembles out-of-order blocks into a strictly increasing
// height sequence starting at startHeight, holding back gaps until filled.
func RunOrderer(ctx context.Context, startHeight uint64, in <-chan OrderedBlock) <-chan OrderedBlock {
	out := make(chan OrderedBlock, queueCapacity)

	go func() {
		defer close(out)

		h := &blockHeap{}
		heap.Init(h)
		pending := make(map[uint64]OrderedBlock)
		nextIndex := startHeight

		for {
			select {
			case <-ctx.Done():
				logger.Info("orderer cancelled")
				drain(in)
				return
			case ob, ok := <-in:
				if !ok {
					logger.Info("orderer exited")
					return
				}

				heap.Push(h, ob.Block.Height)
				pending[ob.Block.Height] = ob

				for h.Len() > 0 && (*h)[0] == nextIndex {
					heap.Pop(h)
					next := pending[nextIndex]
					delete(pending, nextIndex)

					select {
					case out <- next:
						blocksOrdered.Inc()
					case <-ctx.Done():
						return
					}
					nextIndex++
				}
			}
		}
	}()

	return out
}

func drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Fetcher wraps the four pipeline stages behind start/stop, mirroring the
// original Fetcher<T, C> struct: a restartable sub-pipeline with its own
// cancellation scope.
type Fetcher struct {
	rpc    chain.RPC
	parse  chain.ParseFunc
	out    chan<- OrderedBlock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFetcher(rpc chain.RPC, parse chain.ParseFunc, out chan<- OrderedBlock) *Fetcher {
	return &Fetcher{rpc: rpc, parse: parse, out: out}
}

func (f *Fetcher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

func (f *Fetcher) Start(startHeight uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}

	logger.Info("starting fetcher", "height", startHeight)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		p1, _ := RunProducer(ctx, startHeight, f.rpc)
		p2 := RunFetcher(ctx, p1, f.rpc)
		p3 := RunProcessor(ctx, p2, f.parse)
		p4 := RunOrderer(ctx, startHeight, p3)
		for ob := range p4 {
			select {
			case f.out <- ob:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (f *Fetcher) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	logger.Info("stopping fetcher")
	cancel()
	<-done

	f.mu.Lock()
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()
	logger.Info("fetcher stopped")
}
