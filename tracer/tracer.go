package tracer

import (
	"runtime"
	"sync"
	"time"
)

// Worker statistics.
type Stats struct {
	// The worker index inside the pool.
	Id int

	// Number of processed items and blocks.
	Items  int
	Blocks int

	// Time spent processing blocks.
	BusyTime time.Duration
}

// A Pool executes data-parallel kernels on a fixed number of goroutines.
// Blocks are produced by a BlockScheduler; each block is processed by exactly
// one goroutine so kernels that keep per-item state sequential (e.g. a scan
// along a ray) never need to synchronize.
type Pool struct {
	workers   int
	speeds    []float32
	scheduler BlockScheduler

	statsMu sync.Mutex
	stats   []Stats
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
)

// Create a new pool. A non-positive worker count selects runtime.NumCPU().
// A nil scheduler selects the naive scheduler.
func NewPool(workers int, scheduler BlockScheduler) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if scheduler == nil {
		scheduler = NaiveScheduler()
	}

	speeds := make([]float32, workers)
	stats := make([]Stats, workers)
	for idx := range speeds {
		speeds[idx] = 1.0
		stats[idx].Id = idx
	}

	return &Pool{
		workers:   workers,
		speeds:    speeds,
		scheduler: scheduler,
		stats:     stats,
	}
}

// Get the shared pool sized to the number of CPUs.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(0, nil)
	})
	return defaultPool
}

// Get the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Run fn over numItems items. The call returns once every block has been
// processed.
func (p *Pool) Run(numItems int, fn func(blk Block)) {
	blocks := p.scheduler.Schedule(p.speeds, numItems)
	if len(blocks) == 0 {
		return
	}

	if p.workers == 1 || len(blocks) == 1 {
		start := time.Now()
		for _, blk := range blocks {
			fn(blk)
		}
		p.record(0, numItems, len(blocks), time.Since(start))
		return
	}

	blockChan := make(chan Block, len(blocks))
	for _, blk := range blocks {
		blockChan <- blk
	}
	close(blockChan)

	workers := p.workers
	if workers > len(blocks) {
		workers = len(blocks)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(wid int) {
			defer wg.Done()
			var items, count int
			start := time.Now()
			for blk := range blockChan {
				fn(blk)
				items += blk.Len()
				count++
			}
			p.record(wid, items, count, time.Since(start))
		}(w)
	}
	wg.Wait()
}

func (p *Pool) record(wid, items, blocks int, busy time.Duration) {
	p.statsMu.Lock()
	p.stats[wid].Items += items
	p.stats[wid].Blocks += blocks
	p.stats[wid].BusyTime += busy
	p.statsMu.Unlock()
}

// Retrieve accumulated worker statistics.
func (p *Pool) Stats() []Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := make([]Stats, len(p.stats))
	copy(out, p.stats)
	return out
}

// Reset accumulated worker statistics.
func (p *Pool) ResetStats() {
	p.statsMu.Lock()
	for idx := range p.stats {
		p.stats[idx] = Stats{Id: idx}
	}
	p.statsMu.Unlock()
}
