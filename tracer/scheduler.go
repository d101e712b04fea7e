package tracer

import "math"

// A contiguous range [Start, End) of work items (rays or samples).
type Block struct {
	Start int
	End   int
}

// Len returns the number of items in the block.
func (b Block) Len() int {
	return b.End - b.Start
}

// The BlockScheduler interface is implemented by all block scheduling algorithms.
type BlockScheduler interface {
	// Split numItems work items into blocks that are processed by a pool
	// of workers with the given relative speed estimates.
	Schedule(speeds []float32, numItems int) []Block
}

// The naive scheduler assigns each worker a single block whose size is
// proportional to the worker's speed estimate.
type naiveScheduler struct{}

// Create a new naive scheduler instance.
func NaiveScheduler() BlockScheduler {
	return naiveScheduler{}
}

// Split items into one block per worker. Every worker receives at least one
// item as long as there are enough items to go around.
func (sch naiveScheduler) Schedule(speeds []float32, numItems int) []Block {
	if numItems <= 0 || len(speeds) == 0 {
		return nil
	}

	// Not enough work for everyone
	if numItems <= len(speeds) {
		blocks := make([]Block, numItems)
		for idx := range blocks {
			blocks[idx] = Block{Start: idx, End: idx + 1}
		}
		return blocks
	}

	var total float64
	for _, speed := range speeds {
		total += float64(speed)
	}
	scaler := float64(numItems) / total

	sizes := make([]int, len(speeds))
	scheduled := 0
	for idx, speed := range speeds {
		sizes[idx] = int(math.Max(1.0, math.Floor(float64(speed)*scaler)))
		scheduled += sizes[idx]
	}

	// Forcing a minimum of one item per worker may overshoot; take the
	// excess from the largest blocks.
	for scheduled > numItems {
		largest := 0
		for idx := range sizes {
			if sizes[idx] > sizes[largest] {
				largest = idx
			}
		}
		sizes[largest]--
		scheduled--
	}

	// In case items don't add up append the missing ones to the first worker
	sizes[0] += numItems - scheduled

	return sizesToBlocks(sizes)
}

// The chunk scheduler splits work into fixed size blocks that are pulled by
// workers as they become idle.
type chunkScheduler struct {
	chunkSize int
}

// Create a scheduler that emits blocks of at most chunkSize items.
func ChunkScheduler(chunkSize int) BlockScheduler {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return chunkScheduler{chunkSize: chunkSize}
}

func (sch chunkScheduler) Schedule(_ []float32, numItems int) []Block {
	if numItems <= 0 {
		return nil
	}

	blocks := make([]Block, 0, (numItems+sch.chunkSize-1)/sch.chunkSize)
	for start := 0; start < numItems; start += sch.chunkSize {
		end := start + sch.chunkSize
		if end > numItems {
			end = numItems
		}
		blocks = append(blocks, Block{Start: start, End: end})
	}
	return blocks
}

func sizesToBlocks(sizes []int) []Block {
	blocks := make([]Block, 0, len(sizes))
	start := 0
	for _, size := range sizes {
		if size == 0 {
			continue
		}
		blocks = append(blocks, Block{Start: start, End: start + size})
		start += size
	}
	return blocks
}
