package renderer

import "time"

type WorkerStat struct {
	// The worker id.
	Id int

	// The number of processed items and the percentage of all items they
	// represent.
	Items       int
	ItemPercent float32

	// Time spent processing items.
	BusyTime time.Duration
}

type FrameStats struct {
	// Individual worker stats.
	Workers []WorkerStat

	// Number of rendered chunks and rays.
	Chunks int
	Rays   int

	// Total render time for entire frame.
	RenderTime time.Duration
}
