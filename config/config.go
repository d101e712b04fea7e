// Package config handles loading and validation of model, rendering and
// training settings.
package config

import (
	"errors"
	"fmt"

	"github.com/achilleasa/radiance/types"
)

var (
	ErrInvalidBBox      = errors.New("config: bbox min must be smaller than max along every axis")
	ErrInvalidVoxels    = errors.New("config: num_voxels must be positive")
	ErrInvalidAlphaInit = errors.New("config: alpha_init must be in (0, 1)")
	ErrInvalidStepSize  = errors.New("config: stepsize must be positive")
	ErrInvalidKeep      = errors.New("config: importance fractions must be in (0, 1]")
	ErrInvalidBitWidth  = errors.New("config: bit_width must be in [2, 8]")
)

// Config holds all settings.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Render  RenderConfig  `yaml:"render"`
	Train   TrainConfig   `yaml:"train"`
	Prune   PruneConfig   `yaml:"prune"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds the scene model layout.
type ModelConfig struct {
	XYZMin        [3]float32 `yaml:"xyz_min"`
	XYZMax        [3]float32 `yaml:"xyz_max"`
	NumVoxels     int        `yaml:"num_voxels"`
	NumVoxelsBase int        `yaml:"num_voxels_base"`
	AlphaInit     float32    `yaml:"alpha_init"`

	// Occupancy cache.
	MaskCacheThres      float32 `yaml:"mask_cache_thres"`
	FastColorThresInit  float32 `yaml:"fast_color_thres_init"`
	FastColorThresFinal float32 `yaml:"fast_color_thres_final"`

	// Color representation. RGBNetDim <= 0 selects the network-free coarse mode.
	RGBNetDim          int  `yaml:"rgbnet_dim"`
	RGBNetDirect       bool `yaml:"rgbnet_direct"`
	RGBNetFullImplicit bool `yaml:"rgbnet_full_implicit"`
	RGBNetDepth        int  `yaml:"rgbnet_depth"`
	RGBNetWidth        int  `yaml:"rgbnet_width"`
	ViewBasePE         int  `yaml:"viewbase_pe"`

	Seed int64 `yaml:"seed"`
}

// RenderConfig holds ray marching settings.
type RenderConfig struct {
	Near       float32    `yaml:"near"`
	Far        float32    `yaml:"far"`
	StepSize   float32    `yaml:"stepsize"`
	Background [3]float32 `yaml:"bg"`
	// Upper bound for the number of samples produced by a single batch; 0
	// disables the check.
	MaxSamples int `yaml:"max_samples"`
	// Number of worker goroutines; 0 selects runtime.NumCPU().
	Workers int `yaml:"workers"`
	// Rays rendered per chunk when rendering full frames.
	ChunkSize int `yaml:"chunk_size"`
	// The model lives in normalized device coordinates of forward facing
	// cameras.
	NDC bool `yaml:"ndc"`
}

// TrainConfig holds optimization settings.
type TrainConfig struct {
	NIters            int     `yaml:"n_iters"`
	NRand             int     `yaml:"n_rand"`
	LRateDensity      float32 `yaml:"lrate_density"`
	LRateK0           float32 `yaml:"lrate_k0"`
	LRateRGBNet       float32 `yaml:"lrate_rgbnet"`
	LRateDecay        int     `yaml:"lrate_decay"`
	PGScale           []int   `yaml:"pg_scale"`
	WeightMain        float32 `yaml:"weight_main"`
	WeightEntropyLast float32 `yaml:"weight_entropy_last"`
	WeightTVDensity   float32 `yaml:"weight_tv_density"`
	WeightTVK0        float32 `yaml:"weight_tv_k0"`
	TVEvery           int     `yaml:"tv_every"`
	TVAfter           int     `yaml:"tv_after"`
	TVBefore          int     `yaml:"tv_before"`
	TVDenseBefore     int     `yaml:"tv_dense_before"`
	// Refresh the occupancy cache every N steps; 0 disables refreshes.
	OccupancyEvery int `yaml:"occupancy_every"`
	// Clear the density of voxels closer to a camera than the near plane
	// before training.
	MaskoutNearCam bool `yaml:"maskout_near_cam_vox"`
	// Scale the grid learning rates of every voxel by the number of training
	// views that observe it.
	PerVoxelLR bool `yaml:"pervoxel_lr"`
	// Drop training rays that miss the occupancy cache.
	FilterCoarseRays bool  `yaml:"filter_coarse_rays"`
	LogEvery         int   `yaml:"log_every"`
	Seed             int64 `yaml:"seed"`
}

// PruneConfig holds importance pruning and quantization settings.
type PruneConfig struct {
	// Start of the dynamic pruning phase (N_dynamic_iters).
	DynamicIters int `yaml:"n_dynamic_iters"`
	// Fraction of cumulative importance kept during training.
	ImportancePrune float32 `yaml:"importance_prune"`
	// Fraction of cumulative importance kept in the exported bundle.
	ImportanceFinal float32 `yaml:"importance_final"`
	BitWidth        int     `yaml:"bit_width"`
	// Ray batches rendered to score voxel importance before every pruning
	// pass.
	ImportanceBatches int `yaml:"importance_batches"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with the settings used for synthetic scenes.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			XYZMin:              [3]float32{-1, -1, -1},
			XYZMax:              [3]float32{1, 1, 1},
			NumVoxels:           64 * 64 * 64,
			NumVoxelsBase:       64 * 64 * 64,
			AlphaInit:           1e-2,
			MaskCacheThres:      1e-3,
			FastColorThresInit:  1e-4,
			FastColorThresFinal: 1e-4,
			RGBNetDim:           12,
			RGBNetDirect:        true,
			RGBNetDepth:         3,
			RGBNetWidth:         64,
			ViewBasePE:          4,
			Seed:                777,
		},
		Render: RenderConfig{
			Near:       0.2,
			Far:        6,
			StepSize:   0.5,
			Background: [3]float32{1, 1, 1},
			ChunkSize:  4096,
		},
		Train: TrainConfig{
			NIters:            4000,
			NRand:             4096,
			LRateDensity:      1e-1,
			LRateK0:           1e-1,
			LRateRGBNet:       1e-3,
			LRateDecay:        20,
			PGScale:           []int{1000, 2000},
			WeightMain:        1,
			WeightEntropyLast: 0.01,
			WeightTVDensity:   0,
			WeightTVK0:        0,
			TVEvery:           1,
			TVAfter:           0,
			TVBefore:          0,
			TVDenseBefore:     0,
			OccupancyEvery:    500,
			MaskoutNearCam:    true,
			LogEvery:          100,
			Seed:              777,
		},
		Prune: PruneConfig{
			DynamicIters:      3000,
			ImportancePrune:   0.999,
			ImportanceFinal:   1.0,
			BitWidth:          8,
			ImportanceBatches: 16,
		},
		Logging: LoggingConfig{
			Level:   "notice",
			LogFile: "",
		},
	}
}

// Validate checks the settings that would otherwise surface as numeric
// failures deep inside the renderer.
func (c *Config) Validate() error {
	if !types.NewBBox(types.Vec3(c.Model.XYZMin), types.Vec3(c.Model.XYZMax)).Valid() {
		return ErrInvalidBBox
	}
	if c.Model.NumVoxels <= 0 || c.Model.NumVoxelsBase <= 0 {
		return ErrInvalidVoxels
	}
	if c.Model.AlphaInit <= 0 || c.Model.AlphaInit >= 1 {
		return ErrInvalidAlphaInit
	}
	if c.Render.StepSize <= 0 {
		return ErrInvalidStepSize
	}
	for _, keep := range []float32{c.Prune.ImportancePrune, c.Prune.ImportanceFinal} {
		if keep <= 0 || keep > 1 {
			return ErrInvalidKeep
		}
	}
	if c.Prune.BitWidth < 2 || c.Prune.BitWidth > 8 {
		return ErrInvalidBitWidth
	}
	if c.Model.RGBNetDim > 0 && !c.Model.RGBNetDirect && !c.Model.RGBNetFullImplicit && c.Model.RGBNetDim < 3 {
		return fmt.Errorf("config: rgbnet_dim must be at least 3 when using a diffuse residual; got %d", c.Model.RGBNetDim)
	}
	return nil
}
