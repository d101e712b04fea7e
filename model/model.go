// Package model implements the voxel scene model: a density grid, a color
// feature grid, an occupancy cache and an optional view-dependent color
// network, together with the grid management operations invoked during
// training.
package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/achilleasa/radiance/config"
	"github.com/achilleasa/radiance/grid"
	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
)

var (
	ErrNoImportance = errors.New("model: importance has not been accumulated")
	ErrMaskLayout   = errors.New("model: occupancy cache and density grid resolutions differ")
)

// Grids larger than this are not given a rebuilt occupancy cache when scaled.
const maxCacheRebuildVolume = 256 * 256 * 256

// ColorMode selects how sample colors are derived from the feature grid.
type ColorMode int

const (
	// Colors are stored directly in a 3 channel grid.
	ColorCoarse ColorMode = iota

	// The network maps features and view direction to colors.
	ColorDirect

	// The first 3 feature channels hold a diffuse color; the network adds a
	// view-dependent residual computed from the remaining channels.
	ColorResidual

	// The network maps the view direction alone to colors.
	ColorImplicit
)

func (m ColorMode) String() string {
	switch m {
	case ColorCoarse:
		return "coarse"
	case ColorDirect:
		return "direct"
	case ColorResidual:
		return "residual"
	case ColorImplicit:
		return "implicit"
	}
	return fmt.Sprintf("ColorMode(%d)", int(m))
}

// Settings used by forward passes.
type RenderOptions struct {
	Near       float32
	StepSize   float32
	Background types.Vec3

	// Upper bound for the number of samples per batch; 0 disables it.
	MaxSamples int

	// Emit per-ray depth estimates and per-sample depth labels.
	RenderDepth bool
	DepthLabel  bool
}

// Model is the optimizable scene representation.
type Model struct {
	logger log.Logger
	pool   *tracer.Pool

	BBox types.BBox
	Mode ColorMode

	Density *grid.Grid
	// nil in ColorImplicit mode.
	K0     *grid.Grid
	Mask   *grid.MaskGrid
	RGBNet *nn.MLP

	// Per-voxel importance in density grid address order; nil until
	// AccumulateImportance is called.
	Importance []float32
	importance *grid.Grid

	ActShift   float32
	ViewBasePE int

	NumVoxels      int
	NumVoxelsBase  int
	VoxelSize      float32
	VoxelSizeBase  float32
	VoxelSizeRatio float32

	FastColorThres      float32
	FastColorThresInit  float32
	FastColorThresFinal float32

	// Training schedule used by UpdateOccupancyCache.
	NIters        int
	NDynamicIters int

	Render RenderOptions
}

// Create a new model from the supplied configuration. A nil pool selects the
// default pool.
func New(cfg *config.Config, pool *tracer.Pool) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = tracer.Default()
	}

	mc := cfg.Model
	m := &Model{
		logger:              log.New("model"),
		pool:                pool,
		BBox:                types.NewBBox(types.Vec3(mc.XYZMin), types.Vec3(mc.XYZMax)),
		Mode:                colorModeFor(mc),
		ActShift:            renderer.ActShift(mc.AlphaInit),
		ViewBasePE:          mc.ViewBasePE,
		NumVoxelsBase:       mc.NumVoxelsBase,
		FastColorThres:      mc.FastColorThresInit,
		FastColorThresInit:  mc.FastColorThresInit,
		FastColorThresFinal: mc.FastColorThresFinal,
		NIters:              cfg.Train.NIters,
		NDynamicIters:       cfg.Prune.DynamicIters,
		Render: RenderOptions{
			Near:       cfg.Render.Near,
			StepSize:   cfg.Render.StepSize,
			Background: types.Vec3(cfg.Render.Background),
			MaxSamples: cfg.Render.MaxSamples,
		},
	}
	m.VoxelSizeBase = m.BBox.VoxelSize(mc.NumVoxelsBase)
	ws := m.setGridResolution(mc.NumVoxels)

	var err error
	if m.Density, err = grid.New(1, ws, m.BBox); err != nil {
		return nil, err
	}
	if dim := m.k0Dim(mc.RGBNetDim); dim > 0 {
		if m.K0, err = grid.New(dim, ws, m.BBox); err != nil {
			return nil, err
		}
	}
	if m.Mask, err = grid.NewFullMaskGrid(ws, m.BBox); err != nil {
		return nil, err
	}

	if m.Mode != ColorCoarse {
		rng := rand.New(rand.NewSource(mc.Seed))
		m.RGBNet, err = nn.NewMLP(m.netInputDim(), mc.RGBNetWidth, mc.RGBNetDepth, 3, rng)
		if err != nil {
			return nil, fmt.Errorf("model: color network: %w", err)
		}
	}

	m.ZeroGrad()
	m.logger.Noticef("created %s model: world size %s, voxel size %.4f, act shift %.4f", m.Mode, ws, m.VoxelSize, m.ActShift)
	return m, nil
}

func colorModeFor(mc config.ModelConfig) ColorMode {
	switch {
	case mc.RGBNetDim <= 0:
		return ColorCoarse
	case mc.RGBNetFullImplicit:
		return ColorImplicit
	case mc.RGBNetDirect:
		return ColorDirect
	}
	return ColorResidual
}

func (m *Model) k0Dim(rgbnetDim int) int {
	switch m.Mode {
	case ColorCoarse:
		return 3
	case ColorImplicit:
		return 0
	}
	return rgbnetDim
}

// Get the width of the color network input.
func (m *Model) netInputDim() int {
	dim := nn.EncodedDim(m.ViewBasePE)
	switch m.Mode {
	case ColorDirect:
		dim += m.K0.Channels
	case ColorResidual:
		dim += m.K0.Channels - 3
	}
	return dim
}

// Compute the voxel size and lattice for numVoxels.
func (m *Model) setGridResolution(numVoxels int) types.WorldSize {
	m.NumVoxels = numVoxels
	m.VoxelSize = m.BBox.VoxelSize(numVoxels)
	m.VoxelSizeRatio = m.VoxelSize / m.VoxelSizeBase
	ws := m.BBox.WorldSizeFor(m.VoxelSize)
	m.logger.Infof("voxel size %.5f (base %.5f, ratio %.4f), world size %s", m.VoxelSize, m.VoxelSizeBase, m.VoxelSizeRatio, ws)
	return ws
}

// Get the current density lattice dimensions.
func (m *Model) WorldSize() types.WorldSize {
	return m.Density.WorldSize
}

// Get the pool used by the model kernels.
func (m *Model) Pool() *tracer.Pool {
	return m.pool
}

// Reset all parameter gradients.
func (m *Model) ZeroGrad() {
	m.Density.ZeroGrad()
	if m.K0 != nil {
		m.K0.ZeroGrad()
	}
	if m.RGBNet != nil {
		m.RGBNet.ZeroGrad()
	}
}

// Optimizer group names.
const (
	ParamDensity = "density"
	ParamK0      = "k0"
	ParamRGBNet  = "rgbnet"
)

// Register all parameters with an optimizer.
func (m *Model) RegisterParams(opt *nn.Adam, lrDensity, lrK0, lrNet float64) {
	opt.AddFloat32(ParamDensity, m.Density.Data, m.Density.Grad, lrDensity)
	if m.K0 != nil {
		opt.AddFloat32(ParamK0, m.K0.Data, m.K0.Grad, lrK0)
	}
	if m.RGBNet != nil {
		m.RGBNet.Register(opt, ParamRGBNet, lrNet)
	}
}

// Point the optimizer at the current grid buffers. Must be called after the
// grids are replaced by ScaleVolumeGrid or a pruning pass.
func (m *Model) ReplaceParams(opt *nn.Adam) {
	opt.ReplaceFloat32(ParamDensity, m.Density.Data, m.Density.Grad)
	if m.K0 != nil {
		opt.ReplaceFloat32(ParamK0, m.K0.Data, m.K0.Grad)
	}
}

// Activate converts densities to alpha using the voxel size ratio as the
// sampling interval.
func (m *Model) Activate(density []float32) []float32 {
	alpha, _ := renderer.Raw2Alpha(m.pool, density, m.ActShift, m.VoxelSizeRatio)
	return alpha
}

// Get the total variation weight normalized to the grid resolution.
func (m *Model) tvWeight(weight float32) float32 {
	return weight * float32(m.Density.WorldSize.Max()) / 128
}

// Add the density total variation gradient.
func (m *Model) DensityTotalVariationAddGrad(weight float32, denseMode bool) {
	w := m.tvWeight(weight)
	m.Density.TotalVariationAddGrad(m.pool, w, w, w, denseMode)
}

// Add the feature grid total variation gradient.
func (m *Model) K0TotalVariationAddGrad(weight float32, denseMode bool) {
	if m.K0 == nil {
		return
	}
	w := m.tvWeight(weight)
	m.K0.TotalVariationAddGrad(m.pool, w, w, w, denseMode)
}

// RenderRays implements renderer.RayTarget using the model render options.
func (m *Model) RenderRays(raysO, raysD, viewdirs []types.Vec3, withDepth bool) ([]types.Vec3, []float32, error) {
	opts := m.Render
	opts.RenderDepth = withDepth
	opts.DepthLabel = false

	res, err := m.Forward(raysO, raysD, viewdirs, opts)
	if err != nil {
		return nil, nil, err
	}
	rgb := make([]types.Vec3, res.NumRays)
	for ray := range rgb {
		rgb[ray] = types.XYZ(res.RGB[3*ray], res.RGB[3*ray+1], res.RGB[3*ray+2])
	}
	return rgb, res.Depth, nil
}
