// Package train optimizes a model against batches of rays with known colors.
package train

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/achilleasa/radiance/config"
	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/model"
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/chewxy/math32"
)

var ErrNonFinite = errors.New("train: loss is not finite")

// A Source supplies random batches of training rays and their target colors.
type Source interface {
	Batch(n int) (raysO, raysD, viewdirs, target []types.Vec3)
}

// A source that also knows where its cameras are.
type cameraSource interface {
	Source
	CameraOrigins() []types.Vec3
}

// A source that can replay every training view as a full set of rays.
type viewSource interface {
	Source
	Views() []renderer.RayGenerator
}

// StepStats summarizes a single optimization step.
type StepStats struct {
	Step    int
	Loss    float32
	MSE     float32
	PSNR    float32
	Samples int
}

// Trainer runs the optimization loop.
type Trainer struct {
	logger log.Logger
	cfg    *config.Config
	src    Source

	Model *model.Model
	opt   *nn.Adam

	step        int
	decayFactor float64
}

// Create a trainer for a new model. When progressive scaling milestones are
// configured the model starts at num_voxels / 2^len(pg_scale) voxels and
// doubles its voxel count at every milestone.
func New(cfg *config.Config, src Source, pool *tracer.Pool) (*Trainer, error) {
	modelCfg := *cfg
	modelCfg.Model.NumVoxels = cfg.Model.NumVoxels >> len(cfg.Train.PGScale)
	if modelCfg.Model.NumVoxels <= 0 {
		return nil, fmt.Errorf("train: num_voxels %d is too small for %d scaling milestones", cfg.Model.NumVoxels, len(cfg.Train.PGScale))
	}

	m, err := model.New(&modelCfg, pool)
	if err != nil {
		return nil, err
	}

	t := &Trainer{
		logger: log.New("train"),
		cfg:    cfg,
		src:    src,
		Model:  m,
		opt:    nn.NewAdam(),
	}
	if cfg.Train.LRateDecay > 0 {
		t.decayFactor = math.Pow(0.1, 1/float64(cfg.Train.LRateDecay*1000))
	}
	m.RegisterParams(t.opt, float64(cfg.Train.LRateDensity), float64(cfg.Train.LRateK0), float64(cfg.Train.LRateRGBNet))

	if cs, ok := src.(cameraSource); ok && cfg.Train.MaskoutNearCam {
		m.MaskoutNearCamVox(cs.CameraOrigins(), cfg.Render.Near)
	}
	if cfg.Train.PerVoxelLR {
		if err = t.setPerVoxelLR(); err != nil {
			return nil, err
		}
	}
	if cfg.Train.FilterCoarseRays {
		t.src = &hitFilter{src: src, model: m, logger: t.logger}
	}
	return t, nil
}

// Scale the grid learning rates by the number of views observing each voxel.
func (t *Trainer) setPerVoxelLR() error {
	vs, ok := t.src.(viewSource)
	if !ok {
		t.logger.Warning("per-voxel learning rates require a source with replayable views; skipping")
		return nil
	}
	counts, err := t.Model.VoxelCountViews(vs.Views(), t.cfg.Render.Near, t.cfg.Render.StepSize)
	if err != nil {
		return err
	}
	return t.Model.SetPerVoxelLR(t.opt, counts)
}

// Step returns the number of completed optimization steps.
func (t *Trainer) Step() int {
	return t.step
}

// LR returns the current learning rate of a parameter group.
func (t *Trainer) LR(name string) float64 {
	return t.opt.LR(name)
}

// Run the remaining optimization steps. The callback, if not nil, is invoked
// after every step.
func (t *Trainer) Run(cb func(StepStats)) error {
	start := time.Now()
	t.logger.Noticef("training %s model for %d steps (%d rays per batch)", t.Model.Mode, t.cfg.Train.NIters, t.cfg.Train.NRand)

	for t.step < t.cfg.Train.NIters {
		stats, err := t.Iterate()
		if err != nil {
			return err
		}
		if cb != nil {
			cb(stats)
		}
		if every := t.cfg.Train.LogEvery; every > 0 && stats.Step%every == 0 {
			t.logger.Infof("step %d/%d: loss %.6f psnr %.2f samples %d", stats.Step, t.cfg.Train.NIters, stats.Loss, stats.PSNR, stats.Samples)
		}
	}

	t.logger.Noticef("training completed in %d ms", time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Iterate runs a single optimization step.
func (t *Trainer) Iterate() (StepStats, error) {
	t.step++
	step := t.step
	tc := &t.cfg.Train

	if err := t.scaleAtMilestone(step); err != nil {
		return StepStats{}, err
	}
	if tc.OccupancyEvery > 0 && step%tc.OccupancyEvery == 0 {
		if err := t.updateOccupancy(step, t.cfg.Prune.ImportancePrune); err != nil {
			return StepStats{}, err
		}
	}

	raysO, raysD, viewdirs, target := t.src.Batch(tc.NRand)
	t.Model.ZeroGrad()
	res, err := t.Model.Forward(raysO, raysD, viewdirs, t.Model.Render)
	if err != nil {
		return StepStats{}, err
	}

	stats, gradRGB, gradLast := t.loss(res, target)
	stats.Step = step
	if math32.IsNaN(stats.Loss) || math32.IsInf(stats.Loss, 0) {
		return stats, fmt.Errorf("%w at step %d", ErrNonFinite, step)
	}
	if err = t.Model.Backward(res, gradRGB, gradLast); err != nil {
		return stats, err
	}

	if step > tc.TVAfter && step < tc.TVBefore && tc.TVEvery > 0 && step%tc.TVEvery == 0 {
		dense := step < tc.TVDenseBefore
		if tc.WeightTVDensity > 0 {
			t.Model.DensityTotalVariationAddGrad(tc.WeightTVDensity/float32(len(raysO)), dense)
		}
		if tc.WeightTVK0 > 0 {
			t.Model.K0TotalVariationAddGrad(tc.WeightTVK0/float32(len(raysO)), dense)
		}
	}

	t.opt.Step()
	if t.decayFactor > 0 {
		t.opt.ScaleLR(t.decayFactor)
	}
	return stats, nil
}

// Compute the photometric and entropy losses along with the gradients of
// the composited colors and final transmittance.
func (t *Trainer) loss(res *model.Result, target []types.Vec3) (StepStats, []float32, []float32) {
	tc := &t.cfg.Train
	n := res.NumRays
	gradRGB := make([]float32, 3*n)
	var sqErr float64
	norm := 1 / float32(3*n)
	for ray := 0; ray < n; ray++ {
		for c := 0; c < 3; c++ {
			diff := res.RGB[3*ray+c] - target[ray][c]
			sqErr += float64(diff * diff)
			gradRGB[3*ray+c] = 2 * diff * norm * tc.WeightMain
		}
	}
	mse := float32(sqErr) * norm
	stats := StepStats{
		Loss:    tc.WeightMain * mse,
		MSE:     mse,
		PSNR:    -10 * math32.Log10(mse),
		Samples: len(res.Weights),
	}

	var gradLast []float32
	if tc.WeightEntropyLast > 0 {
		gradLast = make([]float32, n)
		var entropy float32
		for ray, p := range res.AlphaInvLast {
			pc := clamp(p, 1e-6, 1-1e-6)
			entropy -= pc*math32.Log(pc) + (1-pc)*math32.Log(1-pc)
			if pc == p {
				gradLast[ray] = tc.WeightEntropyLast * math32.Log((1-pc)/pc) / float32(n)
			}
		}
		stats.Loss += tc.WeightEntropyLast * entropy / float32(n)
	}
	return stats, gradRGB, gradLast
}

// Double the voxel count when a progressive scaling milestone is reached.
func (t *Trainer) scaleAtMilestone(step int) error {
	milestones := t.cfg.Train.PGScale
	for idx, milestone := range milestones {
		if milestone != step {
			continue
		}
		remaining := len(milestones) - idx - 1
		if err := t.Model.ScaleVolumeGrid(t.cfg.Model.NumVoxels >> remaining); err != nil {
			return err
		}
		t.Model.ReplaceParams(t.opt)
		return nil
	}
	return nil
}

// Refresh the occupancy cache. Once the dynamic pruning phase has started,
// importance is re-scored from fresh batches before every update.
func (t *Trainer) updateOccupancy(step int, keep float32) error {
	pruning := step >= t.Model.NDynamicIters && keep != 1
	if pruning {
		if err := t.scoreImportance(); err != nil {
			return err
		}
	}

	_, err := t.Model.UpdateOccupancyCache(step, keep)
	if errors.Is(err, model.ErrMaskLayout) {
		t.logger.Warningf("skipping importance pruning at step %d: occupancy cache does not share the density lattice", step)
		return nil
	}
	return err
}

// Accumulate importance over a number of fresh batches.
func (t *Trainer) scoreImportance() error {
	t.Model.ResetImportance()
	batches := t.cfg.Prune.ImportanceBatches
	if batches <= 0 {
		batches = 1
	}
	for b := 0; b < batches; b++ {
		raysO, raysD, _, _ := t.src.Batch(t.cfg.Train.NRand)
		if err := t.Model.AccumulateImportance(raysO, raysD, t.Model.Render); err != nil {
			return err
		}
	}
	return nil
}

// Finalize applies the final occupancy threshold, prunes the model to the
// final importance fraction and quantizes the retained voxels.
func (t *Trainer) Finalize() (*model.Export, error) {
	if _, err := t.Model.UpdateOccupancyCache(-1, 1); err != nil {
		return nil, err
	}
	keep := t.cfg.Prune.ImportanceFinal
	if keep != 1 {
		if err := t.scoreImportance(); err != nil {
			return nil, err
		}
	}
	return t.Model.PruneAndQuantize(keep, t.cfg.Prune.BitWidth)
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
