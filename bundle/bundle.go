// Package bundle stores pruned and quantized models as zip archives that can be
// rendered without any training state.
package bundle

import (
	"errors"
	"fmt"

	"github.com/achilleasa/radiance/config"
	"github.com/achilleasa/radiance/model"
	"github.com/achilleasa/radiance/nn"
	"github.com/achilleasa/radiance/prune"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrLayout       = errors.New("bundle: stored lattice does not match the model configuration")
	ErrNetworkShape = errors.New("bundle: stored network does not match the model configuration")
	ErrNoConfig     = errors.New("bundle: metadata does not contain a model configuration")
	ErrMetadata     = errors.New("bundle: metadata does not describe the stored entries")
)

// Archive entries.
const (
	densityFile  = "density.q"
	featuresFile = "features.q"
	maskFile     = "mask.bits"
	rgbnetFile   = "rgbnet.f16"
	metadataFile = "metadata.yaml"
)

// Dequant holds the parameters that map stored integers back to floats.
type Dequant struct {
	Scale     float32 `yaml:"scale"`
	ZeroPoint int32   `yaml:"zero_point"`
}

// Metadata describes the stored lattice and everything needed to rebuild a
// renderable model.
type Metadata struct {
	WorldSize      [3]int     `yaml:"world_size"`
	XYZMin         [3]float32 `yaml:"xyz_min"`
	XYZMax         [3]float32 `yaml:"xyz_max"`
	NumVoxels      int        `yaml:"num_voxels"`
	Kept           int        `yaml:"kept_voxels"`
	Channels       int        `yaml:"feature_channels"`
	BitWidth       int        `yaml:"bit_width"`
	ActShift       float32    `yaml:"act_shift"`
	VoxelSizeRatio float32    `yaml:"voxel_size_ratio"`

	DensityDequant Dequant  `yaml:"density_dequant"`
	GridDequant    *Dequant `yaml:"grid_dequant,omitempty"`

	Config *config.Config `yaml:"config"`
}

// A network layer with half precision weights (in x out, row-major) and
// biases.
type Layer struct {
	In, Out int
	W       []float16.Float16
	B       []float16.Float16
}

// Bundle is the in-memory form of a stored model.
type Bundle struct {
	Meta Metadata

	// Quantized retained density values and feature rows in voxel order.
	Density  []int8
	Features []int8

	// Retained voxel flags in density grid address order.
	Mask []bool

	RGBNet []Layer
}

// Create a bundle from a model and the export returned by its
// PruneAndQuantize call. The configuration is stored alongside so that the
// model layout can be rebuilt.
func New(m *model.Model, exp *model.Export, cfg *config.Config) *Bundle {
	ws := m.WorldSize()
	b := &Bundle{
		Meta: Metadata{
			WorldSize:      [3]int(ws),
			XYZMin:         [3]float32(m.BBox.Min),
			XYZMax:         [3]float32(m.BBox.Max),
			NumVoxels:      m.NumVoxels,
			BitWidth:       exp.Density.BitWidth,
			ActShift:       m.ActShift,
			VoxelSizeRatio: m.VoxelSizeRatio,
			DensityDequant: Dequant{Scale: exp.Density.Scale, ZeroPoint: exp.Density.ZeroPoint},
			Config:         cfg,
		},
		Density: exp.Density.Values,
		Mask:    exp.Keep,
	}
	b.Meta.Kept = len(exp.Density.Values)
	if exp.Features != nil {
		b.Features = exp.Features.Values
		b.Meta.Channels = m.K0.Channels
		b.Meta.GridDequant = &Dequant{Scale: exp.Features.Scale, ZeroPoint: exp.Features.ZeroPoint}
	}
	if m.RGBNet != nil {
		b.RGBNet = encodeNetwork(m.RGBNet)
	}
	return b
}

// Check the metadata against the sizes of the stored mask and quantized
// entries. The lattice is bounded by the mask entry before its volume is
// computed.
func (m *Metadata) validate(maskBytes, densityBytes, featureBytes int) error {
	ws := types.WorldSize(m.WorldSize)
	if !ws.Valid() {
		return fmt.Errorf("%w: world size %s", ErrMetadata, ws)
	}
	maxVoxels := maskBytes * 8
	volume := 1
	for _, dim := range ws {
		if dim > maxVoxels || volume*dim > maxVoxels {
			return fmt.Errorf("%w: world size %s exceeds the %d byte mask", ErrMetadata, ws, maskBytes)
		}
		volume *= dim
	}
	if (volume+7)/8 != maskBytes {
		return fmt.Errorf("%w: world size %s does not match the %d byte mask", ErrMetadata, ws, maskBytes)
	}

	if m.Kept < 0 || m.Kept > volume || m.Kept != densityBytes {
		return fmt.Errorf("%w: %d kept voxels", ErrMetadata, m.Kept)
	}
	if m.Channels < 0 || (m.Kept > 0 && m.Channels > featureBytes) || m.Kept*m.Channels != featureBytes {
		return fmt.Errorf("%w: %d feature channels", ErrMetadata, m.Channels)
	}
	return nil
}

func encodeNetwork(net *nn.MLP) []Layer {
	layers := make([]Layer, len(net.Layers))
	for idx, l := range net.Layers {
		in, out := l.Dims()
		layers[idx] = Layer{
			In:  in,
			Out: out,
			W:   toHalf(l.W.RawMatrix().Data),
			B:   toHalf(l.B.RawVector().Data),
		}
	}
	return layers
}

func toHalf(values []float64) []float16.Float16 {
	out := make([]float16.Float16, len(values))
	for idx, v := range values {
		out[idx] = float16.Fromfloat32(float32(v))
	}
	return out
}

func fromHalf(values []float16.Float16) []float64 {
	out := make([]float64, len(values))
	for idx, v := range values {
		out[idx] = float64(v.Float32())
	}
	return out
}

func (b *Bundle) dequantize(values []int8, d Dequant) []float32 {
	q := prune.Quantized{Values: values, Scale: d.Scale, ZeroPoint: d.ZeroPoint, BitWidth: b.Meta.BitWidth}
	return q.Dequantize()
}

// Model rebuilds a renderable model from the bundle. A nil pool selects the
// default pool.
func (b *Bundle) Model(pool *tracer.Pool) (*model.Model, error) {
	if b.Meta.Config == nil {
		return nil, ErrNoConfig
	}
	cfg := *b.Meta.Config
	cfg.Model.NumVoxels = b.Meta.NumVoxels
	cfg.Model.XYZMin = b.Meta.XYZMin
	cfg.Model.XYZMax = b.Meta.XYZMax

	m, err := model.New(&cfg, pool)
	if err != nil {
		return nil, err
	}
	if m.WorldSize() != types.WorldSize(b.Meta.WorldSize) || len(b.Mask) != m.WorldSize().Volume() {
		return nil, ErrLayout
	}

	var features []float32
	if b.Meta.GridDequant != nil {
		if m.K0 == nil || m.K0.Channels != b.Meta.Channels {
			return nil, ErrLayout
		}
		features = b.dequantize(b.Features, *b.Meta.GridDequant)
	}
	if err = m.Restore(b.Mask, b.dequantize(b.Density, b.Meta.DensityDequant), features); err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	if err = b.restoreNetwork(m.RGBNet); err != nil {
		return nil, err
	}
	m.ActShift = b.Meta.ActShift
	m.VoxelSizeRatio = b.Meta.VoxelSizeRatio
	m.FastColorThres = m.FastColorThresFinal
	return m, nil
}

func (b *Bundle) restoreNetwork(net *nn.MLP) error {
	if net == nil {
		if len(b.RGBNet) != 0 {
			return ErrNetworkShape
		}
		return nil
	}
	if len(b.RGBNet) != len(net.Layers) {
		return ErrNetworkShape
	}
	for idx, l := range net.Layers {
		in, out := l.Dims()
		stored := b.RGBNet[idx]
		if stored.In != in || stored.Out != out || len(stored.W) != in*out || len(stored.B) != out {
			return ErrNetworkShape
		}
		l.W.Copy(mat.NewDense(in, out, fromHalf(stored.W)))
		l.B.CopyVec(mat.NewVecDense(out, fromHalf(stored.B)))
	}
	return nil
}
