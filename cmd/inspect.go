package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/achilleasa/radiance/bundle"
	"github.com/achilleasa/radiance/grid"
	"github.com/achilleasa/radiance/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Display the metadata of one or more model bundles.
func InspectBundles(ctx *cli.Context) error {
	defer setupLogging(ctx, nil).Close()

	if ctx.NArg() == 0 {
		return errors.New("missing bundle file argument")
	}

	for idx := 0; idx < ctx.NArg(); idx++ {
		location := ctx.Args().Get(idx)
		b, err := readBundle(location)
		if err != nil {
			return err
		}
		displayBundleInfo(location, b)
	}
	return nil
}

func displayBundleInfo(location string, b *bundle.Bundle) {
	meta := &b.Meta
	ws := meta.WorldSize
	volume := ws[0] * ws[1] * ws[2]

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Property", "Value"})
	table.AppendBulk([][]string{
		{"World size", fmt.Sprintf("%dx%dx%d", ws[0], ws[1], ws[2])},
		{"BBox", fmt.Sprintf("%v - %v", meta.XYZMin, meta.XYZMax)},
		{"Kept voxels", fmt.Sprintf("%d (%02.1f %%)", meta.Kept, 100*float32(meta.Kept)/float32(volume))},
		{"Feature channels", fmt.Sprintf("%d", meta.Channels)},
		{"Bit width", fmt.Sprintf("%d", meta.BitWidth)},
		{"Density dequant", fmt.Sprintf("scale %g, zero point %d", meta.DensityDequant.Scale, meta.DensityDequant.ZeroPoint)},
		{"Act shift", fmt.Sprintf("%g", meta.ActShift)},
		{"Voxel size ratio", fmt.Sprintf("%g", meta.VoxelSizeRatio)},
		{"Network layers", fmt.Sprintf("%d", len(b.RGBNet))},
	})
	if occupied := occupiedBBox(b); occupied != "" {
		table.Append([]string{"Occupied bbox", occupied})
	}
	if meta.GridDequant != nil {
		table.Append([]string{"Feature dequant", fmt.Sprintf("scale %g, zero point %d", meta.GridDequant.Scale, meta.GridDequant.ZeroPoint)})
	}

	table.Render()
	logger.Noticef("bundle %s\n%s", location, buf.String())
}

// Describe the bounds of the retained voxels.
func occupiedBBox(b *bundle.Bundle) string {
	bbox := types.NewBBox(types.Vec3(b.Meta.XYZMin), types.Vec3(b.Meta.XYZMax))
	mask, err := grid.NewMaskGrid(b.Mask, types.WorldSize(b.Meta.WorldSize), bbox)
	if err != nil {
		return ""
	}
	occupied, found := mask.OccupiedBBox()
	if !found {
		return "empty"
	}
	return occupied.String()
}
