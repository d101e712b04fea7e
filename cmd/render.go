package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/achilleasa/radiance/asset"
	"github.com/achilleasa/radiance/bundle"
	"github.com/achilleasa/radiance/renderer"
	"github.com/achilleasa/radiance/scene"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/types"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Render frames from a model bundle using cameras placed on an orbit around
// the scene.
func RenderFrames(ctx *cli.Context) error {
	defer setupLogging(ctx, nil).Close()

	if ctx.NArg() != 1 {
		return errors.New("missing bundle file argument")
	}
	b, err := readBundle(ctx.Args().First())
	if err != nil {
		return err
	}

	rc := b.Meta.Config.Render
	pool := tracer.NewPool(ctx.Int("workers"), nil)
	m, err := b.Model(pool)
	if err != nil {
		return err
	}

	opts := renderer.Options{
		FrameW:      uint32(ctx.Int("width")),
		FrameH:      uint32(ctx.Int("height")),
		ChunkSize:   rc.ChunkSize,
		Background:  types.Vec3(rc.Background),
		RenderDepth: ctx.Bool("depth"),
	}
	r, err := renderer.NewDefault(m, pool, opts)
	if err != nil {
		return err
	}

	center := types.NewBBox(types.Vec3(b.Meta.XYZMin), types.Vec3(b.Meta.XYZMax)).Center()
	cams := scene.OrbitCameras(
		ctx.Int("views"),
		ctx.Int("width"), ctx.Int("height"),
		float32(ctx.Float64("fov")),
		center,
		float32(ctx.Float64("radius")),
		float32(ctx.Float64("elevation")),
	)

	out := ctx.String("out")
	for idx, cam := range cams {
		logger.Infof("rendering view %d: %s", idx, cam)
		frame, err := r.Render(renderView(cam, rc.NDC))
		if err != nil {
			return err
		}

		file := frameFile(out, idx, len(cams))
		if err = writePNG(file, frame.Color); err != nil {
			return err
		}
		if frame.DepthImage != nil {
			if err = writePNG(frameFile(depthFile(out), idx, len(cams)), frame.DepthImage); err != nil {
				return err
			}
		}
		displayFrameStats(r.Stats())
	}

	return nil
}

// Get the ray generator for a camera. Models trained in normalized device
// coordinates are rendered with NDC rays.
func renderView(cam *scene.Camera, ndc bool) renderer.RayGenerator {
	if ndc {
		return scene.NDCView{Camera: cam, Near: scene.NDCNear}
	}
	return cam
}

func readBundle(location string) (*bundle.Bundle, error) {
	res, err := asset.NewResource(location, nil)
	if err != nil {
		return nil, err
	}
	b, err := bundle.Read(res)
	if err != nil {
		return nil, err
	}
	if b.Meta.Config == nil {
		return nil, bundle.ErrNoConfig
	}
	return b, nil
}

// Get the output file for a view; the view index is appended when more than
// one view is rendered.
func frameFile(out string, idx, numViews int) string {
	if numViews == 1 {
		return out
	}
	ext := filepath.Ext(out)
	return fmt.Sprintf("%s_%03d%s", strings.TrimSuffix(out, ext), idx, ext)
}

func depthFile(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + "_depth" + ext
}

func writePNG(file string, img image.Image) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	if err = png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	logger.Noticef("wrote %s", file)
	return f.Close()
}

func displayFrameStats(stats renderer.FrameStats) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Items", "% of items", "Busy time"})
	for _, stat := range stats.Workers {
		table.Append([]string{
			fmt.Sprintf("%d", stat.Id),
			fmt.Sprintf("%d", stat.Items),
			fmt.Sprintf("%02.1f %%", stat.ItemPercent),
			stat.BusyTime.String(),
		})
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d rays", stats.Rays), fmt.Sprintf("%d chunks", stats.Chunks), stats.RenderTime.String()})

	table.Render()
	logger.Noticef("frame statistics\n%s", buf.String())
}
