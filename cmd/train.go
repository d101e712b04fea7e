package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/achilleasa/radiance/bundle"
	"github.com/achilleasa/radiance/prune"
	"github.com/achilleasa/radiance/scene"
	"github.com/achilleasa/radiance/tracer"
	"github.com/achilleasa/radiance/train"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Train a model on the built-in phantom scene and write a bundle.
func TrainModel(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer setupLogging(ctx, cfg).Close()

	if cfg.Render.NDC {
		return errors.New("ndc models require forward facing views; the phantom scene is captured on an orbit")
	}
	if iters := ctx.Int("iters"); iters > 0 {
		cfg.Train.NIters = iters
	}
	pool := tracer.NewPool(cfg.Render.Workers, nil)

	src := scene.NewPhantom(ctx.Int("views"), ctx.Int("width"), ctx.Int("height"), cfg.Train.Seed)
	logger.Noticef("rendering %d ground truth views", len(src.Cameras))
	src.RenderViews(pool, cfg.Render.Near, cfg.Render.Far)

	tr, err := train.New(cfg, src, pool)
	if err != nil {
		return err
	}

	var last train.StepStats
	if err = tr.Run(func(s train.StepStats) { last = s }); err != nil {
		return err
	}

	exp, err := tr.Finalize()
	if err != nil {
		return err
	}
	b := bundle.New(tr.Model, exp, cfg)
	if err = bundle.Write(ctx.String("out"), b); err != nil {
		return err
	}

	displayTrainStats(last, b, prune.KeptFraction(exp.Keep))
	return nil
}

func displayTrainStats(last train.StepStats, b *bundle.Bundle, kept float32) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Steps", "Final loss", "PSNR", "World size", "Kept voxels", "% of lattice"})
	ws := b.Meta.WorldSize
	table.Append([]string{
		fmt.Sprintf("%d", last.Step),
		fmt.Sprintf("%.6f", last.Loss),
		fmt.Sprintf("%.2f", last.PSNR),
		fmt.Sprintf("%dx%dx%d", ws[0], ws[1], ws[2]),
		fmt.Sprintf("%d", b.Meta.Kept),
		fmt.Sprintf("%02.1f %%", kept*100),
	})

	table.Render()
	logger.Noticef("training statistics\n%s", buf.String())
}
