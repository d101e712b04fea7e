package main

import (
	"fmt"
	"os"

	"github.com/achilleasa/radiance/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "radiance"
	app.Usage = "train, compress and render sparse voxel radiance fields"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "also write logs to a rotating log file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "train",
			Usage: "train a model on the built-in phantom scene",
			Description: `
Render ground truth views of an analytic phantom scene, optimize a voxel grid
model against them, prune the voxels that do not contribute to the rendered
views and quantize the remainder.

The compressed model is written to a zip archive which can be supplied as an
argument to the render and inspect commands.`,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "yaml configuration file; defaults are used when omitted",
				},
				cli.IntFlag{
					Name:  "iters",
					Usage: "override the number of training steps",
				},
				cli.IntFlag{
					Name:  "views",
					Value: 16,
					Usage: "number of ground truth views",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 64,
					Usage: "ground truth view width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 64,
					Usage: "ground truth view height",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "model.zip",
					Usage: "bundle filename",
				},
			},
			Action: cmd.TrainModel,
		},
		{
			Name:        "render",
			Usage:       "render frames from a model bundle",
			Description: `Render one or more views placed on an orbit around the scene. The bundle may be a local file or an http(s) URL.`,
			ArgsUsage:   "bundle.zip",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "width",
					Value: 256,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 256,
					Usage: "frame height",
				},
				cli.IntFlag{
					Name:  "views",
					Value: 1,
					Usage: "number of orbit views",
				},
				cli.Float64Flag{
					Name:  "fov",
					Value: 40,
					Usage: "horizontal field of view in degrees",
				},
				cli.Float64Flag{
					Name:  "radius",
					Value: 3.5,
					Usage: "orbit radius",
				},
				cli.Float64Flag{
					Name:  "elevation",
					Value: 25,
					Usage: "orbit elevation in degrees",
				},
				cli.IntFlag{
					Name:  "workers",
					Usage: "number of worker goroutines; 0 uses all CPUs",
				},
				cli.BoolFlag{
					Name:  "depth",
					Usage: "also write normalized depth maps",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frames",
				},
			},
			Action: cmd.RenderFrames,
		},
		{
			Name:      "inspect",
			Usage:     "display model bundle metadata",
			ArgsUsage: "bundle1.zip bundle2.zip ...",
			Action:    cmd.InspectBundles,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
