package cmd

import (
	"io"
	"os"

	"github.com/achilleasa/radiance/config"
	"github.com/achilleasa/radiance/log"
	"github.com/urfave/cli"
)

var logger = log.New("radiance")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Apply the configured log level and sink; the -v/-vv and --log-file flags
// take precedence. The returned closer must be closed on exit.
func setupLogging(ctx *cli.Context, cfg *config.Config) io.Closer {
	level := log.Notice
	logFile := ""
	if cfg != nil {
		level = log.ParseLevel(cfg.Logging.Level)
		logFile = cfg.Logging.LogFile
	}

	if ctx.GlobalBool("v") {
		level = log.Info
	}

	if ctx.GlobalBool("vv") {
		level = log.Debug
	}

	if f := ctx.GlobalString("log-file"); f != "" {
		logFile = f
	}

	var closer io.Closer = nopCloser{}
	if logFile != "" {
		closer = log.SetFileSink(os.Stdout, log.DefaultFileConfig(logFile))
	}
	log.SetLevel(level)
	return closer
}

// Load the config file passed via --config or fall back to the defaults.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	return config.Load(ctx.String("config"))
}
