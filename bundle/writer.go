package bundle

import (
	"archive/zip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/prune"
	"gopkg.in/yaml.v3"
)

type zipWriter struct {
	logger log.Logger
	file   string
}

// Write a bundle to a zip archive.
func Write(file string, b *Bundle) error {
	w := &zipWriter{
		logger: log.New("bundle writer"),
		file:   file,
	}
	return w.Write(b)
}

// Write the bundle entries.
func (w *zipWriter) Write(b *Bundle) (err error) {
	w.logger.Noticef("writing model bundle to %s", w.file)
	start := time.Now()

	f, err := os.Create(w.file)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	zw := zip.NewWriter(f)
	entries := []struct {
		name string
		fn   func(io.Writer) error
	}{
		{densityFile, func(out io.Writer) error { return writeInt8(out, b.Density) }},
		{featuresFile, func(out io.Writer) error { return writeInt8(out, b.Features) }},
		{maskFile, func(out io.Writer) error {
			_, err := out.Write(prune.PackBits(b.Mask))
			return err
		}},
		{rgbnetFile, func(out io.Writer) error { return gob.NewEncoder(out).Encode(b.RGBNet) }},
		{metadataFile, func(out io.Writer) error {
			enc := yaml.NewEncoder(out)
			if err := enc.Encode(&b.Meta); err != nil {
				return err
			}
			return enc.Close()
		}},
	}
	for _, entry := range entries {
		ew, err := zw.Create(entry.name)
		if err != nil {
			return err
		}
		if err = entry.fn(ew); err != nil {
			return fmt.Errorf("bundle: failed to write %s: %w", entry.name, err)
		}
	}
	if err = zw.Close(); err != nil {
		return err
	}

	w.logger.Noticef("wrote %d retained voxels in %d ms", b.Meta.Kept, time.Since(start).Nanoseconds()/1000000)
	return nil
}

func writeInt8(out io.Writer, values []int8) error {
	buf := make([]byte, len(values))
	for idx, v := range values {
		buf[idx] = byte(v)
	}
	_, err := out.Write(buf)
	return err
}
