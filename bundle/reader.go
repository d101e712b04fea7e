package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"github.com/achilleasa/radiance/asset"
	"github.com/achilleasa/radiance/log"
	"github.com/achilleasa/radiance/prune"
	"gopkg.in/yaml.v3"
)

type zipReader struct {
	logger log.Logger
}

// Read a bundle from a zip archive resource.
func Read(res *asset.Resource) (*Bundle, error) {
	r := &zipReader{logger: log.New("bundle reader")}
	return r.Read(res)
}

// Read and decode every bundle entry.
func (r *zipReader) Read(res *asset.Resource) (*Bundle, error) {
	r.logger.Noticef(`loading model bundle from "%s"`, res.Path())
	start := time.Now()

	// zip requires an io.ReaderAt so the archive is buffered in memory
	data, err := res.ReadAll()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	raw := make(map[string][]byte)
	for _, f := range zr.File {
		switch f.Name {
		case densityFile, featuresFile, maskFile, rgbnetFile, metadataFile:
		default:
			r.logger.Warningf("unknown file %s in bundle; skipping", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		raw[f.Name], err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("bundle: failed to read %s: %w", f.Name, err)
		}
	}
	for _, name := range []string{densityFile, featuresFile, maskFile, rgbnetFile, metadataFile} {
		if _, ok := raw[name]; !ok {
			return nil, fmt.Errorf("bundle: missing entry %s", name)
		}
	}

	b := &Bundle{}
	if err = yaml.Unmarshal(raw[metadataFile], &b.Meta); err != nil {
		return nil, fmt.Errorf("bundle: failed to decode %s: %w", metadataFile, err)
	}
	if err = b.Meta.validate(len(raw[maskFile]), len(raw[densityFile]), len(raw[featuresFile])); err != nil {
		return nil, err
	}
	b.Density = readInt8(raw[densityFile])
	b.Features = readInt8(raw[featuresFile])

	ws := b.Meta.WorldSize
	if b.Mask, err = prune.UnpackBits(raw[maskFile], ws[0]*ws[1]*ws[2]); err != nil {
		return nil, fmt.Errorf("bundle: failed to decode %s: %w", maskFile, err)
	}
	if err = gob.NewDecoder(bytes.NewReader(raw[rgbnetFile])).Decode(&b.RGBNet); err != nil {
		return nil, fmt.Errorf("bundle: failed to decode %s: %w", rgbnetFile, err)
	}

	r.logger.Noticef("loaded bundle with %d retained voxels in %d ms", b.Meta.Kept, time.Since(start).Nanoseconds()/1000000)
	return b, nil
}

func readInt8(data []byte) []int8 {
	out := make([]int8, len(data))
	for idx, v := range data {
		out[idx] = int8(v)
	}
	return out
}
