package renderer

import (
	"errors"

	"github.com/achilleasa/radiance/tracer"
)

var (
	ErrShapeMismatch    = errors.New("renderer: ray and sample arrays have inconsistent lengths")
	ErrSampleBudget     = errors.New("renderer: batch exceeds the configured sample budget")
	ErrUngroupedSamples = tracer.ErrUngroupedSamples
)
