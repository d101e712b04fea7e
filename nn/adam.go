package nn

import "math"

// Adam implements the Adam optimizer over groups of float32 and float64
// parameter slices. Groups sharing a name share their learning rate.
type Adam struct {
	Beta1 float64
	Beta2 float64
	Eps   float64

	groups []*paramGroup
}

type paramGroup struct {
	name string
	lr   float64
	step int
	m, v []float64

	// Optional per-element learning rate multipliers.
	scale []float64

	// Apply one update with the given bias corrected step size.
	update func(g *paramGroup, bc1, bc2 float64, beta1, beta2, eps float64)
}

// Create an optimizer with the usual defaults.
func NewAdam() *Adam {
	return &Adam{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

type float interface {
	~float32 | ~float64
}

func newGroup[T float](name string, data, grad []T, lr float64) *paramGroup {
	return &paramGroup{
		name: name,
		lr:   lr,
		m:    make([]float64, len(data)),
		v:    make([]float64, len(data)),
		update: func(g *paramGroup, bc1, bc2 float64, beta1, beta2, eps float64) {
			for i := range data {
				gi := float64(grad[i])
				g.m[i] = beta1*g.m[i] + (1-beta1)*gi
				g.v[i] = beta2*g.v[i] + (1-beta2)*gi*gi
				mHat := g.m[i] / bc1
				vHat := g.v[i] / bc2
				lr := g.lr
				if g.scale != nil {
					lr *= g.scale[i]
				}
				data[i] -= T(lr * mHat / (math.Sqrt(vHat) + eps))
			}
		},
	}
}

// Register a float32 parameter slice and its gradient.
func (a *Adam) AddFloat32(name string, data, grad []float32, lr float64) {
	a.groups = append(a.groups, newGroup(name, data, grad, lr))
}

// Register a float64 parameter slice and its gradient.
func (a *Adam) AddFloat64(name string, data, grad []float64, lr float64) {
	a.groups = append(a.groups, newGroup(name, data, grad, lr))
}

// Replace the parameters registered under name with a new float32 slice,
// discarding their moment estimates. Used after a grid is resampled.
func (a *Adam) ReplaceFloat32(name string, data, grad []float32) {
	lr := a.LR(name)
	a.Remove(name)
	a.AddFloat32(name, data, grad, lr)
}

// Remove all groups registered under name.
func (a *Adam) Remove(name string) {
	kept := a.groups[:0]
	for _, g := range a.groups {
		if g.name != name {
			kept = append(kept, g)
		}
	}
	a.groups = kept
}

// Get the learning rate of the named group or 0 if it is not registered.
func (a *Adam) LR(name string) float64 {
	for _, g := range a.groups {
		if g.name == name {
			return g.lr
		}
	}
	return 0
}

// Set the learning rate of every group registered under name.
func (a *Adam) SetLR(name string, lr float64) {
	for _, g := range a.groups {
		if g.name == name {
			g.lr = lr
		}
	}
}

// SetLRScale assigns per-element learning rate multipliers to the groups
// registered under name. Groups with a different length are left untouched.
// It reports whether any group was updated. Replacing a group drops its
// multipliers.
func (a *Adam) SetLRScale(name string, scale []float64) bool {
	updated := false
	for _, g := range a.groups {
		if g.name == name && len(g.m) == len(scale) {
			g.scale = scale
			updated = true
		}
	}
	return updated
}

// Multiply every learning rate by factor.
func (a *Adam) ScaleLR(factor float64) {
	for _, g := range a.groups {
		g.lr *= factor
	}
}

// Apply a single optimization step to all groups.
func (a *Adam) Step() {
	for _, g := range a.groups {
		g.step++
		bc1 := 1 - math.Pow(a.Beta1, float64(g.step))
		bc2 := 1 - math.Pow(a.Beta2, float64(g.step))
		g.update(g, bc1, bc2, a.Beta1, a.Beta2, a.Eps)
	}
}
