package model

import (
	"errors"
	"fmt"
	"math"
)

// NDim is the spatial dimensionality of the simulation cell.
const NDim = 3

// ErrInvalidCell is returned when a cell has a non-positive side length.
var ErrInvalidCell = errors.New("invalid simulation cell")

// Vec3 is a position or displacement in simulation length units.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns s*v.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: s * v.X, Y: s * v.Y, Z: s * v.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm2 returns the squared Euclidean norm.
func (v Vec3) Norm2() float64 {
	return v.Dot(v)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Norm2())
}

// Component returns the i-th cartesian component (0=X, 1=Y, 2=Z).
func (v Vec3) Component(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// WithComponent returns a copy of v with the i-th component replaced.
func (v Vec3) WithComponent(i int, value float64) Vec3 {
	switch i {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}

// SuperCell is an orthorhombic periodic simulation cell centred on the origin.
type SuperCell struct {
	A Vec3
}

// NewSuperCell validates the side lengths and returns a cell.
func NewSuperCell(a Vec3) (*SuperCell, error) {
	for i := 0; i < NDim; i++ {
		if side := a.Component(i); !(side > 0) || math.IsInf(side, 0) {
			return nil, fmt.Errorf("%w: side %d = %v", ErrInvalidCell, i, side)
		}
	}
	return &SuperCell{A: a}, nil
}

// Volume returns the cell volume.
func (c *SuperCell) Volume() float64 {
	return c.A.X * c.A.Y * c.A.Z
}

// Diagonal returns the length of the cell body diagonal.
func (c *SuperCell) Diagonal() float64 {
	return c.A.Norm()
}

// Wrap returns the minimum-image representation of a displacement.
func (c *SuperCell) Wrap(d Vec3) Vec3 {
	return Vec3{
		X: d.X - c.A.X*math.Round(d.X/c.A.X),
		Y: d.Y - c.A.Y*math.Round(d.Y/c.A.Y),
		Z: d.Z - c.A.Z*math.Round(d.Z/c.A.Z),
	}
}

// PBC folds a position back into the cell. Positions and displacements share
// the same folding rule because the cell is centred on the origin.
func (c *SuperCell) PBC(r Vec3) Vec3 {
	return c.Wrap(r)
}
