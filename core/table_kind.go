package core

import (
	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/model"
)

// TableKind selects how a pair table accounts for periodicity. It is decided
// once per engine when the tables are built.
type TableKind int

const (
	// PlainTable uses the minimum-image separation only.
	PlainTable TableKind = iota
	// PeriodicImageTable sums explicit image translations along the
	// dimensions that carry no long-range sum.
	PeriodicImageTable
	// EwaldImageTable sums the short-range remainder over a fixed block of
	// neighbouring cells; the engine adds the reciprocal-space remainder.
	EwaldImageTable
)

func (k TableKind) String() string {
	switch k {
	case PlainTable:
		return "plain"
	case PeriodicImageTable:
		return "periodic_image"
	case EwaldImageTable:
		return "ewald_image"
	default:
		return "unknown"
	}
}

// tableLayout is the resolved periodicity treatment shared by all pairs.
type tableLayout struct {
	kind   TableKind
	images []model.Vec3
}

// resolveLayout picks the table kind from the Ewald settings.
//
// When only the first ewaldNDim dimensions are periodic for the long-range
// problem, the number of images per such dimension is int(rmax/a) reduced by
// two when larger than one. Any nonzero count selects PeriodicImageTable and
// no reciprocal sum is built. Otherwise a full Ewald sum with nImages > 1
// under the traditional strategy selects EwaldImageTable with every
// translation |n_d| <= nImages-1.
func resolveLayout(cell *model.SuperCell, cfg Config, rmax float64, fullEwald bool) tableLayout {
	if cfg.UseEwald && cfg.EwaldNDim < model.NDim {
		var nimage [model.NDim]int
		need := false
		for d := 0; d < cfg.EwaldNDim; d++ {
			nimage[d] = int(rmax / cell.A.Component(d))
			if nimage[d] > 1 {
				nimage[d] -= 2
			}
			if nimage[d] > 0 {
				need = true
			}
		}
		if need {
			return tableLayout{kind: PeriodicImageTable, images: imageBlock(cell, nimage)}
		}
		return tableLayout{kind: PlainTable, images: []model.Vec3{{}}}
	}
	if fullEwald && cfg.NImages > 1 && cfg.Ewald.Strategy == ewald.Traditional {
		n := cfg.NImages - 1
		return tableLayout{kind: EwaldImageTable, images: imageBlock(cell, [model.NDim]int{n, n, n})}
	}
	return tableLayout{kind: PlainTable, images: []model.Vec3{{}}}
}

// imageBlock enumerates translations n_d * a_d with |n_d| <= nmax[d].
func imageBlock(cell *model.SuperCell, nmax [model.NDim]int) []model.Vec3 {
	var out []model.Vec3
	for nx := -nmax[0]; nx <= nmax[0]; nx++ {
		for ny := -nmax[1]; ny <= nmax[1]; ny++ {
			for nz := -nmax[2]; nz <= nmax[2]; nz++ {
				out = append(out, model.Vec3{
					X: float64(nx) * cell.A.X,
					Y: float64(ny) * cell.A.Y,
					Z: float64(nz) * cell.A.Z,
				})
			}
		}
	}
	return out
}
