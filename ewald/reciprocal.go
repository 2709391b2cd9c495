package ewald

import (
	"math"

	"github.com/signalsfoundry/coulomb-action/model"
)

type kvec struct {
	n    [model.NDim]int
	coef float64 // v(|k|)/volume, doubled half-space weight folded in
}

// reciprocal holds the half-space reciprocal lattice inside the cutoff and the
// per-dimension phase tables reused between evaluations.
type reciprocal struct {
	cell     *model.SuperCell
	charges  []float64
	nmax     [model.NDim]int
	kvecs    []kvec
	diagonal float64 // sum_k coef * sum_i q_i^2

	phase [model.NDim][]complex128 // [dim][ipart*(2n+1) + n + nmax]
}

func newReciprocal(cell *model.SuperCell, kcut float64, charges []float64, vk func(float64) float64) *reciprocal {
	rc := &reciprocal{cell: cell, charges: charges}
	var b [model.NDim]float64
	for d := 0; d < model.NDim; d++ {
		b[d] = 2 * math.Pi / cell.A.Component(d)
		rc.nmax[d] = int(kcut / b[d])
	}

	volume := cell.Volume()
	cache := make(map[uint64]float64)
	var q2 float64
	for _, q := range charges {
		q2 += q * q
	}
	kcut2 := kcut * kcut
	for nx := 0; nx <= rc.nmax[0]; nx++ {
		for ny := -rc.nmax[1]; ny <= rc.nmax[1]; ny++ {
			for nz := -rc.nmax[2]; nz <= rc.nmax[2]; nz++ {
				if !upperHalf(nx, ny, nz) {
					continue
				}
				kx, ky, kz := float64(nx)*b[0], float64(ny)*b[1], float64(nz)*b[2]
				k2 := kx*kx + ky*ky + kz*kz
				if k2 >= kcut2 {
					continue
				}
				key := math.Float64bits(k2)
				v, ok := cache[key]
				if !ok {
					v = vk(math.Sqrt(k2))
					cache[key] = v
				}
				// The k and -k terms are equal; the factor 1/2 of the
				// full sum cancels the doubling.
				coef := v / volume
				rc.kvecs = append(rc.kvecs, kvec{n: [model.NDim]int{nx, ny, nz}, coef: coef})
				rc.diagonal += coef * q2
			}
		}
	}

	for d := 0; d < model.NDim; d++ {
		rc.phase[d] = make([]complex128, len(charges)*(2*rc.nmax[d]+1))
	}
	return rc
}

func upperHalf(nx, ny, nz int) bool {
	switch {
	case nx > 0:
		return true
	case nx < 0:
		return false
	case ny > 0:
		return true
	case ny < 0:
		return false
	default:
		return nz > 0
	}
}

// structureSum returns sum over the half space of coef * |rho_k|^2.
func (rc *reciprocal) structureSum(r []model.Vec3) float64 {
	npart := len(rc.charges)
	for d := 0; d < model.NDim; d++ {
		nmax := rc.nmax[d]
		width := 2*nmax + 1
		theta := 2 * math.Pi / rc.cell.A.Component(d)
		for i := 0; i < npart; i++ {
			row := rc.phase[d][i*width : (i+1)*width]
			sin, cos := math.Sincos(theta * r[i].Component(d))
			base := complex(cos, sin)
			row[nmax] = 1
			for n := 1; n <= nmax; n++ {
				row[nmax+n] = row[nmax+n-1] * base
				row[nmax-n] = complex(real(row[nmax+n]), -imag(row[nmax+n]))
			}
		}
	}

	wx, wy, wz := 2*rc.nmax[0]+1, 2*rc.nmax[1]+1, 2*rc.nmax[2]+1
	sum := 0.0
	for _, kv := range rc.kvecs {
		ox := kv.n[0] + rc.nmax[0]
		oy := kv.n[1] + rc.nmax[1]
		oz := kv.n[2] + rc.nmax[2]
		var rho complex128
		for i, q := range rc.charges {
			rho += complex(q, 0) * rc.phase[0][i*wx+ox] * rc.phase[1][i*wy+oy] * rc.phase[2][i*wz+oz]
		}
		sum += kv.coef * (real(rho)*real(rho) + imag(rho)*imag(rho))
	}
	return sum
}
