package core

import (
	"math"

	"github.com/signalsfoundry/coulomb-action/model"
)

// PairActionTable answers pair action queries for one species pair from a
// tabulated radial expansion. The link action between separations d1 and d2
// at consecutive slices is
//
//	U(d1, d2) = sum_k u_k(q) s^{2k},  q = (|d1|+|d2|)/2,  s = 2 mu |q1q2| |d1-d2|
//
// summed over the table's image translations. Tables are immutable.
type PairActionTable struct {
	pair     SpeciesPair
	kind     TableKind
	images   []model.Vec3
	grid     *RadialGrid
	cell     *model.SuperCell
	coupling float64

	first1, end1 int
	first2, end2 int
}

func newPairActionTable(pair SpeciesPair, info *model.SimulationInfo, layout tableLayout, grid *RadialGrid) *PairActionTable {
	t := &PairActionTable{
		pair:     pair,
		kind:     layout.kind,
		images:   layout.images,
		grid:     grid,
		cell:     info.Cell,
		coupling: 2 * pair.Mu * math.Abs(pair.Q1Q2),
	}
	t.first1, t.end1 = info.SpeciesRange(pair.First)
	t.first2, t.end2 = info.SpeciesRange(pair.Second)
	return t
}

func (t *PairActionTable) Pair() SpeciesPair { return t.pair }
func (t *PairActionTable) Kind() TableKind   { return t.kind }
func (t *PairActionTable) Grid() *RadialGrid { return t.grid }
func (t *PairActionTable) NImages() int      { return len(t.images) }

// Samples returns the tabulated entries for diagnostic dumps.
func (t *PairActionTable) Samples() []Sample { return t.grid.Samples() }

// partners returns the index range interacting with particle i.
func (t *PairActionTable) partners(i int) (lo, hi int, ok bool) {
	switch {
	case i >= t.first1 && i < t.end1:
		return t.first2, t.end2, true
	case i >= t.first2 && i < t.end2:
		return t.first1, t.end1, true
	default:
		return 0, 0, false
	}
}

// link returns the link action for separations d1 and d2.
func (t *PairActionTable) link(d1, d2 model.Vec3) float64 {
	s2 := t.coupling * t.coupling * t.cell.Wrap(d1.Sub(d2)).Norm2()
	order := t.grid.Order()
	u := 0.0
	for _, img := range t.images {
		q := 0.5 * (d1.Add(img).Norm() + d2.Add(img).Norm())
		pow := 1.0
		for k := 0; k <= order; k++ {
			v, _, ok := t.grid.Eval(k, q)
			if !ok {
				break
			}
			u += v * pow
			pow *= s2
		}
	}
	return u
}

// linkDetail returns the link action, its tau derivative, and the gradients
// with respect to d1 and d2.
func (t *PairActionTable) linkDetail(d1, d2 model.Vec3) (u, utau float64, g1, g2 model.Vec3) {
	delta := t.cell.Wrap(d1.Sub(d2))
	c2 := t.coupling * t.coupling
	s2 := c2 * delta.Norm2()
	order := t.grid.Order()
	for _, img := range t.images {
		a, b := d1.Add(img), d2.Add(img)
		ra, rb := a.Norm(), b.Norm()
		q := 0.5 * (ra + rb)
		pow, powPrev := 1.0, 0.0
		for k := 0; k <= order; k++ {
			v, dv, ok := t.grid.Eval(k, q)
			if !ok {
				break
			}
			vt, _ := t.grid.EvalTau(k, q)
			u += v * pow
			utau += vt * pow
			if ra > 0 {
				g1 = g1.Add(a.Scale(0.5 * dv * pow / ra))
			}
			if rb > 0 {
				g2 = g2.Add(b.Scale(0.5 * dv * pow / rb))
			}
			if k > 0 {
				// d(s^2k)/d d1 = 2k c^2 s^{2(k-1)} delta
				ds := v * 2 * float64(k) * c2 * powPrev
				g1 = g1.Add(delta.Scale(ds))
				g2 = g2.Sub(delta.Scale(ds))
			}
			powPrev = pow
			pow *= s2
		}
	}
	return u, utau, g1, g2
}

// ActionDifference returns the change in pair action of a multilevel move at
// the given level. Links span 2^level slices and are weighted by the stride.
func (t *PairActionTable) ActionDifference(s SectionSampler, level int) float64 {
	if t.pair.Excluded(level) {
		return 0
	}
	moving := s.MovingBeads()
	section := s.SectionBeads()
	index := s.MovingIndex()
	cell := s.Cell()
	nslice := section.NSlice()
	stride := 1 << level
	slots := movingSlots(index, section.NPart())

	du := 0.0
	for m, i := range index {
		lo, hi, ok := t.partners(i)
		if !ok {
			continue
		}
		for j := lo; j < hi; j++ {
			mj := slots[j]
			if j == i || (mj >= 0 && j < i) {
				continue
			}
			for islice := stride; islice < nslice; islice += stride {
				prev := islice - stride
				oldD1 := cell.Wrap(section.At(i, prev).Sub(section.At(j, prev)))
				oldD2 := cell.Wrap(section.At(i, islice).Sub(section.At(j, islice)))

				rj1, rj2 := section.At(j, prev), section.At(j, islice)
				if mj >= 0 {
					rj1, rj2 = moving.At(mj, prev), moving.At(mj, islice)
				}
				newD1 := cell.Wrap(moving.At(m, prev).Sub(rj1))
				newD2 := cell.Wrap(moving.At(m, islice).Sub(rj2))

				du += t.link(newD1, newD2) - t.link(oldD1, oldD2)
			}
		}
	}
	return du * float64(stride)
}

// DisplacementActionDifference returns the change in pair action when each
// particle movingIndex[m] is shifted by disp[m] on slices first..last.
func (t *PairActionTable) DisplacementActionDifference(paths model.Paths, disp []model.Vec3, movingIndex []int, first, last int) float64 {
	if t.pair.Excluded(0) {
		return 0
	}
	nslice := paths.NSlice()
	cell := paths.Cell()
	slots := movingSlots(movingIndex, paths.NPart())
	inRange := func(s int) bool {
		s = ((s % nslice) + nslice) % nslice
		return s >= first && s <= last
	}
	position := func(i, s int, displaced bool) model.Vec3 {
		r := paths.Position(i, s)
		if displaced && slots[i] >= 0 && inRange(s) {
			r = r.Add(disp[slots[i]])
		}
		return r
	}
	nlinks := last - first + 2
	if nlinks > nslice {
		nlinks = nslice
	}

	du := 0.0
	for _, i := range movingIndex {
		lo, hi, ok := t.partners(i)
		if !ok {
			continue
		}
		for j := lo; j < hi; j++ {
			if j == i || (slots[j] >= 0 && j < i) {
				continue
			}
			for l := 0; l < nlinks; l++ {
				s := first - 1 + l
				oldD1 := cell.Wrap(position(i, s, false).Sub(position(j, s, false)))
				oldD2 := cell.Wrap(position(i, s+1, false).Sub(position(j, s+1, false)))
				newD1 := cell.Wrap(position(i, s, true).Sub(position(j, s, true)))
				newD2 := cell.Wrap(position(i, s+1, true).Sub(position(j, s+1, true)))
				du += t.link(newD1, newD2) - t.link(oldD1, oldD2)
			}
		}
	}
	return du
}

// BeadAction returns the share of the pair action attributed to particle
// ipart at slice islice. Each link is split evenly between its two slices
// and between the two particles, so summing U over all beads gives the
// total pair action. Forces are the full gradients of the adjacent links.
func (t *PairActionTable) BeadAction(paths model.Paths, ipart, islice int) BeadAction {
	var out BeadAction
	if t.pair.Excluded(0) {
		return out
	}
	lo, hi, ok := t.partners(ipart)
	if !ok {
		return out
	}
	cell := paths.Cell()
	rPrev := paths.Position(ipart, islice-1)
	r := paths.Position(ipart, islice)
	rNext := paths.Position(ipart, islice+1)
	for j := lo; j < hi; j++ {
		if j == ipart {
			continue
		}
		dPrev := cell.Wrap(rPrev.Sub(paths.Position(j, islice-1)))
		d := cell.Wrap(r.Sub(paths.Position(j, islice)))
		dNext := cell.Wrap(rNext.Sub(paths.Position(j, islice+1)))

		uPrev, utPrev, _, gPrev := t.linkDetail(dPrev, d)
		uNext, utNext, gNext, _ := t.linkDetail(d, dNext)
		out.U += 0.25 * (uPrev + uNext)
		out.UTau += 0.25 * (utPrev + utNext)
		out.FMinus = out.FMinus.Sub(gPrev)
		out.FPlus = out.FPlus.Sub(gNext)
	}
	return out
}
