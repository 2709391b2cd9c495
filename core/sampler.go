package core

import "github.com/signalsfoundry/coulomb-action/model"

// SectionSampler is the view of a multilevel bisection move. The section
// spans NSlice slices of the full path. MovingBeads holds the proposed
// positions of the particles listed in MovingIndex; SectionBeads holds the
// current positions of every particle. Both blocks agree on the end slices.
type SectionSampler interface {
	MovingBeads() model.Beads
	SectionBeads() model.Beads
	MovingIndex() []int
	Cell() *model.SuperCell
}

// BeadAction is the contribution attributed to one bead.
type BeadAction struct {
	U       float64
	UTau    float64
	ULambda float64
	// FMinus and FPlus are minus the gradients, with respect to the bead, of
	// the links to the previous and next slice.
	FMinus model.Vec3
	FPlus  model.Vec3
}

func (b *BeadAction) add(o BeadAction) {
	b.U += o.U
	b.UTau += o.UTau
	b.ULambda += o.ULambda
	b.FMinus = b.FMinus.Add(o.FMinus)
	b.FPlus = b.FPlus.Add(o.FPlus)
}

// movingSlots maps particle index to its slot in the moving set, or -1.
func movingSlots(index []int, npart int) []int {
	slots := make([]int, npart)
	for i := range slots {
		slots[i] = -1
	}
	for m, i := range index {
		slots[i] = m
	}
	return slots
}
