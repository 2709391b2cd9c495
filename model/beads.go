package model

// Beads is a read-only block of bead positions indexed by particle and slice.
type Beads interface {
	NPart() int
	NSlice() int
	At(ipart, islice int) Vec3
}

// Paths is the read-only view of the full closed imaginary-time paths.
// Slice indices wrap around periodically.
type Paths interface {
	NPart() int
	NSlice() int
	Cell() *SuperCell
	Position(ipart, islice int) Vec3
	// Slice copies all particle positions at islice into dst, growing it if
	// needed, and returns the filled slice.
	Slice(islice int, dst []Vec3) []Vec3
}

// BeadArray is a dense in-memory Beads implementation.
type BeadArray struct {
	npart, nslice int
	r             []Vec3
}

// NewBeadArray allocates npart x nslice beads at the origin.
func NewBeadArray(npart, nslice int) *BeadArray {
	return &BeadArray{npart: npart, nslice: nslice, r: make([]Vec3, npart*nslice)}
}

func (b *BeadArray) NPart() int  { return b.npart }
func (b *BeadArray) NSlice() int { return b.nslice }

// At returns the bead of particle ipart at slice islice.
func (b *BeadArray) At(ipart, islice int) Vec3 {
	return b.r[ipart*b.nslice+islice]
}

// Set stores a bead position.
func (b *BeadArray) Set(ipart, islice int, r Vec3) {
	b.r[ipart*b.nslice+islice] = r
}

// Clone returns a deep copy.
func (b *BeadArray) Clone() *BeadArray {
	out := &BeadArray{npart: b.npart, nslice: b.nslice, r: make([]Vec3, len(b.r))}
	copy(out.r, b.r)
	return out
}

// PathArray stores closed paths for every particle in a periodic cell.
type PathArray struct {
	beads *BeadArray
	cell  *SuperCell
}

// NewPathArray allocates paths for npart particles over nslice slices.
func NewPathArray(npart, nslice int, cell *SuperCell) *PathArray {
	return &PathArray{beads: NewBeadArray(npart, nslice), cell: cell}
}

func (p *PathArray) NPart() int       { return p.beads.npart }
func (p *PathArray) NSlice() int      { return p.beads.nslice }
func (p *PathArray) Cell() *SuperCell { return p.cell }

func (p *PathArray) wrapSlice(islice int) int {
	n := p.beads.nslice
	islice %= n
	if islice < 0 {
		islice += n
	}
	return islice
}

// Position returns the bead of ipart at islice, wrapping islice periodically.
func (p *PathArray) Position(ipart, islice int) Vec3 {
	return p.beads.At(ipart, p.wrapSlice(islice))
}

// Set stores a bead position, folding it into the cell.
func (p *PathArray) Set(ipart, islice int, r Vec3) {
	p.beads.Set(ipart, p.wrapSlice(islice), p.cell.PBC(r))
}

// Slice copies the configuration at one slice into dst.
func (p *PathArray) Slice(islice int, dst []Vec3) []Vec3 {
	if cap(dst) < p.beads.npart {
		dst = make([]Vec3, p.beads.npart)
	}
	dst = dst[:p.beads.npart]
	s := p.wrapSlice(islice)
	for i := range dst {
		dst[i] = p.beads.At(i, s)
	}
	return dst
}

// Clone returns a deep copy sharing the cell.
func (p *PathArray) Clone() *PathArray {
	return &PathArray{beads: p.beads.Clone(), cell: p.cell}
}
