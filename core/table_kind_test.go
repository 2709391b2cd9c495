package core

import (
	"testing"

	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/model"
)

func TestResolveLayout(t *testing.T) {
	cell, err := model.NewSuperCell(model.Vec3{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("NewSuperCell error: %v", err)
	}
	cases := []struct {
		name      string
		cfg       Config
		rmax      float64
		fullEwald bool
		kind      TableKind
		images    int
	}{
		{"no ewald", Config{}, 1.7, false, PlainTable, 1},
		{"slab with images", Config{UseEwald: true, EwaldNDim: 2}, 3.5, false, PeriodicImageTable, 9},
		{"slab single image", Config{UseEwald: true, EwaldNDim: 2}, 1.5, false, PeriodicImageTable, 9},
		{"slab inside cell", Config{UseEwald: true, EwaldNDim: 2}, 0.9, false, PlainTable, 1},
		{"wire", Config{UseEwald: true, EwaldNDim: 1}, 4.2, false, PeriodicImageTable, 5},
		{"ewald images", Config{UseEwald: true, EwaldNDim: 3, NImages: 2, Ewald: ewald.Config{Strategy: ewald.Traditional}}, 1.7, true, EwaldImageTable, 27},
		{"ewald single image", Config{UseEwald: true, EwaldNDim: 3, NImages: 1, Ewald: ewald.Config{Strategy: ewald.Traditional}}, 1.7, true, PlainTable, 1},
		{"optimized ignores images", Config{UseEwald: true, EwaldNDim: 3, NImages: 3, Ewald: ewald.Config{Strategy: ewald.Optimized}}, 1.7, true, PlainTable, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveLayout(cell, tc.cfg, tc.rmax, tc.fullEwald)
			if got.kind != tc.kind || len(got.images) != tc.images {
				t.Fatalf("layout = %s with %d images, want %s with %d", got.kind, len(got.images), tc.kind, tc.images)
			}
		})
	}
}

func TestTableKindString(t *testing.T) {
	for kind, want := range map[TableKind]string{
		PlainTable:         "plain",
		PeriodicImageTable: "periodic_image",
		EwaldImageTable:    "ewald_image",
		TableKind(9):       "unknown",
	} {
		if got := kind.String(); got != want {
			t.Fatalf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
