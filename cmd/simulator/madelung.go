package main

import (
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/model"
)

// lattice is a unit-cube crystal with its reference energy per cell.
type lattice struct {
	name      string
	positions []model.Vec3
	charges   []float64
	reference float64
}

func referenceLattices() []lattice {
	rocksalt := lattice{name: "nacl", reference: -4 * 1.747565 / 0.5}
	for _, p := range []model.Vec3{
		{}, {X: 0.5, Y: 0.5}, {X: 0.5, Z: 0.5}, {Y: 0.5, Z: 0.5},
	} {
		rocksalt.positions = append(rocksalt.positions, p, p.Add(model.Vec3{X: 0.5}))
		rocksalt.charges = append(rocksalt.charges, 1, -1)
	}
	return []lattice{
		{
			name:      "sc",
			positions: []model.Vec3{{}},
			charges:   []float64{1},
			reference: -2.837297479 / 2,
		},
		{
			name:      "cscl",
			positions: []model.Vec3{{}, {X: 0.5, Y: 0.5, Z: 0.5}},
			charges:   []float64{1, -1},
			reference: -1.762675 / (math.Sqrt(3) / 2),
		},
		rocksalt,
	}
}

func newMadelungCmd() *cobra.Command {
	var rcut, kcut float64
	cmd := &cobra.Command{
		Use:   "madelung",
		Short: "Compare lattice energies of both Ewald strategies with known Madelung constants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cell, err := model.NewSuperCell(model.Vec3{X: 1, Y: 1, Z: 1})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LATTICE\tSTRATEGY\tENERGY\tREFERENCE\tERROR")
			for _, lat := range referenceLattices() {
				for _, strategy := range []ewald.Strategy{ewald.Traditional, ewald.Optimized} {
					s, err := ewald.New(cell, lat.charges, ewald.Config{Strategy: strategy, RCut: rcut, KCut: kcut})
					if err != nil {
						return fmt.Errorf("%s/%s: %w", lat.name, strategy, err)
					}
					e := ewald.TotalEnergy(s, lat.positions)
					fmt.Fprintf(tw, "%s\t%s\t%.7f\t%.7f\t%.2e\n", lat.name, strategy, e, lat.reference, e-lat.reference)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Float64Var(&rcut, "rcut", 0.5, "real-space cutoff in units of the cell side")
	cmd.Flags().Float64Var(&kcut, "kcut", 20*math.Pi, "reciprocal-space cutoff")
	return cmd
}
