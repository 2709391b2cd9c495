package main

import (
	"fmt"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/tabledump"
)

func newTablesCmd(opts *rootOptions) *cobra.Command {
	var dumpPath string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Build the pair action tables and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			if dumpPath == "" && env.cfg.Action.DumpTables {
				dumpPath = env.cfg.Action.DumpPath
			}
			var extra []core.Option
			if dumpPath != "" {
				store, err := tabledump.Open(dumpPath)
				if err != nil {
					return err
				}
				defer store.Close()
				env.coulomb.DumpTables = true
				extra = append(extra, core.WithTableSink(store))
			}

			action, err := env.newAction(ctx, extra...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "table kind: %s\n", action.Kind())
			if es := action.Ewald(); es != nil {
				p := es.Params()
				fmt.Fprintf(out, "ewald: %s rcut=%.4f kcut=%.4f kappa=%.4f kvectors=%d self=%.6f\n",
					p.Strategy, p.RCut, p.KCut, p.Kappa, p.NKVec, es.SelfEnergy())
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PAIR\tQ1Q2\tMU\tORDER\tIMAGES\tRMIN\tRMAX\tU0(RMID)")
			for _, t := range action.Tables() {
				p := t.Pair()
				rmin, rmax := t.Grid().Range()
				rmid := math.Sqrt(rmin * rmax)
				u0, _, _ := t.Grid().Eval(0, rmid)
				fmt.Fprintf(tw, "%s\t%g\t%.6g\t%d\t%d\t%.4g\t%.4g\t%.6g\n",
					p, p.Q1Q2, p.Mu, p.Order, t.NImages(), rmin, rmax, u0)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if dumpPath != "" {
				fmt.Fprintf(out, "dumped %d tables to %s\n", len(action.Tables()), dumpPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dumpPath, "dump", "", "write the tables to this SQLite file")
	return cmd
}
