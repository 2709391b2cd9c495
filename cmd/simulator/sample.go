package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/logging"
	"github.com/signalsfoundry/coulomb-action/internal/observability"
	"github.com/signalsfoundry/coulomb-action/model"
	"github.com/signalsfoundry/coulomb-action/timectrl"
)

// sampler runs single-bead Metropolis moves under the primitive kinetic
// action plus the Coulomb pair action.
type sampler struct {
	info   *model.SimulationInfo
	action *core.CoulombAction
	paths  *model.PathArray
	rng    *rand.Rand
	step   float64
	lambda []float64 // hbar^2/2m per particle

	accepted, tried int
}

func newSampler(info *model.SimulationInfo, action *core.CoulombAction, step float64, seed int64) *sampler {
	s := &sampler{
		info:   info,
		action: action,
		paths:  model.NewPathArray(info.NPart(), info.NSlice, info.Cell),
		rng:    rand.New(rand.NewSource(seed)),
		step:   step,
		lambda: make([]float64, info.NPart()),
	}
	a := info.Cell.A
	for i := 0; i < info.NPart(); i++ {
		s.lambda[i] = 0.5 / info.PartSpecies(i).Mass
		r := model.Vec3{
			X: (s.rng.Float64() - 0.5) * a.X,
			Y: (s.rng.Float64() - 0.5) * a.Y,
			Z: (s.rng.Float64() - 0.5) * a.Z,
		}
		for k := 0; k < info.NSlice; k++ {
			s.paths.Set(i, k, r)
		}
	}
	return s
}

// kinetic returns the primitive kinetic action of the links touching bead
// (i, k) with that bead at r.
func (s *sampler) kinetic(i, k int, r model.Vec3) float64 {
	cell := s.paths.Cell()
	prev := cell.Wrap(r.Sub(s.paths.Position(i, k-1)))
	next := cell.Wrap(s.paths.Position(i, k+1).Sub(r))
	return (prev.Norm2() + next.Norm2()) / (4 * s.lambda[i] * s.info.Tau)
}

func (s *sampler) sweep(context.Context, timectrl.Step) error {
	nslice := s.info.NSlice
	moving := []int{0}
	disp := []model.Vec3{{}}
	for n := 0; n < s.info.NPart()*nslice; n++ {
		i := s.rng.Intn(s.info.NPart())
		k := s.rng.Intn(nslice)
		d := model.Vec3{
			X: s.step * (2*s.rng.Float64() - 1),
			Y: s.step * (2*s.rng.Float64() - 1),
			Z: s.step * (2*s.rng.Float64() - 1),
		}
		old := s.paths.Position(i, k)
		moving[0], disp[0] = i, d
		dS := s.kinetic(i, k, old.Add(d)) - s.kinetic(i, k, old) +
			s.action.DisplacementActionDifference(s.paths, disp, moving, k, k)

		s.tried++
		if dS <= 0 || s.rng.Float64() < math.Exp(-dS) {
			s.paths.Set(i, k, old.Add(d))
			s.accepted++
		}
	}
	if math.IsNaN(s.totalAction()) {
		return errors.New("coulomb action became NaN")
	}
	return nil
}

func (s *sampler) totalAction() float64 {
	u := 0.0
	for k := 0; k < s.info.NSlice; k++ {
		u += s.action.Action(s.paths, k)
	}
	return u
}

// energy is the thermodynamic estimator of the Coulomb energy per slice.
func (s *sampler) energy() float64 {
	e := 0.0
	for k := 0; k < s.info.NSlice; k++ {
		for i := 0; i < s.info.NPart(); i++ {
			e += s.action.BeadAction(s.paths, i, k).UTau
		}
	}
	return e / float64(s.info.NSlice)
}

func (s *sampler) acceptance() float64 {
	if s.tried == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.tried)
}

func newSampleCmd(opts *rootOptions) *cobra.Command {
	var thermalize, steps int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Run a short Metropolis simulation driven by the Coulomb action",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, env, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer env.close(ctx)
			sc := env.cfg.Sampler
			if cmd.Flags().Changed("thermalize") {
				sc.Thermalize = thermalize
			}
			if cmd.Flags().Changed("steps") {
				sc.Steps = steps
			}

			action, err := env.newAction(ctx)
			if err != nil {
				return err
			}
			samplerMetrics, err := observability.NewSamplerCollector(env.registry)
			if err != nil {
				return err
			}
			if sc.MetricsAddr != "" {
				srv := &http.Server{Addr: sc.MetricsAddr, Handler: env.metrics.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						env.log.Warn(ctx, "metrics server stopped", logging.Err(err))
					}
				}()
				defer srv.Close()
			}

			smp := newSampler(env.info, action, sc.StepSize, sc.Seed)
			var (
				sumAction, sumEnergy    float64
				samples                 int
				lastAccepted, lastTried int
			)
			last := time.Now()
			ctl := timectrl.NewStepController(sc.Thermalize, sc.Steps, smp.sweep)
			ctl.AddListener(func(step timectrl.Step) {
				now := time.Now()
				ratio := 0.0
				if d := smp.tried - lastTried; d > 0 {
					ratio = float64(smp.accepted-lastAccepted) / float64(d)
				}
				samplerMetrics.ObserveSweep(now.Sub(last), ratio)
				last, lastAccepted, lastTried = now, smp.accepted, smp.tried
				if step.Stage != timectrl.Production {
					return
				}
				u := smp.totalAction()
				samplerMetrics.SetAction(u)
				sumAction += u
				sumEnergy += smp.energy()
				samples++
			})

			env.log.Info(ctx, "sampling started",
				logging.Int("thermalize", sc.Thermalize),
				logging.Int("steps", sc.Steps),
				logging.Int("particles", env.info.NPart()),
				logging.Int("slices", env.info.NSlice),
			)
			if err := <-ctl.Start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sweeps: %d (thermalization %d)\n", ctl.Done(), sc.Thermalize)
			fmt.Fprintf(out, "acceptance: %.4f\n", smp.acceptance())
			if samples > 0 {
				fmt.Fprintf(out, "mean coulomb action: %.6f\n", sumAction/float64(samples))
				fmt.Fprintf(out, "mean coulomb energy: %.6f\n", sumEnergy/float64(samples))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&thermalize, "thermalize", 0, "override the number of thermalization sweeps")
	cmd.Flags().IntVar(&steps, "steps", 0, "override the number of production sweeps")
	return cmd
}
