package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/internal/config"
	"github.com/signalsfoundry/coulomb-action/internal/logging"
	"github.com/signalsfoundry/coulomb-action/internal/observability"
	"github.com/signalsfoundry/coulomb-action/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "simulator",
		Short:         "Build and exercise Coulomb pair actions for path-integral Monte Carlo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML or JSON run configuration")

	root.AddCommand(newTablesCmd(opts))
	root.AddCommand(newMadelungCmd())
	root.AddCommand(newSampleCmd(opts))
	return root
}

// runEnv is the state shared by commands that build an engine.
type runEnv struct {
	cfg      config.Config
	info     *model.SimulationInfo
	coulomb  core.Config
	log      logging.Logger
	registry *prometheus.Registry
	metrics  *observability.ActionCollector
	shutdown func(context.Context) error
}

func setup(cmd *cobra.Command, opts *rootOptions) (context.Context, *runEnv, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	info, err := cfg.ToSimulationInfo()
	if err != nil {
		return nil, nil, err
	}
	cc, err := cfg.ToCoulombConfig()
	if err != nil {
		return nil, nil, err
	}

	base := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	}.WithEnv())
	ctx, log := logging.WithRunLogger(cmd.Context(), base)
	ctx = logging.ContextWithLogger(ctx, log)

	tc := observability.TracingConfigFromEnv()
	tc.Simulation = info
	shutdown, err := observability.InitTracing(ctx, tc, log)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewActionCollector(reg)
	if err != nil {
		return nil, nil, err
	}
	return ctx, &runEnv{
		cfg:      cfg,
		info:     info,
		coulomb:  cc,
		log:      log,
		registry: reg,
		metrics:  metrics,
		shutdown: shutdown,
	}, nil
}

func (e *runEnv) close(ctx context.Context) {
	observability.ShutdownWithTimeout(ctx, e.shutdown, e.log)
}

func (e *runEnv) newAction(ctx context.Context, opts ...core.Option) (*core.CoulombAction, error) {
	opts = append([]core.Option{
		core.WithLogger(e.log),
		core.WithMetrics(e.metrics),
	}, opts...)
	return core.New(ctx, e.info, e.coulomb, opts...)
}
