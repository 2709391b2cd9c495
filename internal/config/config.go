// Package config loads run configuration for the Coulomb action tools.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/coulomb-action/core"
	"github.com/signalsfoundry/coulomb-action/ewald"
	"github.com/signalsfoundry/coulomb-action/kb"
	"github.com/signalsfoundry/coulomb-action/model"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "COULOMB_"

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("ewaldstrategy", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := ewald.ParseStrategy(s)
		return err == nil
	})
}

// Config is the full run configuration.
type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Species    []SpeciesConfig  `json:"species" yaml:"species" validate:"required,min=1,dive"`
	Action     ActionConfig     `json:"action" yaml:"action"`
	Sampler    SamplerConfig    `json:"sampler" yaml:"sampler"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// SimulationConfig describes the path discretization and the cell.
type SimulationConfig struct {
	Tau    float64   `json:"tau" yaml:"tau" validate:"gt=0"`
	NSlice int       `json:"nslice" yaml:"nslice" validate:"gte=2"`
	Box    []float64 `json:"box" yaml:"box" validate:"len=3,dive,gt=0"`
}

// SpeciesConfig describes one particle species.
type SpeciesConfig struct {
	Name     string    `json:"name" yaml:"name" validate:"required"`
	Count    int       `json:"count" yaml:"count" validate:"gte=1"`
	Mass     float64   `json:"mass" yaml:"mass" validate:"gt=0"`
	Charge   float64   `json:"charge" yaml:"charge"`
	Displace []float64 `json:"displace" yaml:"displace" validate:"omitempty,len=3"`
}

// ActionConfig holds the Coulomb action construction parameters.
type ActionConfig struct {
	Order        int         `json:"order" yaml:"order" validate:"gte=0,lte=4"`
	Epsilon      float64     `json:"epsilon" yaml:"epsilon" validate:"gte=0"`
	RMin         float64     `json:"rmin" yaml:"rmin" validate:"gte=0"`
	RMax         float64     `json:"rmax" yaml:"rmax" validate:"gte=0"`
	GridPoints   int         `json:"grid_points" yaml:"grid_points" validate:"omitempty,gte=4"`
	UseEwald     bool        `json:"use_ewald" yaml:"use_ewald"`
	EwaldNDim    int         `json:"ewald_ndim" yaml:"ewald_ndim" validate:"gte=0,lte=3"`
	NImages      int         `json:"n_images" yaml:"n_images" validate:"gte=0"`
	ExcludeLevel int         `json:"exclude_level" yaml:"exclude_level" validate:"gte=0"`
	DumpTables   bool        `json:"dump_tables" yaml:"dump_tables"`
	DumpPath     string      `json:"dump_path" yaml:"dump_path" validate:"required_if=DumpTables true"`
	Ewald        EwaldConfig `json:"ewald" yaml:"ewald"`
}

// EwaldConfig holds the long-range summation parameters.
type EwaldConfig struct {
	Strategy   string  `json:"strategy" yaml:"strategy" validate:"ewaldstrategy"`
	RCut       float64 `json:"rcut" yaml:"rcut" validate:"gte=0"`
	KCut       float64 `json:"kcut" yaml:"kcut" validate:"gte=0"`
	Kappa      float64 `json:"kappa" yaml:"kappa" validate:"gte=0"`
	ScreenDist float64 `json:"screen_dist" yaml:"screen_dist" validate:"gte=0"`
	KMaxFactor float64 `json:"kmax_factor" yaml:"kmax_factor" validate:"gte=0"`
	NKnots     int     `json:"n_knots" yaml:"n_knots" validate:"gte=0"`
}

// SamplerConfig controls the demonstration Monte Carlo run.
type SamplerConfig struct {
	Thermalize  int     `json:"thermalize" yaml:"thermalize" validate:"gte=0"`
	Steps       int     `json:"steps" yaml:"steps" validate:"gte=0"`
	StepSize    float64 `json:"step_size" yaml:"step_size" validate:"gt=0"`
	Seed        int64   `json:"seed" yaml:"seed"`
	MetricsAddr string  `json:"metrics_addr" yaml:"metrics_addr"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

// Default returns a small electron-proton system with traditional Ewald
// summation.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{Tau: 0.1, NSlice: 16, Box: []float64{5, 5, 5}},
		Species: []SpeciesConfig{
			{Name: "e", Count: 2, Mass: 1, Charge: -1},
			{Name: "p", Count: 2, Mass: 1836.15267, Charge: 1},
		},
		Action: ActionConfig{
			Order:      2,
			GridPoints: core.DefaultGridPoints,
			UseEwald:   true,
			NImages:    1,
			Ewald:      EwaldConfig{Strategy: string(ewald.Traditional)},
		},
		Sampler: SamplerConfig{Thermalize: 20, Steps: 100, StepSize: 0.2, Seed: 1},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load merges defaults, the optional file at path and environment overrides,
// then validates the result. A missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// Try YAML first, then JSON.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	floatVar := func(name string, dst *float64) error {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", ErrInvalidConfig, EnvPrefix, name, v)
		}
		*dst = f
		return nil
	}
	intVar := func(name string, dst *int) error {
		v := os.Getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q", ErrInvalidConfig, EnvPrefix, name, v)
		}
		*dst = i
		return nil
	}

	if err := errors.Join(
		floatVar("TAU", &cfg.Simulation.Tau),
		intVar("NSLICE", &cfg.Simulation.NSlice),
		intVar("ORDER", &cfg.Action.Order),
		intVar("GRID_POINTS", &cfg.Action.GridPoints),
		floatVar("EWALD_KCUT", &cfg.Action.Ewald.KCut),
		floatVar("EWALD_RCUT", &cfg.Action.Ewald.RCut),
	); err != nil {
		return err
	}
	if v := os.Getenv(EnvPrefix + "EWALD_STRATEGY"); v != "" {
		cfg.Action.Ewald.Strategy = v
	}
	if v := os.Getenv(EnvPrefix + "USE_EWALD"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sUSE_EWALD=%q", ErrInvalidConfig, EnvPrefix, v)
		}
		cfg.Action.UseEwald = b
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks struct constraints and the cross-field rules they cannot
// express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(c.Species))
	for _, s := range c.Species {
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate species %q", ErrInvalidConfig, s.Name)
		}
		seen[s.Name] = true
	}
	if c.Action.RMax > 0 && c.Action.RMin >= c.Action.RMax {
		return fmt.Errorf("%w: rmin %v must be below rmax %v", ErrInvalidConfig, c.Action.RMin, c.Action.RMax)
	}
	return nil
}

// Cell builds the simulation cell.
func (c Config) Cell() (*model.SuperCell, error) {
	return model.NewSuperCell(vec(c.Simulation.Box))
}

// ToSimulationInfo registers the species in a catalog and assembles the
// simulation description.
func (c Config) ToSimulationInfo() (*model.SimulationInfo, error) {
	cell, err := c.Cell()
	if err != nil {
		return nil, err
	}
	catalog := kb.NewSpeciesCatalog()
	for _, s := range c.Species {
		if err := catalog.AddSpecies(model.Species{
			Name:     s.Name,
			Count:    s.Count,
			Mass:     s.Mass,
			Charge:   s.Charge,
			Displace: vec(s.Displace),
		}); err != nil {
			return nil, err
		}
	}
	return catalog.SimulationInfo(c.Simulation.Tau, c.Simulation.NSlice, cell)
}

// ToCoulombConfig converts the action section to the engine configuration.
func (c Config) ToCoulombConfig() (core.Config, error) {
	a := c.Action
	out := core.Config{
		Epsilon:      a.Epsilon,
		Order:        a.Order,
		RMin:         a.RMin,
		RMax:         a.RMax,
		NGridPoints:  a.GridPoints,
		UseEwald:     a.UseEwald,
		EwaldNDim:    a.EwaldNDim,
		NImages:      a.NImages,
		ExcludeLevel: a.ExcludeLevel,
		DumpTables:   a.DumpTables,
		Ewald: ewald.Config{
			RCut:       a.Ewald.RCut,
			KCut:       a.Ewald.KCut,
			Kappa:      a.Ewald.Kappa,
			ScreenDist: a.Ewald.ScreenDist,
			KMaxFactor: a.Ewald.KMaxFactor,
			NKnots:     a.Ewald.NKnots,
		},
	}
	if a.Ewald.Strategy != "" {
		s, err := ewald.ParseStrategy(a.Ewald.Strategy)
		if err != nil {
			return out, err
		}
		out.Ewald.Strategy = s
	}
	return out, nil
}

func vec(v []float64) model.Vec3 {
	if len(v) < 3 {
		return model.Vec3{}
	}
	return model.Vec3{X: v[0], Y: v[1], Z: v[2]}
}
