// Package config holds the run configuration of the TDVP driver.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	IntegratorEuler    = "euler"
	IntegratorRK4      = "rk4"
	IntegratorImplicit = "implicit"

	InitRandom  = "random"
	InitProduct = "product"

	DefaultSites   = 8
	DefaultBondDim = 8
	DefaultDtau    = 0.05
	DefaultSteps   = 200
	DefaultNoise   = 1e-3
)

type Config struct {
	Run string `yaml:"run"`

	Sites   int `yaml:"sites"`
	BondDim int `yaml:"bond_dim"`
	PhysDim int `yaml:"phys_dim"`

	// J and H are the coupling and transverse field of H = -J sum Z Z - H sum X.
	J float64 `yaml:"j"`
	H float64 `yaml:"h"`

	Integrator string         `yaml:"integrator"`
	Dtau       DtauConfig     `yaml:"dtau"`
	Steps      int            `yaml:"steps"`
	Implicit   ImplicitConfig `yaml:"implicit"`

	// SnapshotEvery is the number of steps between saved states, zero disables snapshots.
	SnapshotEvery int `yaml:"snapshot_every"`

	Seed  uint64  `yaml:"seed"`
	Init  string  `yaml:"init"`
	Noise float64 `yaml:"noise"`
}

// DtauConfig is the complex step. A real step is imaginary time evolution, and an imaginary step is real time evolution.
type DtauConfig struct {
	Re float64 `yaml:"re"`
	Im float64 `yaml:"im"`
}

type ImplicitConfig struct {
	Midpoint      bool    `yaml:"midpoint"`
	MaxIterations int     `yaml:"max_iterations"`
	Tol           float64 `yaml:"tol"`
}

func DefaultConfig() *Config {
	return &Config{
		Run:        "tfi",
		Sites:      DefaultSites,
		BondDim:    DefaultBondDim,
		PhysDim:    2,
		J:          1,
		H:          1,
		Integrator: IntegratorRK4,
		Dtau:       DtauConfig{Re: DefaultDtau},
		Steps:      DefaultSteps,
		Implicit: ImplicitConfig{
			Midpoint:      true,
			MaxIterations: 100,
			Tol:           1e-12,
		},
		SnapshotEvery: 50,
		Seed:          1,
		Init:          InitRandom,
		Noise:         DefaultNoise,
	}
}

// Load reads a yaml configuration, with unspecified fields taking their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Run == "":
		return errors.Errorf("empty run")
	case c.Sites < 2:
		return errors.Errorf("sites %d", c.Sites)
	case c.BondDim < 1:
		return errors.Errorf("bond_dim %d", c.BondDim)
	case c.PhysDim != 2:
		// The transverse field Ising model is a spin 1/2 chain.
		return errors.Errorf("phys_dim %d", c.PhysDim)
	case c.Steps < 0:
		return errors.Errorf("steps %d", c.Steps)
	case c.SnapshotEvery < 0:
		return errors.Errorf("snapshot_every %d", c.SnapshotEvery)
	case c.Noise < 0:
		return errors.Errorf("noise %f", c.Noise)
	case c.Tau() == 0:
		return errors.Errorf("zero dtau")
	}

	switch c.Integrator {
	case IntegratorEuler, IntegratorRK4:
	case IntegratorImplicit:
		if c.Implicit.MaxIterations < 1 {
			return errors.Errorf("implicit.max_iterations %d", c.Implicit.MaxIterations)
		}
		if c.Implicit.Tol < 0 {
			return errors.Errorf("implicit.tol %f", c.Implicit.Tol)
		}
	default:
		return errors.Errorf("integrator %#v", c.Integrator)
	}

	switch c.Init {
	case InitRandom, InitProduct:
	default:
		return errors.Errorf("init %#v", c.Init)
	}
	return nil
}

// Tau returns the complex step.
func (c *Config) Tau() complex128 {
	return complex(c.Dtau.Re, c.Dtau.Im)
}

// BondDims returns the bond dimensions D[0..N], with open boundaries D[0] = D[N] = 1.
func (c *Config) BondDims() []int {
	d := make([]int, c.Sites+1)
	for n := range d {
		d[n] = c.BondDim
	}
	d[0], d[c.Sites] = 1, 1
	return d
}

// PhysDims returns the physical dimensions of sites 1..N.
func (c *Config) PhysDims() []int {
	q := make([]int, c.Sites)
	for n := range q {
		q[n] = c.PhysDim
	}
	return q
}
