package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/guptarohit/asciigraph"
	"github.com/pkg/errors"

	"github.com/fumin/tdvp"
	"github.com/fumin/tdvp/config"
	"github.com/fumin/tdvp/mat"
	"github.com/fumin/tdvp/mps"
	"github.com/fumin/tdvp/store"
)

const (
	fnameConfig = "config.yaml"
	fnameDB     = "tdvp.db"

	// maxExactSites is the largest chain compared against exact diagonalization.
	maxExactSites = 10
)

var (
	runDir     = flag.String("d", filepath.Join("runs", "tdvp"), "run directory")
	configPath = flag.String("c", "", "config file path (yaml)")
)

type observation struct {
	step   int
	tau    complex128
	energy float64
	eta    float64
	mx     float64
	mz     float64
	echo   float64
}

func observe(c *mps.Chain, initial *mps.Chain, step int, tau complex128, eta float64) (observation, error) {
	obs := observation{step: step, tau: tau, energy: real(c.Energy(1)), eta: eta}
	x, z := mps.PauliOp(1, mat.PauliX), mps.PauliOp(1, mat.PauliZ)
	for n := 1; n <= c.N; n++ {
		obs.mx += real(c.Expect1s(x, n))
		obs.mz += real(c.Expect1s(z, n))
	}
	obs.mx /= float64(c.N)
	obs.mz /= float64(c.N)

	ov, err := mps.Overlap(initial, c)
	if err != nil {
		return observation{}, errors.Wrap(err, "")
	}
	obs.echo = cmplx.Abs(ov) * cmplx.Abs(ov)
	return obs, nil
}

func (obs observation) String() string {
	return fmt.Sprintf("step %d tau %.4f energy %.10f eta %.3e mx %.6f mz %.6f echo %.6f", obs.step, obs.tau, obs.energy, obs.eta, obs.mx, obs.mz, obs.echo)
}

func newChain(cfg *config.Config) (*mps.Chain, error) {
	c, err := mps.New(cfg.Sites, cfg.BondDims(), cfg.PhysDims())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.Ham = mps.TransverseIsing(cfg.J, cfg.H)
	return c, nil
}

// initialize sets the starting state of a fresh run.
func initialize(c *mps.Chain, cfg *config.Config, rng *rand.Rand) error {
	switch cfg.Init {
	case config.InitProduct:
		// All spins up, plus noise so that every bond is used.
		for n := 1; n <= c.N; n++ {
			for _, as := range c.A[n] {
				as.Zero()
			}
			c.A[n][0].Set(0, 0, 1)
		}
		c.AddNoise(cfg.Noise, rng)
	default:
		if err := c.Randomize(rng); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := c.Update(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// resume loads the latest snapshot of the run, returning false if there is none.
func resume(c *mps.Chain, st *store.Store, run string) (store.Record, bool, error) {
	rec, err := st.Latest(run)
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, errors.Wrap(err, "")
	}
	_, state, err := st.Load(run, rec.Step)
	if err != nil {
		return store.Record{}, false, errors.Wrap(err, "")
	}
	if err := c.SetState(state); err != nil {
		return store.Record{}, false, errors.Wrap(err, "")
	}
	if err := c.Update(); err != nil {
		return store.Record{}, false, errors.Wrap(err, "")
	}
	return rec, true, nil
}

func step(c *mps.Chain, cfg *config.Config) (float64, error) {
	dtau := cfg.Tau()
	switch cfg.Integrator {
	case config.IntegratorEuler:
		eta, err := c.TakeStep(dtau)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "")
		}
		return eta, nil
	case config.IntegratorRK4:
		eta, err := c.TakeStepRK4(dtau)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "")
		}
		return eta, nil
	case config.IntegratorImplicit:
		opt := mps.NewImplicitOptions().Midpoint(cfg.Implicit.Midpoint).MaxIterations(cfg.Implicit.MaxIterations).Tol(cfg.Implicit.Tol)
		res, err := c.TakeStepImplicit(dtau, opt)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "")
		}
		if !res.Converged {
			log.Printf("implicit step unconverged after %d iterations, delta %e", res.Iterations, res.Delta)
		}
		var eta float64
		for _, e := range c.Eta[1:] {
			eta += e
		}
		return eta, nil
	default:
		return math.NaN(), errors.Errorf("%#v", cfg.Integrator)
	}
}

// compareExact compares the final state against exact evolution of the initial state.
func compareExact(c *mps.Chain, psi0 []complex128, tau complex128) error {
	h := tdvp.Hamiltonian(c.Q, c.Ham)
	e0, ground, err := tdvp.GroundState(h)
	if err != nil {
		return errors.Wrap(err, "")
	}
	exact, err := tdvp.Evolve(h, psi0, tau)
	if err != nil {
		return errors.Wrap(err, "")
	}
	psi := tdvp.StateVector(c)

	stats, err := tdvp.GetStatistics(c.N, []float64{e0}, ground)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("exact ground energy %.10f magnetization %.6f binder %.6f\n", e0, stats.Magnetization, stats.BinderCumulant)
	fmt.Printf("energy %.10f exact %.10f\n", real(tdvp.Expect(h, psi)), real(tdvp.Expect(h, exact)))
	fmt.Printf("distance to exact evolution %e\n", tdvp.Distance(exact, psi))
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}
	if err := config.Save(filepath.Join(*runDir, fnameConfig), cfg); err != nil {
		return errors.Wrap(err, "")
	}

	st, err := store.Open(filepath.Join(*runDir, fnameDB))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer st.Close()

	c, err := newChain(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1))
	rec, resumed, err := resume(c, st, cfg.Run)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if !resumed {
		if err := initialize(c, cfg, rng); err != nil {
			return errors.Wrap(err, "")
		}
	}
	log.Printf("run %s sites %d bonds %v resumed %t at step %d", cfg.Run, c.N, c.D, resumed, rec.Step)

	// The echo is measured against the state at the start of this invocation.
	initial, err := newChain(cfg)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := initial.SetState(c.State()); err != nil {
		return errors.Wrap(err, "")
	}
	var psi0 []complex128
	if c.N <= maxExactSites {
		psi0 = tdvp.StateVector(c)
	}

	obs, err := observe(c, initial, rec.Step, rec.Tau, rec.Eta)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("%s", obs)
	if !resumed && cfg.SnapshotEvery > 0 {
		if err := st.Save(cfg.Run, store.Record{Step: obs.step, Tau: obs.tau, Energy: obs.energy, Eta: obs.eta}, c.State()); err != nil {
			return errors.Wrap(err, "")
		}
	}

	energies := []float64{obs.energy}
	tau := rec.Tau
	for i := 1; i <= cfg.Steps; i++ {
		eta, err := step(c, cfg)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", rec.Step+i))
		}
		if err := c.Update(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", rec.Step+i))
		}
		tau += cfg.Tau()

		obs, err := observe(c, initial, rec.Step+i, tau, eta)
		if err != nil {
			return errors.Wrap(err, "")
		}
		energies = append(energies, obs.energy)

		if cfg.SnapshotEvery > 0 && i%cfg.SnapshotEvery == 0 {
			log.Printf("%s", obs)
			if err := st.Save(cfg.Run, store.Record{Step: obs.step, Tau: obs.tau, Energy: obs.energy, Eta: obs.eta}, c.State()); err != nil {
				return errors.Wrap(err, "")
			}
		}
	}
	if c.Diagnostics != (mps.Diagnostics{}) {
		log.Printf("diagnostics %#v", c.Diagnostics)
	}

	graph := asciigraph.Plot(energies,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("energy, %s dtau %v", cfg.Integrator, cfg.Tau())),
	)
	fmt.Println(graph)

	if psi0 != nil {
		if err := compareExact(c, psi0, tau-rec.Tau); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}
