package tdvp

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/fumin/tdvp/mat"
	"github.com/fumin/tdvp/mps"
)

func qubits(n int) []int {
	q := make([]int, n+1)
	for i := 1; i <= n; i++ {
		q[i] = 2
	}
	return q
}

func TestHamiltonian(t *testing.T) {
	t.Parallel()
	h := Hamiltonian(qubits(4), mps.TransverseIsing(1, 1))
	expected := mat.M([][]complex128{
		{-3, -1, -1, 0, -1, 0, 0, 0, -1, 0, 0, 0, 0, 0, 0, 0},
		{-1, -1, 0, -1, 0, -1, 0, 0, 0, -1, 0, 0, 0, 0, 0, 0},
		{-1, 0, 1, -1, 0, 0, -1, 0, 0, 0, -1, 0, 0, 0, 0, 0},
		{0, -1, -1, -1, 0, 0, 0, -1, 0, 0, 0, -1, 0, 0, 0, 0},
		{-1, 0, 0, 0, 1, -1, -1, 0, 0, 0, 0, 0, -1, 0, 0, 0},
		{0, -1, 0, 0, -1, 3, 0, -1, 0, 0, 0, 0, 0, -1, 0, 0},
		{0, 0, -1, 0, -1, 0, 1, -1, 0, 0, 0, 0, 0, 0, -1, 0},
		{0, 0, 0, -1, 0, -1, -1, -1, 0, 0, 0, 0, 0, 0, 0, -1},
		{-1, 0, 0, 0, 0, 0, 0, 0, -1, -1, -1, 0, -1, 0, 0, 0},
		{0, -1, 0, 0, 0, 0, 0, 0, -1, 1, 0, -1, 0, -1, 0, 0},
		{0, 0, -1, 0, 0, 0, 0, 0, -1, 0, 3, -1, 0, 0, -1, 0},
		{0, 0, 0, -1, 0, 0, 0, 0, 0, -1, -1, 1, 0, 0, 0, -1},
		{0, 0, 0, 0, -1, 0, 0, 0, -1, 0, 0, 0, -1, -1, -1, 0},
		{0, 0, 0, 0, 0, -1, 0, 0, 0, -1, 0, 0, -1, 1, 0, -1},
		{0, 0, 0, 0, 0, 0, -1, 0, 0, 0, -1, 0, -1, 0, -1, -1},
		{0, 0, 0, 0, 0, 0, 0, -1, 0, 0, 0, -1, 0, -1, -1, -3},
	})
	if !mat.AllClose(h, expected, 0, 0) {
		t.Fatalf("%s, expected %s", h, expected)
	}
}

func TestGroundState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n        int
		j        float64
		h        float64
		expected float64
	}{
		{n: 2, j: 1, h: 1, expected: -2.236067977500},
		{n: 3, j: 1, h: 0.5, expected: -2.403211925912},
		{n: 4, j: 1, h: 1, expected: -4.758770483144},
		{n: 8, j: 1, h: 1, expected: -9.837951447459426},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %f %f", test.n, test.j, test.h), func(t *testing.T) {
			t.Parallel()
			h := Hamiltonian(qubits(test.n), mps.TransverseIsing(test.j, test.h))
			e0, psi, err := GroundState(h)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(e0-test.expected) > 1e-9 {
				t.Fatalf("%f, expected %f", e0, test.expected)
			}
			if e := Expect(h, psi); math.Abs(real(e)-e0) > 1e-9 {
				t.Fatalf("%v, expected %f", e, e0)
			}
		})
	}
}

func TestEigen(t *testing.T) {
	t.Parallel()
	h := Hamiltonian(qubits(8), mps.TransverseIsing(1, 1))
	vals, vecs, err := mat.EigH(h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Values are from https://juliaphysics.github.io/PhysicsTutorials.jl/tutorials/general/quantum_ising/quantum_ising.html
	expected := []float64{-9.837951447459426, -9.46887800960621, -8.7432994871710, -8.374226049317867, -8.054998024353266, -7.685924586500063, -7.427412901942416, -7.058339464089192, -6.960346064064927, -6.881915778576785}
	for i, v := range vals[:10] {
		if math.Abs(v-expected[i]) > 1e-6 {
			t.Fatalf("%d %f, expected %f", i, v, expected[i])
		}
	}
	expected = []float64{6.960346064064934, 7.0583394640891886, 7.427412901942393, 7.685924586500062, 8.054998024353269, 8.374226049317883, 8.74329948717109, 9.468878009606211, 9.83795144745942}
	for i, v := range vals[len(vals)-9:] {
		if math.Abs(v-expected[i]) > 1e-6 {
			t.Fatalf("%d %f, expected %f", i, v, expected[i])
		}
	}

	ground := column(vecs, 0)
	probs := []float64{0.11623105759942885, 0.030073150814502212, 0.0119388989548912, 0.01836268922781065, 0.010306563749646199, 0.0036432311839576883, 0.005695810419718821, 0.014593393364127294, 0.009913022568277332, 0.002835013679521494}
	for i, v := range ground[:10] {
		prob := real(v)*real(v) + imag(v)*imag(v)
		if math.Abs(prob-probs[i]) > 1e-6 {
			t.Fatalf("%d %v %f %f", i, v, prob, probs[i])
		}
	}
	probs = []float64{0.009913022568277134, 0.014593393364126966, 0.005695810419718817, 0.003643231183957665, 0.010306563749646001, 0.018362689227810196, 0.01193889895489093, 0.030073150814501577, 0.11623105759942208}
	for i, v := range ground[len(ground)-9:] {
		prob := real(v)*real(v) + imag(v)*imag(v)
		if math.Abs(prob-probs[i]) > 1e-6 {
			t.Fatalf("%d %v %f %f", i, v, prob, probs[i])
		}
	}
}

func TestStateVector(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d []int
		q []int
	}{
		{d: []int{1, 2, 1}, q: []int{2, 2}},
		{d: []int{1, 2, 4, 2, 1}, q: []int{2, 2, 2, 2}},
		{d: []int{1, 2, 2, 2, 1}, q: []int{2, 2, 2, 2}},
		{d: []int{1, 3, 2, 1}, q: []int{3, 2, 2}},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%#v %#v", test.d, test.q), func(t *testing.T) {
			t.Parallel()
			c := newChain(t, test.d, test.q, mps.TransverseIsing(1, 0.7), uint64(i))
			psi := StateVector(c)
			if norm := real(Inner(psi, psi)); math.Abs(norm-1) > 1e-10 {
				t.Fatalf("%f", norm)
			}

			h := Hamiltonian(c.Q, c.Ham)
			e := Expect(h, psi)
			for n := 1; n <= c.N; n++ {
				if en := c.Energy(n); math.Abs(real(en-e)) > 1e-10 || math.Abs(imag(en-e)) > 1e-10 {
					t.Fatalf("site %d: %v, expected %v", n, en, e)
				}
			}

			z := mat.M(mat.PauliZ)
			if c.Q[1] == 2 {
				id := mat.Identity(Dim(c.Q) / 2)
				expected := Expect(mat.Kron(z, id), psi)
				if e := c.Expect1s(mps.PauliOp(1, mat.PauliZ), 1); math.Abs(real(e-expected)) > 1e-10 {
					t.Fatalf("%v, expected %v", e, expected)
				}
			}
		})
	}
}

func newChain(t *testing.T, d, q []int, ham mps.Hamiltonian, seed uint64) *mps.Chain {
	c, err := mps.New(len(q), d, q)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c.Ham = ham
	if err := c.Randomize(rand.New(rand.NewPCG(seed, seed+1))); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	return c
}

// TestEvolveAgainstExact checks that RK4 converges to the exact evolution with fourth order global error.
func TestEvolveAgainstExact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dir  complex128
	}{
		{name: "imaginary", dir: 1},
		{name: "real", dir: 1i},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			const tau = 0.5
			evolve := func(steps int) float64 {
				c := newChain(t, []int{1, 2, 1}, []int{2, 2}, mps.TransverseIsing(1, 1), 7)
				h := Hamiltonian(c.Q, c.Ham)
				exact, err := Evolve(h, StateVector(c), test.dir*tau)
				if err != nil {
					t.Fatalf("%+v", err)
				}

				dtau := test.dir * complex(tau/float64(steps), 0)
				for range steps {
					if _, err := c.TakeStepRK4(dtau); err != nil {
						t.Fatalf("%+v", err)
					}
					if err := c.Update(); err != nil {
						t.Fatalf("%+v", err)
					}
				}
				return Distance(exact, StateVector(c))
			}

			d1, d2 := evolve(10), evolve(20)
			if ratio := d1 / d2; ratio < 12 || ratio > 20 {
				t.Fatalf("%f %g %g", ratio, d1, d2)
			}
			if d2 > 1e-5 {
				t.Fatalf("%g", d2)
			}
		})
	}
}

func TestImplicitAgainstExact(t *testing.T) {
	t.Parallel()
	// One sweep of the implicit integrator is accurate to first order in dtau.
	step := func(dtau float64) float64 {
		c := newChain(t, []int{1, 2, 2, 1}, []int{2, 2, 2}, mps.TransverseIsing(0, 0.7), 17)
		h := Hamiltonian(c.Q, c.Ham)
		exact, err := Evolve(h, StateVector(c), complex(dtau, 0))
		if err != nil {
			t.Fatalf("%+v", err)
		}

		opt := mps.NewImplicitOptions().Midpoint(false).MaxIterations(1)
		res, err := c.TakeStepImplicit(complex(dtau, 0), opt)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if res.Converged || res.Iterations < 1 || math.IsInf(res.Delta, 0) || math.IsNaN(res.Delta) || !(res.Delta > 0) {
			t.Fatalf("%#v", res)
		}
		if c.Diagnostics.ImplicitUnconverged != 1 {
			t.Fatalf("%#v", c.Diagnostics)
		}
		if err := c.Update(); err != nil {
			t.Fatalf("%+v", err)
		}
		return Distance(exact, StateVector(c))
	}

	d1, d2 := step(0.02), step(0.01)
	if d1 > 0.05 {
		t.Fatalf("%g", d1)
	}
	if ratio := d1 / d2; ratio < 1.5 || ratio > 4.5 {
		t.Fatalf("%f %g %g", ratio, d1, d2)
	}
}

func TestEvolve(t *testing.T) {
	t.Parallel()
	h := Hamiltonian(qubits(4), mps.TransverseIsing(1, 1))
	e0, ground, err := GroundState(h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	// Long imaginary time evolution projects onto the ground state.
	psi := make([]complex128, len(ground))
	psi[0], psi[5] = 1, 1i
	cooled, err := Evolve(h, psi, 60)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if d := Distance(ground, cooled); d > 1e-8 {
		t.Fatalf("%g", d)
	}

	// Real time evolution conserves energy.
	psi = make([]complex128, len(ground))
	psi[0] = 1
	evolved, err := Evolve(h, psi, 3i)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if e := Expect(h, evolved); math.Abs(real(e)+3) > 1e-10 || math.Abs(imag(e)) > 1e-10 {
		t.Fatalf("%v, expected %v", e, -3)
	}
	if d := Distance(psi, evolved); !(d > 0.1) {
		t.Fatalf("%g", d)
	}
	if math.Abs(e0+4.758770483144) > 1e-9 {
		t.Fatalf("%f", e0)
	}
}

func TestGetStatistics(t *testing.T) {
	t.Parallel()
	ghz := make([]complex128, 16)
	ghz[0], ghz[15] = complex(1/math.Sqrt2, 0), complex(1/math.Sqrt2, 0)
	allUp := make([]complex128, 16)
	allUp[0] = 1
	tests := []struct {
		name          string
		psi           []complex128
		magnetization float64
		binder        float64
	}{
		{name: "up", psi: allUp, magnetization: 1, binder: 2. / 3},
		{name: "ghz", psi: ghz, magnetization: 1, binder: 2. / 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			stats, err := GetStatistics(4, nil, test.psi)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(stats.Magnetization-test.magnetization) > 1e-12 {
				t.Fatalf("%f, expected %f", stats.Magnetization, test.magnetization)
			}
			if math.Abs(stats.BinderCumulant-test.binder) > 1e-12 {
				t.Fatalf("%f, expected %f", stats.BinderCumulant, test.binder)
			}
		})
	}

	if _, err := GetStatistics(3, nil, allUp); err == nil {
		t.Fatalf("no error")
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
