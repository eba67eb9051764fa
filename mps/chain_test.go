package mps

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"slices"
	"testing"

	"github.com/fumin/tdvp/mat"
)

func newTestChain(t *testing.T, d, q []int, ham Hamiltonian, seed uint64) *Chain {
	c, err := New(len(q), d, q)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c.Ham = ham
	c.SanityChecks = true
	rng := rand.New(rand.NewPCG(seed, seed+1))
	if err := c.Randomize(rng); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := c.Update(); err != nil {
		t.Fatalf("%+v", err)
	}
	return c
}

func stateClose(a, b [][]*mat.Dense, atol float64) bool {
	for n := range a {
		for s := range a[n] {
			if !mat.AllClose(a[n][s], b[n][s], atol, 0) {
				return false
			}
		}
	}
	return true
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n   int
		d   []int
		q   []int
		dim []int
		err error
	}{
		{n: 2, d: []int{1, 1, 1}, q: []int{1, 2}, dim: []int{1, 1, 1}},
		{n: 2, d: []int{1, 5, 1}, q: []int{1, 2}, dim: []int{1, 1, 1}},
		{n: 2, d: []int{3, 5, 3}, q: []int{2, 2}, dim: []int{1, 2, 1}},
		{n: 4, d: []int{1, 8, 8, 8, 1}, q: []int{2, 2, 2, 2}, dim: []int{1, 2, 4, 2, 1}},
		{n: 4, d: []int{1, 3, 3, 3, 1}, q: []int{0, 2, 2, 2, 2}, dim: []int{1, 2, 3, 2, 1}},
		{n: 3, d: []int{1, 6, 6, 1}, q: []int{3, 2, 3}, dim: []int{1, 3, 3, 1}},
		{n: 0, d: []int{1}, q: []int{}, err: ErrConfig},
		{n: 2, d: []int{1, 1}, q: []int{2, 2}, err: ErrConfig},
		{n: 2, d: []int{1, 2, 1}, q: []int{2, 2, 2, 2}, err: ErrConfig},
		{n: 2, d: []int{1, 0, 1}, q: []int{2, 2}, err: ErrConfig},
		{n: 2, d: []int{1, 2, 1}, q: []int{2, 0}, err: ErrConfig},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %#v %#v", test.n, test.d, test.q), func(t *testing.T) {
			t.Parallel()
			c, err := New(test.n, test.d, test.q)
			if test.err != nil {
				if !errors.Is(err, test.err) {
					t.Fatalf("%+v, expected %v", err, test.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !slices.Equal(c.D, test.dim) {
				t.Fatalf("%#v, expected %#v", c.D, test.dim)
			}
			for n := 1; n <= c.N; n++ {
				if r, cl := c.A[n][0].Dims(); r != c.D[n-1] || cl != c.D[n] {
					t.Fatalf("site %d %d %d", n, r, cl)
				}
			}
		})
	}
}

func TestSetupA(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d []int
		q []int
	}{
		{d: []int{1, 1, 1}, q: []int{1, 2}},
		{d: []int{1, 2, 1}, q: []int{2, 2}},
		{d: []int{1, 2, 4, 2, 1}, q: []int{2, 2, 2, 2}},
		{d: []int{1, 3, 2, 1}, q: []int{3, 2, 2}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#v %#v", test.d, test.q), func(t *testing.T) {
			t.Parallel()
			c, err := New(len(test.q), test.d, test.q)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if lN := real(c.L[c.N].At(0, 0)); !(lN > 0) {
				t.Fatalf("%f", lN)
			}

			if err := c.RestoreCanonical(); err != nil {
				t.Fatalf("%+v", err)
			}
			if rep := c.CheckCanonical(); !rep.OK() {
				t.Fatalf("%#v", rep)
			}
		})
	}
}

func TestSetState(t *testing.T) {
	t.Parallel()
	c := newTestChain(t, []int{1, 2, 1}, []int{2, 2}, Hamiltonian{}, 1)
	state := c.State()

	other := newTestChain(t, []int{1, 2, 1}, []int{2, 2}, Hamiltonian{}, 2)
	if err := other.SetState(state); err != nil {
		t.Fatalf("%+v", err)
	}
	if !stateClose(other.A, state, 0) {
		t.Fatalf("%v", other.A)
	}
	// The state is a copy.
	state[1][0].Set(0, 0, 7)
	if c.A[1][0].At(0, 0) == 7 {
		t.Fatalf("%v", c.A[1][0])
	}

	wrong := newTestChain(t, []int{1, 2, 2, 1}, []int{2, 2, 2}, Hamiltonian{}, 3)
	if err := other.SetState(wrong.State()); !errors.Is(err, ErrConfig) {
		t.Fatalf("%+v", err)
	}
	bad := c.State()
	bad[2][1] = mat.New(2, 2)
	if err := other.SetState(bad); !errors.Is(err, ErrConfig) {
		t.Fatalf("%+v", err)
	}
}

func TestSimpleRenorm(t *testing.T) {
	t.Parallel()
	c := newTestChain(t, []int{1, 2, 3, 1}, []int{2, 3, 3}, Hamiltonian{}, 4)
	for _, as := range c.A[2] {
		as.Scale(3)
	}
	c.CalcL(1, c.N)
	c.CalcR(0, c.N-1)
	if lN := real(c.L[c.N].At(0, 0)); lN < 8.9 || lN > 9.1 {
		t.Fatalf("%f", lN)
	}

	c.SimpleRenorm(true)
	if lN := c.L[c.N].At(0, 0); !mat.AllClose(mat.M([][]complex128{{lN}}), mat.Identity(1), 1e-12, 0) {
		t.Fatalf("%v", lN)
	}
	r := c.R[0].Copy()
	c.CalcR(0, c.N-1)
	if !mat.AllClose(r, c.R[0], 1e-12, 0) {
		t.Fatalf("%s, expected %s", r, c.R[0])
	}
}

func TestAddNoise(t *testing.T) {
	t.Parallel()
	c := newTestChain(t, []int{1, 2, 1}, []int{2, 2}, Hamiltonian{}, 5)
	state := c.State()
	rng := rand.New(rand.NewPCG(6, 7))
	const fac = 1e-3
	c.AddNoise(fac, rng)
	if stateClose(c.A, state, 0) {
		t.Fatalf("no noise")
	}
	if !stateClose(c.A, state, 2*fac) {
		t.Fatalf("too much noise")
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	os.Exit(m.Run())
}
