package mps

import (
	"fmt"
	"math"
	"testing"

	"github.com/fumin/tdvp/mat"
)

const groundEnergy4 = -4.758770483144

func stateDistance(a, b [][]*mat.Dense) float64 {
	var d float64
	for n := range a {
		for s := range a[n] {
			diff := a[n][s].Copy().Sub(b[n][s])
			d += mat.Norm(diff) * mat.Norm(diff)
		}
	}
	return math.Sqrt(d)
}

func TestTakeStepZeroHamiltonian(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		step func(c *Chain, dtau complex128) (float64, error)
	}{
		{name: "euler", step: (*Chain).TakeStep},
		{name: "rk4", step: (*Chain).TakeStepRK4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			c := newTestChain(t, []int{1, 2, 4, 2, 1}, []int{2, 2, 2, 2}, Hamiltonian{}, 41)
			state := c.State()
			eta, err := test.step(c, 0.1)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if eta != 0 {
				t.Fatalf("%f", eta)
			}
			if !stateClose(c.A, state, 0) {
				t.Fatalf("%v, expected %v", c.A, state)
			}
		})
	}
}

// TestStepOrder compares Euler against RK4, whose difference after a step is dominated by the second order error
// of Euler.
func TestStepOrder(t *testing.T) {
	t.Parallel()
	diff := func(t *testing.T, dtau complex128) float64 {
		c := newTestChain(t, []int{1, 2, 2, 1}, []int{2, 2, 2}, TransverseIsing(1, 0.9), 50)
		a0 := c.State()
		if _, err := c.TakeStep(dtau); err != nil {
			t.Fatalf("%+v", err)
		}
		euler := c.State()

		if err := c.SetState(a0); err != nil {
			t.Fatalf("%+v", err)
		}
		c.refresh()
		if _, err := c.TakeStepRK4(dtau); err != nil {
			t.Fatalf("%+v", err)
		}
		return stateDistance(euler, c.A)
	}

	tests := []struct {
		dtau complex128
	}{
		{dtau: 0.004},
		{dtau: 0.004i},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.dtau), func(t *testing.T) {
			t.Parallel()
			d1, d2 := diff(t, test.dtau), diff(t, test.dtau/2)
			if ratio := d1 / d2; ratio < 3.6 || ratio > 4.4 {
				t.Fatalf("%f %g %g", ratio, d1, d2)
			}
		})
	}
}

func TestImaginaryTimeCooling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		step func(c *Chain, dtau complex128) (float64, error)
	}{
		{name: "euler", step: (*Chain).TakeStep},
		{name: "rk4", step: (*Chain).TakeStepRK4},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			c := newTestChain(t, []int{1, 2, 4, 2, 1}, []int{2, 2, 2, 2}, TransverseIsing(1, 1), 60)
			e := real(c.Energy(1))
			for i := range 40 {
				eta, err := test.step(c, 0.02)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if !(eta > 0) {
					t.Fatalf("%d %f", i, eta)
				}
				if err := c.Update(); err != nil {
					t.Fatalf("%+v", err)
				}

				eNext := real(c.Energy(1))
				if eNext > e+1e-12 {
					t.Fatalf("%d: %f > %f", i, eNext, e)
				}
				if eNext < groundEnergy4-1e-9 {
					t.Fatalf("%d: %f", i, eNext)
				}
				e = eNext
			}
		})
	}
}

func TestRealTimeEnergyConservation(t *testing.T) {
	t.Parallel()
	c := newTestChain(t, []int{1, 2, 4, 2, 1}, []int{2, 2, 2, 2}, TransverseIsing(1, 0.6), 70)
	e0 := c.Energy(1)
	for range 20 {
		if _, err := c.TakeStepRK4(0.01i); err != nil {
			t.Fatalf("%+v", err)
		}
		if err := c.Update(); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if e := c.Energy(1); !close1(e, e0, 1e-5) {
		t.Fatalf("%v, expected %v", e, e0)
	}
}

func TestTakeStepImplicit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		midpoint bool
	}{
		{midpoint: true},
		{midpoint: false},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%t", test.midpoint), func(t *testing.T) {
			t.Parallel()
			c := newTestChain(t, []int{1, 2, 4, 2, 1}, []int{2, 2, 2, 2}, Hamiltonian{}, 80)
			es := expectations(c)

			opt := NewImplicitOptions().Midpoint(test.midpoint).Tol(1e-10)
			res, err := c.TakeStepImplicit(0.05, opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !res.Converged || res.Iterations < 1 || res.Delta > 1e-10*float64(c.N-1) {
				t.Fatalf("%#v", res)
			}
			if c.Diagnostics.ImplicitUnconverged != 0 {
				t.Fatalf("%#v", c.Diagnostics)
			}

			if err := c.Update(); err != nil {
				t.Fatalf("%+v", err)
			}
			if es2 := expectations(c); !expectationsClose(es2, es, 1e-9) {
				t.Fatalf("%v, expected %v", es2, es)
			}
		})
	}
}

func TestTakeStepImplicitUnconverged(t *testing.T) {
	t.Parallel()
	c := newTestChain(t, []int{1, 2, 2, 1}, []int{2, 2, 2}, TransverseIsing(1, 1), 90)
	opt := NewImplicitOptions().Tol(0).MaxIterations(1)
	res, err := c.TakeStepImplicit(0.01, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Converged || !(res.Delta > 0) {
		t.Fatalf("%#v", res)
	}
	if c.Diagnostics.ImplicitUnconverged != 1 {
		t.Fatalf("%#v", c.Diagnostics)
	}
}
