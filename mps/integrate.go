package mps

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

// TakeStep performs a forward Euler step A[n] -= dtau B[n] of imaginary time dtau.
// An imaginary dtau gives real time evolution.
// It requires Update to have been called on the current state, and returns the sum of Eta.
// On error the site tensors are left as before the step.
//
// Every B[n] is computed from the state before the step. Since B[n] depends on A[n-1], A[n-1] is only updated
// after B[n] has been computed.
func (c *Chain) TakeStep(dtau complex128) (float64, error) {
	a0 := c.State()
	etaTot, err := c.takeStep(dtau)
	if err != nil {
		c.setA(a0)
		return math.NaN(), errors.Wrap(err, "")
	}
	return etaTot, nil
}

func (c *Chain) takeStep(dtau complex128) (float64, error) {
	var etaTot float64
	var bPrev []*mat.Dense
	for n := 1; n <= c.N+1; n++ {
		var b []*mat.Dense
		if n <= c.N {
			var err error
			b, err = c.CalcB(n, true)
			if err != nil {
				return math.NaN(), errors.Wrap(err, fmt.Sprintf("%d", n))
			}
			etaTot += c.Eta[n]
		}

		if n > 1 && bPrev != nil {
			for s, as := range c.A[n-1] {
				as.AddScaled(-dtau, bPrev[s])
			}
		}
		bPrev = b
	}
	return etaTot, nil
}

// tangent returns B[n] for every site, computed from the current state.
func (c *Chain) tangent(setEta bool) ([][]*mat.Dense, error) {
	bs := make([][]*mat.Dense, c.N+1)
	for n := 1; n <= c.N; n++ {
		b, err := c.CalcB(n, setEta)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", n))
		}
		bs[n] = b
	}
	return bs, nil
}

// refresh recomputes the environments, coupling tensors and effective Hamiltonian without changing the gauge.
func (c *Chain) refresh() {
	c.CalcL(1, c.N)
	c.CalcR(0, c.N-1)
	c.CalcC(1, c.N)
	c.CalcK(1, c.N+1)
}

// TakeStepRK4 performs a classical fourth order Runge-Kutta step of imaginary time dtau.
// It requires Update to have been called on the current state, and returns the sum of Eta at the initial state.
// On error the site tensors are left as before the step, but the environments are those of an intermediate stage.
// Intermediate stages refresh the environments but keep the gauge, so that the stages combine in a common gauge.
func (c *Chain) TakeStepRK4(dtau complex128) (float64, error) {
	a0 := c.State()

	// set puts A = A0 - h B.
	set := func(h complex128, bs [][]*mat.Dense) {
		for n := 1; n <= c.N; n++ {
			if bs[n] == nil {
				continue
			}
			for s, as := range c.A[n] {
				as.CopyFrom(a0[n][s])
				as.AddScaled(-h, bs[n][s])
			}
		}
	}

	k1, err := c.tangent(true)
	if err != nil {
		c.setA(a0)
		return math.NaN(), errors.Wrap(err, "k1")
	}
	var etaTot float64
	for n := 1; n <= c.N; n++ {
		etaTot += c.Eta[n]
	}

	set(dtau/2, k1)
	c.refresh()
	k2, err := c.tangent(false)
	if err != nil {
		c.setA(a0)
		return math.NaN(), errors.Wrap(err, "k2")
	}

	set(dtau/2, k2)
	c.refresh()
	k3, err := c.tangent(false)
	if err != nil {
		c.setA(a0)
		return math.NaN(), errors.Wrap(err, "k3")
	}

	set(dtau, k3)
	c.refresh()
	k4, err := c.tangent(false)
	if err != nil {
		c.setA(a0)
		return math.NaN(), errors.Wrap(err, "k4")
	}

	for n := 1; n <= c.N; n++ {
		if k1[n] == nil {
			continue
		}
		for s, as := range c.A[n] {
			as.CopyFrom(a0[n][s])
			as.AddScaled(-dtau/6, k1[n][s])
			as.AddScaled(-dtau/3, k2[n][s])
			as.AddScaled(-dtau/3, k3[n][s])
			as.AddScaled(-dtau/6, k4[n][s])
		}
	}
	return etaTot, nil
}

// ImplicitOptions are options for the implicit integrator.
type ImplicitOptions struct {
	midpoint      bool
	maxIterations int
	tol           float64
	switchMode    int
	safeMode      bool
}

// NewImplicitOptions returns the default implicit midpoint options.
func NewImplicitOptions() ImplicitOptions {
	opt := ImplicitOptions{}
	opt.midpoint = true
	opt.maxIterations = 10
	opt.tol = 3 * 0x1p-52
	opt.switchMode = 10
	opt.safeMode = true
	return opt
}

// Midpoint sets whether to take a time symmetric midpoint step instead of a backward Euler step.
func (opt ImplicitOptions) Midpoint(b bool) ImplicitOptions {
	opt.midpoint = b
	return opt
}

// MaxIterations sets the maximum number of sweeps over the chain.
func (opt ImplicitOptions) MaxIterations(i int) ImplicitOptions {
	opt.maxIterations = i
	return opt
}

// Tol sets the per bond convergence tolerance, the sweep stops when sum_n delta_n < tol (N-1).
func (opt ImplicitOptions) Tol(tol float64) ImplicitOptions {
	opt.tol = tol
	return opt
}

// SwitchMode sets the sweep after which the chain is no longer updated while visiting each site.
func (opt ImplicitOptions) SwitchMode(i int) ImplicitOptions {
	opt.switchMode = i
	return opt
}

// SafeMode sets whether the whole chain is refreshed after every site update.
func (opt ImplicitOptions) SafeMode(b bool) ImplicitOptions {
	opt.safeMode = b
	return opt
}

// ImplicitResult reports the convergence of TakeStepImplicit.
type ImplicitResult struct {
	Iterations int
	// Delta is the residual sum_n delta_n of the final check sweep.
	Delta     float64
	Converged bool
}

// TakeStepImplicit performs an implicit step of imaginary time dtau, see pages 8-10 of arXiv:1103.0936.
//
// The implicit equation A0 = A + dtau B(A) is solved by fixed point sweeps from site N-1 down to 1.
// At each site a gauge g aligns A0 with the current A, and the correction dA = g^-1 A0 g - A - dtau B is applied.
// The residual of site n is delta_n = sqrt(trace(l[n-1] sum_s dA[s] r[n] dA[s]^†)).
// A final sweep recomputes the residual without changing the state.
// The iteration is known to stall for some states, in which case Converged is false.
// On error the site tensors are left as after the initial Update.
func (c *Chain) TakeStepImplicit(dtau complex128, options ...ImplicitOptions) (ImplicitResult, error) {
	opt := NewImplicitOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if opt.midpoint {
		dtau /= 2
	}
	N := c.N
	tol := opt.tol * float64(N-1)

	if err := c.Update(); err != nil {
		return ImplicitResult{}, errors.Wrap(err, "")
	}
	a0 := c.State()
	// saved is kept apart from a0, whose site tensors are swapped into A during the sweeps.
	saved := c.State()
	if _, err := c.TakeStep(dtau); err != nil {
		return ImplicitResult{}, errors.Wrap(err, "")
	}

	var res ImplicitResult
	delta := math.Inf(1)
	finalCheck := false
	for (delta > tol && res.Iterations < opt.maxIterations) || finalCheck {
		running := res.Iterations < opt.switchMode
		aNp1 := a0[N]

		if err := c.RestoreCanonical(); err != nil {
			c.setA(saved)
			return res, errors.Wrap(err, "")
		}
		if running {
			c.CalcC(1, N)
			c.CalcK(1, N+1)
		}

		g0n := mat.Identity(c.D[N-1])
		delta = 0
		for n := N - 1; n >= 1; n-- {
			maxItrN := res.Iterations + 1
			var aNp1New []*mat.Dense
			if !running {
				// Build B from the previous A[n+1], and wait until the next sweep to change A[n] again.
				aNp1New = copyTensors(c.A[n+1 : n+2])[0]
				c.A[n+1] = aNp1
				aNp1 = copyTensors(c.A[n : n+1])[0]
				maxItrN = 1
			}

			g0nm1, deltaN, err := c.implicitSite(n, a0[n], g0n, dtau, maxItrN, opt, running, finalCheck)
			if err != nil {
				c.setA(saved)
				return res, errors.Wrap(err, fmt.Sprintf("%d", n))
			}

			if !running {
				c.A[n+1] = aNp1New
			}
			delta += deltaN

			if opt.safeMode {
				c.CalcR(0, N-1)
			} else {
				c.CalcR(n-2, n-1)
			}
			g0n = g0nm1
		}
		res.Iterations++

		if finalCheck {
			break
		}
		if delta <= tol || res.Iterations >= opt.maxIterations {
			res.Converged = delta <= tol
			finalCheck = true
		}
	}
	res.Delta = delta
	if !res.Converged {
		c.Diagnostics.ImplicitUnconverged++
		c.Logger.Printf("implicit step did not converge: delta %g after %d iterations", res.Delta, res.Iterations)
	}

	if opt.midpoint {
		// Finish with an explicit half step from the midpoint.
		c.CalcL(1, N)
		c.SimpleRenorm(true)
		c.CalcC(1, N)
		c.CalcK(1, N+1)
		if _, err := c.TakeStep(dtau); err != nil {
			c.setA(saved)
			return res, errors.Wrap(err, "")
		}
	}
	return res, nil
}

// implicitSite iterates the implicit equation at site n, and returns the gauge of bond n-1 and the residual.
func (c *Chain) implicitSite(n int, a0n []*mat.Dense, g0n *mat.Dense, dtau complex128, maxItrN int, opt ImplicitOptions, running, finalCheck bool) (*mat.Dense, float64, error) {
	deltaN := math.Inf(1)
	for itrN := 0; ; itrN++ {
		// Gauge align A0 with the backward evolved A.
		m := mat.New(c.D[n-1], c.D[n-1])
		for s, as := range c.A[n] {
			m.Add(mat.MulH(mat.Prod(a0n[s], g0n, c.R[n]), as))
		}
		g0nm1, err := mat.SolveHPD(c.R[n-1], m)
		if err != nil {
			return nil, math.NaN(), errors.Wrap(err, "")
		}

		if !(deltaN > opt.tol && itrN < maxItrN) {
			return g0nm1, deltaN, nil
		}

		b, err := c.CalcB(n, true)
		if err != nil {
			return nil, math.NaN(), errors.Wrap(err, "")
		}
		if b == nil {
			return g0nm1, 0, nil
		}

		g0nm1Inv, err := mat.Inverse(g0nm1)
		if err != nil {
			return nil, math.NaN(), errors.Wrap(err, "")
		}
		rdA := mat.New(c.D[n-1], c.D[n-1])
		for s, as := range c.A[n] {
			da := mat.Prod(g0nm1Inv, a0n[s], g0n)
			da.Sub(as)
			da.AddScaled(-dtau, b[s])
			if !finalCheck {
				as.Add(da)
			}
			rdA.Add(mat.MulH(mat.Mul(da, c.R[n]), da))
		}
		deltaN = math.Sqrt(math.Max(0, real(mat.Trace(mat.Mul(c.L[n-1], rdA)))))

		if running {
			if opt.safeMode {
				if err := c.Update(); err != nil {
					return nil, math.NaN(), errors.Wrap(err, "")
				}
			} else {
				if err := c.RestoreCanonical(NewRestoreOptions().Start(n)); err != nil {
					return nil, math.NaN(), errors.Wrap(err, "")
				}
				c.CalcC(n-1, n)
				c.CalcK(n, n+1)
			}
		}

		if finalCheck {
			return g0nm1, deltaN, nil
		}
	}
}
