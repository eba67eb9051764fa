package mps

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

const (
	// sanityTol is the absolute tolerance of the internal consistency checks.
	sanityTol = 1e-12
	// canonicalTol is the absolute tolerance of CheckCanonical.
	canonicalTol = 1e-12
)

// RestoreOptions are options for restoring canonical form.
type RestoreOptions struct {
	start     int
	normalize bool
	diagL     bool
	updateL   bool
}

// NewRestoreOptions returns the default options, which fully restore a normalized canonical form.
func NewRestoreOptions() RestoreOptions {
	opt := RestoreOptions{}
	opt.normalize = true
	opt.diagL = true
	opt.updateL = true
	return opt
}

// Start sets the rightmost site of the right orthonormalization sweep.
// Sites to the right of it must already be right orthonormal. Values outside 1..N mean N.
func (opt RestoreOptions) Start(n int) RestoreOptions {
	opt.start = n
	return opt
}

// Normalize sets whether the state norm is fixed to one.
func (opt RestoreOptions) Normalize(b bool) RestoreOptions {
	opt.normalize = b
	return opt
}

// DiagL sets whether the left environments are diagonalized.
func (opt RestoreOptions) DiagL(b bool) RestoreOptions {
	opt.diagL = b
	return opt
}

// UpdateL sets whether the left environments are recomputed when they are not diagonalized.
func (opt RestoreOptions) UpdateL(b bool) RestoreOptions {
	opt.updateL = b
	return opt
}

// RestoreCanonical brings the state into right canonical form, r[n] = 1 and l[n] diagonal, with gauge
// transformations, see section 3.1, theorem 1 of arXiv:quant-ph/0608197.
//
// The first sweep, from start down to site 1, right orthonormalizes every site tensor.
// The second sweep, from site 1 to N, diagonalizes the left environments with unitary gauge transformations.
//
// On error the site tensors are put back as they were, but the environments are not, and the chain should not be
// stepped before a successful Update.
func (c *Chain) RestoreCanonical(options ...RestoreOptions) error {
	opt := NewRestoreOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	a := c.State()
	if err := c.restoreCanonical(opt); err != nil {
		c.setA(a)
		return errors.Wrap(err, "")
	}
	return nil
}

func (c *Chain) restoreCanonical(opt RestoreOptions) error {
	start := opt.start
	if start < 1 || start > c.N {
		start = c.N
	}

	gi := mat.Identity(c.D[start])
	for n := start; n >= 2; n-- {
		var err error
		gi, err = c.restoreRight(n, gi)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", n))
		}
		c.R[n-1] = EpsR(c.R[n], c.A[n], c.A[n])

		if c.SanityChecks && !opt.diagL {
			rnm1 := EpsR(mat.Identity(c.D[n]), c.A[n], c.A[n])
			if !mat.AllClose(rnm1, c.R[n-1], sanityTol, sanityTol) {
				c.diagnose("r[%d] is bad", n-1)
			}
		}
	}

	// G[0] is a scalar, so site 1 only absorbs the pending inverse gauge.
	for _, as := range c.A[1] {
		as.CopyFrom(mat.Mul(as, gi))
	}
	c.R[0] = EpsR(c.R[1], c.A[1], c.A[1])

	if opt.normalize {
		r0 := c.R[0].At(0, 0)
		if !(real(r0) > 0) {
			return errors.Wrap(mat.ErrNotPositive, fmt.Sprintf("r[0] %v", r0))
		}
		g0 := complex(1/math.Sqrt(real(r0)), 0)
		for _, as := range c.A[1] {
			as.Scale(g0)
		}
		c.R[0].Set(0, 0, 1)

		if c.SanityChecks {
			r0 := EpsR(c.R[1], c.A[1], c.A[1]).At(0, 0)
			if cmplx.Abs(r0-1) > sanityTol {
				c.diagnose("r[0] is bad %v", r0)
			}
		}
	}

	switch {
	case opt.diagL:
		if err := c.diagonalizeL(); err != nil {
			return errors.Wrap(err, "")
		}
	case opt.updateL:
		c.CalcL(1, c.N)
	}
	return nil
}

// restoreRight transforms A[n] into right orthonormal form given the inverse gauge gi of bond n, and returns the
// inverse gauge of bond n-1.
// The gauge comes from a Cholesky factorization M = U^† U of M = sum_s A[n][s] gi gi^† A[n][s]^†, and falls back to
// an eigen-decomposition when M is not numerically positive definite.
func (c *Chain) restoreRight(n int, gi *mat.Dense) (*mat.Dense, error) {
	m := EpsR(mat.MulH(gi, gi), c.A[n], c.A[n])

	var g, gim1 *mat.Dense
	if u, ok := mat.Cholesky(m); ok {
		g = mat.InvUpper(u).H()
		gim1 = u.H()
	} else {
		c.Diagnostics.CholeskyFallbacks++
		c.Logger.Printf("site %d: Cholesky failed, falling back to eigen-decomposition", n)

		var err error
		g, gim1, err = eigGauge(m)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	if c.SanityChecks {
		if gg := mat.Mul(g, gim1); !mat.AllClose(gg, mat.Identity(c.D[n-1]), 1e-13, 1e-13) {
			c.diagnose("site %d: bad gauge transformation", n)
		}
	}

	for _, as := range c.A[n] {
		as.CopyFrom(mat.Prod(g, as, gi))
	}
	return gim1, nil
}

// eigGauge returns g and its inverse such that g m g^† = 1, from the eigen-decomposition of m.
// A singular m has no such gauge, and an error wrapping mat.ErrNotPositive is returned.
func eigGauge(m *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	vals, vecs, err := mat.EigH(m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	scale := mat.New(len(vals), len(vals))
	for i, v := range vals {
		if !(v > 0) {
			return nil, nil, errors.Wrap(mat.ErrNotPositive, fmt.Sprintf("eigenvalue %d %g", i, v))
		}
		scale.Set(i, i, complex(1/math.Sqrt(v), 0))
	}
	g := mat.Mul(vecs, scale).H()
	gim1, err := mat.Inverse(g)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	return g, gim1, nil
}

// diagonalizeL makes every l[n] diagonal, sweeping from site 1 to N.
// Each l[n] is diagonalized by a unitary gauge, which leaves the right orthonormal form intact.
func (c *Chain) diagonalizeL() error {
	g := mat.Identity(c.D[0])
	for n := 1; n < c.N; n++ {
		x := mat.Prod(g.H(), c.L[n-1], g)
		m := EpsL(x, c.A[n], c.A[n])
		vals, vecs, err := mat.EigH(m)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", n))
		}

		c.L[n] = mat.Diag(vals)
		for _, as := range c.A[n] {
			as.CopyFrom(mat.Prod(g, as, vecs))
		}

		if c.SanityChecks {
			if l := EpsL(c.L[n-1], c.A[n], c.A[n]); !mat.AllClose(l, c.L[n], sanityTol, sanityTol) {
				c.diagnose("l[%d] is bad", n)
			}
		}

		g = vecs.H()
	}

	N := c.N
	for _, as := range c.A[N] {
		as.CopyFrom(mat.Mul(g, as))
	}
	c.L[N] = EpsL(c.L[N-1], c.A[N], c.A[N])

	if c.SanityChecks {
		if lN := c.L[N].At(0, 0); math.Abs(real(lN)-1) > sanityTol {
			c.diagnose("l[%d] is bad %v", N, lN)
		}
		for n := 1; n <= N; n++ {
			rnm1 := EpsR(mat.Identity(c.D[n]), c.A[n], c.A[n])
			if !mat.AllClose(rnm1, c.R[n-1], sanityTol, sanityTol) {
				c.diagnose("r[%d] is bad", n-1)
			}
		}
	}
	return nil
}

// CanonicalReport is the result of CheckCanonical.
type CanonicalReport struct {
	// RIdentity is whether every r[n] is the identity.
	RIdentity bool
	// LTrace is whether every l[n] has unit trace.
	LTrace bool
	// LHermitian is whether every l[n] is Hermitian.
	LHermitian bool
	// LPositive is whether every l[n] is positive definite.
	LPositive bool
	// LDiagonal is whether every l[n] is diagonal.
	LDiagonal bool
	// Norm is whether l[N] is one.
	Norm bool
}

// OK reports whether every property holds.
func (rep CanonicalReport) OK() bool {
	return rep.RIdentity && rep.LTrace && rep.LHermitian && rep.LPositive && rep.LDiagonal && rep.Norm
}

// CheckCanonical tests the stored environments for right canonical form.
func (c *Chain) CheckCanonical() CanonicalReport {
	rep := CanonicalReport{RIdentity: true, LTrace: true, LHermitian: true, LPositive: true, LDiagonal: true}
	for n := 1; n <= c.N; n++ {
		rep.RIdentity = rep.RIdentity && mat.AllClose(c.R[n], mat.Identity(c.D[n]), canonicalTol, 0)
		rep.LHermitian = rep.LHermitian && mat.IsHermitian(c.L[n], canonicalTol)
		rep.LTrace = rep.LTrace && cmplx.Abs(mat.Trace(c.L[n])-1) <= canonicalTol
		rep.LDiagonal = rep.LDiagonal && mat.IsDiagonal(c.L[n], canonicalTol)

		vals, _, err := mat.EigH(c.L[n])
		rep.LPositive = rep.LPositive && err == nil && len(vals) > 0 && vals[0] > 0
	}
	rep.Norm = cmplx.Abs(c.L[c.N].At(0, 0)-1) <= canonicalTol
	return rep
}
