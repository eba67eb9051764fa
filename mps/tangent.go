package mps

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

// Roots holds the Hermitian square roots of l[n-1] and r[n], and their inverses.
type Roots struct {
	L    *mat.Dense
	LInv *mat.Dense
	R    *mat.Dense
	RInv *mat.Dense
}

// CalcLRRoots returns the square roots of l[n-1] and r[n].
// An error means the environments are no longer Hermitian positive definite, and the state cannot be trusted.
func (c *Chain) CalcLRRoots(n int) (Roots, error) {
	c.checkSite(n)
	var roots Roots
	var err error
	roots.L, roots.LInv, err = mat.SqrtH(c.L[n-1])
	if err != nil {
		return Roots{}, errors.Wrap(err, fmt.Sprintf("l[%d]", n-1))
	}
	roots.R, roots.RInv, err = mat.SqrtH(c.R[n])
	if err != nil {
		return Roots{}, errors.Wrap(err, fmt.Sprintf("r[%d]", n))
	}

	if c.SanityChecks {
		checks := []struct {
			name string
			got  *mat.Dense
			want *mat.Dense
		}{
			{name: "l_sqrt", got: mat.Mul(roots.L, roots.L), want: c.L[n-1]},
			{name: "l_sqrt_inv", got: mat.Mul(roots.L, roots.LInv), want: mat.Identity(c.D[n-1])},
			{name: "r_sqrt", got: mat.Mul(roots.R, roots.R), want: c.R[n]},
			{name: "r_sqrt_inv", got: mat.Mul(roots.R, roots.RInv), want: mat.Identity(c.D[n])},
		}
		for _, chk := range checks {
			if !mat.AllClose(chk.got, chk.want, 1e-8, 1e-5) {
				c.diagnose("site %d: %s is bad", n, chk.name)
			}
		}
	}
	return roots, nil
}

// TangentDim returns the number of tangent directions at site n, q[n] D[n] - D[n-1].
func (c *Chain) TangentDim(n int) int {
	c.checkSite(n)
	return c.Q[n]*c.D[n] - c.D[n-1]
}

// CalcVsh returns the tangent space projector of a site tensor a, given the square root of its right environment.
// The columns of the stacked matrices vsh[s] are an orthonormal basis of the directions orthogonal to
// rSqrt a[s]^†, that is sum_s vsh[s]^† rSqrt a[s]^† = 0 and sum_s vsh[s]^† vsh[s] = 1.
// It returns nil when there are no such directions.
func CalcVsh(a []*mat.Dense, rSqrt *mat.Dense) []*mat.Dense {
	q := len(a)
	dm1, d := a[0].Dims()
	dim := q*d - dm1
	if dim <= 0 {
		return nil
	}

	// Stack R[s] = rSqrt a[s]^† vertically and find the null space of R^†.
	rh := mat.New(dm1, q*d)
	for s, as := range a {
		rs := mat.MulH(rSqrt, as)
		for i := 0; i < d; i++ {
			for j := 0; j < dm1; j++ {
				rh.Set(j, s*d+i, conj(rs.At(i, j)))
			}
		}
	}
	null := mat.NullSpace(rh)

	vsh := make([]*mat.Dense, q)
	for s := range vsh {
		vsh[s] = mat.New(d, dim)
		for i := 0; i < d; i++ {
			for k := 0; k < dim; k++ {
				vsh[s].Set(i, k, null.At(s*d+i, k))
			}
		}
	}
	return vsh
}

// CalcVsh returns the tangent space projector of site n.
func (c *Chain) CalcVsh(n int, rSqrt *mat.Dense) []*mat.Dense {
	c.checkSite(n)
	vsh := CalcVsh(c.A[n], rSqrt)

	if c.SanityChecks && vsh != nil {
		m := mat.New(c.TangentDim(n), c.D[n-1])
		vv := mat.New(c.TangentDim(n), c.TangentDim(n))
		for s, as := range c.A[n] {
			m.Add(mat.MulH(mat.HMul(vsh[s], rSqrt), as))
			vv.Add(mat.HMul(vsh[s], vsh[s]))
		}
		if !mat.AllClose(m, mat.New(m.Dims()), 1e-10, 0) {
			c.diagnose("site %d: Vsh is not orthogonal to A", n)
		}
		if !mat.AllClose(vv, mat.Identity(c.TangentDim(n)), 1e-10, 0) {
			c.diagnose("site %d: Vsh is not orthonormal", n)
		}
	}
	return vsh
}

// CalcX returns the optimal tangent coefficients of site n, equation 49 of arXiv:1103.0936 without norm
// preservation, plus the contribution of the single site field.
// It requires C and K to be up to date.
func (c *Chain) CalcX(n int, vsh []*mat.Dense, roots Roots) *mat.Dense {
	c.checkSite(n)
	dim := c.TangentDim(n)
	x := mat.New(c.D[n-1], dim)

	part := mat.New(c.D[n-1], dim)
	var field [][]complex128
	if c.Ham.Field != nil {
		field = c.Ham.Field.matrix(n, c.Q[n])
	}
	for s, as := range c.A[n] {
		sub := mat.New(c.D[n-1], c.D[n])
		if n < c.N {
			// C[n] r[n+1] A[n+1]^† and A[n] K[n+1].
			subsub := mat.Mul(as, c.K[n+1])
			for t, at := range c.A[n+1] {
				subsub.Add(mat.MulH(mat.Mul(c.C[n][s][t], c.R[n+1]), at))
			}
			sub.Add(mat.Mul(subsub, roots.RInv))
		}
		if field != nil {
			subsub := mat.New(c.D[n-1], c.D[n])
			for t, at := range c.A[n] {
				if field[s][t] != 0 {
					subsub.AddScaled(field[s][t], at)
				}
			}
			sub.Add(mat.Mul(subsub, roots.R))
		}
		mat.AddMul(part, 1, sub, vsh[s])
	}
	mat.AddMul(x, 1, roots.L, part)

	if n > 1 {
		// A[n-1]^† l[n-2] C[n-1], summed over the physical index of site n-1.
		part.Zero()
		for s := range c.A[n] {
			subsub := mat.New(c.D[n-1], c.D[n])
			for t, atm1 := range c.A[n-1] {
				subsub.Add(mat.Prod(atm1.H(), c.L[n-2], c.C[n-1][t][s]))
			}
			part.Add(mat.Prod(subsub, roots.R, vsh[s]))
		}
		mat.AddMul(x, 1, roots.LInv, part)
	}
	return x
}

// CalcB returns the tangent vector B[n] of the physical evolution at site n, equation 47 of arXiv:1103.0936.
// When setEta is true, Eta[n] is set to the norm of the tangent coefficients.
// B is nil when site n has no tangent directions.
func (c *Chain) CalcB(n int, setEta bool) ([]*mat.Dense, error) {
	c.checkSite(n)
	if c.TangentDim(n) <= 0 {
		if setEta {
			c.Eta[n] = 0
		}
		return nil, nil
	}

	roots, err := c.CalcLRRoots(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	vsh := c.CalcVsh(n, roots.R)
	x := c.CalcX(n, vsh, roots)
	if setEta {
		c.Eta[n] = math.Sqrt(real(mat.Adot(x, x)))
	}

	b := make([]*mat.Dense, c.Q[n])
	for s := range b {
		b[s] = mat.Prod(roots.LInv, x, vsh[s].H(), roots.RInv)
	}
	return b, nil
}

func conj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}
