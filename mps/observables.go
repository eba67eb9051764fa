package mps

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

// epsR is the right transfer map of site n, weighted by the single site operator o if it is not nil.
func (c *Chain) epsR(n int, x *mat.Dense, o SingleSite) *mat.Dense {
	if o == nil {
		return EpsR(x, c.A[n], c.A[n])
	}
	return EpsROp1s(x, c.A[n], c.A[n], o.matrix(n, c.Q[n]))
}

// Expect1s returns the expectation value of the single site operator o at site n.
// The state is assumed to be normalized with up to date environments.
func (c *Chain) Expect1s(o SingleSite, n int) complex128 {
	c.checkSite(n)
	return mat.Trace(mat.Mul(c.L[n-1], c.epsR(n, c.R[n], o)))
}

// Expect1sCor returns the correlation <o1_{n1} o2_{n2}> of two single site operators, n1 < n2.
func (c *Chain) Expect1sCor(o1, o2 SingleSite, n1, n2 int) (complex128, error) {
	if !(1 <= n1 && n1 < n2 && n2 <= c.N) {
		return 0, errors.Wrap(ErrConfig, fmt.Sprintf("%d %d %d", n1, n2, c.N))
	}
	r := c.epsR(n2, c.R[n2], o2)
	for n := n2 - 1; n > n1; n-- {
		r = c.epsR(n, r, nil)
	}
	r = c.epsR(n1, r, o1)
	return mat.Trace(mat.Mul(c.L[n1-1], r)), nil
}

// Density1s returns the reduced density matrix of site n, such that Expect1s(o, n) = trace(o rho).
func (c *Chain) Density1s(n int) *mat.Dense {
	c.checkSite(n)
	q := c.Q[n]
	rho := mat.New(q, q)
	for s := 0; s < q; s++ {
		for t := 0; t < q; t++ {
			rnm1 := mat.MulH(mat.Mul(c.A[n][t], c.R[n]), c.A[n][s])
			rho.Set(t, s, mat.Trace(mat.Mul(c.L[n-1], rnm1)))
		}
	}
	return rho
}

// Density2s returns the reduced density matrix of sites n1 < n2.
// The basis index of the pair (s1, s2) is s1*q[n2] + s2.
func (c *Chain) Density2s(n1, n2 int) (*mat.Dense, error) {
	if !(1 <= n1 && n1 < n2 && n2 <= c.N) {
		return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%d %d %d", n1, n2, c.N))
	}
	q1, q2 := c.Q[n1], c.Q[n2]
	rho := mat.New(q1*q2, q1*q2)
	for s2 := 0; s2 < q2; s2++ {
		for t2 := 0; t2 < q2; t2++ {
			r := mat.MulH(mat.Mul(c.A[n2][t2], c.R[n2]), c.A[n2][s2])
			for n := n2 - 1; n > n1; n-- {
				r = EpsR(r, c.A[n], c.A[n])
			}

			for s1 := 0; s1 < q1; s1++ {
				for t1 := 0; t1 < q1; t1++ {
					rn1 := mat.MulH(mat.Mul(c.A[n1][t1], r), c.A[n1][s1])
					rho.Set(t1*q2+t2, s1*q2+s2, mat.Trace(mat.Mul(c.L[n1-1], rn1)))
				}
			}
		}
	}
	return rho, nil
}
