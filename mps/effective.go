package mps

import (
	"github.com/fumin/tdvp/mat"
)

// CalcC computes the coupling tensors C[n] for n in [lo, hi), clamped to 1..N-1.
// C[n][s][t] = sum_{u,v} <s t|h|u v> A[n][u] A[n+1][v], see C in equation 44 of arXiv:1103.0936.
// Without a nearest neighbor term every C[n] is zero.
func (c *Chain) CalcC(lo, hi int) {
	lo = max(lo, 1)
	if hi < 1 || hi > c.N {
		hi = c.N
	}
	for n := lo; n < hi; n++ {
		if c.Ham.Bond == nil {
			for _, cs := range c.C[n] {
				for _, cst := range cs {
					cst.Zero()
				}
			}
			continue
		}
		op := func(s, t, u, v int) complex128 { return c.Ham.Bond(n, s, t, u, v) }
		c.C[n] = CalcCFuncOp(op, c.A[n], c.A[n+1])
	}
}

// CalcK computes the effective Hamiltonians K[n] for n in [lo, hi), clamped to 1..N, in decreasing order of n.
//
//	K[n] = sum_s A[n][s] K[n+1] A[n][s]^† + sum_{s,t} C[n][s][t] r[n+1] A[n+1][t]^† A[n][s]^† + sum_{s,t} <s|h|t> A[n][t] r[n] A[n][s]^†
//
// The energies of the bond term and the field term starting at site n are recorded separately.
func (c *Chain) CalcK(lo, hi int) {
	lo = max(lo, 1)
	if hi < 1 || hi > c.N+1 {
		hi = c.N + 1
	}
	for n := hi - 1; n >= lo; n-- {
		k := mat.New(c.D[n-1], c.D[n-1])

		c.bondEnergy[n] = 0
		if n < c.N {
			hr := mat.New(c.D[n-1], c.D[n-1])
			for s, as := range c.A[n] {
				for t, at := range c.A[n+1] {
					hr.Add(mat.MulH(mat.MulH(mat.Mul(c.C[n][s][t], c.R[n+1]), at), as))
				}
				k.Add(mat.MulH(mat.Mul(as, c.K[n+1]), as))
			}
			c.bondEnergy[n] = mat.Adot(c.L[n-1], hr)
			k.Add(hr)
		}

		c.fieldEnergy[n] = 0
		if c.Ham.Field != nil {
			hf := EpsROp1s(c.R[n], c.A[n], c.A[n], c.Ham.Field.matrix(n, c.Q[n]))
			c.fieldEnergy[n] = mat.Adot(c.L[n-1], hf)
			k.Add(hf)
		}

		c.K[n] = k
	}
}

// Energy returns the expectation value of the Hamiltonian, evaluated at site n.
// The terms starting left of n are taken from the last CalcK, and the rest from trace(l[n-1] K[n]).
// For a normalized state with up to date environments, the result does not depend on n.
// The terms left of n are only current after a full CalcK(1, N+1), as done by Update. A partial CalcK, such as the
// one in the sweeps of TakeStepImplicit, leaves them stale.
func (c *Chain) Energy(n int) complex128 {
	c.checkSite(n)
	var e complex128
	for m := 1; m < n; m++ {
		e += c.bondEnergy[m] + c.fieldEnergy[m]
	}
	return e + mat.Trace(mat.Mul(c.L[n-1], c.K[n]))
}
