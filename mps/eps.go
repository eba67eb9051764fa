package mps

import (
	"fmt"

	"github.com/fumin/tdvp/mat"
)

// Op2 is a two-site operator with elements op[u][v][s][t] = <u v|o|s t>.
type Op2 [][][][]complex128

// EpsR returns the right transfer map sum_s a1[s] x a2[s]^†.
func EpsR(x *mat.Dense, a1, a2 []*mat.Dense) *mat.Dense {
	checkEps(x, a1, a2, false)
	out := mat.New(a1[0].Rows(), a2[0].Rows())
	for s := range a1 {
		out.Add(mat.MulH(mat.Mul(a1[s], x), a2[s]))
	}
	return out
}

// EpsL returns the left transfer map sum_s a1[s]^† x a2[s].
func EpsL(x *mat.Dense, a1, a2 []*mat.Dense) *mat.Dense {
	checkEps(x, a1, a2, true)
	out := mat.New(a1[0].Cols(), a2[0].Cols())
	for s := range a1 {
		out.Add(mat.HMul(a1[s], mat.Mul(x, a2[s])))
	}
	return out
}

// EpsROp1s returns sum_{s,t} op[s][t] a1[t] x a2[s]^†.
// Zero operator elements are skipped.
func EpsROp1s(x *mat.Dense, a1, a2 []*mat.Dense, op [][]complex128) *mat.Dense {
	checkEps(x, a1, a2, false)
	out := mat.New(a1[0].Rows(), a2[0].Rows())
	for s := range a2 {
		for t := range a1 {
			if op[s][t] == 0 {
				continue
			}
			out.AddScaled(op[s][t], mat.MulH(mat.Mul(a1[t], x), a2[s]))
		}
	}
	return out
}

// EpsLOp1s returns sum_{s,t} op[s][t] a1[s]^† x a2[t].
func EpsLOp1s(x *mat.Dense, a1, a2 []*mat.Dense, op [][]complex128) *mat.Dense {
	checkEps(x, a1, a2, true)
	out := mat.New(a1[0].Cols(), a2[0].Cols())
	for s := range a1 {
		for t := range a2 {
			if op[s][t] == 0 {
				continue
			}
			out.AddScaled(op[s][t], mat.HMul(a1[s], mat.Mul(x, a2[t])))
		}
	}
	return out
}

func checkEps(x *mat.Dense, a1, a2 []*mat.Dense, left bool) {
	if len(a1) == 0 || len(a1) != len(a2) {
		panic(fmt.Sprintf("%d %d", len(a1), len(a2)))
	}
	xr, xc := x.Dims()
	r1, c1 := a1[0].Dims()
	r2, c2 := a2[0].Dims()
	switch {
	case left && (xr != r1 || xc != r2):
		panic(fmt.Sprintf("x %d %d, a1 %d %d, a2 %d %d", xr, xc, r1, c1, r2, c2))
	case !left && (xr != c1 || xc != c2):
		panic(fmt.Sprintf("x %d %d, a1 %d %d, a2 %d %d", xr, xc, r1, c1, r2, c2))
	}
}

// CalcAA returns the pairwise products aa[u][v] = a[u] ap1[v].
func CalcAA(a, ap1 []*mat.Dense) [][]*mat.Dense {
	aa := make([][]*mat.Dense, len(a))
	for u := range a {
		aa[u] = make([]*mat.Dense, len(ap1))
		for v := range ap1 {
			aa[u][v] = mat.Mul(a[u], ap1[v])
		}
	}
	return aa
}

// EpsROp2sA returns sum_{u,v} (sum_{s,t} op[u][v][s][t] a1[s] a2[t]) x (a3[u] a4[v])^†.
func EpsROp2sA(x *mat.Dense, a1, a2, a3, a4 []*mat.Dense, op Op2) *mat.Dense {
	return EpsROp2sAA12(x, CalcAA(a1, a2), a3, a4, op)
}

// EpsROp2sAA12 is EpsROp2sA with the products a1[s] a2[t] precomputed.
func EpsROp2sAA12(x *mat.Dense, aa12 [][]*mat.Dense, a3, a4 []*mat.Dense, op Op2) *mat.Dense {
	opf := func(u, v, s, t int) complex128 { return op[u][v][s][t] }
	return EpsROp2sAAFuncOp(x, aa12, CalcAA(a3, a4), opf)
}

// EpsROp2sAAFuncOp returns sum_{u,v} (sum_{s,t} op(u, v, s, t) aa12[s][t]) x aa34[u][v]^†.
func EpsROp2sAAFuncOp(x *mat.Dense, aa12, aa34 [][]*mat.Dense, op func(u, v, s, t int) complex128) *mat.Dense {
	out := mat.New(aa12[0][0].Rows(), aa34[0][0].Rows())
	sub := mat.New(aa12[0][0].Rows(), aa12[0][0].Cols())
	for u := range aa34 {
		for v := range aa34[u] {
			sub.Zero()
			for s := range aa12 {
				for t := range aa12[s] {
					if o := op(u, v, s, t); o != 0 {
						sub.AddScaled(o, aa12[s][t])
					}
				}
			}
			out.Add(mat.MulH(mat.Mul(sub, x), aa34[u][v]))
		}
	}
	return out
}

// EpsROp2sC12 returns sum_{u,v} c12[u][v] x (a3[u] a4[v])^†.
func EpsROp2sC12(x *mat.Dense, c12 [][]*mat.Dense, a3, a4 []*mat.Dense) *mat.Dense {
	return EpsROp2sC12AA34(x, c12, CalcAA(a3, a4))
}

// EpsROp2sC34 returns sum_{u,v} a1[u] a2[v] x c34[u][v]^†.
func EpsROp2sC34(x *mat.Dense, a1, a2 []*mat.Dense, c34 [][]*mat.Dense) *mat.Dense {
	return EpsROp2sAA12C34(x, CalcAA(a1, a2), c34)
}

// EpsROp2sC12AA34 returns sum_{u,v} c12[u][v] x aa34[u][v]^†.
func EpsROp2sC12AA34(x *mat.Dense, c12, aa34 [][]*mat.Dense) *mat.Dense {
	out := mat.New(c12[0][0].Rows(), aa34[0][0].Rows())
	for u := range aa34 {
		for v := range aa34[u] {
			out.Add(mat.MulH(mat.Mul(c12[u][v], x), aa34[u][v]))
		}
	}
	return out
}

// EpsROp2sAA12C34 returns sum_{u,v} aa12[u][v] x c34[u][v]^†.
func EpsROp2sAA12C34(x *mat.Dense, aa12, c34 [][]*mat.Dense) *mat.Dense {
	out := mat.New(aa12[0][0].Rows(), c34[0][0].Rows())
	for u := range c34 {
		for v := range c34[u] {
			out.Add(mat.MulH(mat.Mul(aa12[u][v], x), c34[u][v]))
		}
	}
	return out
}

// EpsLOp2sAA12C34 returns sum_{u,v} aa12[u][v]^† x c34[u][v].
func EpsLOp2sAA12C34(x *mat.Dense, aa12, c34 [][]*mat.Dense) *mat.Dense {
	out := mat.New(aa12[0][0].Cols(), c34[0][0].Cols())
	for u := range c34 {
		for v := range c34[u] {
			out.Add(mat.HMul(aa12[u][v], mat.Mul(x, c34[u][v])))
		}
	}
	return out
}

// CalcCFuncOp returns the coupling tensor c[s][t] = sum_{u,v} op(s, t, u, v) a[u] ap1[v].
func CalcCFuncOp(op func(s, t, u, v int) complex128, a, ap1 []*mat.Dense) [][]*mat.Dense {
	return CalcCFuncOpAA(op, CalcAA(a, ap1))
}

// CalcCFuncOpAA is CalcCFuncOp with the products a[u] ap1[v] precomputed.
func CalcCFuncOpAA(op func(s, t, u, v int) complex128, aa [][]*mat.Dense) [][]*mat.Dense {
	c := make([][]*mat.Dense, len(aa))
	for s := range aa {
		c[s] = make([]*mat.Dense, len(aa[s]))
		for t := range aa[s] {
			c[s][t] = mat.New(aa[s][t].Dims())
		}
	}
	for u := range aa {
		for v := range aa[u] {
			for s := range c {
				for t := range c[s] {
					if o := op(s, t, u, v); o != 0 {
						c[s][t].AddScaled(o, aa[u][v])
					}
				}
			}
		}
	}
	return c
}

// CalcCMatOpAA returns c[s][t] = sum_{u,v} op[s][t][u][v] aa[u][v].
func CalcCMatOpAA(op Op2, aa [][]*mat.Dense) [][]*mat.Dense {
	return CalcCFuncOpAA(func(s, t, u, v int) complex128 { return op[s][t][u][v] }, aa)
}
