package mps

import (
	"github.com/fumin/tdvp/mat"
)

// NearestNeighbor returns the matrix element <s t|h|u v> of the coupling between sites n and n+1.
type NearestNeighbor func(n, s, t, u, v int) complex128

// SingleSite returns the matrix element <s|o|t> of a one-site operator at site n.
type SingleSite func(n, s, t int) complex128

// Hamiltonian is a nearest neighbor coupling plus an optional single site field.
// A nil term is absent.
type Hamiltonian struct {
	Bond  NearestNeighbor
	Field SingleSite
}

// PauliOp returns the single site operator c*o, where o is a fixed matrix such as mat.PauliZ.
func PauliOp(c complex128, o [][]complex128) SingleSite {
	return func(n, s, t int) complex128 {
		return c * o[s][t]
	}
}

// TransverseIsing returns the open chain Hamiltonian H = -j sum_n Z_n Z_{n+1} - h sum_n X_n.
func TransverseIsing(j, h float64) Hamiltonian {
	zz := mat.Kron(mat.M(mat.PauliZ), mat.M(mat.PauliZ))
	var ham Hamiltonian
	if j != 0 {
		ham.Bond = func(n, s, t, u, v int) complex128 {
			return complex(-j, 0) * zz.At(s*2+t, u*2+v)
		}
	}
	if h != 0 {
		ham.Field = PauliOp(complex(-h, 0), mat.PauliX)
	}
	return ham
}

// matrix evaluates a single site operator at site n into a q by q matrix.
func (o SingleSite) matrix(n, q int) [][]complex128 {
	m := make([][]complex128, q)
	for s := range m {
		m[s] = make([]complex128, q)
		for t := range m[s] {
			m[s][t] = o(n, s, t)
		}
	}
	return m
}
