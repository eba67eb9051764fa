// Package tdvp provides exact diagonalization references for small chains, against which the matrix product state
// integrators in package mps are validated.
//
// Basis states are indexed with site 1 as the most significant digit.
package tdvp

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
	"github.com/fumin/tdvp/mps"
)

// Dim returns the Hilbert space dimension of sites with physical dimensions q[1..N], with q indexed like mps.Chain.Q.
func Dim(q []int) int {
	dim := 1
	for _, qn := range q[1:] {
		dim *= qn
	}
	return dim
}

// Hamiltonian returns the dense matrix of ham on the full Hilbert space.
func Hamiltonian(q []int, ham mps.Hamiltonian) *mat.Dense {
	N := len(q) - 1
	dim := Dim(q)
	h := mat.New(dim, dim)
	strides := strides(q)

	for col, ket := range digits(q) {
		for n := 1; n <= N; n++ {
			if ham.Field != nil {
				for s := 0; s < q[n]; s++ {
					v := ham.Field(n, s, ket[n])
					if v == 0 {
						continue
					}
					row := col + (s-ket[n])*strides[n]
					h.Set(row, col, h.At(row, col)+v)
				}
			}

			if ham.Bond == nil || n == N {
				continue
			}
			for s := 0; s < q[n]; s++ {
				for t := 0; t < q[n+1]; t++ {
					v := ham.Bond(n, s, t, ket[n], ket[n+1])
					if v == 0 {
						continue
					}
					row := col + (s-ket[n])*strides[n] + (t-ket[n+1])*strides[n+1]
					h.Set(row, col, h.At(row, col)+v)
				}
			}
		}
	}
	return h
}

// StateVector contracts the chain into its full state vector.
func StateVector(c *mps.Chain) []complex128 {
	psi := make([]complex128, Dim(c.Q))
	for i, ket := range digits(c.Q) {
		m := c.A[1][ket[1]]
		for n := 2; n <= c.N; n++ {
			m = mat.Mul(m, c.A[n][ket[n]])
		}
		psi[i] = m.At(0, 0)
	}
	return psi
}

// GroundState returns the lowest eigenvalue of h and its eigenvector.
func GroundState(h *mat.Dense) (float64, []complex128, error) {
	vals, vecs, err := mat.EigH(h)
	if err != nil {
		return math.NaN(), nil, errors.Wrap(err, "")
	}
	return vals[0], column(vecs, 0), nil
}

// Evolve returns the normalized state exp(-tau h) psi.
// A real tau is imaginary time evolution, and tau = i t is real time evolution by t.
func Evolve(h *mat.Dense, psi []complex128, tau complex128) ([]complex128, error) {
	if h.Rows() != len(psi) {
		return nil, errors.Errorf("%d %d", h.Rows(), len(psi))
	}
	vals, vecs, err := mat.EigH(h)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	// Shift the spectrum so that imaginary time evolution does not overflow.
	e0 := complex(vals[0], 0)

	out := make([]complex128, len(psi))
	for k, e := range vals {
		v := column(vecs, k)
		amp := Inner(v, psi) * cmplx.Exp(-tau*(complex(e, 0)-e0))
		for i := range out {
			out[i] += amp * v[i]
		}
	}

	norm := math.Sqrt(real(Inner(out, out)))
	if !(norm > 0) {
		return nil, errors.Errorf("%f", norm)
	}
	for i := range out {
		out[i] /= complex(norm, 0)
	}
	return out, nil
}

// Inner returns <x|y>.
func Inner(x, y []complex128) complex128 {
	if len(x) != len(y) {
		panic(fmt.Sprintf("%d %d", len(x), len(y)))
	}
	var s complex128
	for i, xi := range x {
		s += cmplx.Conj(xi) * y[i]
	}
	return s
}

// Expect returns <psi|o|psi>.
func Expect(o *mat.Dense, psi []complex128) complex128 {
	opsi := make([]complex128, len(psi))
	for i := range opsi {
		for j, pj := range psi {
			opsi[i] += o.At(i, j) * pj
		}
	}
	return Inner(psi, opsi)
}

// Distance returns min_phi |x - exp(i phi) y|, the distance between two normalized states up to a global phase.
func Distance(x, y []complex128) float64 {
	ov := Inner(x, y)
	phase := complex128(1)
	if a := cmplx.Abs(ov); a > 0 {
		phase = cmplx.Conj(ov) / complex(a, 0)
	}
	var d float64
	for i, xi := range x {
		diff := xi - phase*y[i]
		d += real(diff)*real(diff) + imag(diff)*imag(diff)
	}
	return math.Sqrt(d)
}

// Statistics are ground state statistics of a spin 1/2 chain.
type Statistics struct {
	EigenValue     []float64
	Magnetization  float64
	BinderCumulant float64
}

// GetStatistics computes the magnetization and Binder cumulant of the spin 1/2 state psi over numSpins sites.
func GetStatistics(numSpins int, eigenValues []float64, psi []complex128) (Statistics, error) {
	stats := Statistics{EigenValue: eigenValues}
	if len(psi) != 1<<numSpins {
		return Statistics{}, errors.Errorf("%d %d", len(psi), 1<<numSpins)
	}
	q := make([]int, numSpins+1)
	for n := 1; n <= numSpins; n++ {
		q[n] = 2
	}

	// spinUpBasis is the basis where the majority of spins are up.
	spinUpBasis := make([]int8, numSpins)
	var totalProb float64
	var m2 float64
	for i, ket := range digits(q) {
		pickSpinUp(spinUpBasis, ket[1:])
		amplitude := psi[i]
		probability := real(amplitude)*real(amplitude) + imag(amplitude)*imag(amplitude)

		var basisM float64
		for _, spin := range spinUpBasis {
			basisM += float64(spin)
		}

		totalProb += probability
		stats.Magnetization += probability * basisM
		stats.BinderCumulant += probability * math.Pow(basisM, 4)
		m2 += probability * math.Pow(basisM, 2)
	}
	if math.Abs(totalProb-1) > 1e-6 {
		return Statistics{}, errors.Errorf("%f", totalProb)
	}

	stats.Magnetization /= float64(numSpins)
	stats.BinderCumulant /= (m2 * m2)
	stats.BinderCumulant = 1 - stats.BinderCumulant/3
	return stats, nil
}

// pickSpinUp maps the basis state to spins, with the sign chosen so that the majority of spins are up.
// Physical index 0 is spin up, the +1 eigenstate of Z.
func pickSpinUp(upState []int8, state []int) {
	downs := 0
	for _, b := range state {
		if b == 1 {
			downs++
		}
	}

	sign := int8(1)
	if downs > len(state)-downs {
		sign = -1
	}
	for i, b := range state {
		switch b {
		case 0:
			upState[i] = sign
		default:
			upState[i] = -sign
		}
	}
}

// digits iterates over the basis states, yielding each index and its digits state[1..N].
// The yielded slice is reused between iterations.
func digits(q []int) func(yield func(int, []int) bool) {
	N := len(q) - 1
	state := make([]int, N+1)
	return func(yield func(int, []int) bool) {
		clear(state)
		for i := range Dim(q) {
			if !yield(i, state) {
				return
			}
			// Increment with site N as the least significant digit.
			for n := N; n >= 1; n-- {
				state[n]++
				if state[n] < q[n] {
					break
				}
				state[n] = 0
			}
		}
	}
}

func strides(q []int) []int {
	N := len(q) - 1
	st := make([]int, N+1)
	st[N] = 1
	for n := N - 1; n >= 1; n-- {
		st[n] = st[n+1] * q[n+1]
	}
	return st
}

func column(m *mat.Dense, k int) []complex128 {
	v := make([]complex128, m.Rows())
	for i := range v {
		v[i] = m.At(i, k)
	}
	return v
}
