// Package mat implements dense complex matrices and the Hermitian linear algebra used by the TDVP engine.
//
// Products go through the gonum BLAS (zgemm), and spectral routines reduce complex Hermitian problems to
// real symmetric ones that gonum's LAPACK port can factorize.
package mat

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/cmplxs"
)

var (
	PauliX = [][]complex128{
		{0, 1},
		{1, 0},
	}
	PauliY = [][]complex128{
		{0, -1i},
		{1i, 0},
	}
	PauliZ = [][]complex128{
		{1, 0},
		{0, -1},
	}
)

// Dense is a row-major complex matrix.
type Dense struct {
	rows int
	cols int
	data []complex128
}

// New returns a zero matrix of the given shape.
func New(rows, cols int) *Dense {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("%d %d", rows, cols))
	}
	return &Dense{rows: rows, cols: cols, data: make([]complex128, rows*cols)}
}

// M creates a matrix from a slice of rows.
func M(dense [][]complex128) *Dense {
	m := New(len(dense), len(dense[0]))
	for i, row := range dense {
		if len(row) != m.cols {
			panic(fmt.Sprintf("%d %d %d", i, len(row), m.cols))
		}
		copy(m.data[i*m.cols:], row)
	}
	return m
}

// Identity returns the n by n identity.
func Identity(n int) *Dense {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m.data[i*n+i] = 1
	}
	return m
}

// Diag returns the diagonal matrix with entries d.
func Diag(d []float64) *Dense {
	m := New(len(d), len(d))
	for i, v := range d {
		m.data[i*m.cols+i] = complex(v, 0)
	}
	return m
}

func (m *Dense) Dims() (int, int) { return m.rows, m.cols }
func (m *Dense) Rows() int { return m.rows }
func (m *Dense) Cols() int { return m.cols }

func (m *Dense) At(i, j int) complex128 {
	m.check(i, j)
	return m.data[i*m.cols+j]
}

func (m *Dense) Set(i, j int, v complex128) {
	m.check(i, j)
	m.data[i*m.cols+j] = v
}

func (m *Dense) check(i, j int) {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("index %d %d shape %d %d", i, j, m.rows, m.cols))
	}
}

// Raw returns the backing row-major slice.
func (m *Dense) Raw() []complex128 { return m.data }

func (m *Dense) Copy() *Dense {
	c := &Dense{rows: m.rows, cols: m.cols, data: make([]complex128, len(m.data))}
	copy(c.data, m.data)
	return c
}

// CopyFrom overwrites m with src, which must have the same shape.
func (m *Dense) CopyFrom(src *Dense) {
	sameShape(m, src)
	copy(m.data, src.data)
}

func (m *Dense) Zero() {
	clear(m.data)
}

// H returns the conjugate transpose of m.
func (m *Dense) H() *Dense {
	h := New(m.cols, m.rows)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			h.data[j*h.cols+i] = cmplx.Conj(m.data[i*m.cols+j])
		}
	}
	return h
}

// Scale multiplies m by c in place and returns m.
func (m *Dense) Scale(c complex128) *Dense {
	cmplxs.Scale(c, m.data)
	return m
}

// AddScaled performs m += c*b in place and returns m.
func (m *Dense) AddScaled(c complex128, b *Dense) *Dense {
	sameShape(m, b)
	cmplxs.AddScaled(m.data, c, b.data)
	return m
}

// Add performs m += b in place and returns m.
func (m *Dense) Add(b *Dense) *Dense {
	sameShape(m, b)
	cmplxs.Add(m.data, b.data)
	return m
}

// Sub performs m -= b in place and returns m.
func (m *Dense) Sub(b *Dense) *Dense {
	return m.AddScaled(-1, b)
}

func sameShape(a, b *Dense) {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Sprintf("%d %d, %d %d", a.rows, a.cols, b.rows, b.cols))
	}
}

func (m *Dense) general() cblas128.General {
	return cblas128.General{Rows: m.rows, Cols: m.cols, Stride: max(1, m.cols), Data: m.data}
}

// gemm performs c = alpha*op(a)*op(b) + beta*c.
// c must not share storage with a or b.
func gemm(tA, tB blas.Transpose, alpha complex128, a, b *Dense, beta complex128, c *Dense) {
	m, k := a.rows, a.cols
	if tA != blas.NoTrans {
		m, k = k, m
	}
	kb, n := b.rows, b.cols
	if tB != blas.NoTrans {
		kb, n = n, kb
	}
	if k != kb || c.rows != m || c.cols != n {
		panic(fmt.Sprintf("gemm %d %d, %d %d -> %d %d", m, k, kb, n, c.rows, c.cols))
	}
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		if beta == 0 {
			c.Zero()
		} else {
			c.Scale(beta)
		}
		return
	}
	cblas128.Gemm(tA, tB, alpha, a.general(), b.general(), beta, c.general())
}

// Mul returns a*b.
func Mul(a, b *Dense) *Dense {
	c := New(a.rows, b.cols)
	gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
	return c
}

// MulH returns a*b^†.
func MulH(a, b *Dense) *Dense {
	c := New(a.rows, b.rows)
	gemm(blas.NoTrans, blas.ConjTrans, 1, a, b, 0, c)
	return c
}

// HMul returns a^†*b.
func HMul(a, b *Dense) *Dense {
	c := New(a.cols, b.cols)
	gemm(blas.ConjTrans, blas.NoTrans, 1, a, b, 0, c)
	return c
}

// AddMul performs dst += alpha*a*b.
func AddMul(dst *Dense, alpha complex128, a, b *Dense) {
	gemm(blas.NoTrans, blas.NoTrans, alpha, a, b, 1, dst)
}

// Prod returns the product of a sequence of matrices, evaluated left to right.
func Prod(ms ...*Dense) *Dense {
	if len(ms) == 0 {
		panic("empty product")
	}
	p := ms[0]
	for _, m := range ms[1:] {
		p = Mul(p, m)
	}
	if len(ms) == 1 {
		p = p.Copy()
	}
	return p
}

// Trace returns the sum of the diagonal.
func Trace(a *Dense) complex128 {
	if a.rows != a.cols {
		panic(fmt.Sprintf("%d %d", a.rows, a.cols))
	}
	var t complex128
	for i := 0; i < a.rows; i++ {
		t += a.data[i*a.cols+i]
	}
	return t
}

// Adot returns the trace inner product tr(a^† b).
func Adot(a, b *Dense) complex128 {
	sameShape(a, b)
	var s complex128
	for i, av := range a.data {
		s += cmplx.Conj(av) * b.data[i]
	}
	return s
}

// Norm returns the Frobenius norm.
func Norm(a *Dense) float64 {
	var s float64
	for _, v := range a.data {
		s += real(v)*real(v) + imag(v)*imag(v)
	}
	return math.Sqrt(s)
}

// MaxAbs returns the largest element magnitude.
func MaxAbs(a *Dense) float64 {
	var m float64
	for _, v := range a.data {
		m = max(m, cmplx.Abs(v))
	}
	return m
}

// AllClose reports whether |a - b| <= atol + rtol*|b| element-wise.
func AllClose(a, b *Dense, atol, rtol float64) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	for i, av := range a.data {
		bv := b.data[i]
		if !(cmplx.Abs(av-bv) <= atol+rtol*cmplx.Abs(bv)) {
			return false
		}
	}
	return true
}

// IsDiagonal reports whether every off-diagonal element is within tol of zero.
func IsDiagonal(a *Dense, tol float64) bool {
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			if i != j && cmplx.Abs(a.data[i*a.cols+j]) > tol {
				return false
			}
		}
	}
	return true
}

// IsHermitian reports whether a is square and |a - a^†| <= tol*max(1, |a|) element-wise.
func IsHermitian(a *Dense, tol float64) bool {
	if a.rows != a.cols {
		return false
	}
	scale := max(1, MaxAbs(a))
	for i := 0; i < a.rows; i++ {
		for j := i; j < a.cols; j++ {
			d := a.data[i*a.cols+j] - cmplx.Conj(a.data[j*a.cols+i])
			if !(cmplx.Abs(d) <= tol*scale) {
				return false
			}
		}
	}
	return true
}

// Kron returns the Kronecker product of a and b.
func Kron(a, b *Dense) *Dense {
	k := New(a.rows*b.rows, a.cols*b.cols)
	for i := 0; i < a.rows; i++ {
		for j := 0; j < a.cols; j++ {
			av := a.data[i*a.cols+j]
			if av == 0 {
				continue
			}
			for y := 0; y < b.rows; y++ {
				for x := 0; x < b.cols; x++ {
					k.data[(i*b.rows+y)*k.cols+j*b.cols+x] = av * b.data[y*b.cols+x]
				}
			}
		}
	}
	return k
}

func (m *Dense) String() string {
	lines := make([]string, 0, m.rows)
	for i := 0; i < m.rows; i++ {
		cs := make([]string, 0, m.cols)
		for j := 0; j < m.cols; j++ {
			cs = append(cs, format(m.data[i*m.cols+j]))
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}
	return strings.Join(lines, "\n")
}

func format(v complex128) string {
	switch {
	case v == 0:
		return " 0"
	case imag(v) == 0:
		return fmt.Sprintf("% g", real(v))
	case real(v) == 0:
		return fmt.Sprintf("% gi", imag(v))
	default:
		return fmt.Sprintf("% g%+gi", real(v), imag(v))
	}
}
