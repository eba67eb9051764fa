package mat

import (
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// hermitianTol is the relative tolerance below which rounding drift in a Hermitian matrix is accepted.
	hermitianTol = 1e-10
	// rankTol is the relative residual below which a vector is treated as linearly dependent.
	rankTol = 1e-10
)

var (
	ErrNotHermitian = errors.New("matrix is not Hermitian")
	ErrNotPositive  = errors.New("matrix is not positive definite")
)

// EigH returns the eigenvalues, in ascending order, and the corresponding orthonormal eigenvectors (as columns) of
// the Hermitian part of a.
//
// A Hermitian H = X + iY is embedded into the real symmetric matrix [[X, -Y], [Y, X]], whose spectrum is that of H
// with every eigenvalue doubled. Each real eigenvector (u, v) maps to the complex eigenvector u + iv, and a pivoted
// Gram-Schmidt sweep picks one complex direction per eigenvalue pair.
// Every eigenvector is phased so that its largest component is real and positive.
func EigH(a *Dense) ([]float64, *Dense, error) {
	n := a.rows
	if a.cols != n {
		panic(fmt.Sprintf("%d %d", a.rows, a.cols))
	}
	if n == 0 {
		return nil, New(0, 0), nil
	}

	emb := mat.NewSymDense(2*n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			h := (a.At(i, j) + cmplx.Conj(a.At(j, i))) / 2
			emb.SetSym(i, j, real(h))
			emb.SetSym(n+i, n+j, real(h))
			emb.SetSym(i, n+j, -imag(h))
			emb.SetSym(j, n+i, imag(h))
		}
	}
	var es mat.EigenSym
	if ok := es.Factorize(emb, true); !ok {
		return nil, nil, errors.Errorf("eigen factorization failed %d", n)
	}
	var ev mat.Dense
	es.VectorsTo(&ev)

	cands := make([][]complex128, 2*n)
	for k := range cands {
		v := make([]complex128, n)
		for i := range v {
			v[i] = complex(ev.At(i, k), ev.At(n+i, k))
		}
		cands[k] = v
	}
	vecs := pivotedOrthonormalize(nil, cands, n)

	type valVec struct {
		val float64
		vec []complex128
	}
	vvs := make([]valVec, 0, n)
	hv := make([]complex128, n)
	for _, v := range vecs {
		for i := 0; i < n; i++ {
			var s complex128
			for j := 0; j < n; j++ {
				s += a.At(i, j) * v[j]
			}
			hv[i] = s
		}
		vvs = append(vvs, valVec{val: real(dot(v, hv)), vec: fixPhase(v)})
	}
	slices.SortStableFunc(vvs, func(x, y valVec) int {
		switch {
		case x.val < y.val:
			return -1
		case x.val > y.val:
			return 1
		default:
			return 0
		}
	})

	vals := make([]float64, n)
	evs := New(n, n)
	for k, vv := range vvs {
		vals[k] = vv.val
		for i, c := range vv.vec {
			evs.Set(i, k, c)
		}
	}
	return vals, evs, nil
}

// SqrtH returns the square root of the Hermitian positive definite matrix a, and its inverse.
func SqrtH(a *Dense) (*Dense, *Dense, error) {
	if !IsHermitian(a, hermitianTol) {
		return nil, nil, errors.Wrap(ErrNotHermitian, fmt.Sprintf("%v", a))
	}
	vals, vecs, err := EigH(a)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	sq := make([]float64, len(vals))
	sqInv := make([]float64, len(vals))
	for i, v := range vals {
		if !(v > 0) {
			return nil, nil, errors.Wrap(ErrNotPositive, fmt.Sprintf("%#v", vals))
		}
		sq[i] = math.Sqrt(v)
		sqInv[i] = 1 / sq[i]
	}
	sqrt := MulH(Mul(vecs, Diag(sq)), vecs)
	inv := MulH(Mul(vecs, Diag(sqInv)), vecs)
	return sqrt, inv, nil
}

// Inverse returns the inverse of the square matrix a.
// The complex problem is solved through its real embedding [[X, -Y], [Y, X]].
func Inverse(a *Dense) (*Dense, error) {
	n := a.rows
	if a.cols != n {
		panic(fmt.Sprintf("%d %d", a.rows, a.cols))
	}
	if n == 0 {
		return New(0, 0), nil
	}

	emb := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := a.At(i, j)
			emb.Set(i, j, real(v))
			emb.Set(n+i, n+j, real(v))
			emb.Set(i, n+j, -imag(v))
			emb.Set(n+i, j, imag(v))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(emb); err != nil {
		return nil, errors.Wrap(err, "")
	}

	b := New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b.Set(i, j, complex(inv.At(i, j), inv.At(n+i, j)))
		}
	}
	return b, nil
}

// Cholesky factorizes the Hermitian matrix a = u^† u with u upper triangular.
// ok is false when a is not numerically positive definite.
func Cholesky(a *Dense) (u *Dense, ok bool) {
	n := a.rows
	if a.cols != n {
		panic(fmt.Sprintf("%d %d", a.rows, a.cols))
	}
	u = New(n, n)
	for j := 0; j < n; j++ {
		d := real(a.At(j, j))
		for k := 0; k < j; k++ {
			ukj := u.At(k, j)
			d -= real(ukj)*real(ukj) + imag(ukj)*imag(ukj)
		}
		if !(d > 0) {
			return nil, false
		}
		ujj := math.Sqrt(d)
		u.Set(j, j, complex(ujj, 0))

		for i := j + 1; i < n; i++ {
			s := a.At(j, i)
			for k := 0; k < j; k++ {
				s -= cmplx.Conj(u.At(k, j)) * u.At(k, i)
			}
			u.Set(j, i, s/complex(ujj, 0))
		}
	}
	return u, true
}

// InvUpper returns the inverse of the upper triangular matrix u.
func InvUpper(u *Dense) *Dense {
	n := u.rows
	inv := New(n, n)
	for j := 0; j < n; j++ {
		inv.Set(j, j, 1/u.At(j, j))
		for i := j - 1; i >= 0; i-- {
			var s complex128
			for k := i + 1; k <= j; k++ {
				s += u.At(i, k) * inv.At(k, j)
			}
			inv.Set(i, j, -s/u.At(i, i))
		}
	}
	return inv
}

// SolveHPD solves a x = b for the Hermitian positive definite a.
// When the Cholesky factorization fails, the general inverse is used instead.
func SolveHPD(a, b *Dense) (*Dense, error) {
	n := a.rows
	if a.cols != n || b.rows != n {
		panic(fmt.Sprintf("%d %d %d", a.rows, a.cols, b.rows))
	}
	u, ok := Cholesky(a)
	if !ok {
		inv, err := Inverse(a)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return Mul(inv, b), nil
	}

	// Forward substitution u^† y = b, then back substitution u x = y.
	x := b.Copy()
	for c := 0; c < b.cols; c++ {
		for i := 0; i < n; i++ {
			s := x.At(i, c)
			for k := 0; k < i; k++ {
				s -= cmplx.Conj(u.At(k, i)) * x.At(k, c)
			}
			x.Set(i, c, s/u.At(i, i))
		}
		for i := n - 1; i >= 0; i-- {
			s := x.At(i, c)
			for k := i + 1; k < n; k++ {
				s -= u.At(i, k) * x.At(k, c)
			}
			x.Set(i, c, s/u.At(i, i))
		}
	}
	return x, nil
}

// NullSpace returns an orthonormal basis, as columns, of the null space of the m by n matrix a, m <= n.
// The basis always has n - m columns, as with the trailing columns of a complete QR factorization of a^†.
func NullSpace(a *Dense) *Dense {
	m, n := a.rows, a.cols
	if m > n {
		panic(fmt.Sprintf("%d %d", m, n))
	}

	// The row space of a is the column space of a^†.
	rowSpace := make([][]complex128, 0, m)
	for i := 0; i < m; i++ {
		v := make([]complex128, n)
		for j := 0; j < n; j++ {
			v[j] = cmplx.Conj(a.At(i, j))
		}
		rowSpace = append(rowSpace, v)
	}
	basis := gramSchmidt(rowSpace)

	units := make([][]complex128, n)
	for i := range units {
		units[i] = make([]complex128, n)
		units[i][i] = 1
	}
	basis = pivotedOrthonormalize(basis, units, n)

	// A rank deficient row space is padded by the first completion vectors, so that exactly n - m columns remain.
	null := New(n, n-m)
	for k, v := range basis[m:] {
		for i, c := range v {
			null.Set(i, k, c)
		}
	}
	return null
}

// gramSchmidt orthonormalizes vs in order, dropping vectors that are dependent on their predecessors.
func gramSchmidt(vs [][]complex128) [][]complex128 {
	basis := make([][]complex128, 0, len(vs))
	for _, v := range vs {
		w := slices.Clone(v)
		nrm0 := norm(w)
		if nrm0 == 0 {
			continue
		}
		// Orthogonalize twice for numerical stability.
		for range 2 {
			for _, b := range basis {
				axpy(w, -dot(b, w), b)
			}
		}
		nrm := norm(w)
		if nrm <= rankTol*nrm0 {
			continue
		}
		scale(w, complex(1/nrm, 0))
		basis = append(basis, w)
	}
	return basis
}

// pivotedOrthonormalize extends the orthonormal basis with candidates until it has size vectors.
// At every step the candidate with the largest residual is taken.
func pivotedOrthonormalize(basis, cands [][]complex128, size int) [][]complex128 {
	res := make([][]complex128, len(cands))
	for k, c := range cands {
		w := slices.Clone(c)
		for _, b := range basis {
			axpy(w, -dot(b, w), b)
		}
		res[k] = w
	}
	used := make([]bool, len(res))

	for len(basis) < size {
		best, bestNorm := -1, -1.0
		for k, w := range res {
			if used[k] {
				continue
			}
			if nrm := norm(w); nrm > bestNorm {
				best, bestNorm = k, nrm
			}
		}
		if best < 0 || bestNorm == 0 {
			panic(fmt.Sprintf("rank %d %d", len(basis), size))
		}
		used[best] = true

		u := res[best]
		for _, b := range basis {
			axpy(u, -dot(b, u), b)
		}
		scale(u, complex(1/norm(u), 0))
		basis = append(basis, u)

		for k, w := range res {
			if !used[k] {
				axpy(w, -dot(u, w), u)
			}
		}
	}
	return basis
}

func fixPhase(v []complex128) []complex128 {
	var m float64
	for _, c := range v {
		m = max(m, cmplx.Abs(c))
	}
	for _, c := range v {
		if a := cmplx.Abs(c); a >= m*(1-1e-8) {
			scale(v, cmplx.Conj(c)/complex(a, 0))
			break
		}
	}
	return v
}

// dot returns x^† y.
func dot(x, y []complex128) complex128 {
	var s complex128
	for i, xi := range x {
		s += cmplx.Conj(xi) * y[i]
	}
	return s
}

func norm(x []complex128) float64 {
	return math.Sqrt(real(dot(x, x)))
}

func axpy(y []complex128, a complex128, x []complex128) {
	for i, xi := range x {
		y[i] += a * xi
	}
}

func scale(x []complex128, a complex128) {
	for i := range x {
		x[i] *= a
	}
}
