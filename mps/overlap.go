package mps

import (
	"fmt"
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

const (
	// mpsLeftAxis is the axis of a_{l-1} in Figure 6, Ulrich Schollwock.
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2
)

// ToTensors returns the site tensors as rank 3 tensors of shape {D[n-1], q[n], D[n]}.
// Elements are rounded to single precision.
func (c *Chain) ToTensors() []*tensor.Dense {
	ts := make([]*tensor.Dense, 0, c.N)
	for n := 1; n <= c.N; n++ {
		t := tensor.Zeros(c.D[n-1], c.Q[n], c.D[n])
		for ijk := range t.All() {
			v := c.A[n][ijk[mpsUpAxis]].At(ijk[mpsLeftAxis], ijk[mpsRightAxis])
			t.SetAt(ijk, complex64(v))
		}
		ts = append(ts, t)
	}
	return ts
}

// InnerProduct computes the inner product <x|y> between two matrix product states in tensor form.
// See Section 4.2.1 Efficient evaluation of contractions, Ulrich Schollwock.
func InnerProduct(x, y []*tensor.Dense, bufs [2]*tensor.Dense) complex64 {
	if len(x) != len(y) {
		panic(fmt.Sprintf("%d %d", len(x), len(y)))
	}

	f := ones(bufs[0], 1, 1)
	const fTopAxis, fBottomAxis = 0, 1
	for i, xi := range x {
		yi := y[i]

		fyi := tensor.Contract(bufs[1], f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		tensor.Contract(f, xi.Conj(), fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}

	if !slices.Equal(f.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

// Overlap returns <x|y>, which for normalized states is the amplitude of the Loschmidt echo.
// Both chains must have the same physical dimensions.
func Overlap(x, y *Chain) (complex128, error) {
	if !slices.Equal(x.Q, y.Q) {
		return 0, errors.Wrap(ErrConfig, fmt.Sprintf("%#v %#v", x.Q, y.Q))
	}
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	ip := InnerProduct(x.ToTensors(), y.ToTensors(), bufs)
	return complex128(ip), nil
}

func ones(t *tensor.Dense, shape ...int) *tensor.Dense {
	t.Reset(shape...)
	for ijk := range t.All() {
		t.SetAt(ijk, 1)
	}
	return t
}
