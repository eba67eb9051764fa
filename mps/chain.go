// Package mps implements the time-dependent variational principle for open boundary matrix product states.
//
// Sites are numbered 1..N. The bond to the right of site n has dimension D[n], with D[0] = D[N] = 1.
// Every site tensor A[n] is stored as q[n] matrices A[n][s] of shape D[n-1] x D[n].
//
// References:
//   - Time-dependent variational principle for quantum lattices, Haegeman et al., arXiv:1103.0936
//   - Efficient classical simulation of slightly entangled quantum computations, Vidal, arXiv:quant-ph/0608197
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
package mps

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/fumin/tdvp/mat"
)

var (
	// ErrConfig is returned for malformed dimensions or site arguments.
	ErrConfig = errors.New("bad configuration")
)

// Diagnostics counts the non-fatal numerical events encountered by a chain.
type Diagnostics struct {
	CholeskyFallbacks   int
	SanityFailures      int
	ImplicitUnconverged int
}

// Chain is an open boundary matrix product state together with the environments and effective Hamiltonian used by
// the TDVP integrators.
type Chain struct {
	N int
	D []int
	Q []int

	// A[n][s] is the site tensor for n in 1..N.
	A [][]*mat.Dense
	// L[n] and R[n] are the left and right environments of bond n in 0..N.
	L []*mat.Dense
	R []*mat.Dense
	// C[n][s][t] is the coupling tensor for n in 1..N-1.
	C [][][]*mat.Dense
	// K[n] is the effective Hamiltonian for n in 1..N.
	K []*mat.Dense
	// Eta[n] is the norm of the tangent coefficient of site n.
	Eta []float64

	Ham Hamiltonian

	SanityChecks bool
	Logger       *log.Logger
	Diagnostics  Diagnostics

	// bondEnergy[n] and fieldEnergy[n] are the energies of the terms starting at site n.
	bondEnergy  []complex128
	fieldEnergy []complex128
}

// New creates a chain of numSites sites.
// d holds the requested bond dimensions D[0..N], and q the physical dimensions of sites 1..N.
// q may also have length N+1, in which case q[0] is ignored.
// Bond dimensions are clamped so that no bond is larger than the Hilbert space on either side of it.
func New(numSites int, d, q []int) (*Chain, error) {
	if numSites < 1 {
		return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%d", numSites))
	}
	if len(d) != numSites+1 {
		return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%d %#v", numSites, d))
	}
	c := &Chain{N: numSites, Logger: log.Default()}
	c.Q = make([]int, numSites+1)
	switch len(q) {
	case numSites:
		copy(c.Q[1:], q)
	case numSites + 1:
		copy(c.Q[1:], q[1:])
	default:
		return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%d %#v", numSites, q))
	}
	for n := 1; n <= numSites; n++ {
		if c.Q[n] < 1 {
			return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%#v", q))
		}
	}
	for _, dn := range d {
		if dn < 1 {
			return nil, errors.Wrap(ErrConfig, fmt.Sprintf("%#v", d))
		}
	}
	c.D = clampBonds(d, c.Q)

	N := c.N
	c.A = make([][]*mat.Dense, N+1)
	c.L = make([]*mat.Dense, N+1)
	c.R = make([]*mat.Dense, N+1)
	c.C = make([][][]*mat.Dense, N)
	c.K = make([]*mat.Dense, N+1)
	c.Eta = make([]float64, N+1)
	c.bondEnergy = make([]complex128, N+1)
	c.fieldEnergy = make([]complex128, N+1)
	c.L[0] = mat.Identity(c.D[0])
	c.R[0] = mat.New(c.D[0], c.D[0])
	for n := 1; n <= N; n++ {
		c.A[n] = make([]*mat.Dense, c.Q[n])
		for s := range c.A[n] {
			c.A[n][s] = mat.New(c.D[n-1], c.D[n])
		}
		c.L[n] = mat.New(c.D[n], c.D[n])
		c.R[n] = mat.New(c.D[n], c.D[n])
		c.K[n] = mat.New(c.D[n-1], c.D[n-1])
		if n < N {
			c.C[n] = make([][]*mat.Dense, c.Q[n])
			for s := range c.C[n] {
				c.C[n][s] = make([]*mat.Dense, c.Q[n+1])
				for t := range c.C[n][s] {
					c.C[n][s][t] = mat.New(c.D[n-1], c.D[n+1])
				}
			}
		}
	}
	c.R[N] = mat.Identity(c.D[N])

	c.setupA()
	c.CalcL(1, N)
	c.CalcR(0, N-1)
	return c, nil
}

// clampBonds returns the bond dimensions with D[0] = D[N] = 1 and D[n] <= min(q[1]...q[n], q[n+1]...q[N]).
func clampBonds(d, q []int) []int {
	N := len(d) - 1
	dims := make([]int, len(d))
	copy(dims, d)
	dims[0], dims[N] = 1, 1

	maxD := 1
	for _, dn := range dims {
		maxD = max(maxD, dn)
	}
	// The running products stop growing once they exceed every requested dimension.
	qacc := 1
	for n := N - 1; n >= 0; n-- {
		if qacc < maxD {
			qacc *= q[n+1]
		}
		dims[n] = min(dims[n], qacc)
	}
	qacc = 1
	for n := 1; n <= N; n++ {
		if qacc < maxD {
			qacc *= q[n]
		}
		dims[n] = min(dims[n], qacc)
	}
	return dims
}

// setupA initializes the state to a full rank product-like state.
func (c *Chain) setupA() {
	for n := 1; n <= c.N; n++ {
		for _, as := range c.A[n] {
			as.Zero()
		}

		f := complex(math.Sqrt(1/float64(c.Q[n])), 0)
		if c.D[n-1] == c.D[n] {
			for _, as := range c.A[n] {
				for i := 0; i < c.D[n]; i++ {
					as.Set(i, i, f)
				}
			}
			continue
		}

		if c.D[n] > c.D[n-1] {
			f = 1
		}
		// Walk the diagonal of each A[n][s], moving on to the next physical index when an edge is reached.
		var x, y, s int
		for range max(c.D[n], c.D[n-1]) {
			if s >= c.Q[n] {
				break
			}
			c.A[n][s].Set(x, y, f)
			x++
			y++
			switch {
			case x >= c.D[n-1]:
				x = 0
				s++
			case y >= c.D[n]:
				y = 0
				s++
			}
		}
	}
}

// Randomize sets every site tensor to random values and restores canonical form.
func (c *Chain) Randomize(rng *rand.Rand) error {
	for n := 1; n <= c.N; n++ {
		f := 1 / math.Sqrt(float64(c.Q[n]))
		for _, as := range c.A[n] {
			raw := as.Raw()
			for i := range raw {
				raw[i] = complex((rng.Float64()-0.5)*f, (rng.Float64()-0.5)*f)
			}
		}
	}
	if err := c.RestoreCanonical(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// AddNoise adds uniform noise of amplitude fac to the real and imaginary parts of every tensor element.
func (c *Chain) AddNoise(fac float64, rng *rand.Rand) {
	for n := 1; n <= c.N; n++ {
		for _, as := range c.A[n] {
			raw := as.Raw()
			for i := range raw {
				raw[i] += complex((rng.Float64()-0.5)*2*fac, (rng.Float64()-0.5)*2*fac)
			}
		}
	}
}

// State returns a deep copy of the site tensors, indexed like A.
func (c *Chain) State() [][]*mat.Dense {
	return copyTensors(c.A)
}

// SetState overwrites the site tensors with a, which must have the shapes of A.
// The environments are not updated.
func (c *Chain) SetState(a [][]*mat.Dense) error {
	if len(a) != c.N+1 {
		return errors.Wrap(ErrConfig, fmt.Sprintf("%d %d", len(a), c.N+1))
	}
	for n := 1; n <= c.N; n++ {
		if len(a[n]) != c.Q[n] {
			return errors.Wrap(ErrConfig, fmt.Sprintf("site %d: %d %d", n, len(a[n]), c.Q[n]))
		}
		for s, as := range a[n] {
			if r, cl := as.Dims(); r != c.D[n-1] || cl != c.D[n] {
				return errors.Wrap(ErrConfig, fmt.Sprintf("site %d %d: %d %d, expected %d %d", n, s, r, cl, c.D[n-1], c.D[n]))
			}
		}
	}
	c.setA(a)
	return nil
}

// setA copies a, which has the shapes of A, into the site tensors.
func (c *Chain) setA(a [][]*mat.Dense) {
	for n := 1; n <= c.N; n++ {
		for s, as := range a[n] {
			c.A[n][s].CopyFrom(as)
		}
	}
}

func copyTensors(a [][]*mat.Dense) [][]*mat.Dense {
	b := make([][]*mat.Dense, len(a))
	for n, an := range a {
		if an == nil {
			continue
		}
		b[n] = make([]*mat.Dense, len(an))
		for s, as := range an {
			b[n][s] = as.Copy()
		}
	}
	return b
}

// CalcL recomputes l[start..finish] from l[start-1] without changing the gauge.
func (c *Chain) CalcL(start, finish int) {
	if start < 1 {
		start = 1
	}
	if finish < 1 || finish > c.N {
		finish = c.N
	}
	for n := start; n <= finish; n++ {
		c.L[n] = EpsL(c.L[n-1], c.A[n], c.A[n])
	}
}

// CalcR recomputes r[hi..lo], in decreasing order, from r[hi+1] without changing the gauge.
func (c *Chain) CalcR(lo, hi int) {
	if lo < 0 {
		lo = 0
	}
	if hi < 0 || hi > c.N-1 {
		hi = c.N - 1
	}
	for n := hi; n >= lo; n-- {
		c.R[n] = EpsR(c.R[n+1], c.A[n+1], c.A[n+1])
	}
}

// SimpleRenorm normalizes the state by scaling A[N], which requires l to be up to date.
// When updateR is true, every r[n], n < N, is rescaled accordingly.
func (c *Chain) SimpleRenorm(updateR bool) {
	norm := real(c.L[c.N].At(0, 0))
	g := complex(1/math.Sqrt(norm), 0)
	for _, as := range c.A[c.N] {
		as.Scale(g)
	}

	c.L[c.N].Scale(complex(1/norm, 0))
	if updateR {
		for n := 0; n < c.N; n++ {
			c.R[n].Scale(complex(1/norm, 0))
		}
	}
}

// Update restores canonical form, then recomputes the coupling tensors and the effective Hamiltonian.
func (c *Chain) Update() error {
	if err := c.RestoreCanonical(); err != nil {
		return errors.Wrap(err, "")
	}
	c.CalcC(1, c.N)
	c.CalcK(1, c.N+1)
	return nil
}

func (c *Chain) checkSite(n int) {
	if n < 1 || n > c.N {
		panic(fmt.Sprintf("%d %d", n, c.N))
	}
}

func (c *Chain) diagnose(format string, v ...any) {
	c.Diagnostics.SanityFailures++
	c.Logger.Printf("sanity check failed: "+format, v...)
}
