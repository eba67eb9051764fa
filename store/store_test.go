package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fumin/tdvp/mat"
)

func newStore(t *testing.T) *Store {
	dir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := Open(filepath.Join(dir, "tdvp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testState(scale complex128) [][]*mat.Dense {
	return [][]*mat.Dense{
		nil,
		{
			mat.M([][]complex128{{1, 0}}).Scale(scale),
			mat.M([][]complex128{{0, 2i}}).Scale(scale),
		},
		{
			mat.M([][]complex128{{0.5}, {-1 + 1i}}).Scale(scale),
			mat.M([][]complex128{{0}, {3}}).Scale(scale),
		},
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	tests := []struct {
		run   string
		rec   Record
		state [][]*mat.Dense
	}{
		{run: "a", rec: Record{Step: 0, Tau: 0, Energy: -1.5, Eta: 0.25}, state: testState(1)},
		{run: "a", rec: Record{Step: 10, Tau: 0.5i, Energy: -1.75, Eta: 0.125}, state: testState(2)},
		{run: "b", rec: Record{Step: 10, Tau: 1, Energy: -2, Eta: 0}, state: testState(-1i)},
	}
	for _, test := range tests {
		require.NoError(t, s.Save(test.run, test.rec, test.state))
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s %d", test.run, test.rec.Step), func(t *testing.T) {
			rec, state, err := s.Load(test.run, test.rec.Step)
			require.NoError(t, err)
			require.Equal(t, test.rec, rec)
			require.Len(t, state, len(test.state))
			require.Nil(t, state[0])
			for n := 1; n < len(state); n++ {
				require.Len(t, state[n], len(test.state[n]))
				for sIdx, as := range state[n] {
					require.True(t, mat.AllClose(as, test.state[n][sIdx], 0, 0), "%s, expected %s", as, test.state[n][sIdx])
				}
			}
		})
	}

	recs, err := s.Records("a")
	require.NoError(t, err)
	require.Equal(t, []Record{tests[0].rec, tests[1].rec}, recs)

	latest, err := s.Latest("a")
	require.NoError(t, err)
	require.Equal(t, tests[1].rec, latest)
}

func TestSaveReplace(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	require.NoError(t, s.Save("run", Record{Step: 3, Energy: 1}, testState(1)))
	replaced := testState(0)
	replaced[2][0].Set(0, 0, 7)
	require.NoError(t, s.Save("run", Record{Step: 3, Energy: 2}, replaced))

	rec, state, err := s.Load("run", 3)
	require.NoError(t, err)
	require.Equal(t, 2.0, rec.Energy)
	require.Equal(t, complex128(7), state[2][0].At(0, 0))
	require.Equal(t, complex128(0), state[1][1].At(0, 1))

	recs, err := s.Records("run")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, _, err := s.Load("missing", 0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Latest("missing")
	require.ErrorIs(t, err, ErrNotFound)

	recs, err := s.Records("missing")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestReopen(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "tdvp.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("run", Record{Step: 1, Energy: -1}, testState(1)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Latest("run")
	require.NoError(t, err)
	require.Equal(t, Record{Step: 1, Energy: -1}, rec)
}
