package solve_test

import (
	"math/rand"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/gosl/chk"

	"github.com/cpmech/distrsolve/comm"
	"github.com/cpmech/distrsolve/denselu"
	"github.com/cpmech/distrsolve/redist"
	"github.com/cpmech/distrsolve/solve"
)

// run drives sys's solve across every rank of its Pr x Pc mesh (a single
// goroutine per rank, wired together by an in-process comm.Hub so these
// tests exercise C3-C6's full distributed dataflow without mpirun) and
// returns the resulting N x Nrhs solution.
func run(t *testing.T, sys *denselu.System, bFull *mat.Dense) *mat.Dense {
	t.Helper()
	nproc := sys.Pr * sys.Pc
	hub := comm.NewHub(nproc)

	rows := make([][]float64, sys.N)
	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, nproc)

	for r := 0; r < nproc; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := hub.Comm(r)
			grid, factor, trees, plan, perm, err := sys.Build(c)
			if err != nil {
				errs[r] = err
				return
			}
			fstRow, mLoc := sys.RowRange(r)
			bLoc := make([]float64, mLoc*sys.Nrhs)
			for i := 0; i < mLoc; i++ {
				for j := 0; j < sys.Nrhs; j++ {
					bLoc[i+j*mLoc] = bFull.At(fstRow+i, j)
				}
			}
			if _, err := solve.Run(sys.N, factor, perm, grid, trees, plan, bLoc, mLoc, fstRow, mLoc, sys.Nrhs); err != nil {
				errs[r] = err
				return
			}
			mu.Lock()
			for i := 0; i < mLoc; i++ {
				row := make([]float64, sys.Nrhs)
				for j := 0; j < sys.Nrhs; j++ {
					row[j] = bLoc[i+j*mLoc]
				}
				rows[fstRow+i] = row
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			t.Fatalf("solve.Run failed: %v", e)
		}
	}

	out := mat.NewDense(sys.N, sys.Nrhs, nil)
	for i, row := range rows {
		for j, v := range row {
			out.Set(i, j, v)
		}
	}
	return out
}

// buildSystem factors a with denselu.DoolittleLU and wraps it with b.
func buildSystem(t *testing.T, pr, pc int, a, b *mat.Dense) *denselu.System {
	t.Helper()
	l, u, err := denselu.DoolittleLU(a)
	if err != nil {
		t.Fatalf("DoolittleLU failed: %v", err)
	}
	return denselu.NewSystem(pr, pc, l, u, b)
}

// Scenario 1: N=4, diagonal A, Pr=Pc=1.
func TestScenarioDiagonal(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 2, 0, 0,
		0, 0, 3, 0,
		0, 0, 0, 4,
	})
	b := mat.NewDense(4, 1, []float64{1, 4, 9, 16})
	sys := buildSystem(t, 1, 1, a, b)
	x := run(t, sys, b)
	want := []float64{1, 2, 3, 4}
	for i, w := range want {
		chk.Scalar(t, "x", 1e-12, x.At(i, 0), w)
	}
}

// Scenario 2: lower bidiagonal A, Pr=Pc=1.
func TestScenarioLowerTriangular(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		2, 0, 0, 0,
		1, 2, 0, 0,
		0, 1, 2, 0,
		0, 0, 1, 2,
	})
	b := mat.NewDense(4, 1, []float64{2, 3, 4, 5})
	sys := buildSystem(t, 1, 1, a, b)
	x := run(t, sys, b)
	want := []float64{1, 1, 1.5, 1.75}
	for i, w := range want {
		chk.Scalar(t, "x", 1e-12, x.At(i, 0), w)
	}
}

// Scenario 3: same A, nrhs=2, second column is 2x the first (linearity).
func TestScenarioMultipleRHS(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		2, 0, 0, 0,
		1, 2, 0, 0,
		0, 1, 2, 0,
		0, 0, 1, 2,
	})
	b := mat.NewDense(4, 2, []float64{
		2, 4,
		3, 6,
		4, 8,
		5, 10,
	})
	sys := buildSystem(t, 1, 1, a, b)
	x := run(t, sys, b)
	for i := 0; i < 4; i++ {
		chk.Scalar(t, "x col1 vs 2*col0", 1e-12, x.At(i, 1), 2*x.At(i, 0))
	}
}

// Scenario 4: N=8 block-diagonal (two independent 4x4 copies of scenario
// 2's A), Pr=2, Pc=1 — exercises diagonal-process ownership routing across
// mesh rows.
func TestScenarioBlockDiagonal(t *testing.T) {
	a := mat.NewDense(8, 8, nil)
	blk := []float64{
		2, 0, 0, 0,
		1, 2, 0, 0,
		0, 1, 2, 0,
		0, 0, 1, 2,
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			a.Set(r, c, blk[r*4+c])
			a.Set(r+4, c+4, blk[r*4+c])
		}
	}
	b := mat.NewDense(8, 1, []float64{2, 3, 4, 5, 2, 3, 4, 5})
	sys := buildSystem(t, 2, 1, a, b)
	x := run(t, sys, b)
	want := []float64{1, 1, 1.5, 1.75, 1, 1, 1.5, 1.75}
	for i, w := range want {
		chk.Scalar(t, "x", 1e-10, x.At(i, 0), w)
	}
}

// Scenario 5: random N=200 SPD matrix, Pr=Pc=2, nrhs=3, residual bound.
func TestScenarioSPD(t *testing.T) {
	const n = 200
	rng := rand.New(rand.NewSource(1))
	raw := make([]float64, n*n)
	for i := range raw {
		raw[i] = rng.NormFloat64()
	}
	m := mat.NewDense(n, n, raw)
	var sym mat.SymDense
	sym.SymOuterK(1, m)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, sym.At(i, i)+float64(n))
	}

	l, u, err := denselu.CholeskyLU(&sym)
	if err != nil {
		t.Fatalf("CholeskyLU failed: %v", err)
	}

	const nrhs = 3
	xtrue := mat.NewDense(n, nrhs, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < nrhs; j++ {
			xtrue.Set(i, j, rng.NormFloat64())
		}
	}
	var b mat.Dense
	b.Mul(&sym, xtrue)

	sys := denselu.NewSystem(2, 2, l, u, &b)
	x := run(t, sys, &b)

	var ax mat.Dense
	ax.Mul(&sym, x)
	var resid mat.Dense
	resid.Sub(&ax, &b)

	bInf := maxAbs(&b)
	rInf := maxAbs(&resid)
	if rInf/bInf > 1e-8 {
		t.Fatalf("residual too large: %e (bInf=%e)", rInf, bInf)
	}
}

// maxAbs returns the infinity norm (largest absolute entry) of m, matching
// spec.md §8 (I1)'s ‖.‖_∞ residual bound.
func maxAbs(m *mat.Dense) float64 {
	r, c := m.Dims()
	best := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if v < 0 {
				v = -v
			}
			if v > best {
				best = v
			}
		}
	}
	return best
}

// Scenario 6: single RHS, fully connected off-diagonals (dense lower
// triangular), Pr=Pc=2 — every fmod starts positive, exercising the
// tree-reduction protocol end-to-end.
func TestScenarioFullyConnected(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{
		4, 0, 0, 0,
		1, 4, 0, 0,
		1, 1, 4, 0,
		1, 1, 1, 4,
	})
	xtrue := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	var b mat.Dense
	b.Mul(a, xtrue)

	sys := buildSystem(t, 2, 2, a, &b)
	x := run(t, sys, &b)
	for i := 0; i < 4; i++ {
		chk.Scalar(t, "x", 1e-9, x.At(i, 0), xtrue.At(i, 0))
	}
}

// Boundary: nrhs==0 is a no-op success (solve.go's explicit early return),
// not an error and not a zero-row panic. The system is built for one
// right-hand side (mat.Dense rejects a zero-width matrix); Run is then
// called with nrhs=0.
func TestBoundaryZeroRHS(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{2, 0, 0, 1, 2, 0, 0, 1, 2})
	b := mat.NewDense(3, 1, []float64{2, 3, 4})
	sys := buildSystem(t, 1, 1, a, b)

	c := comm.NewHub(1).Comm(0)
	grid, factor, trees, plan, perm, err := sys.Build(c)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ft := &solve.Trees{LBtree: trees.LBtree, LRtree: trees.LRtree, UBtree: trees.UBtree, URtree: trees.URtree}
	info, err := solve.Run(sys.N, factor, perm, grid, ft, plan, nil, 3, 0, 3, 0)
	if err != nil {
		t.Fatalf("solve.Run failed: %v", err)
	}
	if info != 0 {
		t.Fatalf("expected info=0 for nrhs=0, got %d", info)
	}
}

// Boundary: N==1, a trivial single-variable system.
func TestBoundarySingleVariable(t *testing.T) {
	a := mat.NewDense(1, 1, []float64{2})
	b := mat.NewDense(1, 1, []float64{6})
	sys := buildSystem(t, 1, 1, a, b)
	x := run(t, sys, b)
	chk.Scalar(t, "x", 1e-12, x.At(0, 0), 3)
}

// R2: A=I returns B unchanged.
func TestRoundTripIdentitySolve(t *testing.T) {
	a := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	b := mat.NewDense(3, 1, []float64{7, -2, 5})
	sys := buildSystem(t, 1, 1, a, b)
	x := run(t, sys, b)
	for i := 0; i < 3; i++ {
		chk.Scalar(t, "x", 1e-12, x.At(i, 0), b.At(i, 0))
	}
}

// R1: Redistribute_X_to_B after Redistribute_B_to_X is identity on values up
// to permutation. Exercised directly against redist (not through solve.Run)
// with an identity factor so X==B's supernode-block image, and the round
// trip must reproduce B exactly.
func TestRoundTripRedistribute(t *testing.T) {
	a := mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	b := mat.NewDense(4, 1, []float64{11, 22, 33, 44})
	sys := buildSystem(t, 1, 1, a, b)

	c := comm.NewHub(1).Comm(0)
	grid, factor, _, plan, perm, err := sys.Build(c)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	idx := factor.Index

	bFlat := make([]float64, 4)
	for i := 0; i < 4; i++ {
		bFlat[i] = b.At(i, 0)
	}

	x := make([]float64, idx.XLen())
	if err := redist.BToX(grid, idx, perm, plan, bFlat, 4, 0, 4, 1, x); err != nil {
		t.Fatalf("BToX failed: %v", err)
	}

	bBack := make([]float64, 4)
	if err := redist.XToB(grid, idx, perm, plan, x, 1, 4, 0, 4, bBack); err != nil {
		t.Fatalf("XToB failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		chk.Scalar(t, "roundtrip", 1e-14, bBack[i], b.At(i, 0))
	}
}
