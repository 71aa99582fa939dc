// Package solve implements the Solve Orchestrator (spec.md §4.6, C6): the
// single entry point tying redistribution, forward solve and backward solve
// into the `Redistribute(B->X) -> ForwardSolve -> BackwardSolve ->
// Redistribute(X->B)` pipeline spec.md §2 describes.
package solve

import (
	"github.com/cpmech/gosl/chk"

	"github.com/cpmech/distrsolve/bsolve"
	"github.com/cpmech/distrsolve/fsolve"
	"github.com/cpmech/distrsolve/mesh"
	"github.com/cpmech/distrsolve/redist"
	"github.com/cpmech/distrsolve/super"
	"github.com/cpmech/distrsolve/tree"
)

// Trees groups every per-local-supernode tree handle the solve consumes
// (spec.md §3 "solve.Trees"), split by direction and role exactly as
// fsolve.Trees/bsolve.Trees expect.
type Trees struct {
	LBtree, LRtree []tree.Tree
	UBtree, URtree []tree.Tree
}

// Run is the solve entry point (spec.md §6 "Exposed"): it overwrites b in
// place with the solution of A*X=B in the same row-block distribution and
// dimensions it entered with. info follows spec.md §7's argument-validation
// taxonomy (negative info names the offending argument, no side effects);
// a positive info counts the diagonal blocks that could not be inverted
// (f.NSingularDiag), with a nil error. Allocation and communication failures
// are reported through the returned error instead of a C-style
// out-parameter, the idiomatic Go rendition of "implementations may
// optionally surface" (spec.md §7 item 3).
func Run(n int, f *super.Factor, perm *redist.Perm, grid *mesh.Grid, trees *Trees, plan *redist.Plan, b []float64, mLoc, fstRow, ldb, nrhs int) (info int, err error) {
	switch {
	case n < 0:
		return -1, nil
	case nrhs < 0:
		return -11, nil
	}
	if nrhs == 0 {
		return 0, nil // spec.md §8 boundary case: nrhs==0 is a no-op success
	}

	idx := f.Index
	if idx.Nrhs() != nrhs {
		idx.Rebuild(nrhs)
	}

	x := make([]float64, idx.XLen())
	lsum := make([]float64, idx.LSumLen())

	if err := redist.BToX(grid, idx, perm, plan, b, mLoc, fstRow, ldb, nrhs, x); err != nil {
		return 0, chk.Err("solve.Run: B->X redistribution failed:\n%v", err)
	}

	ft := &fsolve.Trees{LBtree: trees.LBtree, LRtree: trees.LRtree}
	if err := fsolve.Run(grid, idx, f, ft, nrhs, x, lsum); err != nil {
		return 0, chk.Err("solve.Run: forward solve failed:\n%v", err)
	}

	// spec.md §4.5: lsum is re-zeroed between the two solves and block
	// headers re-written (I2 must hold at this point too, not just after
	// B->X).
	for i := range lsum {
		lsum[i] = 0
	}
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		x[idx.XHeader(lj)] = float64(idx.GlobalOfLocalCol(lj))
	}

	bt := &bsolve.Trees{UBtree: trees.UBtree, URtree: trees.URtree}
	if err := bsolve.Run(grid, idx, f, bt, nrhs, x, lsum); err != nil {
		return 0, chk.Err("solve.Run: backward solve failed:\n%v", err)
	}

	if err := redist.XToB(grid, idx, perm, plan, x, nrhs, mLoc, fstRow, ldb, b); err != nil {
		return 0, chk.Err("solve.Run: X->B redistribution failed:\n%v", err)
	}

	// spec.md §7 item 4: a missing/singular diagonal block is non-fatal —
	// record it in info instead of an error, rather than abort.
	if f.NSingularDiag > 0 {
		info = f.NSingularDiag
	}
	return info, nil
}
