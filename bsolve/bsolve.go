// Package bsolve implements the Backward Solve Engine (spec.md §4.5, C5):
// U*X=Y, the structural dual of fsolve. It shares fsolve's dataflow
// (internal/engine) and supplies U-specific wiring instead: U's
// column-block view (UCol, derived from the block-row storage by
// super.Factor.ComputeUCol), Uinv, UBtree/URtree, the BC_U/RD_U tags.
package bsolve

import (
	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/comm"
	"github.com/cpmech/distrsolve/internal/engine"
	"github.com/cpmech/distrsolve/mesh"
	"github.com/cpmech/distrsolve/super"
	"github.com/cpmech/distrsolve/tree"
)

// Trees groups the per-local-supernode tree handles the backward solve
// forwards messages over. UBtree is indexed by local column-block (LBj);
// URtree by local row-block (LBi).
type Trees struct {
	UBtree []tree.Tree
	URtree []tree.Tree
}

// Run solves U*X=Y in place over x (spec.md §4.5). x must already hold Y
// (the forward solve's output) and lsum must be re-zeroed by the caller
// before calling Run, per spec.md §4.5 "lsum is re-zeroed between the two
// solves, and block headers are re-written."
func Run(grid *mesh.Grid, idx *block.Index, f *super.Factor, trees *Trees, nrhs int, x, lsum []float64) error {
	return engine.Run(&engine.Spec{
		Grid: grid,
		Idx:  idx,
		Nrhs: nrhs,

		X:    x,
		Lsum: lsum,

		ModInit: f.BmodInit,
		Blocks:  f.UCol,
		Inv:     f.Uinv,
		Diag:    f.UDiag,
		Upper:   true,

		BCast:  trees.UBtree,
		Reduce: trees.URtree,

		BCTag: comm.TagBCU,
		RDTag: comm.TagRDU,

		NExpectBCastRX: f.NbrecvX,
	})
}
