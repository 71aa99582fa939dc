// Package fsolve implements the Forward Solve Engine (spec.md §4.4, C4):
// L*Y = B' over the broadcast/reduction dataflow described there. The
// dataflow itself lives in internal/engine; this package supplies the
// forward-specific wiring (L's block-column storage, Linv, LBtree/LRtree,
// the BC_L/RD_L tags).
package fsolve

import (
	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/comm"
	"github.com/cpmech/distrsolve/internal/engine"
	"github.com/cpmech/distrsolve/mesh"
	"github.com/cpmech/distrsolve/super"
	"github.com/cpmech/distrsolve/tree"
)

// Trees groups the per-local-supernode tree handles the forward solve
// forwards messages over (spec.md §6 "tree handles"). LBtree is indexed by
// local column-block (block.Index.LBj); LRtree by local row-block (LBi).
type Trees struct {
	LBtree []tree.Tree
	LRtree []tree.Tree
}

// Run solves L*Y=B' in place over x (spec.md §4.4). x and lsum are
// caller-allocated to idx.XLen()/idx.LSumLen() for the current nrhs; x must
// already hold B' (as placed there by redist.BToX) and lsum must be zeroed.
func Run(grid *mesh.Grid, idx *block.Index, f *super.Factor, trees *Trees, nrhs int, x, lsum []float64) error {
	return engine.Run(&engine.Spec{
		Grid: grid,
		Idx:  idx,
		Nrhs: nrhs,

		X:    x,
		Lsum: lsum,

		ModInit: f.FmodInit,
		Blocks:  f.LCol,
		Inv:     f.Linv,
		Diag:    f.LDiag,
		Upper:   false,

		BCast:  trees.LBtree,
		Reduce: trees.LRtree,

		BCTag: comm.TagBCL,
		RDTag: comm.TagRDL,

		NExpectBCastRX: f.NfrecvX,
	})
}
