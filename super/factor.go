// Package super holds the distributed supernodal L/U storage that a
// factorization step hands to the solve core (spec.md §3, §6). Building
// this data is out of scope for this module (spec.md §1): Factor is a
// plain data holder populated by an external factorizer (or, for tests and
// the CLI driver, by denselu), completed by dinv (Linv/Uinv, LDiag/UDiag,
// NSingularDiag) and treated as read-only by redist/fsolve/bsolve.
package super

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/mesh"
)

// LBlock is one off-diagonal nonzero block of L within a column-block: the
// n_i x n_k dense values of L_{i,k}, where i is the global row-block (the
// block's own supernode) and k is the owning column-block's supernode.
type LBlock struct {
	RowBlk int // global supernode number i
	Val    *mat.Dense
}

// UBlock is U's block-row analogue: the n_k x n_j dense values of U_{k,j}.
type UBlock struct {
	ColBlk int // global supernode number j
	Val    *mat.Dense
}

// Factor is the consumed factorization handle (spec.md §6 "Consumed
// inputs"). All slices are indexed by *local* block index as returned by
// block.Index.LBj (columns) or LBi (rows); see those methods' doc comments
// for the column/row indexing convention this module uses throughout.
type Factor struct {
	Xsup  []int // xsup[k] = first global column of supernode k
	Supno []int // supno[j] = supernode containing global column j

	Grid  *mesh.Grid
	Index *block.Index

	// L block-column layout: LCol[lj] lists the off-diagonal row-blocks of
	// column-block lj's supernode, excluding the unit-diagonal block
	// itself (spec.md §3 "L block-column layout").
	LCol [][]LBlock

	// U block-row layout: URow[li] lists the off-diagonal column-blocks of
	// row-block li's supernode (spec.md §3 "U is stored by block row").
	URow [][]UBlock

	// UCol is U's block-column view, the auxiliary index spec.md §6 calls
	// Ucb_indptr/Ucb_valptr: UCol[lj] lists the off-diagonal row-blocks i
	// with U_{i,j} != 0, the shape backward solve's broadcast-triggered
	// update needs even though U is stored block-row. Built by ComputeUCol
	// from URow; shares LBlock's shape since both list (other-block,
	// value) pairs keyed by the same column-block.
	UCol [][]LBlock

	// Linv[lj]/Uinv[lj] are the dense diagonal-block inverses computed by
	// package dinv, present only where this process is diagonal for
	// GlobalOfLocalCol(lj) (spec.md §3 "present only on diagonal
	// processes").
	Linv []*mat.Dense
	Uinv []*mat.Dense

	// LDiag[lj]/UDiag[lj] are the raw as-factored diagonal blocks dinv.Compute
	// was given, retained (not just consumed) so the solve engines can fall
	// back to kernel.Trsm against them when Linv[lj]/Uinv[lj] is nil because
	// the inverse could not be computed (spec.md §7 item 4).
	LDiag []*mat.Dense
	UDiag []*mat.Dense

	// NSingularDiag counts diagonal blocks dinv.Compute could not invert
	// (missing or numerically singular), surfaced by solve.Run as a
	// non-fatal positive info code instead of aborting (spec.md §7 item 4
	// "record in info, continue").
	NSingularDiag int

	// FmodInit/BmodInit are the local-off-diagonal-contribution counts the
	// solve engines seed fmod/bmod from (spec.md §3 "fmod"/"bmod"). Unlike
	// Linv/Uinv these are indexed per *local row-block* (li, as returned by
	// block.Index.LBi): fmod/bmod gate forwarding of lsum[i] up the
	// row-reduction tree (spec.md §4.4.1), which is a row-block-local
	// notion, not a column one. See DESIGN.md for why this differs from
	// x/Linv/Uinv's column indexing.
	FmodInit []int
	BmodInit []int

	// NfrecvX/NbrecvX are this process's total expected incoming broadcast
	// message counts for the forward/backward solves (spec.md §6).
	NfrecvX, NbrecvX int
}

// NewFactor allocates an empty Factor sized for the given index's local
// column/row block counts. Callers populate LCol/URow/Linv/Uinv/FmodInit/
// BmodInit afterwards.
func NewFactor(xsup, supno []int, grid *mesh.Grid, idx *block.Index) *Factor {
	nlc := idx.NLocalCols()
	nlr := idx.NLocalRows()
	return &Factor{
		Xsup:     xsup,
		Supno:    supno,
		Grid:     grid,
		Index:    idx,
		LCol:     make([][]LBlock, nlc),
		URow:     make([][]UBlock, nlr),
		Linv:     make([]*mat.Dense, nlc),
		Uinv:     make([]*mat.Dense, nlc),
		LDiag:    make([]*mat.Dense, nlc),
		UDiag:    make([]*mat.Dense, nlc),
		FmodInit: make([]int, nlr),
		BmodInit: make([]int, nlr),
	}
}

// ComputeFmod derives FmodInit from LCol: for every off-diagonal block
// L_{i,k} this process owns, row-block i gets one pending contribution.
// ComputeBmod is its URow-derived counterpart; since U is already stored
// block-row-wise, BmodInit[li] is simply len(URow[li]).
func (f *Factor) ComputeFmod() {
	for li := range f.FmodInit {
		f.FmodInit[li] = 0
	}
	for _, blocks := range f.LCol {
		for _, b := range blocks {
			li := f.Index.LBi(b.RowBlk)
			f.FmodInit[li]++
		}
	}
}

func (f *Factor) ComputeBmod() {
	for li, blocks := range f.URow {
		f.BmodInit[li] = len(blocks)
	}
}

// ComputeUCol derives UCol from URow (spec.md §6's Ucb_indptr/Ucb_valptr
// role): every U_{i,j} block recorded under row-block i's URow entry is
// re-filed under column-block j's UCol entry so the backward solve can find,
// given a newly-broadcast column j, every row that depends on it.
func (f *Factor) ComputeUCol() {
	f.UCol = make([][]LBlock, f.Index.NLocalCols())
	for li, blocks := range f.URow {
		i := f.Index.GlobalOfLocalRow(li)
		for _, b := range blocks {
			lj := f.Index.LBj(b.ColBlk)
			f.UCol[lj] = append(f.UCol[lj], LBlock{RowBlk: i, Val: b.Val})
		}
	}
}

// DiagPair holds the n_k x n_k dense diagonal blocks of L and U for one
// supernode k. They are supplied directly here since dinv needs them and
// the LCol/URow lists above hold off-diagonal blocks only.
type DiagPair struct {
	L *mat.Dense // unit lower triangular, n_k x n_k
	U *mat.Dense // non-unit upper triangular, n_k x n_k
}

// Diag holds the as-factored (pre-inverse) diagonal blocks, keyed by local
// column-block index, populated only where this process is diagonal for
// that supernode.
type Diag struct {
	Blocks []*DiagPair
}

// NewDiag allocates a Diag sized for idx's local column-block count.
func NewDiag(idx *block.Index) *Diag {
	return &Diag{Blocks: make([]*DiagPair, idx.NLocalCols())}
}
