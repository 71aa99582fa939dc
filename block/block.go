// Package block implements the bijections between global row/supernode
// coordinates, process-mesh coordinates, and local block indices (spec.md
// §4.1, C1). Every exported method here is a constant-time table lookup or
// integer arithmetic expression; the tables themselves are built once by
// New and never mutated afterwards.
package block

import "github.com/cpmech/distrsolve/mesh"

// Index is the block index algebra for one factorization, bound to one
// process mesh. It precomputes the `ilsum`-style prefix-sum tables spec.md
// §6 lists among the factorization handle's consumed inputs, so XBlk and
// LSumBlk are O(1) lookups rather than per-call loops.
type Index struct {
	xsup  []int // xsup[k] = first global column of supernode k; len nsupers+1
	supno []int // supno[j] = supernode containing global column j; len n
	grid  *mesh.Grid

	locCols  []int // locCols[lj] = global supernode number of the lj-th column-block owned by this mesh column
	locRows  []int // locRows[li] = global supernode number of the li-th row-block owned by this mesh row
	ilsumCol []int // prefix sums over locCols, one cell (header) + SuperSize*nrhs per entry; built per nrhs, see Rebuild
	ilsumRow []int
	nrhs     int
}

// New builds an Index for the given nrhs. xsup must have nsupers+1 entries
// with xsup[nsupers] == n; supno must have one entry per global column.
func New(xsup, supno []int, grid *mesh.Grid, nrhs int) *Index {
	x := &Index{xsup: xsup, supno: supno, grid: grid}
	nsupers := len(xsup) - 1
	for k := 0; k < nsupers; k++ {
		if grid.OwnsCol(k) {
			x.locCols = append(x.locCols, k)
		}
		if grid.OwnsRow(k) {
			x.locRows = append(x.locRows, k)
		}
	}
	x.Rebuild(nrhs)
	return x
}

// Rebuild recomputes the ilsum prefix-sum tables for a new nrhs. solve.Run
// calls this at entry when nrhs differs from the value the tables were last
// built for; nrhs is then fixed for the duration of that Run.
func (x *Index) Rebuild(nrhs int) {
	x.nrhs = nrhs
	x.ilsumCol = prefixSums(x.xsup, x.locCols, nrhs)
	x.ilsumRow = prefixSums(x.xsup, x.locRows, nrhs)
}

func prefixSums(xsup []int, loc []int, nrhs int) []int {
	sums := make([]int, len(loc)+1)
	for i, k := range loc {
		size := xsup[k+1] - xsup[k]
		sums[i+1] = sums[i] + 1 + size*nrhs
	}
	return sums
}

// Nsupers is the number of supernodes.
func (x *Index) Nsupers() int { return len(x.xsup) - 1 }

// NLocalCols is the number of column-blocks owned by this process's mesh
// column (the domain of LBj/XBlk).
func (x *Index) NLocalCols() int { return len(x.locCols) }

// NLocalRows is the number of row-blocks owned by this process's mesh row
// (the domain of LBi/LSumBlk).
func (x *Index) NLocalRows() int { return len(x.locRows) }

// BlockNum returns the supernode containing global row/column `row`.
func (x *Index) BlockNum(row int) int { return x.supno[row] }

// FstBlockC returns the first global column of supernode k.
func (x *Index) FstBlockC(k int) int { return x.xsup[k] }

// SuperSize returns the number of columns in supernode k.
func (x *Index) SuperSize(k int) int { return x.xsup[k+1] - x.xsup[k] }

// PROW returns the mesh row owning block-row k.
func (x *Index) PROW(k int) int { return x.grid.PROW(k) }

// PCOL returns the mesh column owning block-column k.
func (x *Index) PCOL(k int) int { return x.grid.PCOL(k) }

// PNUM returns the rank at mesh coordinate (pr, pc).
func (x *Index) PNUM(pr, pc int) int { return x.grid.PNUM(pr, pc) }

// LBj returns the local column-block index of global supernode k, valid
// only when this process's mesh column owns k (PCOL(k) == grid.MyCol).
func (x *Index) LBj(k int) int { return k / x.grid.Pc }

// LBi returns the local row-block index of global supernode k, valid only
// when this process's mesh row owns k (PROW(k) == grid.MyRow).
func (x *Index) LBi(k int) int { return k / x.grid.Pr }

// GlobalOfLocalCol maps a local column-block index back to its global
// supernode number.
func (x *Index) GlobalOfLocalCol(lj int) int { return x.locCols[lj] }

// GlobalOfLocalRow maps a local row-block index back to its global
// supernode number.
func (x *Index) GlobalOfLocalRow(li int) int { return x.locRows[li] }

// XBlk returns the offset of the body of local column-block lj in the x
// array (one past its header cell).
func (x *Index) XBlk(lj int) int { return x.ilsumCol[lj] + 1 }

// LSumBlk returns the offset of the body of local row-block li in the lsum
// array (one past its header cell).
func (x *Index) LSumBlk(li int) int { return x.ilsumRow[li] + 1 }

// XHeader returns the index of local column-block lj's header cell
// (XBlk(lj)-1), where the invariant x[XHeader(lj)] == k must hold.
func (x *Index) XHeader(lj int) int { return x.XBlk(lj) - 1 }

// LSumHeader is LSumBlk's header-cell counterpart.
func (x *Index) LSumHeader(li int) int { return x.LSumBlk(li) - 1 }

// XLen is the total length required for the x array given the current nrhs.
func (x *Index) XLen() int { return x.ilsumCol[len(x.ilsumCol)-1] }

// LSumLen is XLen's lsum-array counterpart.
func (x *Index) LSumLen() int { return x.ilsumRow[len(x.ilsumRow)-1] }

// BodyLen returns SuperSize(k)*nrhs, the number of value cells (excluding
// the header) supernode k occupies in either array.
func (x *Index) BodyLen(k int) int { return x.SuperSize(k) * x.nrhs }

// Nrhs is the right-hand-side column count the tables were last built for.
func (x *Index) Nrhs() int { return x.nrhs }
