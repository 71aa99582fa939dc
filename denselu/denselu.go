// Package denselu builds in-memory dense-to-supernodal factorizations: the
// reference LU/Cholesky factorizer this module ships in place of an external
// sparse factorization step, which spec.md §1 explicitly places out of scope.
// It is deliberately the simplest possible factorizer — one supernode per
// column, no pivoting, no fill-reducing ordering — adequate both for the
// small matrices spec.md §8's end-to-end test scenarios describe and for
// main.go's CLI driver, which has no other source of a factorization to feed
// C3-C6.
package denselu

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/gosl/chk"

	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/comm"
	"github.com/cpmech/distrsolve/dinv"
	"github.com/cpmech/distrsolve/mesh"
	"github.com/cpmech/distrsolve/redist"
	"github.com/cpmech/distrsolve/solve"
	"github.com/cpmech/distrsolve/super"
	"github.com/cpmech/distrsolve/tree"
)

// DoolittleLU factors a via plain Gaussian elimination without pivoting:
// a = l*u, l unit lower triangular, u upper triangular. Adequate for the
// well-conditioned, pivot-free test matrices spec.md §8 lists.
func DoolittleLU(a *mat.Dense) (l, u *mat.Dense, err error) {
	n, m := a.Dims()
	if n != m {
		return nil, nil, chk.Err("denselu.DoolittleLU: matrix is %dx%d, not square", n, m)
	}
	l = mat.NewDense(n, n, nil)
	u = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		l.Set(i, i, 1)
	}
	for j := 0; j < n; j++ {
		for i := 0; i <= j; i++ {
			sum := 0.0
			for k := 0; k < i; k++ {
				sum += l.At(i, k) * u.At(k, j)
			}
			u.Set(i, j, a.At(i, j)-sum)
		}
		piv := u.At(j, j)
		if piv == 0 {
			return nil, nil, chk.Err("denselu.DoolittleLU: zero pivot at column %d", j)
		}
		for i := j + 1; i < n; i++ {
			sum := 0.0
			for k := 0; k < j; k++ {
				sum += l.At(i, k) * u.At(k, j)
			}
			l.Set(i, j, (a.At(i, j)-sum)/piv)
		}
	}
	return l, u, nil
}

// CholeskyLU derives a unit-lower/upper LU pair from a's Cholesky factor,
// used for the SPD test scenario (spec.md §8 scenario 5): a = Lc*Lcᵀ, so with
// D = diag(Lc), L = Lc*D⁻¹ (unit lower) and U = D*Lcᵀ satisfy a = L*U.
func CholeskyLU(a *mat.SymDense) (l, u *mat.Dense, err error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, nil, chk.Err("denselu.CholeskyLU: matrix is not positive definite")
	}
	n := a.SymmetricDim()
	var lc mat.TriDense
	chol.LTo(&lc)

	l = mat.NewDense(n, n, nil)
	u = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k <= i; k++ {
			l.Set(i, k, lc.At(i, k)/lc.At(k, k))
		}
	}
	for i := 0; i < n; i++ {
		d := lc.At(i, i)
		for k := i; k < n; k++ {
			u.Set(i, k, d*lc.At(k, i))
		}
	}
	return l, u, nil
}

// System is a complete dense triangular-solve problem: global L/U factors
// (one supernode per column) and the right-hand side B, ready to be
// partitioned across an arbitrary Pr x Pc mesh.
type System struct {
	N, Pr, Pc, Nrhs int
	L, U            *mat.Dense
	B               *mat.Dense // N x Nrhs (mat.Dense, row-major)
}

// NewSystem wraps already-factored L/U and a right-hand side into a System
// ready for Build. Pr*Pc need not divide N; RowRange distributes the
// remainder across the first ranks.
func NewSystem(pr, pc int, l, u, b *mat.Dense) *System {
	n, _ := l.Dims()
	_, nrhs := b.Dims()
	return &System{N: n, Pr: pr, Pc: pc, Nrhs: nrhs, L: l, U: u, B: b}
}

// RowRange returns the contiguous block of global B rows rank owns under
// this factorizer's row-block distribution (plain block distribution, the
// simplest row-to-process map satisfying spec.md §6's contract).
func (s *System) RowRange(rank int) (fstRow, mLoc int) {
	nproc := s.Pr * s.Pc
	base := s.N / nproc
	rem := s.N % nproc
	fstRow = rank*base + min(rank, rem)
	mLoc = base
	if rank < rem {
		mLoc++
	}
	return
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// rowToProc returns this factorizer's B-row-to-process map.
func (s *System) rowToProc() []int {
	nproc := s.Pr * s.Pc
	out := make([]int, s.N)
	for r := 0; r < nproc; r++ {
		fst, m := s.RowRange(r)
		for i := fst; i < fst+m; i++ {
			out[i] = r
		}
	}
	return out
}

// Build constructs every per-rank artifact solve.Run needs: the mesh grid
// bound to comm, a fully populated super.Factor (diagonal inverses, fmod/
// bmod, UCol all derived), the broadcast/reduction trees, the B<->X
// communication plan, and an identity permutation (spec.md §1 lists
// permutation setup as an external collaborator; this exercises C3-C6, not
// scaling/pivoting).
func (s *System) Build(c comm.Communicator) (*mesh.Grid, *super.Factor, *solve.Trees, *redist.Plan, *redist.Perm, error) {
	grid := mesh.New(s.Pr, s.Pc, c)

	xsup := make([]int, s.N+1)
	supno := make([]int, s.N)
	for k := 0; k <= s.N; k++ {
		xsup[k] = k
	}
	for j := 0; j < s.N; j++ {
		supno[j] = j
	}

	idx := block.New(xsup, supno, grid, s.Nrhs)
	f := super.NewFactor(xsup, supno, grid, idx)
	diag := super.NewDiag(idx)

	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		if grid.IsDiag(k) {
			diag.Blocks[lj] = &super.DiagPair{
				L: mat.NewDense(1, 1, []float64{1}),
				U: mat.NewDense(1, 1, []float64{s.U.At(k, k)}),
			}
		}
		var off []super.LBlock
		for i := 0; i < s.N; i++ {
			if i == k || !grid.OwnsRow(i) {
				continue
			}
			if v := s.L.At(i, k); v != 0 {
				off = append(off, super.LBlock{RowBlk: i, Val: mat.NewDense(1, 1, []float64{v})})
			}
		}
		f.LCol[lj] = off
	}

	for li := 0; li < idx.NLocalRows(); li++ {
		i := idx.GlobalOfLocalRow(li)
		var off []super.UBlock
		for j := 0; j < s.N; j++ {
			if j == i || !grid.OwnsCol(j) {
				continue
			}
			if v := s.U.At(i, j); v != 0 {
				off = append(off, super.UBlock{ColBlk: j, Val: mat.NewDense(1, 1, []float64{v})})
			}
		}
		f.URow[li] = off
	}

	f.ComputeFmod()
	f.ComputeBmod()
	f.ComputeUCol()

	dinv.Compute(f, diag)

	nz := func(v float64) bool { return v != 0 }

	lbtree := make([]tree.Tree, idx.NLocalCols())
	ubtree := make([]tree.Tree, idx.NLocalCols())
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		lbtree[lj] = buildBroadcastTree(grid, k, s.Nrhs, func(pr int) bool {
			for i := pr; i < s.N; i += s.Pr {
				if i != k && nz(s.L.At(i, k)) {
					return true
				}
			}
			return false
		}, comm.TagBCL)
		ubtree[lj] = buildBroadcastTree(grid, k, s.Nrhs, func(pr int) bool {
			for i := pr; i < s.N; i += s.Pr {
				if i != k && nz(s.U.At(i, k)) {
					return true
				}
			}
			return false
		}, comm.TagBCU)
	}

	lrtree := make([]tree.Tree, idx.NLocalRows())
	urtree := make([]tree.Tree, idx.NLocalRows())
	f.NfrecvX = 0
	f.NbrecvX = 0
	for li := 0; li < idx.NLocalRows(); li++ {
		i := idx.GlobalOfLocalRow(li)
		lrtree[li] = buildReduceTree(grid, i, s.Nrhs, func(pc int) bool {
			for k := pc; k < s.N; k += s.Pc {
				if k != i && nz(s.L.At(i, k)) {
					return true
				}
			}
			return false
		}, comm.TagRDL)
		urtree[li] = buildReduceTree(grid, i, s.Nrhs, func(pc int) bool {
			for j := pc; j < s.N; j += s.Pc {
				if j != i && nz(s.U.At(i, j)) {
					return true
				}
			}
			return false
		}, comm.TagRDU)
	}
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		if !grid.IsDiag(k) && len(f.LCol[lj]) > 0 {
			f.NfrecvX++
		}
	}
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		if !grid.IsDiag(k) && len(f.UCol[lj]) > 0 {
			f.NbrecvX++
		}
	}

	trees := &solve.Trees{LBtree: lbtree, LRtree: lrtree, UBtree: ubtree, URtree: urtree}

	plan := s.buildPlan(grid)
	perm := &redist.Perm{R: identity(s.N), C: identity(s.N)}

	return grid, f, trees, plan, perm, nil
}

func identity(n int) []int {
	v := make([]int, n)
	for i := range v {
		v[i] = i
	}
	return v
}

// buildBroadcastTree builds one LBtree/UBtree entry for global supernode k:
// rooted at k's diagonal process, fanning out to every other mesh row
// (within this process's mesh column) that holds an off-diagonal block of
// column k, per holds(pr).
func buildBroadcastTree(grid *mesh.Grid, k, nrhs int, holds func(pr int) bool, tag int) tree.Tree {
	msgSize := 1 + nrhs
	send := func(to int, payload []float64) error { return grid.Comm.Send(tag, to, payload) }
	if !grid.IsDiag(k) {
		return tree.NewList(nil, false, msgSize, send)
	}
	var dests []int
	for pr := 0; pr < grid.Pr; pr++ {
		if pr == grid.MyRow {
			continue
		}
		if holds(pr) {
			dests = append(dests, grid.PNUM(pr, grid.MyCol))
		}
	}
	return tree.NewList(dests, true, msgSize, send)
}

// buildReduceTree builds one LRtree/URtree entry for global row-block i:
// non-root processes holding a contribution (holds(MyCol)) forward toward
// i's diagonal within the mesh row, the others forward nothing; the
// root's Dests instead lists its expected children (so DestCount reports
// how many reduction messages it must still receive, spec.md §4.4.1), since
// the root never calls Forward on this tree.
func buildReduceTree(grid *mesh.Grid, i, nrhs int, holds func(pc int) bool, tag int) tree.Tree {
	msgSize := 1 + nrhs
	send := func(to int, payload []float64) error { return grid.Comm.Send(tag, to, payload) }
	if grid.IsDiag(i) {
		var children []int
		for pc := 0; pc < grid.Pc; pc++ {
			if pc == grid.MyCol {
				continue
			}
			if holds(pc) {
				children = append(children, grid.PNUM(grid.MyRow, pc))
			}
		}
		return tree.NewList(children, true, msgSize, send)
	}
	if !holds(grid.MyCol) {
		// Not one of the root's counted children: nothing to forward.
		return tree.NewList(nil, false, msgSize, send)
	}
	parent := grid.PNUM(grid.MyRow, grid.PCOL(i))
	return tree.NewList([]int{parent}, false, msgSize, send)
}

// buildPlan computes the B<->X Alltoallv plan for grid's rank by way of the
// full sender x receiver traffic matrix; building this plan is out of scope
// for production code (spec.md §1) but requires only global row-ownership
// arithmetic here, adequate for test scaffolding.
func (s *System) buildPlan(grid *mesh.Grid) *redist.Plan {
	nproc := s.Pr * s.Pc
	m := make([][]int, nproc) // m[bOwner][xOwner]
	for r := range m {
		m[r] = make([]int, nproc)
	}
	rowToProc := s.rowToProc()
	for row := 0; row < s.N; row++ {
		bOwner := rowToProc[row]
		xOwner := grid.PNUM(row%s.Pr, row%s.Pc)
		m[bOwner][xOwner]++
	}

	r := grid.Comm.Rank()
	b2xSend := append([]int(nil), m[r]...)
	b2xRecv := make([]int, nproc)
	for d := 0; d < nproc; d++ {
		b2xRecv[d] = m[d][r]
	}
	x2bSend := b2xRecv
	x2bRecv := b2xSend

	return &redist.Plan{
		B2XSendCnt: b2xSend,
		B2XRecvCnt: b2xRecv,
		B2XSDispls: redist.DisplsFromCounts(b2xSend),
		B2XRDispls: redist.DisplsFromCounts(b2xRecv),
		X2BSendCnt: x2bSend,
		X2BRecvCnt: x2bRecv,
		X2BSDispls: redist.DisplsFromCounts(x2bSend),
		X2BRDispls: redist.DisplsFromCounts(x2bRecv),
		RowToProc:  rowToProc,
	}
}
