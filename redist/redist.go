// Package redist implements the B<->X redistributor (spec.md §4.3, C3):
// moving numerical values between B's row-block layout and X's supernode-
// block layout held on diagonal processes, applying row/column permutations
// along the way.
package redist

import (
	"golang.org/x/sync/errgroup"

	"github.com/cpmech/gosl/chk"

	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/mesh"
)

// initHeaders stamps every local column-block's header cell with its global
// supernode number, establishing invariant I2 before any scatter happens.
func initHeaders(idx *block.Index, x []float64) {
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		x[idx.XHeader(lj)] = float64(idx.GlobalOfLocalCol(lj))
	}
}

// BToX moves B into X (spec.md §4.3 "B->X contract"). b is column-major,
// m_loc rows x nrhs cols, leading dimension ldb; fstRow is b's first global
// row. x must already be allocated to idx.XLen().
func BToX(grid *mesh.Grid, idx *block.Index, perm *Perm, plan *Plan, b []float64, mLoc, fstRow, ldb, nrhs int, x []float64) error {
	initHeaders(idx, x)

	if grid.Single() {
		return bToXSingle(idx, perm, b, mLoc, fstRow, ldb, nrhs, x)
	}

	nproc := grid.Pr * grid.Pc
	rowsByDest := make([][]int, nproc)
	for i := 0; i < mLoc; i++ {
		irow := perm.Apply(fstRow + i)
		k := idx.BlockNum(irow)
		dest := grid.PNUM(grid.PROW(k), grid.PCOL(k))
		rowsByDest[dest] = append(rowsByDest[dest], i)
	}

	totalSend := mLoc
	sendInt := make([]int, totalSend)
	sendVal := make([]float64, totalSend*nrhs)
	for dest, rows := range rowsByDest {
		base := plan.B2XSDispls[dest]
		if len(rows) != plan.B2XSendCnt[dest] {
			return chk.Err("redist.BToX: plan.B2XSendCnt[%d]=%d does not match %d rows actually bound for it", dest, plan.B2XSendCnt[dest], len(rows))
		}
		for j, i := range rows {
			irow := perm.Apply(fstRow + i)
			sendInt[base+j] = irow
			for c := 0; c < nrhs; c++ {
				sendVal[(base+j)*nrhs+c] = b[i+c*ldb]
			}
		}
	}

	totalRecv := sum(plan.B2XRecvCnt)
	recvInt := make([]int, totalRecv)
	if err := grid.Comm.AlltoallvInt(sendInt, plan.B2XSendCnt, plan.B2XSDispls, recvInt, plan.B2XRecvCnt, plan.B2XRDispls); err != nil {
		return chk.Err("redist.BToX: index Alltoallv failed:\n%v", err)
	}

	sendValCnt := scale(plan.B2XSendCnt, nrhs)
	sendValDispl := scale(plan.B2XSDispls, nrhs)
	recvValCnt := scale(plan.B2XRecvCnt, nrhs)
	recvValDispl := scale(plan.B2XRDispls, nrhs)
	recvVal := make([]float64, totalRecv*nrhs)
	if err := grid.Comm.Alltoallv(sendVal, sendValCnt, sendValDispl, recvVal, recvValCnt, recvValDispl); err != nil {
		return chk.Err("redist.BToX: value Alltoallv failed:\n%v", err)
	}

	for j := 0; j < totalRecv; j++ {
		irow := recvInt[j]
		k := idx.BlockNum(irow)
		lj := idx.LBj(k)
		fst := idx.FstBlockC(k)
		rowInBlk := irow - fst
		nk := idx.SuperSize(k)
		body := idx.XBlk(lj)
		for c := 0; c < nrhs; c++ {
			x[body+c*nk+rowInBlk] = recvVal[j*nrhs+c]
		}
	}
	return nil
}

// bToXSingle is the Pr*Pc==1 fast path (spec.md §4.3 "Single-process fast
// path"): no MPI, rows scattered directly and in parallel across an
// errgroup-bounded worker pool since each row maps to a disjoint x cell.
func bToXSingle(idx *block.Index, perm *Perm, b []float64, mLoc, fstRow, ldb, nrhs int, x []float64) error {
	var g errgroup.Group
	g.SetLimit(maxWorkers())
	for i := 0; i < mLoc; i++ {
		i := i
		g.Go(func() error {
			irow := perm.Apply(fstRow + i)
			k := idx.BlockNum(irow)
			lj := idx.LBj(k)
			fst := idx.FstBlockC(k)
			rowInBlk := irow - fst
			nk := idx.SuperSize(k)
			body := idx.XBlk(lj)
			for c := 0; c < nrhs; c++ {
				x[body+c*nk+rowInBlk] = b[i+c*ldb]
			}
			return nil
		})
	}
	return g.Wait()
}

// XToB is BToX's inverse (spec.md §4.3 "X->B contract"): each diagonal
// process packs (globalRow, x value) per destination rank from plan's B
// row-to-process map and scatters back into b.
func XToB(grid *mesh.Grid, idx *block.Index, perm *Perm, plan *Plan, x []float64, nrhs int, mLoc, fstRow, ldb int, b []float64) error {
	if grid.Single() {
		return xToBSingle(idx, perm, x, nrhs, mLoc, fstRow, ldb, b)
	}

	nproc := grid.Pr * grid.Pc
	origByDest := make([][]int, nproc)
	valByDest := make([][]float64, nproc)
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		if !grid.IsDiag(k) {
			continue
		}
		fst := idx.FstBlockC(k)
		n := idx.SuperSize(k)
		body := idx.XBlk(lj)
		for r := 0; r < n; r++ {
			irow := fst + r
			orig := perm.Orig(irow)
			dest := plan.RowToProc[orig]
			origByDest[dest] = append(origByDest[dest], orig)
			for c := 0; c < nrhs; c++ {
				valByDest[dest] = append(valByDest[dest], x[body+c*n+r])
			}
		}
	}

	totalSend := sum(plan.X2BSendCnt)
	sendInt := make([]int, totalSend)
	sendVal := make([]float64, totalSend*nrhs)
	for dest := 0; dest < nproc; dest++ {
		base := plan.X2BSDispls[dest]
		copy(sendInt[base:base+len(origByDest[dest])], origByDest[dest])
		copy(sendVal[base*nrhs:base*nrhs+len(valByDest[dest])], valByDest[dest])
	}

	totalRecv := sum(plan.X2BRecvCnt)
	recvInt := make([]int, totalRecv)
	if err := grid.Comm.AlltoallvInt(sendInt, plan.X2BSendCnt, plan.X2BSDispls, recvInt, plan.X2BRecvCnt, plan.X2BRDispls); err != nil {
		return chk.Err("redist.XToB: index Alltoallv failed:\n%v", err)
	}

	recvValCnt := scale(plan.X2BRecvCnt, nrhs)
	recvValDispl := scale(plan.X2BRDispls, nrhs)
	sendValCnt := scale(plan.X2BSendCnt, nrhs)
	sendValDispl := scale(plan.X2BSDispls, nrhs)
	recvVal := make([]float64, totalRecv*nrhs)
	if err := grid.Comm.Alltoallv(sendVal, sendValCnt, sendValDispl, recvVal, recvValCnt, recvValDispl); err != nil {
		return chk.Err("redist.XToB: value Alltoallv failed:\n%v", err)
	}

	for j := 0; j < totalRecv; j++ {
		orig := recvInt[j]
		i := orig - fstRow
		for c := 0; c < nrhs; c++ {
			b[i+c*ldb] = recvVal[j*nrhs+c]
		}
	}
	return nil
}

func xToBSingle(idx *block.Index, perm *Perm, x []float64, nrhs, mLoc, fstRow, ldb int, b []float64) error {
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		fst := idx.FstBlockC(k)
		n := idx.SuperSize(k)
		body := idx.XBlk(lj)
		for r := 0; r < n; r++ {
			irow := fst + r
			orig := perm.Orig(irow)
			i := orig - fstRow
			if i < 0 || i >= mLoc {
				return chk.Err("redist.XToB: row %d falls outside this process's B range [%d,%d)", orig, fstRow, fstRow+mLoc)
			}
			for c := 0; c < nrhs; c++ {
				b[i+c*ldb] = x[body+c*n+r]
			}
		}
	}
	return nil
}

func sum(v []int) int {
	s := 0
	for _, x := range v {
		s += x
	}
	return s
}

func scale(v []int, f int) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = x * f
	}
	return out
}

func maxWorkers() int {
	const cap = 8
	return cap
}
