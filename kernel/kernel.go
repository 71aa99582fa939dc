// Package kernel implements the per-supernode dense BLAS-3 kernels shared by
// the forward and backward solve engines (spec.md §4.4.5): the diagonal
// GEMM-against-inverse solve, the update kernel that folds an off-diagonal
// block's contribution into lsum, and the TRSM fallback used when an
// inverse has not been precomputed.
package kernel

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// colMajor wraps a flat column-major rows x cols []float64 (the layout x and
// lsum use throughout this module) as a blas64.General without copying.
// blas64.General is row-major, so the view is the cols x rows transpose; the
// kernels below apply their products and solves to that transpose.
func colMajor(buf []float64, rows, cols int) blas64.General {
	return blas64.General{Rows: cols, Cols: rows, Stride: rows, Data: buf}
}

// DiagSolve computes x_k <- Inv * x_k via GEMM (spec.md §4.4.5 "Leaf /
// diagonal solve"), where Inv is Linv_k (forward) or Uinv_k (backward), x_k
// is the n_k x nrhs block stored column-major, and n_k = Inv.Rows().
func DiagSolve(inv *mat.Dense, xk []float64, nrhs int) {
	n, _ := inv.Dims()
	src := colMajor(xk, n, nrhs)
	dst := make([]float64, n*nrhs)
	out := colMajor(dst, n, nrhs)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1, src, inv.RawMatrix(), 0, out)
	copy(xk, dst)
}

// Update computes lsum <- lsum - A * x via GEMM (spec.md §4.4.5 "Update
// kernel" and its backward-solve dual): A is L_{i,k} (rows=n_i, cols=n_k)
// or U_{k,j} (rows=n_k, cols=n_j); x is the already-known column-block
// value (n_k or n_j rows x nrhs); lsum is the row-block accumulator (n_i or
// n_k rows x nrhs), all column-major.
func Update(a *mat.Dense, x []float64, lsum []float64, nrhs int) {
	rows, cols := a.Dims()
	xm := colMajor(x, cols, nrhs)
	lm := colMajor(lsum, rows, nrhs)
	blas64.Gemm(blas.NoTrans, blas.Trans, -1, xm, a.RawMatrix(), 1, lm)
}

// Trsm solves the diagonal triangular system in place, the fallback path
// spec.md §4.4.5 requires when Linv/Uinv have not been precomputed (lower
// unit-diagonal for forward solve, upper non-unit for backward).
func Trsm(diagBlock *mat.Dense, xk []float64, nrhs int, upper bool) {
	n, _ := diagBlock.Dims()
	b := colMajor(xk, n, nrhs)
	uplo := blas.Lower
	d := blas.Unit
	if upper {
		uplo = blas.Upper
		d = blas.NonUnit
	}
	rm := diagBlock.RawMatrix()
	a := blas64.Triangular{N: n, Stride: rm.Stride, Data: rm.Data, Uplo: uplo, Diag: d}
	blas64.Trsm(blas.Right, blas.Trans, 1, a, b)
}
