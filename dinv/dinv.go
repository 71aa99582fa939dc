// Package dinv implements the diagonal-block inverter (spec.md §4.2, C2):
// for every supernode owned diagonally by this process, precompute
// Linv = inv(L_kk) and Uinv = inv(U_kk) so the hot solve path can replace a
// TRSM with a GEMM against the explicit inverse.
package dinv

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/distrsolve/super"
)

// asTriangular views a square *mat.Dense's raw storage as a blas64.Triangular
// without copying, the shape lapack64.Trtri requires.
func asTriangular(d *mat.Dense, uplo blas.Uplo, diag blas.Diag) blas64.Triangular {
	n, _ := d.Dims()
	rm := d.RawMatrix()
	return blas64.Triangular{N: n, Stride: rm.Stride, Data: rm.Data, Uplo: uplo, Diag: diag}
}

// Compute fills f.Linv/f.Uinv for every local column-block this process is
// diagonal for, inverting the supplied as-factored diagonal blocks via
// gonum's pure-Go LAPACK. This is the "intrinsic triangular-inversion
// fallback" spec.md §9 calls for in place of the source's HAVE_LAPACK build
// tag: gonum's implementation has no native-library dependency, so the fast
// path is unconditionally available.
//
// A missing or numerically singular diagonal block is non-fatal (spec.md §7
// item 4: "record in info, continue — the ill-conditioned block will produce
// NaNs downstream"), mirroring the original's dtrtri_ call, which never even
// reads the INFO it writes. f.LDiag/f.UDiag are populated from every supplied
// as-factored block (a missing block leaves them nil as well) so the solve
// engines can fall back to a direct
// TRSM wherever Compute leaves Linv/Uinv nil; f.NSingularDiag tallies every
// such block so solve.Run can surface the count through info.
func Compute(f *super.Factor, diag *super.Diag) {
	idx := f.Index
	for lj := 0; lj < idx.NLocalCols(); lj++ {
		k := idx.GlobalOfLocalCol(lj)
		if !f.Grid.IsDiag(k) {
			continue
		}
		d := diag.Blocks[lj]
		if d == nil {
			f.NSingularDiag++
			continue
		}
		f.LDiag[lj] = d.L
		f.UDiag[lj] = d.U

		linv := mat.DenseCopyOf(d.L)
		if ok := lapack64.Trtri(asTriangular(linv, blas.Lower, blas.Unit)); ok {
			f.Linv[lj] = linv
		} else {
			f.NSingularDiag++
		}

		uinv := mat.DenseCopyOf(d.U)
		if ok := lapack64.Trtri(asTriangular(uinv, blas.Upper, blas.NonUnit)); ok {
			f.Uinv[lj] = uinv
		} else {
			f.NSingularDiag++
		}
	}
}
