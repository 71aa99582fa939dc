// Command distrsolve is the CLI driver (spec.md §4.8 EXPANDED C8): it boots
// the MPI runtime, loads a small JSON problem description, factors it with
// the denselu reference factorizer, runs the solve, and reports the result.
package main

import (
	"encoding/json"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/io"
	"github.com/cpmech/gosl/mpi"
	"github.com/cpmech/gosl/utl"

	"github.com/cpmech/distrsolve/comm"
	"github.com/cpmech/distrsolve/denselu"
	"github.com/cpmech/distrsolve/solve"
)

// problem is the tiny dense JSON format this driver reads: a full N x N
// matrix A (row-major flat) and N x Nrhs right-hand side B, plus the mesh
// shape to solve it over.
type problem struct {
	N, Pr, Pc, Nrhs int
	A               []float64
	B               []float64
}

func main() {
	defer func() {
		if err := recover(); err != nil {
			if mpi.Rank() == 0 {
				chk.Verbose = true
				for i := 8; i > 3; i-- {
					chk.CallerInfo(i)
				}
				io.PfRed("ERROR: %v\n", err)
			}
		}
		mpi.Stop(false)
	}()
	mpi.Start(false)
	defer utl.DoProf(false)()

	fnamepath, _ := io.ArgToFilename(0, "", ".json", true)
	verbose := io.ArgToBool(1, true)

	if mpi.Rank() == 0 && verbose {
		io.PfWhite("\ndistrsolve -- distributed sparse triangular solve\n\n")
		io.Pf("\n%v\n", io.ArgsTable(
			"problem file", "fnamepath", fnamepath,
			"show messages", "verbose", verbose,
		))
	}

	p, err := loadProblem(fnamepath)
	if err != nil {
		chk.Panic("failed to load problem file:\n%v", err)
	}

	a := mat.NewDense(p.N, p.N, p.A)
	b := mat.NewDense(p.N, p.Nrhs, p.B)

	l, u, err := denselu.DoolittleLU(a)
	if err != nil {
		chk.Panic("factorization failed:\n%v", err)
	}

	sys := denselu.NewSystem(p.Pr, p.Pc, l, u, b)

	var c comm.Communicator
	if p.Pr*p.Pc == 1 {
		c = comm.NewHub(1).Comm(0)
	} else {
		c = comm.NewMPI()
	}

	grid, factor, trees, plan, perm, err := sys.Build(c)
	if err != nil {
		chk.Panic("factorization build failed:\n%v", err)
	}

	fstRow, mLoc := sys.RowRange(c.Rank())
	bLoc := make([]float64, mLoc*p.Nrhs)
	for i := 0; i < mLoc; i++ {
		for j := 0; j < p.Nrhs; j++ {
			bLoc[i+j*mLoc] = b.At(fstRow+i, j)
		}
	}

	info, err := solve.Run(p.N, factor, perm, grid, trees, plan, bLoc, mLoc, fstRow, mLoc, p.Nrhs)
	if err != nil {
		chk.Panic("solve failed:\n%v", err)
	}
	if info < 0 {
		chk.Panic("solve reported invalid argument: info=%d", info)
	}

	if mpi.Rank() == 0 && verbose {
		if info > 0 {
			io.Pfyel("solve completed with %d singular/missing diagonal block(s): local rows=%d\n", info, mLoc)
		} else {
			io.Pforan("solve completed: info=%d, local rows=%d\n", info, mLoc)
		}
	}
}

func loadProblem(path string) (*problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, chk.Err("distrsolve: cannot open %q:\n%v", path, err)
	}
	defer f.Close()
	var p problem
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return nil, chk.Err("distrsolve: cannot parse %q:\n%v", path, err)
	}
	return &p, nil
}
