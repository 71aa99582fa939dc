// Package mesh describes the 2-D process mesh that a factorization and its
// solve are distributed over, bound to the communicator (package comm) the
// rest of the module talks to.
package mesh

import "github.com/cpmech/distrsolve/comm"

// Grid is a Pr x Pc process mesh. Process p owns mesh coordinate
// (p/Pc, p%Pc); p = PROW*Pc + PCOL.
type Grid struct {
	Pr, Pc         int
	MyRow, MyCol   int
	Comm           comm.Communicator
}

// New builds a Grid from an already-connected communicator, deriving this
// process's (MyRow, MyCol) from its rank.
func New(pr, pc int, c comm.Communicator) *Grid {
	rank := c.Rank()
	return &Grid{
		Pr:    pr,
		Pc:    pc,
		MyRow: rank / pc,
		MyCol: rank % pc,
		Comm:  c,
	}
}

// PROW returns the mesh row owning block-row k.
func (g *Grid) PROW(k int) int { return k % g.Pr }

// PCOL returns the mesh column owning block-column k.
func (g *Grid) PCOL(k int) int { return k % g.Pc }

// PNUM returns the rank of the process at mesh coordinate (pr, pc).
func (g *Grid) PNUM(pr, pc int) int { return pr*g.Pc + pc }

// IsDiag reports whether this process is the diagonal process of supernode k:
// both its row and column coordinates match k's.
func (g *Grid) IsDiag(k int) bool {
	return g.PROW(k) == g.MyRow && g.PCOL(k) == g.MyCol
}

// OwnsRow reports whether this process's mesh row owns block-row k.
func (g *Grid) OwnsRow(k int) bool { return g.PROW(k) == g.MyRow }

// OwnsCol reports whether this process's mesh column owns block-column k.
func (g *Grid) OwnsCol(k int) bool { return g.PCOL(k) == g.MyCol }

// Single reports whether this grid is the degenerate 1x1 mesh, in which case
// redist takes its single-process fast paths rather than drive the
// communicator.
func (g *Grid) Single() bool { return g.Pr == 1 && g.Pc == 1 }
