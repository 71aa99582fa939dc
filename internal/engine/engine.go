// Package engine holds the dataflow state machine shared by fsolve and
// bsolve (spec.md §4.4, §4.5: "[backward solve is] the symmetric dual of
// C4... Otherwise identical in structure"). Both solves are one counter-
// driven progress loop over broadcast/reduction trees; only the data they
// read (L vs U blocks, Linv vs Uinv, which tree set, which tags) differs,
// so that difference is captured entirely in the Spec passed to Run.
package engine

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cpmech/gosl/chk"
	"gonum.org/v1/gonum/mat"

	"github.com/cpmech/distrsolve/block"
	"github.com/cpmech/distrsolve/kernel"
	"github.com/cpmech/distrsolve/mesh"
	"github.com/cpmech/distrsolve/super"
	"github.com/cpmech/distrsolve/tree"
)

// Spec is everything one triangular solve direction needs; fsolve.Run and
// bsolve.Run each build one of these from a *super.Factor and hand it to
// Run unchanged.
type Spec struct {
	Grid *mesh.Grid
	Idx  *block.Index
	Nrhs int

	X, Lsum []float64

	// ModInit[li] is the local off-diagonal contribution count for row-block
	// li (fmod_init or bmod_init, spec.md §3).
	ModInit []int

	// Blocks[lj] lists the off-diagonal row-blocks depending on column-block
	// lj (LCol for forward, UCol for backward).
	Blocks [][]super.LBlock

	// Inv[lj] is the diagonal inverse for column-block lj, present only
	// where this process is diagonal for it (Linv or Uinv).
	Inv []*mat.Dense

	// Diag[lj] is the raw as-factored diagonal block for column-block lj
	// (LDiag or UDiag), the spec.md §4.4.5/§7 item 4 TRSM fallback used
	// when Inv[lj] is nil (dinv.Compute left it unset because the block
	// was missing or numerically singular, per spec.md §7's "record in
	// info, continue" taxonomy rather than aborting).
	Diag []*mat.Dense

	// Upper selects Diag's triangular shape for the Trsm fallback: false
	// for L (forward solve, unit lower), true for U (backward solve,
	// non-unit upper).
	Upper bool

	BCast  []tree.Tree // per local column-block (lj): broadcast tree
	Reduce []tree.Tree // per local row-block (li): reduction tree

	BCTag, RDTag int

	// NExpectBCastRX is the total broadcast messages this process expects
	// to receive over the whole solve (nfrecvx/nbrecvx, spec.md §4.4.4).
	NExpectBCastRX int
}

// Run drives one triangular solve (forward or backward, entirely determined
// by Spec's contents) to completion, writing the result into Spec.X.
func Run(s *Spec) error {
	idx, grid := s.Idx, s.Grid
	nlr := idx.NLocalRows()

	e := &engine{s: s, ctr: make([]int32, nlr), mu: make([]sync.Mutex, nlr)}
	totalRecvExpected := s.NExpectBCastRX
	var ready []int
	for li := 0; li < nlr; li++ {
		e.ctr[li] = int32(s.ModInit[li])
		k := idx.GlobalOfLocalRow(li)
		if grid.IsDiag(k) {
			children := s.Reduce[li].DestCount()
			e.ctr[li] += int32(children)
			totalRecvExpected += children
		}
		if e.ctr[li] == 0 {
			ready = append(ready, li)
		}
	}

	// Only row-blocks whose counter starts at zero are swept; the others
	// fire from decrement, so no row-block is dispatched twice.
	var g errgroup.Group
	for _, li := range ready {
		li := li
		g.Go(func() error { return e.checkReady(li) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if totalRecvExpected == 0 {
		return nil
	}

	maxMsg := 1
	for k := 0; k < idx.Nsupers(); k++ {
		if n := idx.BodyLen(k) + 1; n > maxMsg {
			maxMsg = n
		}
	}

	received := 0
	for received < totalRecvExpected {
		buf := make([]float64, maxMsg)
		_, tag, n, err := grid.Comm.RecvAny(buf, maxMsg)
		if err != nil {
			return chk.Err("engine.Run: RecvAny failed:\n%v", err)
		}
		received++
		switch tag {
		case s.BCTag:
			if err := e.recvBroadcast(buf[:n]); err != nil {
				return err
			}
		case s.RDTag:
			if err := e.recvReduction(buf[:n]); err != nil {
				return err
			}
		default:
			chk.Panic("engine.Run: message tagged %d matches neither BC (%d) nor RD (%d)", tag, s.BCTag, s.RDTag)
		}
	}
	return nil
}

type engine struct {
	s   *Spec
	ctr []int32

	// mu[li] serializes every read-modify-write of lsum's row-block li
	// body: both applyColumnUpdate's GEMM (kernel.Update) and
	// recvReduction's accumulation touch the same slice, and distinct
	// column-blocks whose off-diagonal targets land on the same li are
	// free to run concurrently (spec.md §4.4.6's threading model),
	// so the combined counter alone does not prevent two writers from
	// racing on lsum[i] (invariant I5, "added to lsum[i] exactly once").
	mu []sync.Mutex
}

// checkReady evaluates the initial state of row-block li once, at entry,
// without a decrement — for leaves (ModInit==0, no reduction children) and
// for any non-diagonal row-block that happens to own no local contributions
// at all.
func (e *engine) checkReady(li int) error {
	if atomic.LoadInt32(&e.ctr[li]) != 0 {
		return nil
	}
	return e.dispatch(li)
}

// decrement is the one path every later contribution (local update or
// incoming reduction message) takes; the atomic add-and-compare guarantees
// dispatch fires exactly once, the instant the combined counter reaches
// zero (spec.md §3 "the transition is gated by fmod[lk]+frecv[lk]==0").
func (e *engine) decrement(li int) error {
	left := atomic.AddInt32(&e.ctr[li], -1)
	if left < 0 {
		chk.Panic("engine.decrement: counter underflow on row-block %d", li)
	}
	if left != 0 {
		return nil
	}
	return e.dispatch(li)
}

func (e *engine) dispatch(li int) error {
	idx := e.s.Idx
	k := idx.GlobalOfLocalRow(li)
	if e.s.Grid.IsDiag(k) {
		return e.solveAndBroadcast(li)
	}
	return e.forwardReduction(li)
}

// solveAndBroadcast implements spec.md §4.4.2's REDUCED->SOLVED->BROADCAST
// transition: fold the accumulated lsum into x, apply the diagonal inverse,
// broadcast down the column, then apply this process's own off-diagonal
// contributions originating from k exactly as a remote receiver would.
func (e *engine) solveAndBroadcast(li int) error {
	s, idx := e.s, e.s.Idx
	k := idx.GlobalOfLocalRow(li)
	lj := idx.LBj(k)
	body := idx.BodyLen(k)

	xk := s.X[idx.XBlk(lj) : idx.XBlk(lj)+body]
	lk := s.Lsum[idx.LSumBlk(li) : idx.LSumBlk(li)+body]
	for i, v := range lk {
		xk[i] += v
	}

	switch {
	case s.Inv[lj] != nil:
		kernel.DiagSolve(s.Inv[lj], xk, s.Nrhs)
	case s.Diag[lj] != nil:
		// dinv.Compute left no inverse for this supernode (missing or
		// singular diagonal block, spec.md §7 item 4): fall back to TRSM
		// against the raw block rather than abort the whole solve.
		kernel.Trsm(s.Diag[lj], xk, s.Nrhs, s.Upper)
	default:
		return chk.Err("engine.solveAndBroadcast: no diagonal block available for supernode %d", k)
	}

	payload := make([]float64, 1+body)
	payload[0] = float64(k)
	copy(payload[1:], xk)
	bt := s.BCast[lj]
	if err := bt.Forward(payload); err != nil {
		return err
	}
	if err := bt.Wait(); err != nil {
		return err
	}

	return e.applyColumnUpdate(lj, xk)
}

// applyColumnUpdate folds every locally-owned off-diagonal block hanging off
// column-block lj into the dependent row-blocks' lsum, once x_k (xk) is
// known — shared between a real broadcast receipt and the diagonal
// process's own use of its freshly solved x_k (spec.md §4.4.2 "also apply
// all locally-owned off-diagonal contributions originating from k").
func (e *engine) applyColumnUpdate(lj int, xk []float64) error {
	s, idx := e.s, e.s.Idx
	for _, blk := range s.Blocks[lj] {
		li := idx.LBi(blk.RowBlk)
		rows, _ := blk.Val.Dims()
		lk := s.Lsum[idx.LSumBlk(li) : idx.LSumBlk(li)+rows*s.Nrhs]
		e.mu[li].Lock()
		kernel.Update(blk.Val, xk, lk, s.Nrhs)
		e.mu[li].Unlock()
		if err := e.decrement(li); err != nil {
			return err
		}
	}
	return nil
}

// forwardReduction implements spec.md §4.4.1's row side: once every locally
// owned contribution to row-block li has landed, forward the accumulated
// partial sum toward the diagonal over the reduction tree.
func (e *engine) forwardReduction(li int) error {
	s, idx := e.s, e.s.Idx
	i := idx.GlobalOfLocalRow(li)
	body := idx.BodyLen(i)
	lk := s.Lsum[idx.LSumBlk(li) : idx.LSumBlk(li)+body]

	payload := make([]float64, 1+body)
	payload[0] = float64(i)
	copy(payload[1:], lk)

	rt := s.Reduce[li]
	if err := rt.Forward(payload); err != nil {
		return err
	}
	return rt.Wait()
}

func (e *engine) recvBroadcast(payload []float64) error {
	idx := e.s.Idx
	k := int(payload[0])
	lj := idx.LBj(k)
	body := idx.BodyLen(k)
	xk := e.s.X[idx.XBlk(lj) : idx.XBlk(lj)+body]
	copy(xk, payload[1:1+body])
	return e.applyColumnUpdate(lj, xk)
}

func (e *engine) recvReduction(payload []float64) error {
	idx := e.s.Idx
	i := int(payload[0])
	li := idx.LBi(i)
	body := idx.BodyLen(i)
	lk := e.s.Lsum[idx.LSumBlk(li) : idx.LSumBlk(li)+body]
	e.mu[li].Lock()
	for j, v := range payload[1 : 1+body] {
		lk[j] += v
	}
	e.mu[li].Unlock()
	return e.decrement(li)
}
