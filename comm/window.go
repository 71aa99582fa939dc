package comm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// kindOf maps a tag to the one-sided window's BC or RD sub-region, per
// spec.md §4.4.4's "[Pc+Pr counter cells | BC_buffer | RD_buffer]" layout.
func kindOf(tag int) int {
	switch tag {
	case TagBCL, TagBCU:
		return 0
	case TagRDL, TagRDU:
		return 1
	default:
		panic(fmt.Sprintf("comm: tag %d has no one-sided window region", tag))
	}
}

// slot holds the messages a single origin rank has Put into this rank's
// window for one of the two kinds (BC, RD), queued in arrival order. The
// counter is what a real one-sided transport would expose as the polled
// cell: it counts every message ever queued, incremented atomically after
// the payload has been appended, and readers compare it with how many they
// have already drained, with acquire/release ordering via atomic loads
// (spec.md §9's open question about unfenced counter reads).
type slot struct {
	mu      sync.Mutex
	queue   []chanMsg
	counter int32 // atomic; number of messages ever queued
}

// WindowHub is the shared backing store for a one-sided Window transport:
// per destination rank, per origin rank, per kind (BC/RD), a slot, plus a
// side table of slots keyed by arbitrary reserved tag for Alltoallv/Barrier
// traffic which falls outside the BC/RD split.
type WindowHub struct {
	size  int
	slots [][2][]*slot // slots[dest][kind][origin]

	rawMu  sync.Mutex
	rawTbl map[[3]int]*slot // key: {dest, origin, tag}
}

// NewWindowHub allocates the window for `size` ranks. Mirrors the real
// protocol's precondition that per-rank receive sizes are exchanged before
// the window is created (spec.md §9): here that exchange is implicit since
// all slots are pre-allocated for every (origin, kind) pair up front.
func NewWindowHub(size int) *WindowHub {
	h := &WindowHub{size: size, slots: make([][2][]*slot, size), rawTbl: make(map[[3]int]*slot)}
	for d := 0; d < size; d++ {
		for k := 0; k < 2; k++ {
			h.slots[d][k] = make([]*slot, size)
			for o := range h.slots[d][k] {
				h.slots[d][k][o] = &slot{}
			}
		}
	}
	return h
}

func (h *WindowHub) a2aSlot(dest, origin, tag int) *slot {
	key := [3]int{dest, origin, tag}
	h.rawMu.Lock()
	defer h.rawMu.Unlock()
	s, ok := h.rawTbl[key]
	if !ok {
		s = &slot{}
		h.rawTbl[key] = s
	}
	return s
}

// Comm returns the one-sided Communicator for the given rank.
func (h *WindowHub) Comm(rank int) *Window { return newWindow(h, rank) }

// Window is a one-sided Communicator: Send performs a Put into the
// destination's window followed by an atomic increment of the matching
// counter cell; RecvAny polls this rank's own counter cells and drains
// newly-arrived slots in order, exactly as spec.md §4.4.4 describes.
type Window struct {
	hub  *WindowHub
	rank int
	// seenBC/seenRD track, per origin, how many messages of that kind this
	// rank has already drained — the receiver-side "BC_subtotal" state.
	seenBC, seenRD []int32
}

func newWindow(hub *WindowHub, rank int) *Window {
	return &Window{
		hub:    hub,
		rank:   rank,
		seenBC: make([]int32, hub.size),
		seenRD: make([]int32, hub.size),
	}
}

func (h *WindowHub) NewComm(rank int) *Window { return newWindow(h, rank) }

func (w *Window) Rank() int { return w.rank }
func (w *Window) Size() int { return w.hub.size }

func (w *Window) Send(tag, to int, buf []float64) error {
	if to < 0 || to >= w.hub.size {
		return fmt.Errorf("comm.Window.Send: destination rank %d out of range [0,%d)", to, w.hub.size)
	}
	kind := kindOf(tag)
	s := w.hub.slots[to][kind][w.rank]
	cp := make([]float64, len(buf))
	copy(cp, buf)
	s.mu.Lock()
	s.queue = append(s.queue, chanMsg{src: w.rank, tag: tag, data: cp})
	s.mu.Unlock()
	atomic.AddInt32(&s.counter, 1) // release: publishes the queued payload above
	return nil
}

func (w *Window) Recv(tag, from int, buf []float64) (int, error) {
	kind := kindOf(tag)
	s := w.hub.slots[w.rank][kind][from]
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			m := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return copy(buf, m.data), nil
		}
		s.mu.Unlock()
	}
}

// RecvAny polls this rank's counter cells (acquire loads) in a fixed
// round-robin over (kind, origin) and drains the first slot found with an
// undrained message, closing spec.md §9's open question about the source's
// unfenced `recvbuf_oneside[i]` reads.
func (w *Window) RecvAny(buf []float64, maxMsg int) (src, tag, n int, err error) {
	for {
		for kind := 0; kind < 2; kind++ {
			seen := w.seenBC
			if kind == 1 {
				seen = w.seenRD
			}
			for origin := 0; origin < w.hub.size; origin++ {
				s := w.hub.slots[w.rank][kind][origin]
				arrived := atomic.LoadInt32(&s.counter) // acquire
				if arrived > seen[origin] {
					s.mu.Lock()
					m := s.queue[0]
					s.queue = s.queue[1:]
					s.mu.Unlock()
					seen[origin]++
					if len(m.data) > len(buf) {
						return 0, 0, 0, fmt.Errorf("comm.Window.RecvAny: message of %d floats does not fit in a buffer of %d", len(m.data), len(buf))
					}
					n = copy(buf, m.data)
					return m.src, m.tag, n, nil
				}
			}
		}
	}
}

// Alltoallv and AlltoallvInt reuse the same Put/counter mechanism on a
// reserved tag pair, draining by explicit (tag, from) rather than polling
// since the redistributor already knows exactly how many floats/ints it
// expects from each rank.
func (w *Window) Alltoallv(sendBuf []float64, sendCnt, sDispls []int, recvBuf []float64, recvCnt, rDispls []int) error {
	for dst, n := range sendCnt {
		if n == 0 {
			continue
		}
		w.putRaw(a2aFloatTag, dst, sendBuf[sDispls[dst]:sDispls[dst]+n])
	}
	for src, n := range recvCnt {
		if n == 0 {
			continue
		}
		w.recvRaw(a2aFloatTag, src, recvBuf[rDispls[src]:rDispls[src]+n])
	}
	return nil
}

func (w *Window) AlltoallvInt(sendBuf []int, sendCnt, sDispls []int, recvBuf []int, recvCnt, rDispls []int) error {
	for dst, n := range sendCnt {
		if n == 0 {
			continue
		}
		seg := make([]float64, n)
		for i, v := range sendBuf[sDispls[dst] : sDispls[dst]+n] {
			seg[i] = float64(v)
		}
		w.putRaw(a2aIntTag, dst, seg)
	}
	for src, n := range recvCnt {
		if n == 0 {
			continue
		}
		seg := make([]float64, n)
		w.recvRaw(a2aIntTag, src, seg)
		for i, v := range seg {
			recvBuf[rDispls[src]+i] = int(v)
		}
	}
	return nil
}

// putRaw/recvRaw bypass kindOf's BC/RD split for the Alltoallv reserved
// tags, which have their own dedicated slot pair.
func (w *Window) putRaw(tag, to int, buf []float64) {
	s := w.hub.a2aSlot(to, w.rank, tag)
	cp := make([]float64, len(buf))
	copy(cp, buf)
	s.mu.Lock()
	s.queue = append(s.queue, chanMsg{src: w.rank, tag: tag, data: cp})
	s.mu.Unlock()
	atomic.AddInt32(&s.counter, 1)
}

func (w *Window) recvRaw(tag, from int, buf []float64) {
	s := w.hub.a2aSlot(w.rank, from, tag)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			m := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			copy(buf, m.data)
			return
		}
		s.mu.Unlock()
	}
}

func (w *Window) Barrier() error {
	// The window transport has no separate barrier primitive; Alltoallv's
	// full drain already gives every rank a happens-before edge, so a
	// pure Barrier is only needed standalone and is implemented the same
	// way comm.Chan does it, over its own reserved tag in the raw slot table.
	const barrierTag = 1 << 21
	if w.rank == 0 {
		for r := 1; r < w.hub.size; r++ {
			w.recvRaw(barrierTag, r, []float64{0})
		}
		for r := 1; r < w.hub.size; r++ {
			w.putRaw(barrierTag, r, []float64{0})
		}
		return nil
	}
	w.putRaw(barrierTag, 0, []float64{0})
	w.recvRaw(barrierTag, 0, []float64{0})
	return nil
}
