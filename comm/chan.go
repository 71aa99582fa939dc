package comm

import (
	"fmt"
	"sync"
)

// chanMsg is one envelope flowing through a Hub: a tagged float64 payload
// plus (for Alltoallv) the originating rank, since Chan ranks share no
// out-of-band source information the way a real MPI transport would carry
// it in its wire header.
type chanMsg struct {
	src, tag int
	data     []float64
}

// Hub wires a fixed number of Chan communicators together with buffered Go
// channels, standing in for a real network fabric in tests that want to
// drive redist/fsolve/bsolve with Pr*Pc > 1 without mpirun.
type Hub struct {
	size  int
	boxes []chan chanMsg
}

// NewHub builds a Hub for `size` ranks. Call Comm(rank) once per rank to get
// that rank's Communicator.
func NewHub(size int) *Hub {
	h := &Hub{size: size, boxes: make([]chan chanMsg, size)}
	for i := range h.boxes {
		h.boxes[i] = make(chan chanMsg, 4096)
	}
	return h
}

// Comm returns the Communicator for the given rank.
func (h *Hub) Comm(rank int) *Chan {
	return &Chan{hub: h, rank: rank, pending: make([]chanMsg, 0, 8)}
}

// Chan is an in-process Communicator backed by a Hub. Safe for use by one
// goroutine per rank (the usual "one goroutine simulates one MPI process"
// test pattern); Chan itself does not synchronize concurrent calls from
// multiple goroutines on the same rank.
type Chan struct {
	hub     *Hub
	rank    int
	mu      sync.Mutex
	pending []chanMsg // messages received out of (tag,src) order, stashed for a later matching Recv
}

func (c *Chan) Rank() int { return c.rank }
func (c *Chan) Size() int { return c.hub.size }

func (c *Chan) Send(tag, to int, buf []float64) error {
	if to < 0 || to >= c.hub.size {
		return fmt.Errorf("comm.Chan.Send: destination rank %d out of range [0,%d)", to, c.hub.size)
	}
	cp := make([]float64, len(buf))
	copy(cp, buf)
	c.hub.boxes[to] <- chanMsg{src: c.rank, tag: tag, data: cp}
	return nil
}

// takeMatching scans pending first, then drains the inbox until a message
// matching (tag, from) arrives, stashing mismatches back into pending.
func (c *Chan) takeMatching(tag, from int) chanMsg {
	c.mu.Lock()
	for i, m := range c.pending {
		if (tag < 0 || m.tag == tag) && (from < 0 || m.src == from) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			c.mu.Unlock()
			return m
		}
	}
	c.mu.Unlock()
	for {
		m := <-c.hub.boxes[c.rank]
		if (tag < 0 || m.tag == tag) && (from < 0 || m.src == from) {
			return m
		}
		c.mu.Lock()
		c.pending = append(c.pending, m)
		c.mu.Unlock()
	}
}

func (c *Chan) Recv(tag, from int, buf []float64) (int, error) {
	m := c.takeMatching(tag, from)
	n := copy(buf, m.data)
	return n, nil
}

func (c *Chan) RecvAny(buf []float64, maxMsg int) (src, tag, n int, err error) {
	m := c.takeMatching(-1, -1)
	if len(m.data) > len(buf) {
		return 0, 0, 0, fmt.Errorf("comm.Chan.RecvAny: message of %d floats does not fit in a buffer of %d", len(m.data), len(buf))
	}
	n = copy(buf, m.data)
	return m.src, m.tag, n, nil
}

// a2aFloatTag/a2aIntTag are reserved tags for Alltoallv traffic, kept disjoint from
// the solve-phase broadcast/reduction tags.
const a2aFloatTag = 1 << 20
const a2aIntTag = 1<<20 + 1

func (c *Chan) Alltoallv(sendBuf []float64, sendCnt, sDispls []int, recvBuf []float64, recvCnt, rDispls []int) error {
	var wg sync.WaitGroup
	for dst, n := range sendCnt {
		if n == 0 {
			continue
		}
		wg.Add(1)
		seg := sendBuf[sDispls[dst] : sDispls[dst]+n]
		dst := dst
		go func() {
			defer wg.Done()
			c.Send(a2aFloatTag, dst, seg)
		}()
	}
	for src, n := range recvCnt {
		if n == 0 {
			continue
		}
		c.Recv(a2aFloatTag, src, recvBuf[rDispls[src]:rDispls[src]+n])
	}
	wg.Wait()
	return nil
}

func (c *Chan) AlltoallvInt(sendBuf []int, sendCnt, sDispls []int, recvBuf []int, recvCnt, rDispls []int) error {
	sendF := make([]float64, len(sendBuf))
	for i, v := range sendBuf {
		sendF[i] = float64(v)
	}
	recvF := make([]float64, len(recvBuf))
	// int Alltoallv reuses the float path on a distinct tag so it cannot be
	// mismatched with a concurrent float Alltoallv on the same communicator.
	var wg sync.WaitGroup
	for dst, n := range sendCnt {
		if n == 0 {
			continue
		}
		wg.Add(1)
		seg := sendF[sDispls[dst] : sDispls[dst]+n]
		dst := dst
		go func() {
			defer wg.Done()
			c.Send(a2aIntTag, dst, seg)
		}()
	}
	for src, n := range recvCnt {
		if n == 0 {
			continue
		}
		c.Recv(a2aIntTag, src, recvF[rDispls[src]:rDispls[src]+n])
	}
	wg.Wait()
	for i, v := range recvF {
		recvBuf[i] = int(v)
	}
	return nil
}

func (c *Chan) Barrier() error {
	// Every rank sends one token to rank 0 and rank 0 fans it back out;
	// adequate for test-scale meshes where Barrier only needs to provide a
	// happens-before edge, not low latency.
	const barrierTag = 1 << 21
	if c.rank == 0 {
		for r := 1; r < c.hub.size; r++ {
			c.Recv(barrierTag, r, []float64{0})
		}
		for r := 1; r < c.hub.size; r++ {
			c.Send(barrierTag, r, []float64{0})
		}
		return nil
	}
	c.Send(barrierTag, 0, []float64{0})
	c.Recv(barrierTag, 0, []float64{0})
	return nil
}
