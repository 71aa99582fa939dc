// Package comm defines the communication substrate consumed by redist,
// fsolve and bsolve: a small transport interface with three implementations
// (two-sided MPI, an in-process channel transport for deterministic tests,
// and a windowed one-sided transport), selectable at construction time.
package comm

// Message tags. The backward solve reuses the same numeric space offset by
// the L/U split so a single progress loop can dispatch on tag alone.
const (
	TagBCL = iota // broadcast of x[k] down a process column during forward solve
	TagRDL        // reduction of lsum[i] up a process row during forward solve
	TagBCU        // broadcast of x[k] down a process column during backward solve
	TagRDU        // reduction of lsum[i] up a process row during backward solve
)

// Communicator is the transport contract the rest of this module is built
// against. Implementations: MPI (two-sided, production), Chan (in-process,
// tests), Window (one-sided).
type Communicator interface {
	Rank() int
	Size() int

	// Send blocks until buf has been handed to the transport for delivery
	// to rank `to` tagged `tag`.
	Send(tag, to int, buf []float64) error

	// Recv blocks until a message tagged `tag` from rank `from` is
	// available and copies it into buf, returning the number of float64s
	// written.
	Recv(tag, from int, buf []float64) (int, error)

	// RecvAny blocks until any message (any source, any of the four tags)
	// arrives, copies its payload into buf (sized at least maxMsg) and
	// reports its origin, tag and length. This is the two-sided progress
	// loop's single suspension point (spec.md §4.4.4).
	RecvAny(buf []float64, maxMsg int) (src, tag, n int, err error)

	// Alltoallv is the indices/values personalized all-to-all used by the
	// redistributor (spec.md §4.3): sendBuf is packed contiguously per
	// destination rank per sDispls/sendCnt, recvBuf is filled the same way
	// per rDispls/recvCnt.
	Alltoallv(sendBuf []float64, sendCnt, sDispls []int, recvBuf []float64, recvCnt, rDispls []int) error

	// AlltoallvInt is Alltoallv's integer-index counterpart.
	AlltoallvInt(sendBuf []int, sendCnt, sDispls []int, recvBuf []int, recvCnt, rDispls []int) error

	Barrier() error
}
