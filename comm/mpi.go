package comm

import (
	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/mpi"
)

// MPI is the production two-sided Communicator, backed by gosl/mpi. Start
// the MPI runtime with mpi.Start before constructing one, and mpi.Stop after
// the last one is done (see main.go for the boot sequence).
type MPI struct{}

// NewMPI returns a Communicator over the current MPI_COMM_WORLD. mpi.Start
// must already have been called.
func NewMPI() *MPI {
	if !mpi.IsOn() {
		chk.Panic("comm.NewMPI: mpi.Start must be called before constructing an MPI communicator")
	}
	return &MPI{}
}

func (*MPI) Rank() int { return mpi.Rank() }
func (*MPI) Size() int { return mpi.Size() }

func (*MPI) Send(tag, to int, buf []float64) error {
	mpi.Send(buf, to, tag)
	return nil
}

func (*MPI) Recv(tag, from int, buf []float64) (int, error) {
	n := mpi.Recv(buf, from, tag)
	return n, nil
}

func (*MPI) RecvAny(buf []float64, maxMsg int) (src, tag, n int, err error) {
	src, tag, n = mpi.Probe(mpi.AnySource, mpi.AnyTag)
	if n > len(buf) {
		chk.Panic("comm.MPI.RecvAny: message of %d floats does not fit in a buffer of %d", n, len(buf))
	}
	n = mpi.Recv(buf[:n], src, tag)
	return
}

func (*MPI) Alltoallv(sendBuf []float64, sendCnt, sDispls []int, recvBuf []float64, recvCnt, rDispls []int) error {
	mpi.Alltoallv(sendBuf, sendCnt, sDispls, recvBuf, recvCnt, rDispls)
	return nil
}

func (*MPI) AlltoallvInt(sendBuf []int, sendCnt, sDispls []int, recvBuf []int, recvCnt, rDispls []int) error {
	mpi.AlltoallvInt(sendBuf, sendCnt, sDispls, recvBuf, recvCnt, rDispls)
	return nil
}

func (*MPI) Barrier() error {
	mpi.Barrier()
	return nil
}
