package redist

// Plan is the precomputed all-to-all communication plan spec.md §6 lists
// among the consumed (opaque) external inputs: send/recv row counts and
// displacements for both directions, plus the map from an original B row to
// the rank that owns it in B's row-block distribution. Building this plan
// (like building the broadcast/reduction trees) is out of scope for this
// module; denselu's System.Build is test/example scaffolding, not a production
// planner.
type Plan struct {
	B2XSendCnt, B2XRecvCnt   []int
	B2XSDispls, B2XRDispls   []int
	X2BSendCnt, X2BRecvCnt   []int
	X2BSDispls, X2BRDispls   []int
	RowToProc                []int // original row -> rank owning it in B's distribution
}

// DisplsFromCounts turns a per-rank count array into displacement offsets
// (exclusive prefix sum), the usual MPI Alltoallv convention. Exported so
// any Plan builder outside this package (e.g. denselu's) can share it
// instead of reimplementing the same prefix sum.
func DisplsFromCounts(cnt []int) []int {
	d := make([]int, len(cnt))
	for i := 1; i < len(cnt); i++ {
		d[i] = d[i-1] + cnt[i-1]
	}
	return d
}
