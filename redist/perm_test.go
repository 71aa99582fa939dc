package redist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPermApplyOrig(t *testing.T) {
	p := &Perm{R: []int{2, 0, 1, 3}, C: []int{1, 2, 0, 3}}

	got := make([]int, 4)
	for orig := 0; orig < 4; orig++ {
		got[orig] = p.Apply(orig)
	}
	want := []int{0, 1, 2, 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Apply mismatch (-want +got):\n%s", diff)
	}

	for orig := 0; orig < 4; orig++ {
		irow := p.Apply(orig)
		if back := p.Orig(irow); back != orig {
			t.Fatalf("Orig(Apply(%d))=%d, want %d", orig, back, orig)
		}
	}
}

func TestPermIdentity(t *testing.T) {
	id := []int{0, 1, 2, 3, 4}
	p := &Perm{R: append([]int(nil), id...), C: append([]int(nil), id...)}
	for i := range id {
		if p.Apply(i) != i {
			t.Fatalf("identity Apply(%d)=%d", i, p.Apply(i))
		}
		if p.Orig(i) != i {
			t.Fatalf("identity Orig(%d)=%d", i, p.Orig(i))
		}
	}
}
