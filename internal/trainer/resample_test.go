package trainer

import (
	"reflect"
	"testing"
)

func seqLabels(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestResampleIdentity(t *testing.T) {
	in := []int{3, 1, 4, 1, 5}
	if got := Resample(in, len(in)); !reflect.DeepEqual(got, in) {
		t.Fatalf("Resample identity = %v, want %v", got, in)
	}
}

func TestResampleDownsample(t *testing.T) {
	got := Resample(seqLabels(2048), 16)
	if len(got) != 16 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if got[0] != 0 {
		t.Fatalf("first output = %d, want source index 0", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("source indices regress at %d: %v", i, got)
		}
	}
	for _, v := range got {
		if v < 0 || v >= 2048 {
			t.Fatalf("index %d out of source range", v)
		}
	}
}

func TestResampleUpsample(t *testing.T) {
	got := Resample([]int{7, 9}, 6)
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	if got[0] != 7 || got[5] != 9 {
		t.Fatalf("endpoints = %d,%d, want 7,9", got[0], got[5])
	}
	for _, v := range got {
		if v != 7 && v != 9 {
			t.Fatalf("fabricated label %d", v)
		}
	}
}

func TestResampleClampsLastIndex(t *testing.T) {
	// Rounding t*L/n can land exactly on L for the final positions; the
	// lookup must clamp to the last real label.
	got := Resample(seqLabels(3), 2)
	for _, v := range got {
		if v > 2 {
			t.Fatalf("index %d exceeds source", v)
		}
	}
}

func TestResampleEmpty(t *testing.T) {
	if got := Resample(nil, 4); got != nil {
		t.Fatalf("Resample(nil) = %v, want nil", got)
	}
	if got := Resample([]int{1}, 0); got != nil {
		t.Fatalf("Resample to 0 = %v, want nil", got)
	}
}
