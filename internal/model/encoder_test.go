package model

import (
	"math/rand"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testCPCSpec(t *testing.T, in, out, kernel, stride int) CPCFile {
	t.Helper()
	r := rand.New(rand.NewSource(31))
	weights := make([]float64, out*kernel*in)
	for i := range weights {
		weights[i] = r.NormFloat64() * 0.3
	}
	bias := make([]float64, out)
	for i := range bias {
		bias[i] = r.NormFloat64() * 0.1
	}
	return CPCFile{
		FeatDim:        out,
		SamplingRateHz: 16000,
		Layers: []CPCLayerSpec{{
			In: in, Out: out, Kernel: kernel, Stride: stride,
			Weights: weights, Bias: bias,
		}},
	}
}

func TestNoCPCIdentity(t *testing.T) {
	e := NewNoCPC(4, 100)
	x := randWindow(rand.New(rand.NewSource(1)), 5, 4)
	out := e.Encode([]*mat.Dense{x})
	if out[0] != x {
		t.Fatal("NoCPC must pass frames through unchanged")
	}
	if e.FeatDim() != 4 || e.SamplingRateHz() != 100 {
		t.Fatalf("unexpected geometry: dim=%d rate=%d", e.FeatDim(), e.SamplingRateHz())
	}
}

func TestCPCEncoderDownsamples(t *testing.T) {
	enc, err := NewCPCEncoder(testCPCSpec(t, 2, 3, 4, 3))
	if err != nil {
		t.Fatalf("NewCPCEncoder: %v", err)
	}
	x := randWindow(rand.New(rand.NewSource(2)), 12, 2)
	out := enc.Encode([]*mat.Dense{x})[0]
	r, c := out.Dims()
	if r != 4 || c != 3 {
		t.Fatalf("expected 4x3 output for stride 3 over 12 frames, got %dx%d", r, c)
	}
}

func TestCPCEncoderStreamingEquivalence(t *testing.T) {
	spec := testCPCSpec(t, 2, 3, 4, 3)
	r := rand.New(rand.NewSource(3))
	full := randWindow(r, 12, 2)

	whole, err := NewCPCEncoder(spec)
	if err != nil {
		t.Fatalf("NewCPCEncoder: %v", err)
	}
	want := whole.Encode([]*mat.Dense{full})[0]

	chunked, err := NewCPCEncoder(spec)
	if err != nil {
		t.Fatalf("NewCPCEncoder: %v", err)
	}
	a := mat.DenseCopyOf(full.Slice(0, 5, 0, 2))
	b := mat.DenseCopyOf(full.Slice(5, 12, 0, 2))
	outA := chunked.Encode([]*mat.Dense{a})[0]
	outB := chunked.Encode([]*mat.Dense{b})[0]

	ra, _ := outA.Dims()
	rb, _ := outB.Dims()
	rw, _ := want.Dims()
	if ra+rb != rw {
		t.Fatalf("chunked output length %d+%d != whole %d", ra, rb, rw)
	}
	for i := 0; i < ra; i++ {
		for j := 0; j < 3; j++ {
			if want.At(i, j) != outA.At(i, j) {
				t.Fatalf("chunk A mismatch at (%d,%d)", i, j)
			}
		}
	}
	for i := 0; i < rb; i++ {
		for j := 0; j < 3; j++ {
			if want.At(ra+i, j) != outB.At(i, j) {
				t.Fatalf("chunk B mismatch at (%d,%d)", i, j)
			}
		}
	}
}

func TestCPCEncoderShortChunkBuffers(t *testing.T) {
	spec := testCPCSpec(t, 2, 3, 2, 3)
	r := rand.New(rand.NewSource(4))
	full := randWindow(r, 12, 2)

	whole, err := NewCPCEncoder(spec)
	if err != nil {
		t.Fatalf("NewCPCEncoder: %v", err)
	}
	want := whole.Encode([]*mat.Dense{full})[0]

	// Chunks 2 and 3 fall entirely inside the carried stride phase: they
	// must come back nil, not abort, and their frames must surface once the
	// final chunk supplies enough input.
	chunked, err := NewCPCEncoder(spec)
	if err != nil {
		t.Fatalf("NewCPCEncoder: %v", err)
	}
	var got []*mat.Dense
	for _, bounds := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 12}} {
		chunk := mat.DenseCopyOf(full.Slice(bounds[0], bounds[1], 0, 2))
		got = append(got, chunked.Encode([]*mat.Dense{chunk})[0])
	}
	if got[1] != nil || got[2] != nil {
		t.Fatal("sub-stride chunks must yield nil output")
	}

	row := 0
	for _, out := range got {
		if out == nil {
			continue
		}
		n, _ := out.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < 3; j++ {
				if want.At(row+i, j) != out.At(i, j) {
					t.Fatalf("buffered chunk mismatch at output row %d col %d", row+i, j)
				}
			}
		}
		row += n
	}
	rw, _ := want.Dims()
	if row != rw {
		t.Fatalf("chunked output rows %d != whole %d", row, rw)
	}
}

func TestCPCEncoderStashIsolation(t *testing.T) {
	spec := testCPCSpec(t, 4, 3, 3, 1)
	assertStashIsolation(t, func() interface {
		Stateful
		Forward(lanes []*mat.Dense) []*mat.Dense
	} {
		enc, err := NewCPCEncoder(spec)
		if err != nil {
			t.Fatalf("NewCPCEncoder: %v", err)
		}
		return encoderAsModel{enc}
	})
}

// encoderAsModel adapts Encode to the Forward signature for the shared
// isolation check.
type encoderAsModel struct{ *CPCEncoder }

func (e encoderAsModel) Forward(lanes []*mat.Dense) []*mat.Dense { return e.Encode(lanes) }

func TestCPCFileRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpc.json")
	spec := testCPCSpec(t, 2, 3, 4, 2)
	if err := SaveCPC(path, spec); err != nil {
		t.Fatalf("SaveCPC: %v", err)
	}
	enc, err := LoadCPC(path)
	if err != nil {
		t.Fatalf("LoadCPC: %v", err)
	}
	if enc.FeatDim() != 3 || enc.SamplingRateHz() != 16000 {
		t.Fatalf("unexpected geometry after load: %d %d", enc.FeatDim(), enc.SamplingRateHz())
	}
}

func TestNewCPCEncoderRejectsBadSpec(t *testing.T) {
	spec := testCPCSpec(t, 2, 3, 4, 2)
	spec.Layers[0].Weights = spec.Layers[0].Weights[:3]
	if _, err := NewCPCEncoder(spec); err == nil {
		t.Fatal("expected error for truncated weights")
	}
}
