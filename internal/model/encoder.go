package model

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// NoCPC is the identity feature extractor used when no CPC checkpoint is
// configured: features are the raw input frames at the raw frame rate.
type NoCPC struct {
	noState
	dim  int
	rate int
}

// NewNoCPC builds the identity extractor for the given input geometry.
func NewNoCPC(dim, sampleRate int) *NoCPC {
	return &NoCPC{dim: dim, rate: sampleRate}
}

func (e *NoCPC) Encode(lanes []*mat.Dense) []*mat.Dense { return lanes }
func (e *NoCPC) FeatDim() int                           { return e.dim }
func (e *NoCPC) SamplingRateHz() int                    { return e.rate }

// CPCFile is the serialized form of a pretrained CPC feature extractor.
type CPCFile struct {
	FeatDim        int            `json:"feat_dim"`
	SamplingRateHz int            `json:"sampling_rate_hz"`
	Layers         []CPCLayerSpec `json:"layers"`
}

// CPCLayerSpec is one strided causal convolution of the extractor.
type CPCLayerSpec struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Kernel  int       `json:"kernel"`
	Stride  int       `json:"stride"`
	Weights []float64 `json:"weights"` // out x (kernel*in), row-major
	Bias    []float64 `json:"bias"`
}

// CPCEncoder is a frozen strided causal-conv feature extractor. Strides
// coarsen the frame rate, which is what forces label resampling
// downstream. History buffers and stride phase are carried per lane.
type CPCEncoder struct {
	spec   CPCFile
	layers []*cpcLayer

	lanes []*cpcLaneState
	stash [][]*cpcLaneState
}

type cpcLayer struct {
	CPCLayerSpec
	w *mat.Dense // out x kernel*in
}

type cpcLaneState struct {
	history []*mat.Dense // per layer, kernel-1 trailing input rows
	phase   []int        // per layer, rows to skip before next output
}

// LoadCPC reads a serialized extractor from disk.
func LoadCPC(path string) (*CPCEncoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cpc: %w", err)
	}
	defer f.Close()
	var spec CPCFile
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode cpc %s: %w", path, err)
	}
	return NewCPCEncoder(spec)
}

// NewCPCEncoder validates the spec and builds the extractor.
func NewCPCEncoder(spec CPCFile) (*CPCEncoder, error) {
	if spec.FeatDim <= 0 || len(spec.Layers) == 0 {
		return nil, fmt.Errorf("cpc: invalid spec (feat_dim=%d layers=%d)", spec.FeatDim, len(spec.Layers))
	}
	e := &CPCEncoder{spec: spec}
	for i, ls := range spec.Layers {
		if ls.Kernel <= 0 || ls.Stride <= 0 || ls.In <= 0 || ls.Out <= 0 {
			return nil, fmt.Errorf("cpc: layer %d has invalid geometry", i)
		}
		if len(ls.Weights) != ls.Out*ls.Kernel*ls.In {
			return nil, fmt.Errorf("cpc: layer %d has %d weights, want %d", i, len(ls.Weights), ls.Out*ls.Kernel*ls.In)
		}
		if len(ls.Bias) != ls.Out {
			return nil, fmt.Errorf("cpc: layer %d has %d biases, want %d", i, len(ls.Bias), ls.Out)
		}
		e.layers = append(e.layers, &cpcLayer{
			CPCLayerSpec: ls,
			w:            mat.NewDense(ls.Out, ls.Kernel*ls.In, ls.Weights),
		})
	}
	last := spec.Layers[len(spec.Layers)-1]
	if last.Out != spec.FeatDim {
		return nil, fmt.Errorf("cpc: final layer out %d != feat_dim %d", last.Out, spec.FeatDim)
	}
	return e, nil
}

// SaveCPC writes the extractor spec to disk. Tool/test helper.
func SaveCPC(path string, spec CPCFile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cpc: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(spec); err != nil {
		return fmt.Errorf("encode cpc %s: %w", path, err)
	}
	return nil
}

func (e *CPCEncoder) FeatDim() int        { return e.spec.FeatDim }
func (e *CPCEncoder) SamplingRateHz() int { return e.spec.SamplingRateHz }

// InputDim is the feature dimension the first conv layer expects.
func (e *CPCEncoder) InputDim() int { return e.spec.Layers[0].In }

func (e *CPCEncoder) ensureLanes(n int) {
	if len(e.lanes) == n {
		return
	}
	e.lanes = make([]*cpcLaneState, n)
	for i := range e.lanes {
		st := &cpcLaneState{phase: make([]int, len(e.layers))}
		for _, layer := range e.layers {
			if layer.Kernel > 1 {
				st.history = append(st.history, mat.NewDense(layer.Kernel-1, layer.In, nil))
			} else {
				st.history = append(st.history, nil)
			}
		}
		e.lanes[i] = st
	}
}

// Encode runs the conv stack over each lane's window. A lane comes back nil
// when the window was too short to produce any output at the carried stride
// phase; its frames stay buffered in the lane state and surface once more
// input arrives. Callers skip nil lanes.
func (e *CPCEncoder) Encode(lanes []*mat.Dense) []*mat.Dense {
	e.ensureLanes(len(lanes))
	out := make([]*mat.Dense, len(lanes))
	for li, x := range lanes {
		cur := x
		for ci, layer := range e.layers {
			cur = layer.apply(cur, e.lanes[li], ci)
			if cur == nil {
				break
			}
		}
		out[li] = cur
	}
	return out
}

// apply runs one strided causal conv over the window, consuming and
// updating the lane's history and stride phase for that layer.
func (c *cpcLayer) apply(x *mat.Dense, st *cpcLaneState, idx int) *mat.Dense {
	n, _ := x.Dims()
	hist := st.history[idx]
	histRows := c.Kernel - 1

	// collect output positions honoring the carried stride phase
	var positions []int
	phase := st.phase[idx]
	for t := 0; t < n; t++ {
		if phase == 0 {
			positions = append(positions, t)
			phase = c.Stride - 1
		} else {
			phase--
		}
	}
	st.phase[idx] = phase

	roll := func() {
		for i := 0; i < histRows; i++ {
			src := n - histRows + i
			if src >= 0 {
				copy(hist.RawRowView(i), x.RawRowView(src))
			} else {
				copy(hist.RawRowView(i), hist.RawRowView(i+n))
			}
		}
	}

	// A window shorter than the remaining stride phase yields nothing now:
	// its frames are absorbed into history and surface in a later window.
	if len(positions) == 0 {
		roll()
		return nil
	}

	stacked := mat.NewDense(len(positions), c.Kernel*c.In, nil)
	for pi, t := range positions {
		row := stacked.RawRowView(pi)
		for k := 0; k < c.Kernel; k++ {
			src := t - c.Kernel + 1 + k
			dst := row[k*c.In : (k+1)*c.In]
			if src >= 0 {
				copy(dst, x.RawRowView(src))
			} else {
				copy(dst, hist.RawRowView(histRows+src))
			}
		}
	}

	// roll history to the trailing rows of this window's input
	roll()

	y := mat.NewDense(len(positions), c.Out, nil)
	y.Mul(stacked, c.w.T())
	for i := 0; i < len(positions); i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += c.Bias[j]
			// ReLU keeps the frozen features in the regime the
			// classifier was designed for
			if row[j] < 0 {
				row[j] = 0
			}
		}
	}
	return y
}

func (e *CPCEncoder) StashState() {
	snap := make([]*cpcLaneState, len(e.lanes))
	for i, st := range e.lanes {
		cp := &cpcLaneState{phase: append([]int(nil), st.phase...)}
		for _, h := range st.history {
			if h == nil {
				cp.history = append(cp.history, nil)
				continue
			}
			cp.history = append(cp.history, mat.DenseCopyOf(h))
		}
		snap[i] = cp
	}
	e.stash = append(e.stash, snap)
}

func (e *CPCEncoder) PopState() {
	if len(e.stash) == 0 {
		panic(popWithoutStash)
	}
	e.lanes = e.stash[len(e.stash)-1]
	e.stash = e.stash[:len(e.stash)-1]
}

func (e *CPCEncoder) ResetState() {
	e.lanes = nil
}
