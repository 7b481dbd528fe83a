package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

const convKernel = 5

// Conv stacks causal time-convolutions over the frame sequence. Each layer
// sees the current frame and kernel-1 frames of history; the history that
// crosses a window boundary is carried as internal state per lane, so the
// stream is continuous across steps.
type Conv struct {
	layers []*causalConvLayer
	out    *denseLayer

	// buffers[lane][layer] holds the trailing kernel-1 input rows.
	buffers [][]*mat.Dense
	stash   [][][]*mat.Dense

	caches [][]convCache
}

type causalConvLayer struct {
	in, out, kernel int
	dense           *denseLayer
}

type convCache struct {
	stacked *mat.Dense
	act     *mat.Dense
}

// NewConv builds a causal convolutional classifier with the given number
// of conv layers.
func NewConv(featDim, numClasses, numLayers, hiddenSize int, src *rng.Source) *Conv {
	if numLayers <= 0 {
		numLayers = 4
	}
	if hiddenSize <= 0 {
		hiddenSize = 1024
	}
	m := &Conv{}
	in := featDim
	for i := 0; i < numLayers; i++ {
		m.layers = append(m.layers, &causalConvLayer{
			in:     in,
			out:    hiddenSize,
			kernel: convKernel,
			dense:  newDenseLayer(convKernel*in, hiddenSize, src.Rand()),
		})
		in = hiddenSize
	}
	m.out = newDenseLayer(in, numClasses, src.Rand())
	return m
}

// ensureBuffers sizes the per-lane history to the current lane count,
// zero-filled for lanes that have no history yet.
func (m *Conv) ensureBuffers(lanes int) {
	if len(m.buffers) == lanes {
		return
	}
	m.buffers = make([][]*mat.Dense, lanes)
	for l := range m.buffers {
		m.buffers[l] = make([]*mat.Dense, len(m.layers))
		for i, layer := range m.layers {
			m.buffers[l][i] = mat.NewDense(layer.kernel-1, layer.in, nil)
		}
	}
}

func (m *Conv) Forward(lanes []*mat.Dense) []*mat.Dense {
	m.ensureBuffers(len(lanes))
	outs := make([]*mat.Dense, len(lanes))
	m.caches = make([][]convCache, len(lanes))
	for li, x := range lanes {
		cur := x
		caches := make([]convCache, len(m.layers))
		for ci, layer := range m.layers {
			stacked := layer.stack(cur, m.buffers[li][ci])
			m.rollBuffer(li, ci, cur)
			z := layer.dense.forward(stacked)
			reluInPlace(z)
			caches[ci] = convCache{stacked: stacked, act: z}
			cur = z
		}
		m.caches[li] = caches
		outs[li] = m.out.forward(cur)
	}
	return outs
}

// stack builds the n x kernel*in matrix whose row t concatenates the
// inputs at times t-kernel+1..t, reading history rows for t < kernel-1.
func (c *causalConvLayer) stack(x, history *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	hist := c.kernel - 1
	s := mat.NewDense(n, c.kernel*c.in, nil)
	for t := 0; t < n; t++ {
		row := s.RawRowView(t)
		for k := 0; k < c.kernel; k++ {
			src := t - c.kernel + 1 + k
			dst := row[k*c.in : (k+1)*c.in]
			if src >= 0 {
				copy(dst, x.RawRowView(src))
			} else {
				copy(dst, history.RawRowView(hist+src))
			}
		}
	}
	return s
}

// rollBuffer replaces a lane's history with the trailing rows of x.
func (m *Conv) rollBuffer(lane, layer int, x *mat.Dense) {
	buf := m.buffers[lane][layer]
	hist, _ := buf.Dims()
	n, _ := x.Dims()
	for i := 0; i < hist; i++ {
		src := n - hist + i
		if src >= 0 {
			copy(buf.RawRowView(i), x.RawRowView(src))
		} else {
			// short window: shift the old history left by n rows
			copy(buf.RawRowView(i), buf.RawRowView(i+n))
		}
	}
}

func (m *Conv) Backward(dLogits []*mat.Dense) {
	for li, d := range dLogits {
		caches := m.caches[li]
		m.out.lastX = caches[len(caches)-1].act
		grad := m.out.backward(d)
		for ci := len(m.layers) - 1; ci >= 0; ci-- {
			layer := m.layers[ci]
			cache := caches[ci]
			reluBackward(grad, cache.act)
			layer.dense.lastX = cache.stacked
			dStacked := layer.dense.backward(grad)
			grad = layer.unstack(dStacked)
		}
	}
}

// unstack scatters the stacked-input gradient back onto the window's
// frames. Gradient flowing into carried history is dropped: backprop is
// truncated at the window boundary.
func (c *causalConvLayer) unstack(dStacked *mat.Dense) *mat.Dense {
	n, _ := dStacked.Dims()
	dX := mat.NewDense(n, c.in, nil)
	for t := 0; t < n; t++ {
		row := dStacked.RawRowView(t)
		for k := 0; k < c.kernel; k++ {
			src := t - c.kernel + 1 + k
			if src < 0 {
				continue
			}
			dst := dX.RawRowView(src)
			block := row[k*c.in : (k+1)*c.in]
			for j, v := range block {
				dst[j] += v
			}
		}
	}
	return dX
}

func (m *Conv) StashState() {
	snap := make([][]*mat.Dense, len(m.buffers))
	for l := range m.buffers {
		snap[l] = make([]*mat.Dense, len(m.buffers[l]))
		for i, buf := range m.buffers[l] {
			snap[l][i] = mat.DenseCopyOf(buf)
		}
	}
	m.stash = append(m.stash, snap)
}

func (m *Conv) PopState() {
	if len(m.stash) == 0 {
		panic(popWithoutStash)
	}
	m.buffers = m.stash[len(m.stash)-1]
	m.stash = m.stash[:len(m.stash)-1]
}

func (m *Conv) ResetState() {
	m.buffers = nil
}

func (m *Conv) Params() []*optimizer.Param {
	var ps []*optimizer.Param
	for _, layer := range m.layers {
		ps = append(ps, layer.dense.params()...)
	}
	return append(ps, m.out.params()...)
}

func (m *Conv) TrainMode() {}
func (m *Conv) EvalMode()  {}
