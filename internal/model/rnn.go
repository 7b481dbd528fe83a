package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// Recurrent is an Elman network over the frame stream. The forward
// direction's hidden state is carried across windows per lane; gradients
// are truncated at the window boundary. The optional backward direction is
// window-local, since it cannot be causal over an unbounded stream.
type Recurrent struct {
	featDim    int
	hiddenSize int
	bidi       bool

	fwd *rnnCell
	bwd *rnnCell
	out *denseLayer

	// hidden[lane] is the carried forward-direction state.
	hidden [][]float64
	stash  [][][]float64

	caches []rnnCache
}

type rnnCell struct {
	in, hidden int
	wx, wh, b  *optimizer.Param
}

type rnnCache struct {
	x    *mat.Dense
	hFwd [][]float64 // length n+1, hFwd[0] is the carried-in state
	hBwd [][]float64 // length n+1, hBwd[n] is the zero initial state
	cat  *mat.Dense
}

func newRNNCell(in, hidden int, src *rng.Source) *rnnCell {
	c := &rnnCell{
		in:     in,
		hidden: hidden,
		wx:     &optimizer.Param{Value: make([]float64, hidden*in), Grad: make([]float64, hidden*in)},
		wh:     &optimizer.Param{Value: make([]float64, hidden*hidden), Grad: make([]float64, hidden*hidden)},
		b:      &optimizer.Param{Value: make([]float64, hidden), Grad: make([]float64, hidden)},
	}
	r := src.Rand()
	scaleX := 1.0 / math.Sqrt(float64(in))
	for i := range c.wx.Value {
		c.wx.Value[i] = (r.Float64()*2 - 1) * scaleX
	}
	scaleH := 1.0 / math.Sqrt(float64(hidden))
	for i := range c.wh.Value {
		c.wh.Value[i] = (r.Float64()*2 - 1) * scaleH
	}
	return c
}

// step computes h = tanh(wx*x + wh*hPrev + b).
func (c *rnnCell) step(x, hPrev []float64) []float64 {
	h := make([]float64, c.hidden)
	for i := 0; i < c.hidden; i++ {
		sum := c.b.Value[i]
		wxRow := c.wx.Value[i*c.in : (i+1)*c.in]
		for j, v := range x {
			sum += wxRow[j] * v
		}
		whRow := c.wh.Value[i*c.hidden : (i+1)*c.hidden]
		for j, v := range hPrev {
			sum += whRow[j] * v
		}
		h[i] = math.Tanh(sum)
	}
	return h
}

// stepBackward accumulates cell gradients for one time step given dH, the
// gradient at the post-tanh hidden state, and returns the gradient to pass
// to the previous step's hidden state.
func (c *rnnCell) stepBackward(dH, h, x, hPrev []float64) []float64 {
	dz := make([]float64, c.hidden)
	for i := range dz {
		dz[i] = dH[i] * (1 - h[i]*h[i])
	}
	for i := 0; i < c.hidden; i++ {
		c.b.Grad[i] += dz[i]
		wxRow := c.wx.Grad[i*c.in : (i+1)*c.in]
		for j, v := range x {
			wxRow[j] += dz[i] * v
		}
		whRow := c.wh.Grad[i*c.hidden : (i+1)*c.hidden]
		for j, v := range hPrev {
			whRow[j] += dz[i] * v
		}
	}
	dPrev := make([]float64, c.hidden)
	for i := 0; i < c.hidden; i++ {
		whRow := c.wh.Value[i*c.hidden : (i+1)*c.hidden]
		for j := range dPrev {
			dPrev[j] += dz[i] * whRow[j]
		}
	}
	return dPrev
}

func (c *rnnCell) params() []*optimizer.Param {
	return []*optimizer.Param{c.wx, c.wh, c.b}
}

// NewRecurrent builds the recurrent classifier.
func NewRecurrent(featDim, numClasses, hiddenSize int, bidirectional bool, src *rng.Source) *Recurrent {
	if hiddenSize <= 0 {
		hiddenSize = 1024
	}
	m := &Recurrent{
		featDim:    featDim,
		hiddenSize: hiddenSize,
		bidi:       bidirectional,
		fwd:        newRNNCell(featDim, hiddenSize, src),
	}
	outIn := hiddenSize
	if bidirectional {
		m.bwd = newRNNCell(featDim, hiddenSize, src)
		outIn = 2 * hiddenSize
	}
	m.out = newDenseLayer(outIn, numClasses, src.Rand())
	return m
}

func (m *Recurrent) ensureHidden(lanes int) {
	if len(m.hidden) == lanes {
		return
	}
	m.hidden = make([][]float64, lanes)
	for i := range m.hidden {
		m.hidden[i] = make([]float64, m.hiddenSize)
	}
}

func (m *Recurrent) Forward(lanes []*mat.Dense) []*mat.Dense {
	m.ensureHidden(len(lanes))
	outs := make([]*mat.Dense, len(lanes))
	m.caches = make([]rnnCache, len(lanes))
	for li, x := range lanes {
		n, _ := x.Dims()
		cache := rnnCache{x: x}

		cache.hFwd = make([][]float64, n+1)
		cache.hFwd[0] = m.hidden[li]
		for t := 0; t < n; t++ {
			cache.hFwd[t+1] = m.fwd.step(x.RawRowView(t), cache.hFwd[t])
		}
		// carry the final state into the next window
		m.hidden[li] = cache.hFwd[n]

		outIn := m.hiddenSize
		if m.bidi {
			outIn = 2 * m.hiddenSize
			cache.hBwd = make([][]float64, n+1)
			cache.hBwd[n] = make([]float64, m.hiddenSize)
			for t := n - 1; t >= 0; t-- {
				cache.hBwd[t] = m.bwd.step(x.RawRowView(t), cache.hBwd[t+1])
			}
		}

		cat := mat.NewDense(n, outIn, nil)
		for t := 0; t < n; t++ {
			row := cat.RawRowView(t)
			copy(row[:m.hiddenSize], cache.hFwd[t+1])
			if m.bidi {
				copy(row[m.hiddenSize:], cache.hBwd[t])
			}
		}
		cache.cat = cat
		m.caches[li] = cache
		outs[li] = m.out.forward(cat)
	}
	return outs
}

func (m *Recurrent) Backward(dLogits []*mat.Dense) {
	for li, d := range dLogits {
		cache := m.caches[li]
		n, _ := cache.x.Dims()
		m.out.lastX = cache.cat
		dCat := m.out.backward(d)

		carry := make([]float64, m.hiddenSize)
		for t := n - 1; t >= 0; t-- {
			dH := make([]float64, m.hiddenSize)
			copy(dH, dCat.RawRowView(t)[:m.hiddenSize])
			for i := range dH {
				dH[i] += carry[i]
			}
			carry = m.fwd.stepBackward(dH, cache.hFwd[t+1], cache.x.RawRowView(t), cache.hFwd[t])
		}

		if m.bidi {
			carry = make([]float64, m.hiddenSize)
			for t := 0; t < n; t++ {
				dH := make([]float64, m.hiddenSize)
				copy(dH, dCat.RawRowView(t)[m.hiddenSize:])
				for i := range dH {
					dH[i] += carry[i]
				}
				carry = m.bwd.stepBackward(dH, cache.hBwd[t], cache.x.RawRowView(t), cache.hBwd[t+1])
			}
		}
	}
}

func (m *Recurrent) StashState() {
	snap := make([][]float64, len(m.hidden))
	for i, h := range m.hidden {
		snap[i] = append([]float64(nil), h...)
	}
	m.stash = append(m.stash, snap)
}

func (m *Recurrent) PopState() {
	if len(m.stash) == 0 {
		panic(popWithoutStash)
	}
	m.hidden = m.stash[len(m.stash)-1]
	m.stash = m.stash[:len(m.stash)-1]
}

func (m *Recurrent) ResetState() {
	m.hidden = nil
}

func (m *Recurrent) Params() []*optimizer.Param {
	ps := m.fwd.params()
	if m.bidi {
		ps = append(ps, m.bwd.params()...)
	}
	return append(ps, m.out.params()...)
}

func (m *Recurrent) TrainMode() {}
func (m *Recurrent) EvalMode()  {}
