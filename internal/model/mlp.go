package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// MLPConfig holds the knobs for the per-frame MLP classifier.
type MLPConfig struct {
	Layers      int
	HiddenSize  int
	DropoutProb float64
	BatchNorm   bool
}

// MLP applies a stack of dense+ReLU layers to each frame independently.
type MLP struct {
	noState
	cfg      MLPConfig
	hidden   []*denseLayer
	norms    []*batchNorm
	out      *denseLayer
	src      *rng.Source
	training bool

	caches [][]mlpCache
}

type mlpCache struct {
	x    *mat.Dense
	act  *mat.Dense
	mask []float64
	bn   *bnCache
}

// NewMLP builds an MLP with cfg.Layers-1 hidden layers and a linear output.
func NewMLP(featDim, numClasses int, cfg MLPConfig, src *rng.Source) *MLP {
	if cfg.Layers < 2 {
		cfg.Layers = 2
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = 1024
	}
	m := &MLP{cfg: cfg, src: src, training: true}
	in := featDim
	for i := 0; i < cfg.Layers-1; i++ {
		m.hidden = append(m.hidden, newDenseLayer(in, cfg.HiddenSize, src.Rand()))
		if cfg.BatchNorm {
			m.norms = append(m.norms, newBatchNorm(cfg.HiddenSize))
		} else {
			m.norms = append(m.norms, nil)
		}
		in = cfg.HiddenSize
	}
	m.out = newDenseLayer(in, numClasses, src.Rand())
	return m
}

func (m *MLP) Forward(lanes []*mat.Dense) []*mat.Dense {
	outs := make([]*mat.Dense, len(lanes))
	m.caches = make([][]mlpCache, len(lanes))
	for li, x := range lanes {
		cur := x
		caches := make([]mlpCache, len(m.hidden))
		for hi, layer := range m.hidden {
			cache := mlpCache{x: cur}
			z := layer.forward(cur)
			if m.norms[hi] != nil {
				z, cache.bn = m.norms[hi].forward(z, m.training)
			}
			reluInPlace(z)
			cache.act = z
			if m.training && m.cfg.DropoutProb > 0 {
				cache.mask = m.dropout(z)
			}
			caches[hi] = cache
			cur = z
		}
		caches = append(caches, mlpCache{x: cur})
		m.caches[li] = caches
		outs[li] = m.out.forward(cur)
	}
	return outs
}

// dropout zeroes activations in place and returns the keep mask with
// inverted scaling applied.
func (m *MLP) dropout(z *mat.Dense) []float64 {
	n, c := z.Dims()
	mask := make([]float64, n*c)
	keep := 1.0 - m.cfg.DropoutProb
	r := m.src.Rand()
	for i := 0; i < n; i++ {
		row := z.RawRowView(i)
		for j := range row {
			if r.Float64() < keep {
				mask[i*c+j] = 1.0 / keep
			}
			row[j] *= mask[i*c+j]
		}
	}
	return mask
}

func (m *MLP) Backward(dLogits []*mat.Dense) {
	for li, d := range dLogits {
		caches := m.caches[li]
		m.out.lastX = caches[len(caches)-1].x
		grad := m.out.backward(d)
		for hi := len(m.hidden) - 1; hi >= 0; hi-- {
			cache := caches[hi]
			if cache.mask != nil {
				n, c := grad.Dims()
				for i := 0; i < n; i++ {
					row := grad.RawRowView(i)
					for j := range row {
						row[j] *= cache.mask[i*c+j]
					}
				}
			}
			reluBackward(grad, cache.act)
			if m.norms[hi] != nil {
				grad = m.norms[hi].backward(grad, cache.bn)
			}
			m.hidden[hi].lastX = cache.x
			grad = m.hidden[hi].backward(grad)
		}
	}
}

func (m *MLP) Params() []*optimizer.Param {
	var ps []*optimizer.Param
	for i, layer := range m.hidden {
		ps = append(ps, layer.params()...)
		if m.norms[i] != nil {
			ps = append(ps, m.norms[i].params()...)
		}
	}
	return append(ps, m.out.params()...)
}

func (m *MLP) TrainMode() { m.training = true }
func (m *MLP) EvalMode()  { m.training = false }
