package model

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
)

// noState satisfies the Stateful protocol for models with no sequential
// memory. The stash depth is still tracked so unbalanced PopState calls
// fail loudly regardless of architecture.
type noState struct {
	depth int
}

func (s *noState) StashState() { s.depth++ }

func (s *noState) PopState() {
	if s.depth == 0 {
		panic(popWithoutStash)
	}
	s.depth--
}

func (s *noState) ResetState() {}

// Linear is a single dense layer over each frame's features.
type Linear struct {
	noState
	layer     *denseLayer
	lastLanes []*mat.Dense
}

// NewLinear builds the linear classifier.
func NewLinear(featDim, numClasses int, r *rand.Rand) *Linear {
	return &Linear{layer: newDenseLayer(featDim, numClasses, r)}
}

func (m *Linear) Forward(lanes []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(lanes))
	m.lastLanes = m.lastLanes[:0]
	for i, x := range lanes {
		out[i] = m.layer.forward(x)
		m.lastLanes = append(m.lastLanes, x)
	}
	return out
}

func (m *Linear) Backward(dLogits []*mat.Dense) {
	for i, d := range dLogits {
		m.layer.lastX = m.lastLanes[i]
		m.layer.backward(d)
	}
}

func (m *Linear) Params() []*optimizer.Param { return m.layer.params() }
func (m *Linear) TrainMode()                 {}
func (m *Linear) EvalMode()                  {}

// Baseline predicts a learned class prior for every frame, ignoring the
// features. It anchors the metric scale for the real architectures.
type Baseline struct {
	noState
	numClasses int
	bias       *optimizer.Param
	lastFrames []int
}

// NewBaseline builds the bias-only classifier.
func NewBaseline(numClasses int) *Baseline {
	return &Baseline{
		numClasses: numClasses,
		bias: &optimizer.Param{
			Value: make([]float64, numClasses),
			Grad:  make([]float64, numClasses),
		},
	}
}

func (m *Baseline) Forward(lanes []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(lanes))
	m.lastFrames = m.lastFrames[:0]
	for i, x := range lanes {
		n, _ := x.Dims()
		y := mat.NewDense(n, m.numClasses, nil)
		for t := 0; t < n; t++ {
			copy(y.RawRowView(t), m.bias.Value)
		}
		out[i] = y
		m.lastFrames = append(m.lastFrames, n)
	}
	return out
}

func (m *Baseline) Backward(dLogits []*mat.Dense) {
	for _, d := range dLogits {
		n, _ := d.Dims()
		for t := 0; t < n; t++ {
			row := d.RawRowView(t)
			for j, v := range row {
				m.bias.Grad[j] += v
			}
		}
	}
}

func (m *Baseline) Params() []*optimizer.Param { return []*optimizer.Param{m.bias} }
func (m *Baseline) TrainMode()                 {}
func (m *Baseline) EvalMode()                  {}
