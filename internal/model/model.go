// Package model defines the classifier and feature-extractor contracts for
// streamed training, including the state stash/pop discipline that keeps
// validation from perturbing the training stream.
package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
)

// Stateful is the capability every model holding sequential memory must
// expose. Training is a continuous stream, so state carries across steps;
// stash/pop brackets any evaluation that must not contaminate that state.
type Stateful interface {
	// StashState pushes the current internal state onto an internal stack.
	StashState()
	// PopState restores the most recently stashed state, discarding
	// whatever accumulated since. Panics without a matching StashState.
	PopState()
	// ResetState clears to the defined initial state.
	ResetState()
}

// Model is a frame classifier over encoded features. Forward and Backward
// operate on one batch of lanes; each lane is a frames x featDim matrix and
// produces an outFrames x numClasses logit matrix.
type Model interface {
	Stateful
	Forward(lanes []*mat.Dense) []*mat.Dense
	// Backward accumulates parameter gradients from the loss gradient of
	// the previous Forward call.
	Backward(dLogits []*mat.Dense)
	Params() []*optimizer.Param
	TrainMode()
	EvalMode()
}

// Encoder turns raw input frames into features, possibly at a coarser
// frame rate. Encoders are frozen during classifier training.
type Encoder interface {
	Stateful
	Encode(lanes []*mat.Dense) []*mat.Dense
	FeatDim() int
	SamplingRateHz() int
}

const popWithoutStash = "model: PopState without matching StashState"

// denseLayer is a fully connected layer y = x*W^T + b shared by the
// classifier implementations. Weight storage is flat so the optimizer can
// update it in place through the gonum views.
type denseLayer struct {
	in, out int
	w, b    *optimizer.Param
	wMat    *mat.Dense // out x in view over w.Value
	wGrad   *mat.Dense // out x in view over w.Grad

	lastX *mat.Dense
}

func newDenseLayer(in, out int, r *rand.Rand) *denseLayer {
	w := &optimizer.Param{Value: make([]float64, out*in), Grad: make([]float64, out*in)}
	b := &optimizer.Param{Value: make([]float64, out), Grad: make([]float64, out)}
	scale := 1.0 / math.Sqrt(float64(in))
	for i := range w.Value {
		w.Value[i] = (r.Float64()*2 - 1) * scale
	}
	return &denseLayer{
		in:    in,
		out:   out,
		w:     w,
		b:     b,
		wMat:  mat.NewDense(out, in, w.Value),
		wGrad: mat.NewDense(out, in, w.Grad),
	}
}

func (l *denseLayer) forward(x *mat.Dense) *mat.Dense {
	l.lastX = x
	n, _ := x.Dims()
	y := mat.NewDense(n, l.out, nil)
	y.Mul(x, l.wMat.T())
	for i := 0; i < n; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += l.b.Value[j]
		}
	}
	return y
}

// backward accumulates dW, db and returns dX for the layer below.
func (l *denseLayer) backward(dY *mat.Dense) *mat.Dense {
	n, _ := dY.Dims()
	var dW mat.Dense
	dW.Mul(dY.T(), l.lastX)
	l.wGrad.Add(l.wGrad, &dW)
	for i := 0; i < n; i++ {
		row := dY.RawRowView(i)
		for j, v := range row {
			l.b.Grad[j] += v
		}
	}
	dX := mat.NewDense(n, l.in, nil)
	dX.Mul(dY, l.wMat)
	return dX
}

func (l *denseLayer) params() []*optimizer.Param {
	return []*optimizer.Param{l.w, l.b}
}

func reluInPlace(x *mat.Dense) {
	r, c := x.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if x.At(i, j) < 0 {
				x.Set(i, j, 0)
			}
		}
	}
}

// reluBackward zeroes gradient entries where the activation was clipped.
func reluBackward(dY, activated *mat.Dense) {
	r, c := dY.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if activated.At(i, j) <= 0 {
				dY.Set(i, j, 0)
			}
		}
	}
}

// Argmax returns the per-frame predicted class of a logits matrix.
func Argmax(logits *mat.Dense) []int {
	n, c := logits.Dims()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		best := 0
		bestVal := logits.At(i, 0)
		for j := 1; j < c; j++ {
			if logits.At(i, j) > bestVal {
				bestVal = logits.At(i, j)
				best = j
			}
		}
		out[i] = best
	}
	return out
}
