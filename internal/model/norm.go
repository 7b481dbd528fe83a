package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
)

const bnEps = 1e-5
const bnMomentum = 0.1

// batchNorm normalizes each feature over the frames of a window. Batch
// statistics are used in train mode and folded into running estimates;
// eval mode uses the running estimates only.
type batchNorm struct {
	dim         int
	gamma, beta *optimizer.Param
	runMean     []float64
	runVar      []float64
}

type bnCache struct {
	xHat   *mat.Dense
	invStd []float64
}

func newBatchNorm(dim int) *batchNorm {
	bn := &batchNorm{
		dim:     dim,
		gamma:   &optimizer.Param{Value: make([]float64, dim), Grad: make([]float64, dim)},
		beta:    &optimizer.Param{Value: make([]float64, dim), Grad: make([]float64, dim)},
		runMean: make([]float64, dim),
		runVar:  make([]float64, dim),
	}
	for j := 0; j < dim; j++ {
		bn.gamma.Value[j] = 1
		bn.runVar[j] = 1
	}
	return bn
}

func (bn *batchNorm) forward(x *mat.Dense, training bool) (*mat.Dense, *bnCache) {
	n, _ := x.Dims()
	y := mat.NewDense(n, bn.dim, nil)
	cache := &bnCache{xHat: mat.NewDense(n, bn.dim, nil), invStd: make([]float64, bn.dim)}
	for j := 0; j < bn.dim; j++ {
		var mean, variance float64
		if training {
			for i := 0; i < n; i++ {
				mean += x.At(i, j)
			}
			mean /= float64(n)
			for i := 0; i < n; i++ {
				d := x.At(i, j) - mean
				variance += d * d
			}
			variance /= float64(n)
			bn.runMean[j] = (1-bnMomentum)*bn.runMean[j] + bnMomentum*mean
			bn.runVar[j] = (1-bnMomentum)*bn.runVar[j] + bnMomentum*variance
		} else {
			mean = bn.runMean[j]
			variance = bn.runVar[j]
		}
		invStd := 1.0 / math.Sqrt(variance+bnEps)
		cache.invStd[j] = invStd
		for i := 0; i < n; i++ {
			xh := (x.At(i, j) - mean) * invStd
			cache.xHat.Set(i, j, xh)
			y.Set(i, j, bn.gamma.Value[j]*xh+bn.beta.Value[j])
		}
	}
	return y, cache
}

// backward accumulates dGamma/dBeta and returns dX using the train-mode
// batch-statistics gradient.
func (bn *batchNorm) backward(dY *mat.Dense, cache *bnCache) *mat.Dense {
	n, _ := dY.Dims()
	dX := mat.NewDense(n, bn.dim, nil)
	for j := 0; j < bn.dim; j++ {
		var sumDy, sumDyXHat float64
		for i := 0; i < n; i++ {
			dy := dY.At(i, j)
			sumDy += dy
			sumDyXHat += dy * cache.xHat.At(i, j)
		}
		bn.beta.Grad[j] += sumDy
		bn.gamma.Grad[j] += sumDyXHat
		g := bn.gamma.Value[j]
		for i := 0; i < n; i++ {
			dy := dY.At(i, j)
			xh := cache.xHat.At(i, j)
			dX.Set(i, j, g*cache.invStd[j]/float64(n)*
				(float64(n)*dy-sumDy-xh*sumDyXHat))
		}
	}
	return dX
}

func (bn *batchNorm) params() []*optimizer.Param {
	return []*optimizer.Param{bn.gamma, bn.beta}
}
