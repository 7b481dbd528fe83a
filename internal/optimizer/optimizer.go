// Package optimizer implements the parameter update rule and learning rate
// schedule used by the training loop.
package optimizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Param is one flat parameter tensor with its accumulated gradient.
type Param struct {
	Value []float64
	Grad  []float64
}

// RAdamConfig holds RAdam hyperparameters.
type RAdamConfig struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
}

// DefaultRAdamConfig mirrors the trainer's defaults.
var DefaultRAdamConfig = RAdamConfig{
	LR:    4e-4,
	Beta1: 0.9,
	Beta2: 0.999,
	Eps:   1e-5,
}

// RAdam is rectified Adam: Adam with a warmup-free variance rectification
// term that falls back to SGD-with-momentum while the second-moment
// estimate is unreliable.
type RAdam struct {
	cfg    RAdamConfig
	params []*Param
	m      [][]float64
	v      [][]float64
	step   int
}

// NewRAdam builds optimizer state for the given parameters. Zero-valued
// config fields fall back to defaults.
func NewRAdam(params []*Param, cfg RAdamConfig) *RAdam {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = DefaultRAdamConfig.Beta1
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = DefaultRAdamConfig.Beta2
	}
	if cfg.Eps == 0 {
		cfg.Eps = DefaultRAdamConfig.Eps
	}
	if cfg.LR == 0 {
		cfg.LR = DefaultRAdamConfig.LR
	}
	opt := &RAdam{cfg: cfg, params: params}
	for _, p := range params {
		opt.m = append(opt.m, make([]float64, len(p.Value)))
		opt.v = append(opt.v, make([]float64, len(p.Value)))
	}
	return opt
}

// SetLR overrides the learning rate for subsequent steps (schedule hook).
func (o *RAdam) SetLR(lr float64) { o.cfg.LR = lr }

// LR returns the current learning rate.
func (o *RAdam) LR() float64 { return o.cfg.LR }

// Step applies one update from the accumulated gradients.
func (o *RAdam) Step() {
	o.step++
	t := float64(o.step)
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2
	b1t := math.Pow(b1, t)
	b2t := math.Pow(b2, t)
	rhoInf := 2.0/(1.0-b2) - 1.0
	rhoT := rhoInf - 2.0*t*b2t/(1.0-b2t)

	var rect float64
	rectified := rhoT > 4.0
	if rectified {
		rect = math.Sqrt(((rhoT - 4.0) * (rhoT - 2.0) * rhoInf) /
			((rhoInf - 4.0) * (rhoInf - 2.0) * rhoT))
	}

	for i, p := range o.params {
		m := o.m[i]
		v := o.v[i]
		for j, g := range p.Grad {
			m[j] = b1*m[j] + (1.0-b1)*g
			v[j] = b2*v[j] + (1.0-b2)*g*g
			mHat := m[j] / (1.0 - b1t)
			if rectified {
				vHat := math.Sqrt(v[j] / (1.0 - b2t))
				p.Value[j] -= o.cfg.LR * rect * mHat / (vHat + o.cfg.Eps)
			} else {
				p.Value[j] -= o.cfg.LR * mHat
			}
		}
	}
}

// ZeroGrad clears all accumulated gradients.
func (o *RAdam) ZeroGrad() {
	for _, p := range o.params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// ClipGradNorm scales all gradients so their global L2 norm does not exceed
// thresh. Returns the pre-clip norm.
func ClipGradNorm(params []*Param, thresh float64) float64 {
	sq := 0.0
	for _, p := range params {
		n := floats.Norm(p.Grad, 2)
		sq += n * n
	}
	norm := math.Sqrt(sq)
	if thresh > 0 && norm > thresh {
		scale := thresh / norm
		for _, p := range params {
			floats.Scale(scale, p.Grad)
		}
	}
	return norm
}
