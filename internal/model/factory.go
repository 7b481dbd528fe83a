package model

import (
	"fmt"

	"github.com/McHughes288/emotion-detection-cpc/internal/config"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// New maps the configured architecture name to a concrete classifier.
// Unknown names are a configuration error caught before training begins.
func New(cfg *config.Config, featDim, numClasses int, src *rng.Source) (Model, error) {
	switch cfg.Model {
	case "linear":
		return NewLinear(featDim, numClasses, src.Rand()), nil
	case "baseline":
		return NewBaseline(numClasses), nil
	case "mlp2":
		return NewMLP(featDim, numClasses, MLPConfig{
			Layers:      2,
			HiddenSize:  cfg.HiddenSize,
			DropoutProb: cfg.DropoutProb,
			BatchNorm:   cfg.BatchNorm,
		}, src), nil
	case "mlp4":
		return NewMLP(featDim, numClasses, MLPConfig{
			Layers:      4,
			HiddenSize:  cfg.HiddenSize,
			DropoutProb: cfg.DropoutProb,
			BatchNorm:   cfg.BatchNorm,
		}, src), nil
	case "conv":
		return NewConv(featDim, numClasses, 4, cfg.HiddenSize, src), nil
	case "rnn":
		return NewRecurrent(featDim, numClasses, cfg.HiddenSize, false, src), nil
	case "rnn_bi":
		return NewRecurrent(featDim, numClasses, cfg.HiddenSize, true, src), nil
	default:
		return nil, fmt.Errorf("model: unknown architecture %q", cfg.Model)
	}
}
