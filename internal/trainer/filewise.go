package trainer

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/dataset"
	"github.com/McHughes288/emotion-detection-cpc/internal/metrics"
	"github.com/McHughes288/emotion-detection-cpc/internal/model"
)

// FilewiseResult aggregates a whole-file evaluation over a manifest.
type FilewiseResult struct {
	MeanLoss  float64
	Accuracy  float64
	MacroF1   float64
	Confusion *metrics.ConfusionMatrix
	Frames    int
}

// EvaluateFilewise walks every file in the manifest start to end, exactly
// once and in order, including any partial tail window. Each file is decoded
// as one continuous stream on a single lane, and per-file reference labels
// are resampled to the classifier's output length before scoring. Training
// stream state is stashed once around the whole pass.
func EvaluateFilewise(enc model.Encoder, m model.Model, entries []dataset.Entry, set *dataset.EmotionSet, windowSize int) (*FilewiseResult, error) {
	if len(entries) == 0 {
		return nil, errors.New("filewise evaluation over empty manifest")
	}

	enc.StashState()
	m.StashState()
	m.EvalMode()
	defer func() {
		m.TrainMode()
		m.PopState()
		enc.PopState()
	}()

	cm := metrics.NewConfusionMatrix(set.NumClasses())
	sumLoss := 0.0
	totalFrames := 0

	for _, entry := range entries {
		enc.ResetState()
		m.ResetState()

		stream, err := dataset.OpenFileStream(entry, windowSize, set, true)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.FeaturePath, err)
		}

		var logits []*mat.Dense
		var labels []int
		rows := 0
		for {
			w, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				return nil, fmt.Errorf("read %s: %w", entry.FeaturePath, err)
			}
			labels = append(labels, w.Labels...)
			encoded := enc.Encode([]*mat.Dense{w.Data})
			if encoded[0] == nil {
				// Short tail absorbed into encoder state; nothing to score.
				continue
			}
			out := m.Forward(encoded)
			r, _ := out[0].Dims()
			rows += r
			logits = append(logits, out[0])
		}
		stream.Close()
		if rows == 0 {
			return nil, fmt.Errorf("%s produced no frames", entry.FeaturePath)
		}

		refs := Resample(labels, rows)
		off := 0
		for _, l := range logits {
			r, _ := l.Dims()
			chunk := refs[off : off+r]
			loss, n := meanXentOnly([]*mat.Dense{l}, [][]int{chunk})
			sumLoss += loss * float64(n)
			for i, pred := range model.Argmax(l) {
				cm.Add(chunk[i], pred)
			}
			off += r
		}
		totalFrames += rows
	}

	return &FilewiseResult{
		MeanLoss:  sumLoss / float64(totalFrames),
		Accuracy:  cm.Accuracy(),
		MacroF1:   cm.MacroF1(),
		Confusion: cm,
		Frames:    totalFrames,
	}, nil
}
