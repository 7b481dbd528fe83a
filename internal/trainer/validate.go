package trainer

import (
	"context"
	"errors"
	"fmt"

	"github.com/McHughes288/emotion-detection-cpc/internal/dataset"
	"github.com/McHughes288/emotion-detection-cpc/internal/model"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// ValidateConfig describes one streamed validation pass.
type ValidateConfig struct {
	Entries    []dataset.Entry
	Set        *dataset.EmotionSet
	WindowSize int
	InputDim   int
	Lanes      int
	Steps      int
}

// validationSeed pins the sampling stream so repeated validations of the
// same parameters produce identical losses.
const validationSeed = 42

// Validate runs a streamed validation pass and returns the mean
// cross-entropy per frame. Training stream state (hidden state, conv
// history, encoder phase) is stashed before the pass and restored after, so
// validation never perturbs the training stream. The sampling generator is
// fixed for the duration of the pass.
func Validate(ctx context.Context, enc model.Encoder, m model.Model, vc ValidateConfig, src *rng.Source) (float64, error) {
	if vc.Steps <= 0 {
		return 0, fmt.Errorf("validation steps must be > 0 (got %d)", vc.Steps)
	}

	restore := src.Fix(validationSeed)
	defer restore()

	loader, err := dataset.NewStreamLoader(vc.Entries, vc.Set, vc.WindowSize, vc.InputDim, vc.Lanes, src)
	if err != nil {
		return 0, fmt.Errorf("open validation stream: %w", err)
	}
	defer loader.Close()

	enc.StashState()
	m.StashState()
	enc.ResetState()
	m.ResetState()
	m.EvalMode()
	defer func() {
		m.TrainMode()
		m.PopState()
		enc.PopState()
	}()

	// The reported loss is the mean of per-step losses; each step's loss is
	// itself a per-frame mean, so steps with fewer encoder outputs weigh
	// the same as full ones.
	sumLoss := 0.0
	steps := 0
	for i := 0; i < vc.Steps; i++ {
		batch, err := loader.Next(ctx)
		if err != nil {
			return 0, fmt.Errorf("validation batch %d: %w", i, err)
		}
		encoded := enc.Encode(batch.Data)
		for _, lane := range encoded {
			if lane == nil {
				return 0, fmt.Errorf("window of %d frames produced no encoder output; increase window_size", vc.WindowSize)
			}
		}
		logits := m.Forward(encoded)
		refs := make([][]int, len(logits))
		for li, l := range logits {
			rows, _ := l.Dims()
			refs[li] = Resample(batch.Labels[li], rows)
		}
		loss, n := meanXentOnly(logits, refs)
		if n == 0 {
			return 0, errors.New("validation batch produced no frames")
		}
		sumLoss += loss
		steps++
	}
	if steps == 0 {
		return 0, errors.New("validation produced no batches")
	}
	return sumLoss / float64(steps), nil
}
