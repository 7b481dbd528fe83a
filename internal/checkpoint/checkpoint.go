// Package checkpoint persists model weights and decides when persistence
// happens during a run.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
)

// Checkpoint is a complete serialized model state plus run metadata.
type Checkpoint struct {
	Step       int           `json:"step"`
	Model      string        `json:"model"`
	FeatDim    int           `json:"feat_dim"`
	NumClasses int           `json:"num_classes"`
	Params     []ParamTensor `json:"params"`
	Metadata   Metadata      `json:"metadata"`
}

// ParamTensor is one flat parameter tensor in factory order.
type ParamTensor struct {
	Size   int       `json:"size"`
	Values []float64 `json:"values"`
}

// Metadata records provenance for a saved model.
type Metadata struct {
	Framework string    `json:"framework"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Capture snapshots the current parameter values into a Checkpoint.
func Capture(step int, modelName string, featDim, numClasses int, params []*optimizer.Param, runID string) *Checkpoint {
	ckpt := &Checkpoint{
		Step:       step,
		Model:      modelName,
		FeatDim:    featDim,
		NumClasses: numClasses,
		Metadata: Metadata{
			Framework: "emotion-detection-cpc",
			RunID:     runID,
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, p := range params {
		ckpt.Params = append(ckpt.Params, ParamTensor{
			Size:   len(p.Value),
			Values: append([]float64(nil), p.Value...),
		})
	}
	return ckpt
}

// Save writes the checkpoint as JSON. Existing files are replaced; the
// periodic naming scheme never reuses a path.
func Save(path string, ckpt *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(ckpt); err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", path, err)
	}
	return nil
}

// Load reads a checkpoint from disk.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	var ckpt Checkpoint
	if err := json.NewDecoder(f).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &ckpt, nil
}

// ApplyTo restores saved values into live parameters, which must come from
// a factory call with the same architecture config.
func (c *Checkpoint) ApplyTo(params []*optimizer.Param) error {
	if len(params) != len(c.Params) {
		return fmt.Errorf("checkpoint: %d tensors, model has %d", len(c.Params), len(params))
	}
	for i, p := range params {
		saved := c.Params[i]
		if len(p.Value) != saved.Size || len(saved.Values) != saved.Size {
			return fmt.Errorf("checkpoint: tensor %d size %d, model wants %d", i, saved.Size, len(p.Value))
		}
		copy(p.Value, saved.Values)
	}
	return nil
}

// PeriodicPath names a step-tagged checkpoint. Prior tags are never reused,
// so periodic saves never overwrite each other.
func PeriodicPath(base string, step int) string {
	return fmt.Sprintf("%s.step%d", base, step)
}

// BestPath names the best-validation checkpoint, rewritten in place.
func BestPath(base string) string {
	return base + ".bestval"
}

// Policy implements the two independent periodic persistence triggers.
type Policy struct {
	SaveEvery int
	bestLoss  float64
}

// NewPolicy creates a policy with no best loss observed yet.
func NewPolicy(saveEvery int) *Policy {
	return &Policy{SaveEvery: saveEvery, bestLoss: math.Inf(1)}
}

// PeriodicDue reports whether a step-tagged save is due. Step 0 is
// excluded: nothing has been learned yet.
func (p *Policy) PeriodicDue(step int) bool {
	return p.SaveEvery > 0 && step != 0 && step%p.SaveEvery == 0
}

// ObserveValidation records a streamed validation loss and reports whether
// it strictly improves on every prior observation.
func (p *Policy) ObserveValidation(loss float64) bool {
	if loss < p.bestLoss {
		p.bestLoss = loss
		return true
	}
	return false
}

// BestLoss returns the smallest validation loss seen, +Inf before any.
func (p *Policy) BestLoss() float64 { return p.bestLoss }
