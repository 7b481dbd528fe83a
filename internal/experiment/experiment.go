// Package experiment manages the on-disk layout of a training run:
// append-only loss logs, run metadata, and evaluation artifacts.
package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Dir is an open experiment directory. Loss files are opened once per run,
// written unbuffered so every line hits the file immediately, and closed
// exactly once on Close.
type Dir struct {
	root  string
	runID string

	TrainLosses *LossWriter
	ValidLosses *LossWriter

	metaMu   sync.Mutex
	metaPath string

	closeOnce sync.Once
	closeErr  error
}

// Open creates (or reuses) the experiment layout under root.
func Open(root string) (*Dir, error) {
	lossDir := filepath.Join(root, "losses")
	evalDir := filepath.Join(root, "eval")
	for _, dir := range []string{root, lossDir, evalDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create experiment dir: %w", err)
		}
	}
	train, err := newLossWriter(filepath.Join(lossDir, "train.txt"))
	if err != nil {
		return nil, err
	}
	valid, err := newLossWriter(filepath.Join(lossDir, "valid.txt"))
	if err != nil {
		train.close()
		return nil, err
	}
	return &Dir{
		root:        root,
		runID:       uuid.NewString(),
		TrainLosses: train,
		ValidLosses: valid,
		metaPath:    filepath.Join(root, "metadata.txt"),
	}, nil
}

// RunID identifies this run in metadata and checkpoints.
func (d *Dir) RunID() string { return d.runID }

// Root returns the experiment root path.
func (d *Dir) Root() string { return d.root }

// WriteMetadata appends one `key value` line to metadata.txt.
func (d *Dir) WriteMetadata(key string, value any) error {
	d.metaMu.Lock()
	defer d.metaMu.Unlock()
	f, err := os.OpenFile(d.metaPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s %v\n", key, value); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// WriteEvalArtifact stores an evaluation byproduct (confusion matrix CSV)
// under eval/, named by split and step.
func (d *Dir) WriteEvalArtifact(split string, step int, name, content string) error {
	path := filepath.Join(d.root, "eval", fmt.Sprintf("%s_%s_step%d.csv", name, split, step))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write eval artifact: %w", err)
	}
	return nil
}

// Close releases the loss file handles. Safe to call once at normal
// termination; abrupt process death may lose the last buffered OS writes,
// which is an accepted limitation.
func (d *Dir) Close() error {
	d.closeOnce.Do(func() {
		if err := d.TrainLosses.close(); err != nil {
			d.closeErr = err
		}
		if err := d.ValidLosses.close(); err != nil && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}

// LossWriter appends `<step>, <loss>` lines to a loss log.
type LossWriter struct {
	f *os.File
}

func newLossWriter(path string) (*LossWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open loss log: %w", err)
	}
	return &LossWriter{f: f}, nil
}

// Append writes one loss line.
func (w *LossWriter) Append(step int, loss float64) error {
	if _, err := fmt.Fprintf(w.f, "%d, %v\n", step, loss); err != nil {
		return fmt.Errorf("append loss: %w", err)
	}
	return nil
}

func (w *LossWriter) close() error {
	return w.f.Close()
}
