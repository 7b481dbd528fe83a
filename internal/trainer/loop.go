// Package trainer drives the step loop: streamed batches in, gradient
// updates out, with periodic validation and checkpointing.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/McHughes288/emotion-detection-cpc/internal/checkpoint"
	"github.com/McHughes288/emotion-detection-cpc/internal/config"
	"github.com/McHughes288/emotion-detection-cpc/internal/dataset"
	"github.com/McHughes288/emotion-detection-cpc/internal/experiment"
	"github.com/McHughes288/emotion-detection-cpc/internal/metrics"
	"github.com/McHughes288/emotion-detection-cpc/internal/model"
	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// RunConfig wires a fully constructed run: config, data, model, and the
// experiment directory that receives logs and artifacts.
type RunConfig struct {
	Cfg *config.Config
	Set *dataset.EmotionSet

	Encoder  model.Encoder
	Model    model.Model
	InputDim int

	TrainEntries []dataset.Entry
	ValEntries   []dataset.Entry
	TestEntries  []dataset.Entry

	Src *rng.Source
	Exp *experiment.Dir
	Log *slog.Logger
}

// Run executes the full training loop. The loop processes steps+1 batches
// (steps 0 through steps inclusive); periodic validation and periodic saves
// fire on interior multiples of their cadence, never at step 0 and never at
// the terminal step. A final untagged checkpoint is always written.
func Run(ctx context.Context, rc RunConfig) error {
	cfg := rc.Cfg
	logger := rc.Log
	if logger == nil {
		logger = slog.Default()
	}

	loader, err := dataset.NewStreamLoader(rc.TrainEntries, rc.Set, cfg.WindowSize, rc.InputDim, cfg.BatchSize, rc.Src)
	if err != nil {
		return fmt.Errorf("open training stream: %w", err)
	}
	defer loader.Close()

	params := rc.Model.Params()
	optCfg := optimizer.DefaultRAdamConfig
	if cfg.LR > 0 {
		optCfg.LR = cfg.LR
	}
	opt := optimizer.NewRAdam(params, optCfg)
	var sched *optimizer.FlatCA
	if cfg.LRSchedule {
		sched = optimizer.NewFlatCA(optCfg.LR, cfg.Steps, 0)
	}

	policy := checkpoint.NewPolicy(cfg.SaveEvery)
	var stats metrics.Window
	rc.Model.TrainMode()

	logger.Info("training started",
		"model", cfg.Model,
		"steps", cfg.Steps,
		"batch_size", cfg.BatchSize,
		"window_size", cfg.WindowSize,
		"val_every", cfg.ValEvery,
		"save_every", cfg.SaveEvery,
		"lr", opt.LR(),
	)

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training interrupted at step %d: %w", step, err)
		}

		dataStart := time.Now()
		batch, err := loader.Next(ctx)
		if err != nil {
			return fmt.Errorf("training batch at step %d: %w", step, err)
		}
		dataTime := time.Since(dataStart)

		computeStart := time.Now()
		encoded := rc.Encoder.Encode(batch.Data)
		for _, lane := range encoded {
			if lane == nil {
				return fmt.Errorf("window of %d frames produced no encoder output; increase window_size", cfg.WindowSize)
			}
		}
		logits := rc.Model.Forward(encoded)
		refs := make([][]int, len(logits))
		frames := 0
		for li, l := range logits {
			rows, _ := l.Dims()
			refs[li] = Resample(batch.Labels[li], rows)
			frames += rows
		}
		loss, grads := SoftmaxXent(logits, refs)

		opt.ZeroGrad()
		rc.Model.Backward(grads)
		if cfg.ClipThresh > 0 {
			optimizer.ClipGradNorm(params, cfg.ClipThresh)
		}
		if sched != nil {
			opt.SetLR(sched.LR(step))
		}
		opt.Step()
		stats.Record(frames, dataTime, time.Since(computeStart), loss)

		if err := rc.Exp.TrainLosses.Append(step, loss); err != nil {
			return err
		}

		// The terminal step trains but never dispatches periodic events.
		if step >= cfg.Steps {
			break
		}

		if step != 0 && step%cfg.ValEvery == 0 {
			if err := runValidation(ctx, rc, policy, step, opt.LR(), &stats, logger); err != nil {
				return err
			}
		}
		if policy.PeriodicDue(step) {
			path := checkpoint.PeriodicPath(cfg.ModelOut, step)
			ckpt := checkpoint.Capture(step, cfg.Model, rc.Encoder.FeatDim(), rc.Set.NumClasses(), params, rc.Exp.RunID())
			if err := checkpoint.Save(path, ckpt); err != nil {
				return fmt.Errorf("periodic save at step %d: %w", step, err)
			}
			logger.Info("checkpoint saved", "step", step, "path", path)
		}
	}

	ckpt := checkpoint.Capture(cfg.Steps, cfg.Model, rc.Encoder.FeatDim(), rc.Set.NumClasses(), params, rc.Exp.RunID())
	if err := checkpoint.Save(cfg.ModelOut, ckpt); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	snap := stats.Snapshot()
	logger.Info("training finished",
		"steps", cfg.Steps,
		"final_loss", snap.LastLoss,
		"frames_per_sec", snap.FramesPerSec,
		"data_fraction", snap.DataFraction,
		"model_out", cfg.ModelOut,
	)
	return nil
}

func runValidation(ctx context.Context, rc RunConfig, policy *checkpoint.Policy, step int, lr float64, stats *metrics.Window, logger *slog.Logger) error {
	cfg := rc.Cfg
	vloss, err := Validate(ctx, rc.Encoder, rc.Model, ValidateConfig{
		Entries:    rc.ValEntries,
		Set:        rc.Set,
		WindowSize: cfg.WindowSize,
		InputDim:   rc.InputDim,
		Lanes:      cfg.BatchSize,
		Steps:      cfg.ValidSteps,
	}, rc.Src)
	if err != nil {
		return fmt.Errorf("validation at step %d: %w", step, err)
	}
	if err := rc.Exp.ValidLosses.Append(step, vloss); err != nil {
		return err
	}

	valRes, err := EvaluateFilewise(rc.Encoder, rc.Model, rc.ValEntries, rc.Set, cfg.WindowSize)
	if err != nil {
		return fmt.Errorf("filewise val at step %d: %w", step, err)
	}
	if err := rc.Exp.WriteEvalArtifact("val", step, "confusion", valRes.Confusion.CSV()); err != nil {
		return err
	}

	snap := stats.Snapshot()
	logger.Info("validation",
		"step", step,
		"valid_loss", vloss,
		"val_accuracy", valRes.Accuracy,
		"val_macro_f1", valRes.MacroF1,
		"train_loss", snap.MeanLoss,
		"frames_per_sec", snap.FramesPerSec,
		"data_fraction", snap.DataFraction,
		"lr", lr,
	)

	// Test metrics are observational: logged but never steer checkpointing.
	if len(rc.TestEntries) > 0 {
		testRes, err := EvaluateFilewise(rc.Encoder, rc.Model, rc.TestEntries, rc.Set, cfg.WindowSize)
		if err != nil {
			return fmt.Errorf("filewise test at step %d: %w", step, err)
		}
		if err := rc.Exp.WriteEvalArtifact("test", step, "confusion", testRes.Confusion.CSV()); err != nil {
			return err
		}
		logger.Info("test evaluation",
			"step", step,
			"test_loss", testRes.MeanLoss,
			"test_accuracy", testRes.Accuracy,
			"test_macro_f1", testRes.MacroF1,
		)
	}

	if policy.ObserveValidation(vloss) {
		path := checkpoint.BestPath(cfg.ModelOut)
		ckpt := checkpoint.Capture(step, cfg.Model, rc.Encoder.FeatDim(), rc.Set.NumClasses(), rc.Model.Params(), rc.Exp.RunID())
		if err := checkpoint.Save(path, ckpt); err != nil {
			return fmt.Errorf("best save at step %d: %w", step, err)
		}
		logger.Info("new best validation loss", "step", step, "valid_loss", vloss, "path", path)
	}
	return nil
}
