package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/McHughes288/emotion-detection-cpc/internal/config"
	"github.com/McHughes288/emotion-detection-cpc/internal/dataset"
	"github.com/McHughes288/emotion-detection-cpc/internal/experiment"
	"github.com/McHughes288/emotion-detection-cpc/internal/model"
	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
	"github.com/McHughes288/emotion-detection-cpc/internal/trainer"
)

// registerFlags binds the full flag surface to cfg. batch-size and steps
// have no usable default: leaving them at zero fails Validate before any
// training state exists.
func registerFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.ExpDir, "expdir", "", "Experiment directory for logs, metadata and checkpoints")
	fs.StringVar(&cfg.TrainData, "train-data", "", "Training manifest (.dbl)")
	fs.StringVar(&cfg.ValData, "val-data", "", "Validation manifest (.dbl)")
	fs.StringVar(&cfg.TestData, "test-data", "", "Optional test manifest (.dbl), observational only")
	fs.StringVar(&cfg.EmotionSetPath, "emotion-set", "", "Emotion inventory file, one name per line")
	fs.StringVar(&cfg.CPCPath, "cpc", "", "Optional frozen CPC encoder (JSON); omit to classify raw features")
	fs.StringVar(&cfg.ModelOut, "model-out", "", "Checkpoint base path (default <expdir>/model.json)")
	fs.StringVar(&cfg.Model, "model", "mlp2", "Classifier architecture")
	fs.IntVar(&cfg.WindowSize, "window-size", 2048, "Frames per streamed window")
	fs.IntVar(&cfg.BatchSize, "batch-size", 0, "Parallel file lanes per batch (required)")
	fs.IntVar(&cfg.Steps, "steps", 0, "Training steps (required)")
	fs.IntVar(&cfg.HiddenSize, "hidden-size", 1024, "Hidden layer width")
	fs.Float64Var(&cfg.DropoutProb, "dropout", 0.0, "Dropout probability for MLP hidden layers")
	fs.Float64Var(&cfg.LR, "lr", 4e-4, "Learning rate")
	fs.Float64Var(&cfg.ClipThresh, "clip-thresh", 1.0, "Gradient norm clip threshold (0 disables)")
	fs.BoolVar(&cfg.BatchNorm, "batch-norm", false, "Batch-normalize MLP hidden layers")
	fs.BoolVar(&cfg.LRSchedule, "lr-schedule", false, "Flat-then-cosine learning rate schedule")
	fs.IntVar(&cfg.ValidSteps, "valid-steps", 0, "Streamed validation batches per pass (0 derives from cadence)")
	fs.IntVar(&cfg.ValEvery, "val-every", 0, "Validate every N steps (0 derives from steps)")
	fs.IntVar(&cfg.SaveEvery, "save-every", 0, "Periodic checkpoint cadence (0 follows val-every)")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Shrink the run for a smoke test")
	fs.Int64Var(&cfg.Seed, "seed", 1234, "PRNG seed")
}

func main() {
	cfg := &config.Config{}
	registerFlags(flag.CommandLine, cfg)
	flag.Parse()

	if cfg.DryRun {
		cfg.SetupDryRun()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	set, err := dataset.LoadEmotionSet(cfg.EmotionSetPath)
	if err != nil {
		log.Fatalf("load emotion set: %v", err)
	}

	trainEntries, err := dataset.ParseDBL(cfg.TrainData)
	if err != nil {
		log.Fatalf("load training manifest: %v", err)
	}
	valEntries, err := dataset.ParseDBL(cfg.ValData)
	if err != nil {
		log.Fatalf("load validation manifest: %v", err)
	}
	var testEntries []dataset.Entry
	if cfg.TestData != "" {
		testEntries, err = dataset.ParseDBL(cfg.TestData)
		if err != nil {
			log.Fatalf("load test manifest: %v", err)
		}
	}

	hdr, err := dataset.ReadFeatureHeader(trainEntries[0].FeaturePath)
	if err != nil {
		log.Fatalf("probe feature header: %v", err)
	}

	var enc model.Encoder
	if cfg.CPCPath != "" {
		cpc, err := model.LoadCPC(cfg.CPCPath)
		if err != nil {
			log.Fatalf("load CPC encoder: %v", err)
		}
		if cpc.InputDim() != hdr.Dim {
			log.Fatalf("feature dim %d does not match CPC input dim %d", hdr.Dim, cpc.InputDim())
		}
		enc = cpc
	} else {
		enc = model.NewNoCPC(hdr.Dim, hdr.SampleRate)
	}

	src := rng.New(cfg.Seed)
	clf, err := model.New(cfg, enc.FeatDim(), set.NumClasses(), src)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}

	exp, err := experiment.Open(cfg.ExpDir)
	if err != nil {
		log.Fatalf("open experiment dir: %v", err)
	}
	defer exp.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("run_id", exp.RunID())

	meta := []struct {
		key   string
		value any
	}{
		{"run_id", exp.RunID()},
		{"model", cfg.Model},
		{"seed", cfg.Seed},
		{"feat_dim", enc.FeatDim()},
		{"sampling_rate_hz", enc.SamplingRateHz()},
		{"num_classes", set.NumClasses()},
	}
	for _, m := range meta {
		if err := exp.WriteMetadata(m.key, m.value); err != nil {
			log.Fatalf("write metadata: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = trainer.Run(ctx, trainer.RunConfig{
		Cfg:          cfg,
		Set:          set,
		Encoder:      enc,
		Model:        clf,
		InputDim:     hdr.Dim,
		TrainEntries: trainEntries,
		ValEntries:   valEntries,
		TestEntries:  testEntries,
		Src:          src,
		Exp:          exp,
		Log:          logger,
	})
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		log.Fatalf("close experiment dir: %v", err)
	}
}
