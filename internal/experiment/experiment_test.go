package experiment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "exp")
	d, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	for _, sub := range []string{"losses", "eval"} {
		info, err := os.Stat(filepath.Join(root, sub))
		if err != nil || !info.IsDir() {
			t.Fatalf("missing dir %s: %v", sub, err)
		}
	}
	if d.RunID() == "" {
		t.Fatal("empty run ID")
	}
}

func TestLossLinesAppendInOrder(t *testing.T) {
	root := t.TempDir()
	d, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.TrainLosses.Append(0, 1.5); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.TrainLosses.Append(1, 0.25); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.ValidLosses.Append(5, 0.75); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	train, err := os.ReadFile(filepath.Join(root, "losses", "train.txt"))
	if err != nil {
		t.Fatalf("read train.txt: %v", err)
	}
	if got, want := string(train), "0, 1.5\n1, 0.25\n"; got != want {
		t.Fatalf("train.txt = %q, want %q", got, want)
	}
	valid, err := os.ReadFile(filepath.Join(root, "losses", "valid.txt"))
	if err != nil {
		t.Fatalf("read valid.txt: %v", err)
	}
	if got, want := string(valid), "5, 0.75\n"; got != want {
		t.Fatalf("valid.txt = %q, want %q", got, want)
	}
}

func TestMetadataAppends(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.WriteMetadata("run_id", d.RunID()); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := d.WriteMetadata("feat_dim", 64); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(d.Root(), "metadata.txt"))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("metadata lines = %d, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "run_id ") || lines[1] != "feat_dim 64" {
		t.Fatalf("unexpected metadata: %q", lines)
	}
}

func TestEvalArtifact(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	if err := d.WriteEvalArtifact("val", 100, "confusion", "a,b\n1,2\n"); err != nil {
		t.Fatalf("WriteEvalArtifact: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(d.Root(), "eval", "confusion_val_step100.csv"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Fatalf("artifact content = %q", data)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
