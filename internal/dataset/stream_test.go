package dataset

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// mustEntry writes a synthetic feature/label pair where frame i has a
// single feature value of i and the label alternates per segment.
func mustEntry(t *testing.T, dir, name string, dim, frames int, set *EmotionSet) Entry {
	t.Helper()
	feats := make([][]float32, frames)
	for i := range feats {
		row := make([]float32, dim)
		for j := range row {
			row[j] = float32(i)
		}
		feats[i] = row
	}
	featPath := filepath.Join(dir, name+".feat")
	if err := WriteFeatureFile(featPath, dim, 16000, feats); err != nil {
		t.Fatalf("write features: %v", err)
	}
	labPath := filepath.Join(dir, name+".lab")
	half := frames / 2
	segs := []LabelSegment{{Start: 0, End: half, Emotion: set.Names[0]}}
	if half < frames {
		segs = append(segs, LabelSegment{Start: half, End: frames, Emotion: set.Names[len(set.Names)-1]})
	}
	if err := WriteLabelFile(labPath, segs); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	return Entry{FeaturePath: featPath, LabelPath: labPath}
}

func testSet(t *testing.T, dir string) *EmotionSet {
	t.Helper()
	path := filepath.Join(dir, "emotions.txt")
	writeFile(t, path, "neutral\nhappy\n")
	set, err := LoadEmotionSet(path)
	if err != nil {
		t.Fatalf("LoadEmotionSet: %v", err)
	}
	return set
}

func TestFeatureHeaderRoundtrip(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entry := mustEntry(t, dir, "a", 3, 10, set)
	hdr, err := ReadFeatureHeader(entry.FeaturePath)
	if err != nil {
		t.Fatalf("ReadFeatureHeader: %v", err)
	}
	if hdr.Dim != 3 || hdr.Frames != 10 || hdr.SampleRate != 16000 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestFileStreamExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entry := mustEntry(t, dir, "a", 2, 10, set)

	stream, err := OpenFileStream(entry, 4, set, true)
	if err != nil {
		t.Fatalf("OpenFileStream: %v", err)
	}
	defer stream.Close()

	var sizes []int
	var firstVals []float64
	for {
		win, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, win.Frames())
		firstVals = append(firstVals, win.Data.At(0, 0))
	}
	if !reflect.DeepEqual(sizes, []int{4, 4, 2}) {
		t.Fatalf("window sizes: %v", sizes)
	}
	// windows are in file order with no frame repeated
	if !reflect.DeepEqual(firstVals, []float64{0, 4, 8}) {
		t.Fatalf("window starts: %v", firstVals)
	}
}

func TestFileStreamDropsPartialTail(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entry := mustEntry(t, dir, "a", 2, 10, set)

	stream, err := OpenFileStream(entry, 4, set, false)
	if err != nil {
		t.Fatalf("OpenFileStream: %v", err)
	}
	defer stream.Close()

	count := 0
	for {
		if _, err := stream.Next(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 full windows, got %d", count)
	}
}

func TestFileStreamLabelsFollowSegments(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entry := mustEntry(t, dir, "a", 1, 8, set)

	stream, err := OpenFileStream(entry, 8, set, true)
	if err != nil {
		t.Fatalf("OpenFileStream: %v", err)
	}
	defer stream.Close()
	win, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := []int{0, 0, 0, 0, 1, 1, 1, 1}
	if !reflect.DeepEqual(win.Labels, want) {
		t.Fatalf("labels: got %v want %v", win.Labels, want)
	}
}

func TestReadFrameLabelsRejectsGaps(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	path := filepath.Join(dir, "gap.lab")
	if err := WriteLabelFile(path, []LabelSegment{
		{Start: 0, End: 3, Emotion: "neutral"},
		{Start: 5, End: 8, Emotion: "happy"},
	}); err != nil {
		t.Fatalf("WriteLabelFile: %v", err)
	}
	if _, err := ReadFrameLabels(path, 8, set); err == nil {
		t.Fatal("expected error for gap in segments")
	}
}

func TestStreamLoaderBatchShape(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entries := []Entry{
		mustEntry(t, dir, "a", 2, 20, set),
		mustEntry(t, dir, "b", 2, 12, set),
	}
	src := rng.New(1)
	loader, err := NewStreamLoader(entries, set, 4, 2, 3, src)
	if err != nil {
		t.Fatalf("NewStreamLoader: %v", err)
	}
	defer loader.Close()

	batch, err := loader.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if batch.Lanes() != 3 {
		t.Fatalf("expected 3 lanes, got %d", batch.Lanes())
	}
	for i, d := range batch.Data {
		r, c := d.Dims()
		if r != 4 || c != 2 {
			t.Fatalf("lane %d window is %dx%d, want 4x2", i, r, c)
		}
		if len(batch.Labels[i]) != 4 {
			t.Fatalf("lane %d labels length %d", i, len(batch.Labels[i]))
		}
	}
}

func TestStreamLoaderDeterministicUnderFixedSeed(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	var entries []Entry
	for i := 0; i < 3; i++ {
		entries = append(entries, mustEntry(t, dir, fmt.Sprintf("f%d", i), 1, 10+i*3, set))
	}
	collect := func() []float64 {
		src := rng.New(99)
		loader, err := NewStreamLoader(entries, set, 5, 1, 2, src)
		if err != nil {
			t.Fatalf("NewStreamLoader: %v", err)
		}
		defer loader.Close()
		var out []float64
		for i := 0; i < 6; i++ {
			batch, err := loader.Next(context.Background())
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			for _, d := range batch.Data {
				out = append(out, d.At(0, 0))
			}
		}
		return out
	}
	if !reflect.DeepEqual(collect(), collect()) {
		t.Fatal("loader not deterministic for identical seeds")
	}
}

func TestStreamLoaderRejectsDimMismatch(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entries := []Entry{mustEntry(t, dir, "a", 3, 20, set)}
	loader, err := NewStreamLoader(entries, set, 4, 2, 1, rng.New(1))
	if err != nil {
		t.Fatalf("NewStreamLoader: %v", err)
	}
	defer loader.Close()
	if _, err := loader.Next(context.Background()); err == nil {
		t.Fatal("expected dim mismatch error")
	}
}

func TestStreamLoaderFailsOnShortFiles(t *testing.T) {
	dir := t.TempDir()
	set := testSet(t, dir)
	entries := []Entry{mustEntry(t, dir, "a", 1, 3, set)}
	loader, err := NewStreamLoader(entries, set, 8, 1, 1, rng.New(1))
	if err != nil {
		t.Fatalf("NewStreamLoader: %v", err)
	}
	defer loader.Close()
	if _, err := loader.Next(context.Background()); err == nil {
		t.Fatal("expected error when no file can fill a window")
	}
}
