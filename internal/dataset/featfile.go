package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Feature files are little-endian binary: a fixed header followed by
// frames*dim float32 values, frame-major.
const featMagic = "FEAT"

// FeatureHeader describes a feature file.
type FeatureHeader struct {
	Dim        int
	SampleRate int
	Frames     int
}

// ReadFeatureHeader reads only the header of a feature file.
func ReadFeatureHeader(path string) (FeatureHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return FeatureHeader{}, fmt.Errorf("open features: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f), path)
}

func readHeader(r *bufio.Reader, path string) (FeatureHeader, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return FeatureHeader{}, fmt.Errorf("read header %s: %w", path, err)
	}
	if string(magic) != featMagic {
		return FeatureHeader{}, fmt.Errorf("%s: not a feature file (magic %q)", path, magic)
	}
	var fields [3]uint32
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return FeatureHeader{}, fmt.Errorf("read header %s: %w", path, err)
		}
	}
	hdr := FeatureHeader{Dim: int(fields[0]), SampleRate: int(fields[1]), Frames: int(fields[2])}
	if hdr.Dim <= 0 {
		return FeatureHeader{}, fmt.Errorf("%s: invalid feature dim %d", path, hdr.Dim)
	}
	return hdr, nil
}

// WriteFeatureFile writes frames of feature vectors in the binary format.
func WriteFeatureFile(path string, dim, sampleRate int, frames [][]float32) error {
	if dim <= 0 {
		return fmt.Errorf("write features %s: invalid dim %d", path, dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create features: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(featMagic); err != nil {
		return fmt.Errorf("write features %s: %w", path, err)
	}
	for _, v := range []uint32{uint32(dim), uint32(sampleRate), uint32(len(frames))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write features %s: %w", path, err)
		}
	}
	for i, frame := range frames {
		if len(frame) != dim {
			return fmt.Errorf("write features %s: frame %d has dim %d, want %d", path, i, len(frame), dim)
		}
		if err := binary.Write(w, binary.LittleEndian, frame); err != nil {
			return fmt.Errorf("write features %s: %w", path, err)
		}
	}
	return w.Flush()
}

// LabelSegment is one annotated span of frames, end exclusive.
type LabelSegment struct {
	Start   int
	End     int
	Emotion string
}

// ReadFrameLabels parses a segment label file and expands it to one class
// ID per frame. Segments must cover [0, frames) without gaps or overlap.
func ReadFrameLabels(path string, frames int, set *EmotionSet) ([]int, error) {
	segs, err := readLabelSegments(path)
	if err != nil {
		return nil, err
	}
	labels := make([]int, frames)
	cursor := 0
	for _, seg := range segs {
		id, ok := set.IDs[seg.Emotion]
		if !ok {
			return nil, fmt.Errorf("labels %s: unknown emotion %q", path, seg.Emotion)
		}
		if seg.Start != cursor {
			return nil, fmt.Errorf("labels %s: segment starts at %d, expected %d", path, seg.Start, cursor)
		}
		if seg.End <= seg.Start || seg.End > frames {
			return nil, fmt.Errorf("labels %s: bad segment [%d,%d) for %d frames", path, seg.Start, seg.End, frames)
		}
		for i := seg.Start; i < seg.End; i++ {
			labels[i] = id
		}
		cursor = seg.End
	}
	if cursor != frames {
		return nil, fmt.Errorf("labels %s: segments cover %d of %d frames", path, cursor, frames)
	}
	return labels, nil
}

func readLabelSegments(path string) ([]LabelSegment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	var segs []LabelSegment
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("labels %s line %d: want `start end emotion`", path, lineNo)
		}
		start, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("labels %s line %d: start: %w", path, lineNo, err)
		}
		end, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("labels %s line %d: end: %w", path, lineNo, err)
		}
		segs = append(segs, LabelSegment{Start: start, End: end, Emotion: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return segs, nil
}

// WriteLabelFile writes label segments, one per line. Test/tool helper.
func WriteLabelFile(path string, segs []LabelSegment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create labels: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, seg := range segs {
		if _, err := fmt.Fprintf(w, "%d %d %s\n", seg.Start, seg.End, seg.Emotion); err != nil {
			return fmt.Errorf("write labels %s: %w", path, err)
		}
	}
	return w.Flush()
}
