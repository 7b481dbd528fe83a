package dataset

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/McHughes288/emotion-detection-cpc/internal/rng"
)

// Window is one pull from a stream: frame features and per-frame labels.
type Window struct {
	Data   *mat.Dense // frames x dim
	Labels []int
}

// Frames returns the number of frames in the window.
func (w Window) Frames() int {
	r, _ := w.Data.Dims()
	return r
}

// FileStream iterates over one file in windowSize chunks, in order.
type FileStream struct {
	entry       Entry
	hdr         FeatureHeader
	f           *os.File
	r           *bufio.Reader
	labels      []int
	windowSize  int
	emitPartial bool
	pos         int
}

// OpenFileStream opens the feature/label pair of one manifest entry. When
// emitPartial is set, a short final window is emitted so every frame of the
// file appears exactly once; otherwise the tail is dropped.
func OpenFileStream(entry Entry, windowSize int, set *EmotionSet, emitPartial bool) (*FileStream, error) {
	f, err := os.Open(entry.FeaturePath)
	if err != nil {
		return nil, fmt.Errorf("open features: %w", err)
	}
	r := bufio.NewReader(f)
	hdr, err := readHeader(r, entry.FeaturePath)
	if err != nil {
		f.Close()
		return nil, err
	}
	labels, err := ReadFrameLabels(entry.LabelPath, hdr.Frames, set)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileStream{
		entry:       entry,
		hdr:         hdr,
		f:           f,
		r:           r,
		labels:      labels,
		windowSize:  windowSize,
		emitPartial: emitPartial,
	}, nil
}

// Header returns the feature file header.
func (s *FileStream) Header() FeatureHeader { return s.hdr }

// Next returns the next window, or io.EOF when the file is exhausted.
func (s *FileStream) Next() (Window, error) {
	remaining := s.hdr.Frames - s.pos
	if remaining <= 0 {
		return Window{}, io.EOF
	}
	n := s.windowSize
	if remaining < n {
		if !s.emitPartial {
			return Window{}, io.EOF
		}
		n = remaining
	}

	frame := make([]float32, s.hdr.Dim)
	data := mat.NewDense(n, s.hdr.Dim, nil)
	for i := 0; i < n; i++ {
		if err := binary.Read(s.r, binary.LittleEndian, frame); err != nil {
			return Window{}, fmt.Errorf("read frame %d of %s: %w", s.pos+i, s.entry.FeaturePath, err)
		}
		for j, v := range frame {
			data.Set(i, j, float64(v))
		}
	}
	labels := make([]int, n)
	copy(labels, s.labels[s.pos:s.pos+n])
	s.pos += n
	return Window{Data: data, Labels: labels}, nil
}

// Close releases the underlying file handle.
func (s *FileStream) Close() error { return s.f.Close() }

// Sampler picks manifest entries at random for a lane's next file.
type Sampler struct {
	entries []Entry
	src     *rng.Source
}

// NewSampler wraps the manifest entries with the shared randomness source.
func NewSampler(entries []Entry, src *rng.Source) *Sampler {
	return &Sampler{entries: entries, src: src}
}

// Sample returns a uniformly drawn manifest entry.
func (s *Sampler) Sample() Entry {
	return s.entries[s.src.Rand().Intn(len(s.entries))]
}

// Batch is one training step's worth of data: a full window per lane.
type Batch struct {
	Data   []*mat.Dense // lane -> windowSize x dim
	Labels [][]int      // lane -> windowSize
}

// Lanes returns the parallelism width of the batch.
func (b Batch) Lanes() int { return len(b.Data) }

// StreamLoader assembles batches from a fixed set of lanes, each lane an
// endless windowed stream over randomly sampled files. Next is a
// synchronous pull; all randomness flows through the sampler's shared
// source so a fixed-seed scope makes the whole loader deterministic.
type StreamLoader struct {
	sampler    *Sampler
	set        *EmotionSet
	windowSize int
	wantDim    int
	lanes      []*lane
}

type lane struct {
	stream *FileStream
}

// NewStreamLoader creates a loader with numLanes parallel streams.
func NewStreamLoader(entries []Entry, set *EmotionSet, windowSize, wantDim, numLanes int, src *rng.Source) (*StreamLoader, error) {
	if numLanes <= 0 {
		return nil, fmt.Errorf("loader: lanes must be > 0 (got %d)", numLanes)
	}
	l := &StreamLoader{
		sampler:    NewSampler(entries, src),
		set:        set,
		windowSize: windowSize,
		wantDim:    wantDim,
	}
	for i := 0; i < numLanes; i++ {
		l.lanes = append(l.lanes, &lane{})
	}
	return l, nil
}

// Next blocks until a full batch is assembled.
func (l *StreamLoader) Next(ctx context.Context) (Batch, error) {
	batch := Batch{
		Data:   make([]*mat.Dense, len(l.lanes)),
		Labels: make([][]int, len(l.lanes)),
	}
	for i, ln := range l.lanes {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		win, err := l.advance(ln)
		if err != nil {
			return Batch{}, err
		}
		batch.Data[i] = win.Data
		batch.Labels[i] = win.Labels
	}
	return batch, nil
}

func (l *StreamLoader) advance(ln *lane) (Window, error) {
	// Bound the number of consecutive too-short files so a manifest of
	// files smaller than the window fails instead of spinning.
	for attempts := 0; attempts <= 2*len(l.sampler.entries)+4; attempts++ {
		if ln.stream == nil {
			stream, err := OpenFileStream(l.sampler.Sample(), l.windowSize, l.set, false)
			if err != nil {
				return Window{}, err
			}
			if stream.Header().Dim != l.wantDim {
				stream.Close()
				return Window{}, fmt.Errorf("loader: %s has dim %d, expected %d",
					stream.entry.FeaturePath, stream.Header().Dim, l.wantDim)
			}
			ln.stream = stream
		}
		win, err := ln.stream.Next()
		if err == io.EOF {
			ln.stream.Close()
			ln.stream = nil
			continue
		}
		if err != nil {
			return Window{}, err
		}
		return win, nil
	}
	return Window{}, fmt.Errorf("loader: no file yielded a full %d-frame window", l.windowSize)
}

// Close releases any open lane streams.
func (l *StreamLoader) Close() error {
	var first error
	for _, ln := range l.lanes {
		if ln.stream != nil {
			if err := ln.stream.Close(); err != nil && first == nil {
				first = err
			}
			ln.stream = nil
		}
	}
	return first
}
