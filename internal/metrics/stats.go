package metrics

import "time"

// Window accumulates training-step observations between log events: how
// many encoded frames went through the model, where the wall time went, and
// the loss trajectory over the window.
type Window struct {
	frames  int
	steps   int
	data    time.Duration
	compute time.Duration

	lossSum  float64
	lastLoss float64
}

// Record adds one training step to the window.
func (w *Window) Record(frames int, dataTime, computeTime time.Duration, loss float64) {
	w.frames += frames
	w.steps++
	w.data += dataTime
	w.compute += computeTime
	w.lossSum += loss
	w.lastLoss = loss
}

// Snapshot reduces the window to loggable numbers and resets it.
// FramesPerSec is model throughput (frames over compute time, excluding
// data stalls); DataFraction is the share of wall time spent waiting on
// the stream, the number to watch when throughput drops.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps, LastLoss: w.lastLoss}
	if w.compute > 0 {
		snap.FramesPerSec = float64(w.frames) / w.compute.Seconds()
	}
	if total := w.data + w.compute; total > 0 {
		snap.DataFraction = w.data.Seconds() / total.Seconds()
	}
	if w.steps > 0 {
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}

	*w = Window{}
	return snap
}

// Snapshot is one log event's worth of training statistics.
type Snapshot struct {
	Steps        int
	FramesPerSec float64
	DataFraction float64
	MeanLoss     float64
	LastLoss     float64
}
