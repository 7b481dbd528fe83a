package metrics

import (
	"fmt"
	"strings"
)

// ConfusionMatrix counts reference/prediction pairs for a multi-class task.
// Rows index the reference class, columns the predicted class.
type ConfusionMatrix struct {
	numClasses int
	counts     [][]int
	total      int
}

// NewConfusionMatrix creates an empty numClasses x numClasses matrix.
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	counts := make([][]int, numClasses)
	for i := range counts {
		counts[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{numClasses: numClasses, counts: counts}
}

// Add records one reference/prediction pair. Out-of-range classes are an
// upstream bug and panic rather than being silently dropped.
func (cm *ConfusionMatrix) Add(ref, pred int) {
	if ref < 0 || ref >= cm.numClasses || pred < 0 || pred >= cm.numClasses {
		panic(fmt.Sprintf("metrics: class out of range: ref=%d pred=%d classes=%d", ref, pred, cm.numClasses))
	}
	cm.counts[ref][pred]++
	cm.total++
}

// NumClasses returns the matrix dimension.
func (cm *ConfusionMatrix) NumClasses() int { return cm.numClasses }

// Total returns the number of recorded pairs.
func (cm *ConfusionMatrix) Total() int { return cm.total }

// Count returns the number of pairs with the given reference and prediction.
func (cm *ConfusionMatrix) Count(ref, pred int) int { return cm.counts[ref][pred] }

// Accuracy returns the fraction of pairs on the diagonal.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.numClasses; i++ {
		correct += cm.counts[i][i]
	}
	return float64(correct) / float64(cm.total)
}

// MacroF1 returns the unweighted mean of per-class F1 scores. Classes with
// no predicted and no reference occurrences contribute an F1 of zero, which
// matches the usual macro-averaged definition over a fixed class set.
func (cm *ConfusionMatrix) MacroF1() float64 {
	if cm.numClasses == 0 {
		return 0
	}
	sum := 0.0
	for c := 0; c < cm.numClasses; c++ {
		tp := float64(cm.counts[c][c])
		fp := 0.0
		fn := 0.0
		for o := 0; o < cm.numClasses; o++ {
			if o == c {
				continue
			}
			fp += float64(cm.counts[o][c])
			fn += float64(cm.counts[c][o])
		}
		denom := 2*tp + fp + fn
		if denom > 0 {
			sum += 2 * tp / denom
		}
	}
	return sum / float64(cm.numClasses)
}

// CSV renders the matrix with a header row of predicted-class indices.
func (cm *ConfusionMatrix) CSV() string {
	var b strings.Builder
	b.WriteString("ref\\pred")
	for c := 0; c < cm.numClasses; c++ {
		fmt.Fprintf(&b, ",%d", c)
	}
	b.WriteByte('\n')
	for r := 0; r < cm.numClasses; r++ {
		fmt.Fprintf(&b, "%d", r)
		for c := 0; c < cm.numClasses; c++ {
			fmt.Fprintf(&b, ",%d", cm.counts[r][c])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
