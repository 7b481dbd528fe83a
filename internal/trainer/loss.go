package trainer

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// SoftmaxXent computes mean softmax cross-entropy over every frame of every
// lane, plus the gradient with respect to each lane's logits. The gradient is
// already scaled by 1/totalFrames so it feeds Backward directly.
func SoftmaxXent(logits []*mat.Dense, labels [][]int) (float64, []*mat.Dense) {
	total := 0
	for _, l := range logits {
		r, _ := l.Dims()
		total += r
	}
	if total == 0 {
		return 0, nil
	}

	loss := 0.0
	grads := make([]*mat.Dense, len(logits))
	inv := 1.0 / float64(total)
	for li, l := range logits {
		rows, cols := l.Dims()
		d := mat.NewDense(rows, cols, nil)
		for i := 0; i < rows; i++ {
			row := l.RawRowView(i)
			m := row[0]
			for _, v := range row {
				if v > m {
					m = v
				}
			}
			sum := 0.0
			for _, v := range row {
				sum += math.Exp(v - m)
			}
			logSum := m + math.Log(sum)
			y := labels[li][i]
			loss += (logSum - row[y]) * inv
			dRow := d.RawRowView(i)
			for j, v := range row {
				dRow[j] = math.Exp(v-logSum) * inv
			}
			dRow[y] -= inv
		}
		grads[li] = d
	}
	return loss, grads
}

// meanXentOnly is SoftmaxXent without materializing the gradient, for
// no-grad evaluation passes.
func meanXentOnly(logits []*mat.Dense, labels [][]int) (float64, int) {
	total := 0
	for _, l := range logits {
		r, _ := l.Dims()
		total += r
	}
	if total == 0 {
		return 0, 0
	}
	loss := 0.0
	for li, l := range logits {
		rows, _ := l.Dims()
		for i := 0; i < rows; i++ {
			row := l.RawRowView(i)
			m := row[0]
			for _, v := range row {
				if v > m {
					m = v
				}
			}
			sum := 0.0
			for _, v := range row {
				sum += math.Exp(v - m)
			}
			loss += m + math.Log(sum) - row[labels[li][i]]
		}
	}
	return loss / float64(total), total
}
