package trainer

import "math"

// Resample stretches or squeezes a frame-label sequence to length n by
// nearest-index lookup, aligning reference labels with encoder outputs that
// run at a different frame rate.
func Resample(labels []int, n int) []int {
	if n <= 0 || len(labels) == 0 {
		return nil
	}
	out := make([]int, n)
	ratio := float64(len(labels)) / float64(n)
	for t := 0; t < n; t++ {
		idx := int(math.Round(float64(t) * ratio))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(labels) {
			idx = len(labels) - 1
		}
		out[t] = labels[idx]
	}
	return out
}
