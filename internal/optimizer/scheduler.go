package optimizer

import "math"

// FlatCA holds the learning rate flat for the first two thirds of training,
// then cosine-anneals it to EtaMin over the final third.
type FlatCA struct {
	BaseLR     float64
	TotalSteps int
	EtaMin     float64
}

// NewFlatCA creates the schedule over totalSteps steps.
func NewFlatCA(baseLR float64, totalSteps int, etaMin float64) *FlatCA {
	if totalSteps <= 0 {
		totalSteps = 1
	}
	return &FlatCA{BaseLR: baseLR, TotalSteps: totalSteps, EtaMin: etaMin}
}

// LR returns the learning rate for the given step.
func (s *FlatCA) LR(step int) float64 {
	flat := (s.TotalSteps * 2) / 3
	if step < flat {
		return s.BaseLR
	}
	if step >= s.TotalSteps {
		return s.EtaMin
	}
	span := s.TotalSteps - flat
	progress := float64(step-flat) / float64(span)
	return s.EtaMin + (s.BaseLR-s.EtaMin)*(1.0+math.Cos(math.Pi*progress))/2.0
}
