package detector

// FindSwingHighs returns the indices of local maxima confirmed by a
// symmetric window of order bars on each side. The first and last
// order bars can never qualify, so a swing is only reported once
// enough bars have printed after it.
func FindSwingHighs(values []float64, order int) []int {
	return findSwings(values, order, func(candidate, neighbor float64) bool {
		return neighbor > candidate
	})
}

// FindSwingLows returns the indices of local minima, mirror of
// FindSwingHighs.
func FindSwingLows(values []float64, order int) []int {
	return findSwings(values, order, func(candidate, neighbor float64) bool {
		return neighbor < candidate
	})
}

func findSwings(values []float64, order int, beats func(candidate, neighbor float64) bool) []int {
	if order < 1 || len(values) < 2*order+1 {
		return nil
	}

	var swings []int
	for i := order; i < len(values)-order; i++ {
		isSwing := true
		for j := i - order; j <= i+order; j++ {
			if j == i {
				continue
			}
			if beats(values[i], values[j]) {
				isSwing = false
				break
			}
		}
		if isSwing {
			swings = append(swings, i)
		}
	}
	return swings
}
