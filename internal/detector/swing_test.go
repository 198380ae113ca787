package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindSwingHighsAndLows(t *testing.T) {
	values := []float64{1, 2, 3, 2, 1, 2, 3}

	assert.Equal(t, []int{2}, FindSwingHighs(values, 1))
	assert.Equal(t, []int{4}, FindSwingLows(values, 1))
}

func TestFindSwingsTiesCount(t *testing.T) {
	values := []float64{1, 2, 2, 1}

	// a flat top is reported at every tied bar
	assert.Equal(t, []int{1, 2}, FindSwingHighs(values, 1))
}

func TestFindSwingsEndpointsExcluded(t *testing.T) {
	// global extremes at the edges never qualify
	values := []float64{9, 5, 4, 5, 9}

	assert.Empty(t, FindSwingHighs(values, 1))
	assert.Equal(t, []int{2}, FindSwingLows(values, 1))
}

func TestFindSwingsDegenerateInput(t *testing.T) {
	assert.Nil(t, FindSwingHighs([]float64{1, 2}, 2))
	assert.Nil(t, FindSwingHighs([]float64{1, 2, 3}, 0))
}

func TestFindSwingsLargerOrder(t *testing.T) {
	values := []float64{5, 4, 3, 2, 1, 2, 3, 4, 5}

	assert.Equal(t, []int{4}, FindSwingLows(values, 2))
	assert.Empty(t, FindSwingHighs(values, 2))
}
