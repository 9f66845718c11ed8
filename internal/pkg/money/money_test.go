package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareAvoidsFloatNoise(t *testing.T) {
	assert.True(t, LTE(0.1+0.2, 0.3))
	assert.True(t, GTE(0.3, 0.1+0.2))
	assert.False(t, GT(1450, 1450))
}

func TestFloorToStep(t *testing.T) {
	assert.Equal(t, int64(6400), FloorToStep(6451, 100))
	assert.Equal(t, int64(0), FloorToStep(64, 100))
	assert.Equal(t, int64(0), FloorToStep(-5, 100))
	assert.Equal(t, int64(7), FloorToStep(7, 0))
}

func TestShares(t *testing.T) {
	assert.Equal(t, int64(6451), Shares(Dec(100000), Dec(15.5)))
	assert.Equal(t, int64(64), Shares(Dec(100000), Dec(1550)))
	assert.Equal(t, int64(0), Shares(Dec(100), Zero))
}
