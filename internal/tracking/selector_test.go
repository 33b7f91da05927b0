package tracking

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTargetEmpty(t *testing.T) {
	_, ok := SelectTarget(nil)
	assert.False(t, ok)
	_, ok = SelectTarget([]Box{})
	assert.False(t, ok)
}

func TestSelectTargetLargestFirstOnTie(t *testing.T) {
	boxes := []Box{
		{X: 0, Y: 0, Width: 2, Height: 5},   // 10
		{X: 10, Y: 0, Width: 4, Height: 10}, // 40
		{X: 20, Y: 0, Width: 8, Height: 5},  // 40
		{X: 30, Y: 0, Width: 1, Height: 5},  // 5
	}
	got, ok := SelectTarget(boxes)
	require.True(t, ok)
	assert.Equal(t, boxes[1], got)
}

func TestSelectTargetSingle(t *testing.T) {
	b := Box{X: 3, Y: 4, Width: 1, Height: 1}
	got, ok := SelectTarget([]Box{b})
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestBoxGeometry(t *testing.T) {
	b := BoxFromRect(image.Rect(110, 40, 10, 140))
	assert.Equal(t, Box{X: 10, Y: 40, Width: 100, Height: 100}, b)
	assert.Equal(t, 10000, b.Area())
	assert.Equal(t, image.Pt(60, 90), b.Center())
	assert.Equal(t, image.Rect(10, 40, 110, 140), b.Rect())

	odd := Box{X: 0, Y: 0, Width: 5, Height: 3}
	assert.Equal(t, image.Pt(2, 1), odd.Center())
}
