package relay

import (
	"testing"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalePoint(t *testing.T) {
	tests := []struct {
		name      string
		p         Point
		display   Size
		intrinsic Size
		want      Point
	}{
		{"same size", Point{10, 20}, Size{640, 480}, Size{640, 480}, Point{10, 20}},
		{"display half size", Point{100, 50}, Size{320, 240}, Size{640, 480}, Point{200, 100}},
		{"display larger", Point{960, 540}, Size{1920, 1080}, Size{480, 360}, Point{240, 180}},
		{"non uniform", Point{50, 50}, Size{100, 200}, Size{400, 400}, Point{200, 100}},
		{"origin", Point{0, 0}, Size{300, 300}, Size{480, 360}, Point{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScalePoint(tt.p, tt.display, tt.intrinsic)
			require.NoError(t, err)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
		})
	}
}

func TestScalePointRoundTrip(t *testing.T) {
	display := Size{Width: 733, Height: 411}
	intrinsic := Size{Width: 480, Height: 360}

	for _, p := range []Point{{0, 0}, {1, 1}, {366.5, 205.5}, {733, 411}, {12.25, 399.75}} {
		scaled, err := ScalePoint(p, display, intrinsic)
		require.NoError(t, err)
		back, err := ScalePoint(scaled, intrinsic, display)
		require.NoError(t, err)
		assert.InDelta(t, p.X, back.X, 1e-9)
		assert.InDelta(t, p.Y, back.Y, 1e-9)
	}
}

func TestScalePointZeroDisplay(t *testing.T) {
	_, err := ScalePoint(Point{1, 1}, Size{0, 100}, Size{480, 360})
	assert.ErrorIs(t, err, errZeroDisplay)
}

func TestBuildSelection(t *testing.T) {
	req, err := buildSelection(
		models.ClickRequest{X: 120, Y: 90, DisplayWidth: 240, DisplayHeight: 180},
		Size{Width: 480, Height: 360},
		"abc",
	)
	require.NoError(t, err)
	assert.Equal(t, models.SelectionRequest{X: 240, Y: 180, Width: 480, Height: 360, ClientID: "abc"}, req)
}
