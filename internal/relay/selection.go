package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/bkchaithanya285/ai-tracking/internal/models"
)

// Selector issues a Selection Request to the service.
type Selector interface {
	Select(ctx context.Context, req models.SelectionRequest) error
}

type Point struct {
	X, Y float64
}

type Size struct {
	Width, Height float64
}

var errZeroDisplay = errors.New("display size must be positive")

// ScalePoint maps a point in display (layout) coordinates to the surface's
// intrinsic pixel coordinates: (x*Wi/Wd, y*Hi/Hd).
func ScalePoint(p Point, display, intrinsic Size) (Point, error) {
	if display.Width <= 0 || display.Height <= 0 {
		return Point{}, fmt.Errorf("scale point: %w", errZeroDisplay)
	}
	return Point{
		X: p.X * intrinsic.Width / display.Width,
		Y: p.Y * intrinsic.Height / display.Height,
	}, nil
}

// buildSelection converts a click on the displayed surface into the request
// sent to the selection endpoint.
func buildSelection(click models.ClickRequest, intrinsic Size, clientID string) (models.SelectionRequest, error) {
	p, err := ScalePoint(
		Point{X: click.X, Y: click.Y},
		Size{Width: click.DisplayWidth, Height: click.DisplayHeight},
		intrinsic,
	)
	if err != nil {
		return models.SelectionRequest{}, err
	}
	return models.SelectionRequest{
		X:        p.X,
		Y:        p.Y,
		Width:    intrinsic.Width,
		Height:   intrinsic.Height,
		ClientID: clientID,
	}, nil
}
