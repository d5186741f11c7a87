package mockservice

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
)

// trackState is the per-client selection and blur state.
type trackState struct {
	blur       bool
	trackingID int
	class      string
	// pending is a selection not yet resolved to a track.
	pending *selection
	focus   *selection
}

type selection struct {
	x, y, width, height float64
}

func newTrackState() *trackState {
	return &trackState{blur: true, trackingID: protocol.NoTrackingID, class: protocol.NoTrackedClass}
}

func (s *trackState) clearFocus() {
	s.trackingID = protocol.NoTrackingID
	s.class = protocol.NoTrackedClass
	s.pending = nil
	s.focus = nil
}

// processor stands in for the detector. It reports a fixed number of
// detections, turns a pending selection into a track and, with blur enabled,
// dims everything outside the focus box.
type processor struct {
	detections int
	nextID     int
}

func (p *processor) process(frame image.Image, st *trackState) (image.Image, protocol.FrameResult) {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), frame, b.Min, draw.Src)

	if st.pending != nil {
		p.nextID++
		st.trackingID = p.nextID
		st.class = "Person"
		st.focus = scaleTarget(st.pending, b.Dx(), b.Dy())
		st.pending = nil
	}

	if st.focus != nil {
		box := focusBox(st.focus, b.Dx(), b.Dy())
		if st.blur {
			dimOutside(out, box)
		}
		outline(out, box, color.RGBA{R: 0, G: 255, B: 120, A: 255})
	}

	return out, protocol.FrameResult{
		DetectedCount: p.detections,
		TrackedClass:  st.class,
		TrackingID:    st.trackingID,
	}
}

// scaleTarget maps a selection made against another frame size onto this one.
func scaleTarget(t *selection, w, h int) *selection {
	if t.width <= 0 || t.height <= 0 {
		return &selection{x: t.x, y: t.y, width: float64(w), height: float64(h)}
	}
	return &selection{
		x:      t.x * float64(w) / t.width,
		y:      t.y * float64(h) / t.height,
		width:  float64(w),
		height: float64(h),
	}
}

func focusBox(t *selection, w, h int) image.Rectangle {
	half := min(w, h) / 6
	cx, cy := int(t.x), int(t.y)
	return image.Rect(cx-half, cy-half, cx+half, cy+half).Intersect(image.Rect(0, 0, w, h))
}

func dimOutside(img *image.RGBA, keep image.Rectangle) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if (image.Point{X: x, Y: y}).In(keep) {
				continue
			}
			c := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{R: c.R / 3, G: c.G / 3, B: c.B / 3, A: c.A})
		}
	}
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	if r.Empty() {
		return
	}
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
