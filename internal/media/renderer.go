package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
	"go.uber.org/zap"
)

// Surface is the display target. It always matches the size of the last
// painted result exactly.
type Surface struct {
	mu      sync.RWMutex
	img     image.Image
	seq     uint64
	painted uint64
}

func NewSurface() *Surface {
	return &Surface{}
}

// Size returns the intrinsic pixel size of the surface; zero before the first
// paint.
func (s *Surface) Size() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *Surface) Image() image.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img
}

func (s *Surface) Painted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.painted
}

// paint keeps the newest submission; late decodes of older results are dropped.
func (s *Surface) paint(seq uint64, img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.seq {
		return false
	}
	s.seq = seq
	s.img = img
	s.painted++
	return true
}

// reset blanks the surface and rejects any later paint at or below floor.
func (s *Surface) reset(floor uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if floor > s.seq {
		s.seq = floor
	}
	s.img = nil
}

func (s *Surface) WriteJPEG(w io.Writer, quality int) error {
	img := s.Image()
	if img == nil {
		return ErrNoFrame
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// Renderer decodes result images off the caller's goroutine and paints them
// onto a Surface.
type Renderer struct {
	surface   *Surface
	logger    *zap.Logger
	onPainted func()

	next atomic.Uint64
	wg   sync.WaitGroup
}

func NewRenderer(surface *Surface, logger *zap.Logger, onPainted func()) *Renderer {
	if onPainted == nil {
		onPainted = func() {}
	}
	return &Renderer{surface: surface, logger: logger, onPainted: onPainted}
}

func (r *Renderer) Surface() *Surface {
	return r.surface
}

// Render schedules an asynchronous decode-and-paint of a data URL image.
// Decode failures are logged and the frame is dropped.
func (r *Renderer) Render(dataURL string) {
	seq := r.next.Add(1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.paint(seq, dataURL); err != nil {
			r.logger.Warn("received invalid image data from service", zap.Error(err))
		}
	}()
}

// Reset blanks the surface and discards every render scheduled so far,
// including decodes still in progress.
func (r *Renderer) Reset() {
	r.surface.reset(r.next.Load())
}

// Wait blocks until every scheduled render has finished.
func (r *Renderer) Wait() {
	r.wg.Wait()
}

func (r *Renderer) paint(seq uint64, dataURL string) error {
	img, err := DecodeImage(dataURL)
	if err != nil {
		return err
	}
	if r.surface.paint(seq, img) {
		r.onPainted()
	}
	return nil
}

// DecodeImage decodes a base64 data URL into an image.
func DecodeImage(dataURL string) (image.Image, error) {
	_, data, err := protocol.DecodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
