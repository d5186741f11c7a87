package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/bkchaithanya285/ai-tracking/internal/protocol"
)

// DefaultJPEGQuality is deliberately low: transport cost dominates pixel
// fidelity at streaming rates.
const DefaultJPEGQuality = 30

// Encoder samples a Source and serializes the current frame into a
// transport-ready data URL.
type Encoder struct {
	quality int
	buf     bytes.Buffer
}

func NewEncoder(quality int) *Encoder {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Encoder{quality: quality}
}

// Encode reads the current frame of src. The returned slice is freshly
// allocated and safe to hand to the channel.
func (e *Encoder) Encode(src Source) ([]byte, error) {
	img, err := src.Frame()
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", src.Name(), err)
	}
	return e.EncodeImage(img)
}

func (e *Encoder) EncodeImage(img image.Image) ([]byte, error) {
	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return protocol.EncodeFrame(e.buf.Bytes()), nil
}
