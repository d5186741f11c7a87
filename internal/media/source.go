package media

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrSourceUnavailable is returned by Open when the frame source cannot be
	// acquired. The session must not start.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrNoFrame is returned by Frame before the source has readable data.
	ErrNoFrame = errors.New("no frame available")
	// ErrUnknownSource is returned by NewSource for an unsupported kind.
	ErrUnknownSource = errors.New("unknown source kind")
)

// Source kinds accepted by NewSource.
const (
	SourcePattern = "pattern"
	SourceDir     = "dir"
)

// NewSource builds a source by kind. path is the frame directory for
// SourceDir and playbackRate scales its playback speed.
func NewSource(kind, path string, playbackRate float64) (Source, error) {
	switch kind {
	case "", SourcePattern:
		return NewPatternSource(DefaultPatternConfig()), nil
	case SourceDir:
		if path == "" {
			return nil, fmt.Errorf("%w: dir source needs a path", ErrSourceUnavailable)
		}
		return NewDirSource(path, 30, playbackRate), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
}

// Source is a continuous visual signal sampled on demand.
type Source interface {
	Name() string
	Open() error
	// HasFrame reports whether a current frame can be read.
	HasFrame() bool
	// HasEnoughData reports whether the source is fully buffered for
	// interaction (click-to-select).
	HasEnoughData() bool
	Frame() (image.Image, error)
	Close() error
}

// PatternConfig configures a synthetic moving-box source.
type PatternConfig struct {
	Width  int // default 480
	Height int // default 360
	// BoxSpeed is the box speed in pixels per second.
	BoxSpeed float64
}

func DefaultPatternConfig() PatternConfig {
	return PatternConfig{Width: 480, Height: 360, BoxSpeed: 120}
}

// PatternSource stands in for a live camera. It renders a gradient backdrop
// with a box moving left to right.
type PatternSource struct {
	cfg     PatternConfig
	now     func() time.Time
	started time.Time
	opened  bool
	frame   *image.RGBA
}

func NewPatternSource(cfg PatternConfig) *PatternSource {
	if cfg.Width <= 0 {
		cfg.Width = 480
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	return &PatternSource{cfg: cfg, now: time.Now}
}

func (s *PatternSource) Name() string { return "pattern" }

func (s *PatternSource) Open() error {
	s.started = s.now()
	s.frame = image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	s.opened = true
	return nil
}

func (s *PatternSource) HasFrame() bool      { return s.opened }
func (s *PatternSource) HasEnoughData() bool { return s.opened }

func (s *PatternSource) Frame() (image.Image, error) {
	if !s.opened {
		return nil, ErrNoFrame
	}

	w, h := s.cfg.Width, s.cfg.Height
	for y := 0; y < h; y++ {
		c := color.RGBA{R: uint8(40 * y / h), G: uint8(60 * y / h), B: 90, A: 255}
		for x := 0; x < w; x++ {
			s.frame.SetRGBA(x, y, c)
		}
	}

	size := h / 3
	travel := w - size
	offset := 0
	if travel > 0 {
		offset = int(s.now().Sub(s.started).Seconds()*s.cfg.BoxSpeed) % travel
	}
	box := image.Rect(offset, (h-size)/2, offset+size, (h+size)/2)
	draw.Draw(s.frame, box, &image.Uniform{C: color.RGBA{R: 230, G: 180, B: 40, A: 255}}, image.Point{}, draw.Src)

	return s.frame, nil
}

func (s *PatternSource) Close() error {
	s.opened = false
	return nil
}

// DirSource plays back an uploaded clip stored as a directory of JPEG or PNG
// frames, sorted by file name. Playback stops on the last frame.
type DirSource struct {
	dir  string
	fps  float64
	rate float64
	now  func() time.Time

	files   []string
	started time.Time
	index   int
	current image.Image
}

// NewDirSource plays dir at fps frames per second scaled by rate
// (0.5 halves the playback speed).
func NewDirSource(dir string, fps, rate float64) *DirSource {
	if fps <= 0 {
		fps = 30
	}
	if rate <= 0 {
		rate = 1
	}
	return &DirSource{dir: dir, fps: fps, rate: rate, now: time.Now, index: -1}
}

func (s *DirSource) Name() string { return "dir:" + filepath.Base(s.dir) }

func (s *DirSource) Open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no frames in %s", ErrSourceUnavailable, s.dir)
	}
	sort.Strings(files)

	s.files = files
	s.started = s.now()
	s.index = -1
	s.current = nil
	return nil
}

func (s *DirSource) HasFrame() bool { return len(s.files) > 0 }

// HasEnoughData is true once the first frame has been decoded.
func (s *DirSource) HasEnoughData() bool { return s.current != nil }

func (s *DirSource) position() int {
	elapsed := s.now().Sub(s.started).Seconds()
	i := int(elapsed * s.fps * s.rate)
	if i >= len(s.files) {
		i = len(s.files) - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

func (s *DirSource) Frame() (image.Image, error) {
	if len(s.files) == 0 {
		return nil, ErrNoFrame
	}

	i := s.position()
	if i == s.index && s.current != nil {
		return s.current, nil
	}

	img, err := decodeFile(s.files[i])
	if err != nil {
		return nil, err
	}
	s.index = i
	s.current = img
	return img, nil
}

func (s *DirSource) Close() error {
	s.files = nil
	s.current = nil
	s.index = -1
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
