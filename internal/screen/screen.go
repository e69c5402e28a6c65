// Package screen captures the full screen or the area behind the overlay
// window as a PNG still.
package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// MIMEType is the type of every capture payload
const MIMEType = "image/png"

// Source is one enumerated screen with its image
type Source struct {
	ID    string
	Name  string
	Image image.Image
}

// SourceEnumerator lists screens rendered at (at most) the requested size,
// primary first. At most limit screens are rendered; limit <= 0 means all.
type SourceEnumerator interface {
	Sources(ctx context.Context, size image.Point, limit int) ([]Source, error)
}

// Window is the overlay window
type Window interface {
	Hide() error
	Show() error
	Bounds() (image.Rectangle, error)
}

// Display reports the native size of the primary display
type Display interface {
	Size() image.Point
}

// Capture is an encoded still
type Capture struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	SourceID string
}

// Config holds capture settings
type Config struct {
	ThumbnailSize image.Point
	SettleDelay   time.Duration
}

// DefaultConfig returns a 1920x1080 thumbnail and a 100ms settle delay
func DefaultConfig() Config {
	return Config{
		ThumbnailSize: image.Pt(1920, 1080),
		SettleDelay:   100 * time.Millisecond,
	}
}

// Orchestrator runs full-screen and area captures. Captures are serialized
// so two area captures never interleave their hide/show.
type Orchestrator struct {
	mu      sync.Mutex
	config  Config
	sources SourceEnumerator
	window  Window
	display Display
	logger  *logger.Logger
}

// New creates an orchestrator
func New(config Config, sources SourceEnumerator, window Window, display Display, log *logger.Logger) *Orchestrator {
	if config.ThumbnailSize.X <= 0 || config.ThumbnailSize.Y <= 0 {
		config.ThumbnailSize = DefaultConfig().ThumbnailSize
	}
	return &Orchestrator{
		config:  config,
		sources: sources,
		window:  window,
		display: display,
		logger:  log,
	}
}

// Full captures the first screen at the thumbnail resolution
func (o *Orchestrator) Full(ctx context.Context) (Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	src, err := o.firstSource(ctx, o.config.ThumbnailSize)
	if err != nil {
		return Capture{}, err
	}

	c, err := encode(src.Image)
	if err != nil {
		return Capture{}, err
	}
	c.SourceID = src.ID
	o.logger.Info("Screen captured: %s (%dx%d, %d bytes)", src.ID, c.Width, c.Height, len(c.Data))
	return c, nil
}

// Area captures what is behind the overlay window. The window is hidden for
// the duration of the grab and always shown again before Area returns.
func (o *Orchestrator) Area(ctx context.Context) (Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.window.Hide(); err != nil {
		return Capture{}, fmt.Errorf("failed to hide window: %w", err)
	}

	var showOnce sync.Once
	var showErr error
	show := func() {
		showOnce.Do(func() {
			if showErr = o.window.Show(); showErr != nil {
				o.logger.Error("Failed to show window after capture: %v", showErr)
			}
		})
	}
	defer show()

	if err := sleep(ctx, o.config.SettleDelay); err != nil {
		return Capture{}, err
	}

	size := o.config.ThumbnailSize
	if o.display != nil {
		if s := o.display.Size(); s.X > 0 && s.Y > 0 {
			size = s
		}
	}
	src, err := o.firstSource(ctx, size)
	show()
	if err != nil {
		return Capture{}, err
	}

	bounds, err := o.window.Bounds()
	if err != nil {
		return Capture{}, fmt.Errorf("failed to read window bounds: %w", err)
	}

	rect := CropRect(bounds, src.Image.Bounds())
	if rect.Empty() {
		return Capture{}, fmt.Errorf("window bounds %v are outside the captured screen %v", bounds, src.Image.Bounds())
	}

	c, err := encode(crop(src.Image, rect))
	if err != nil {
		return Capture{}, err
	}
	c.SourceID = src.ID
	o.logger.Info("Area captured: %v of %s (%d bytes)", rect, src.ID, len(c.Data))
	return c, nil
}

func (o *Orchestrator) firstSource(ctx context.Context, size image.Point) (Source, error) {
	sources, err := o.sources.Sources(ctx, size, 1)
	if err != nil {
		return Source{}, domain.NewError(domain.KindNoScreenSource, "Failed to capture screen", err)
	}
	if len(sources) == 0 || sources[0].Image == nil {
		return Source{}, domain.NewError(domain.KindNoScreenSource, "No screen sources found", nil)
	}
	return sources[0], nil
}

// CropRect clamps the window bounds to the captured image
func CropRect(window, img image.Rectangle) image.Rectangle {
	return window.Intersect(img)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return dst
}

func encode(img image.Image) (Capture, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return Capture{}, fmt.Errorf("failed to encode png: %w", err)
	}
	b := img.Bounds()
	return Capture{Data: buf.Bytes(), MIMEType: MIMEType, Width: b.Dx(), Height: b.Dy()}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrWindowUnavailable is returned by Window implementations with no overlay attached
var ErrWindowUnavailable = errors.New("overlay window not connected")
