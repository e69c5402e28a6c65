package screen

import (
	"context"
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"
	"golang.org/x/image/draw"
)

// RobotgoSource enumerates the attached displays with robotgo. Each display
// is one source; the primary display comes first.
type RobotgoSource struct{}

// NewRobotgoSource creates a robotgo-backed source enumerator
func NewRobotgoSource() *RobotgoSource {
	return &RobotgoSource{}
}

// Sources grabs up to limit displays, scaled down to fit size when they are
// larger
func (r *RobotgoSource) Sources(ctx context.Context, size image.Point, limit int) ([]Source, error) {
	total := robotgo.DisplaysNum()
	n := total
	if limit > 0 && limit < n {
		n = limit
	}
	sources := make([]Source, 0, n)
	for i := 0; i < total && len(sources) < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, y, w, h := robotgo.GetDisplayBounds(i)
		if w <= 0 || h <= 0 {
			continue
		}
		img, err := robotgo.CaptureImg(x, y, w, h)
		if err != nil {
			return nil, fmt.Errorf("failed to capture display %d: %w", i, err)
		}
		sources = append(sources, Source{
			ID:    fmt.Sprintf("screen:%d", i),
			Name:  fmt.Sprintf("Screen %d", i+1),
			Image: Fit(img, size),
		})
	}
	return sources, nil
}

// Size returns the primary display size
func (r *RobotgoSource) Size() image.Point {
	w, h := robotgo.GetScreenSize()
	return image.Pt(w, h)
}

// Fit scales img down, keeping its aspect ratio, so that it fits within
// size. Images that already fit are returned unchanged.
func Fit(img image.Image, size image.Point) image.Image {
	b := img.Bounds()
	if size.X <= 0 || size.Y <= 0 || (b.Dx() <= size.X && b.Dy() <= size.Y) {
		return img
	}

	w, h := size.X, b.Dy()*size.X/b.Dx()
	if h > size.Y {
		w, h = b.Dx()*size.Y/b.Dy(), size.Y
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
