package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/vector"
)

const iconSize = 32

// kappa places cubic control points so four curves approximate a circle
const kappa = 0.5523

var stateColors = map[State]color.RGBA{
	StateIdle:      {0xE3, 0xE3, 0xE3, 0xFF},
	StateListening: {0xF1, 0x9E, 0x39, 0xFF},
	StateThinking:  {0x75, 0xFB, 0x4C, 0xFF},
}

func stateIcons() map[State][]byte {
	icons := make(map[State][]byte, len(stateColors))
	for state, c := range stateColors {
		icons[state] = dotIcon(c)
	}
	return icons
}

// dotIcon renders a filled circle as a PNG
func dotIcon(c color.RGBA) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))

	const (
		cx, cy = iconSize / 2, iconSize / 2
		r      = iconSize/2 - 2
		k      = r * kappa
	)
	z := vector.NewRasterizer(iconSize, iconSize)
	z.MoveTo(cx+r, cy)
	z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
	z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
	z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
	z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	z.ClosePath()
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil
	}
	return buf.Bytes()
}
