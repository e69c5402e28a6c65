package mixer

import (
	"math"

	goaudio "github.com/go-audio/audio"
)

// Panner places a mono or stereo signal in a stereo field using the
// equal-power law of the Web Audio StereoPannerNode. Pan is in [-1, 1]:
// -1 is hard left, +1 is hard right.
type Panner struct {
	pan float64
}

// NewPanner creates a panner, clamping pan into [-1, 1]
func NewPanner(pan float64) *Panner {
	return &Panner{pan: math.Max(-1, math.Min(1, pan))}
}

// Pan returns the pan position
func (p *Panner) Pan() float64 {
	return p.pan
}

// Gains returns the left and right gains applied to a mono input
func (p *Panner) Gains() (left, right float64) {
	x := (p.pan + 1) / 2
	return math.Cos(x * math.Pi / 2), math.Sin(x * math.Pi / 2)
}

// Process pans in (1 or 2 channels) into out, which must hold
// 2*NumFrames(in) samples. Values are not clipped.
func (p *Panner) Process(in *goaudio.IntBuffer, out []float64) {
	channels := in.Format.NumChannels
	frames := in.NumFrames()

	if channels == 1 {
		gl, gr := p.Gains()
		for i := 0; i < frames; i++ {
			s := float64(in.Data[i])
			out[2*i] = s * gl
			out[2*i+1] = s * gr
		}
		return
	}

	x := p.pan
	if x <= 0 {
		x += 1
	}
	gl, gr := math.Cos(x*math.Pi/2), math.Sin(x*math.Pi/2)

	for i := 0; i < frames; i++ {
		l := float64(in.Data[i*channels])
		r := float64(in.Data[i*channels+1])
		if p.pan <= 0 {
			out[2*i] = l + r*gl
			out[2*i+1] = r * gr
		} else {
			out[2*i] = l * gl
			out[2*i+1] = r + l*gr
		}
	}
}
