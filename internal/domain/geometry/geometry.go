// Package geometry maps between the preview container, the letterboxed video box and
// native video pixels.
package geometry

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Size is a pixel extent.
type Size struct {
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

func (s Size) Empty() bool { return s.W <= 0 || s.H <= 0 }

// Box is the letterboxed sub-rectangle of a container actually covered by video.
// X and Y are offsets inside the container.
type Box struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
	W int `yaml:"w" json:"w"`
	H int `yaml:"h" json:"h"`
}

func (b Box) Size() Size  { return Size{W: b.W, H: b.H} }
func (b Box) Empty() bool { return b.W <= 0 || b.H <= 0 }

// Fit places a video of native size video inside container, preserving aspect ratio.
// When the video size is unknown the container itself is the box.
func Fit(container, video Size) Box {
	if container.Empty() {
		return Box{}
	}
	if video.Empty() {
		video = container
	}
	scale := math.Min(float64(container.W)/float64(video.W), float64(container.H)/float64(video.H))
	w := floorPx(float64(video.W) * scale)
	h := floorPx(float64(video.H) * scale)
	return Box{
		X: (container.W - w) / 2,
		Y: (container.H - h) / 2,
		W: w,
		H: h,
	}
}

// floorPx floors with a small tolerance so 1920*(640/1920) lands on 640, not 639.
func floorPx(v float64) int {
	return int(math.Floor(v + 1e-9))
}

// ToPercent converts a container pixel position to percent of the box, clamped to [0,100].
func (b Box) ToPercent(px, py float64) (float64, float64) {
	if b.Empty() {
		return 0, 0
	}
	x := (px - float64(b.X)) / float64(b.W) * 100
	y := (py - float64(b.Y)) / float64(b.H) * 100
	return Clamp(x, 0, 100), Clamp(y, 0, 100)
}

// ToContainer converts percent-of-box coordinates to container pixels.
func (b Box) ToContainer(xp, yp float64) (float64, float64) {
	return float64(b.X) + xp/100*float64(b.W), float64(b.Y) + yp/100*float64(b.H)
}

// ToBox converts percent-of-box coordinates to pixels relative to the box origin.
func (b Box) ToBox(xp, yp float64) (float64, float64) {
	return xp / 100 * float64(b.W), yp / 100 * float64(b.H)
}

// Preview is the last known geometry of the interactive preview.
type Preview struct {
	Container Size `yaml:"container" json:"container"`
	Video     Size `yaml:"video" json:"video"`
	Box       Box  `yaml:"box" json:"box"`
}

// Remeasure recomputes the box from container and video sizes.
func (p Preview) Remeasure() Preview {
	p.Box = Fit(p.Container, p.Video)
	return p
}

// Scale maps preview video-box pixels onto an export surface.
type Scale struct {
	X float64
	Y float64
}

// Identity is the scale of the preview onto itself.
var Identity = Scale{X: 1, Y: 1}

// Max returns the larger axis factor, used for isotropic metrics like blur and outline.
func (s Scale) Max() float64 { return math.Max(s.X, s.Y) }

// ExportScale returns the factors from the preview video box to an export surface.
// Export renders at native resolution, so the export box is the whole surface.
// An unknown preview box falls back to identity.
func ExportScale(export Size, previewBox Box) Scale {
	if export.Empty() || previewBox.Empty() {
		return Identity
	}
	return Scale{
		X: float64(export.W) / float64(previewBox.W),
		Y: float64(export.H) / float64(previewBox.H),
	}
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
