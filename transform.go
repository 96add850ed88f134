package main

import "math"

// Transform is the view transform mapping image space to screen space:
// screen = image*zoom + offset
type Transform struct {
	Zoom    float64 `json:"zoom"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

const (
	minZoom = 0.4
	maxZoom = 6.0
	// minVisibleFraction of the scaled image (or of the viewport,
	// whichever is smaller) must stay reachable on each axis; the offset
	// clamp enforces it on every mutation, not just pan
	minVisibleFraction = 0.25
)

// TransformController owns the pan/zoom state for one editor session
type TransformController struct {
	transform  Transform
	imageW     float64
	imageH     float64
	containerW float64
	containerH float64
}

// NewTransformController starts at identity zoom with no offset
func NewTransformController() *TransformController {
	return &TransformController{transform: Transform{Zoom: 1}}
}

// SetViewport records the image and container dimensions the clamp works
// against, then re-applies the clamp
func (tc *TransformController) SetViewport(imageW, imageH, containerW, containerH float64) {
	tc.imageW = imageW
	tc.imageH = imageH
	tc.containerW = containerW
	tc.containerH = containerH
	tc.transform = tc.clamped(tc.transform)
}

// Transform returns the current view transform
func (tc *TransformController) Transform() Transform {
	return tc.transform
}

// Reset returns to identity zoom and zero offset
func (tc *TransformController) Reset() {
	tc.transform = tc.clamped(Transform{Zoom: 1})
}

// ZoomAtPoint sets the zoom while keeping the image-space coordinate under
// the given screen point stationary
func (tc *TransformController) ZoomAtPoint(newZoom, screenX, screenY float64) {
	newZoom = clampFloat(newZoom, minZoom, maxZoom)
	old := tc.transform

	if old.Zoom == 0 {
		old.Zoom = 1
	}
	scale := newZoom / old.Zoom

	next := Transform{
		Zoom:    newZoom,
		OffsetX: screenX - (screenX-old.OffsetX)*scale,
		OffsetY: screenY - (screenY-old.OffsetY)*scale,
	}
	tc.transform = tc.clamped(next)
}

// Pan shifts the offset by a screen-space delta
func (tc *TransformController) Pan(dx, dy float64) {
	next := tc.transform
	next.OffsetX += dx
	next.OffsetY += dy
	tc.transform = tc.clamped(next)
}

// SetOffset replaces the offset outright; the soft clamp still applies
func (tc *TransformController) SetOffset(x, y float64) {
	next := tc.transform
	next.OffsetX = x
	next.OffsetY = y
	tc.transform = tc.clamped(next)
}

// clamped enforces the zoom range and the keep-visible offset constraint
func (tc *TransformController) clamped(t Transform) Transform {
	t.Zoom = clampFloat(t.Zoom, minZoom, maxZoom)

	if tc.imageW <= 0 || tc.containerW <= 0 {
		return t // Viewport unknown, nothing to clamp against
	}

	scaledW := tc.imageW * t.Zoom
	scaledH := tc.imageH * t.Zoom

	keepX := minVisibleFraction * math.Min(scaledW, tc.containerW)
	keepY := minVisibleFraction * math.Min(scaledH, tc.containerH)

	t.OffsetX = clampFloat(t.OffsetX, keepX-scaledW, tc.containerW-keepX)
	t.OffsetY = clampFloat(t.OffsetY, keepY-scaledH, tc.containerH-keepY)
	return t
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
