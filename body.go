package main

import "math"

// Body is a circular entity moving inside the arena.
// Position and velocity are mutated every tick; Radius and Weight are fixed
// at creation.
type Body struct {
	ID     int
	X, Y   float64
	VX, VY float64
	Radius float64
	Weight float64 // mass proxy, π·r²
}

// NewBody creates a body whose weight is derived from its radius.
// Panics on a non-positive or non-finite radius.
func NewBody(id int, x, y, radius, vx, vy float64) *Body {
	if !(radius > 0) || math.IsInf(radius, 0) {
		panic("body radius must be positive and finite")
	}
	return &Body{
		ID:     id,
		X:      x,
		Y:      y,
		VX:     vx,
		VY:     vy,
		Radius: radius,
		Weight: math.Pi * radius * radius,
	}
}

// Advance moves the body by one tick of velocity. It knows nothing about
// walls or other bodies.
func (b *Body) Advance() {
	b.X += b.VX
	b.Y += b.VY
}

// Bounds returns the axis-aligned square enclosing the body's circle
func (b *Body) Bounds() Rect {
	return Rect{
		X: b.X - b.Radius,
		Y: b.Y - b.Radius,
		W: b.Radius * 2,
		H: b.Radius * 2,
	}
}

// ToState converts to protocol state
func (b *Body) ToState() BodyState {
	return BodyState{
		ID: b.ID,
		X:  round1(b.X),
		Y:  round1(b.Y),
		R:  b.Radius,
		VX: round2(b.VX),
		VY: round2(b.VY),
	}
}
