package main

import "gonum.org/v1/gonum/spatial/r2"

// CheckCollision checks if two circles overlap
func CheckCollision(x1, y1, r1, x2, y2, r2 float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	dist2 := dx*dx + dy*dy
	radSum := r1 + r2
	return dist2 <= radSum*radSum
}

// Overlaps reports whether the circles of a and b touch or overlap
func Overlaps(a, b *Body) bool {
	return CheckCollision(a.X, a.Y, a.Radius, b.X, b.Y, b.Radius)
}

// ResolveCollision exchanges momentum between a and b along the line joining
// their centers, as a perfectly elastic impulse with no tangential part.
// Returns false and leaves both bodies untouched when the centers coincide or
// the bodies are already moving apart.
func ResolveCollision(a, b *Body) bool {
	delta := r2.Sub(r2.Vec{X: a.X, Y: a.Y}, r2.Vec{X: b.X, Y: b.Y})
	dist := r2.Norm(delta)
	if dist == 0 {
		return false
	}
	normal := r2.Scale(1/dist, delta)

	rel := r2.Sub(r2.Vec{X: a.VX, Y: a.VY}, r2.Vec{X: b.VX, Y: b.VY})
	vn := r2.Dot(rel, normal)
	if vn > 0 {
		return false
	}

	impulse := 2 * vn / (a.Weight + b.Weight)

	da := r2.Scale(impulse*b.Weight, normal)
	db := r2.Scale(impulse*a.Weight, normal)
	a.VX -= da.X
	a.VY -= da.Y
	b.VX += db.X
	b.VY += db.Y
	return true
}
