package main

const (
	DefaultNodeCapacity = 1 // one body per leaf
	// MaxTreeDepth bounds subdivision. Bodies with coincident centers would
	// otherwise split a node forever; a leaf at this depth holds them all.
	MaxTreeDepth = 24
)

// Rect is an axis-aligned rectangle with a top-left origin and y pointing down.
// Edges are inclusive.
type Rect struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	W float64 `json:"w" msgpack:"w"`
	H float64 `json:"h" msgpack:"h"`
}

// Contains reports whether the point lies inside r or on its edge
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Intersects reports whether r and o share at least one point.
// Touching edges count, so a query never prunes a node holding a point it contains.
func (r Rect) Intersects(o Rect) bool {
	return !(o.X > r.X+r.W || o.X+o.W < r.X ||
		o.Y > r.Y+r.H || o.Y+o.H < r.Y)
}

// Area returns w·h
func (r Rect) Area() float64 {
	return r.W * r.H
}

// QuadTree is a region quadtree over bodies' center points.
// A node is either a leaf holding at most Capacity bodies, or divided with
// exactly four children and no bodies of its own.
type QuadTree struct {
	Boundary Rect
	Capacity int
	Bodies   []*Body
	Divided  bool
	depth    int

	NorthEast *QuadTree
	NorthWest *QuadTree
	SouthEast *QuadTree
	SouthWest *QuadTree
}

// NewQuadTree creates an empty leaf. Panics if capacity < 1.
func NewQuadTree(boundary Rect, capacity int) *QuadTree {
	if capacity < 1 {
		panic("quadtree capacity must be at least 1")
	}
	return &QuadTree{
		Boundary: boundary,
		Capacity: capacity,
		Bodies:   make([]*Body, 0, capacity),
	}
}

// Insert stores b in the deepest node that accepts its center.
// Returns false without mutating anything if the center is outside the boundary.
func (qt *QuadTree) Insert(b *Body) bool {
	if !qt.Boundary.Contains(b.X, b.Y) {
		return false
	}

	if !qt.Divided {
		if len(qt.Bodies) < qt.Capacity || qt.depth >= MaxTreeDepth {
			qt.Bodies = append(qt.Bodies, b)
			return true
		}
		qt.subdivide()
	}

	return qt.insertIntoChildren(b)
}

// insertIntoChildren tries NE, NW, SE, SW in that order
func (qt *QuadTree) insertIntoChildren(b *Body) bool {
	if qt.NorthEast.Insert(b) {
		return true
	}
	if qt.NorthWest.Insert(b) {
		return true
	}
	if qt.SouthEast.Insert(b) {
		return true
	}
	return qt.SouthWest.Insert(b)
}

// subdivide turns a full leaf into a divided node and moves its bodies down
func (qt *QuadTree) subdivide() {
	x, y := qt.Boundary.X, qt.Boundary.Y
	w, h := qt.Boundary.W/2, qt.Boundary.H/2

	qt.NorthEast = qt.child(Rect{X: x + w, Y: y, W: w, H: h})
	qt.NorthWest = qt.child(Rect{X: x, Y: y, W: w, H: h})
	qt.SouthEast = qt.child(Rect{X: x + w, Y: y + h, W: w, H: h})
	qt.SouthWest = qt.child(Rect{X: x, Y: y + h, W: w, H: h})
	qt.Divided = true

	held := qt.Bodies
	qt.Bodies = nil
	for _, b := range held {
		// Every held center is inside the boundary, so some child accepts it.
		qt.insertIntoChildren(b)
	}
}

func (qt *QuadTree) child(boundary Rect) *QuadTree {
	c := NewQuadTree(boundary, qt.Capacity)
	c.depth = qt.depth + 1
	return c
}

// Query appends to found every body whose center lies in area and returns the
// extended slice. Subtrees whose boundary misses area are not visited.
func (qt *QuadTree) Query(area Rect, found []*Body) []*Body {
	if !qt.Boundary.Intersects(area) {
		return found
	}

	for _, b := range qt.Bodies {
		if area.Contains(b.X, b.Y) {
			found = append(found, b)
		}
	}

	if qt.Divided {
		found = qt.NorthWest.Query(area, found)
		found = qt.NorthEast.Query(area, found)
		found = qt.SouthWest.Query(area, found)
		found = qt.SouthEast.Query(area, found)
	}
	return found
}

// children returns the four children in insertion order, or nil for a leaf
func (qt *QuadTree) children() []*QuadTree {
	if !qt.Divided {
		return nil
	}
	return []*QuadTree{qt.NorthEast, qt.NorthWest, qt.SouthEast, qt.SouthWest}
}

// Boundaries appends the boundary of every node, parents before children
func (qt *QuadTree) Boundaries(out []Rect) []Rect {
	out = append(out, qt.Boundary)
	for _, c := range qt.children() {
		out = c.Boundaries(out)
	}
	return out
}

// Len returns the number of bodies stored in the subtree
func (qt *QuadTree) Len() int {
	n := len(qt.Bodies)
	for _, c := range qt.children() {
		n += c.Len()
	}
	return n
}

// Depth returns the number of levels in the subtree (a lone leaf is 1)
func (qt *QuadTree) Depth() int {
	d := 0
	for _, c := range qt.children() {
		if cd := c.Depth(); cd > d {
			d = cd
		}
	}
	return d + 1
}
