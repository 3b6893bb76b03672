package main

// State is everything one tick reads and mutates: the bodies, the arena
// bounds, and the index rebuilt from them.
type State struct {
	Bodies []*Body
	Width  float64
	Height float64
	Tree   *QuadTree
}

// NewState creates an empty arena of the given size
func NewState(width, height float64) *State {
	return &State{Width: width, Height: height}
}

// Arena returns the rectangle the index is rooted at
func (s *State) Arena() Rect {
	return Rect{X: 0, Y: 0, W: s.Width, H: s.Height}
}

// TickStats summarizes the work done by one Step
type TickStats struct {
	Bodies      int `json:"bodies" msgpack:"n"`
	Indexed     int `json:"indexed" msgpack:"i"`
	Dropped     int `json:"dropped" msgpack:"dr"`    // centers outside the arena at rebuild
	Candidates  int `json:"candidates" msgpack:"c"`  // neighbor query hits, self excluded
	Resolved    int `json:"resolved" msgpack:"r"`    // pairs that exchanged an impulse
	Contacts    int `json:"contacts" msgpack:"ct"`   // unique pairs whose circles overlap
	Reflections int `json:"reflections" msgpack:"w"` // wall bounces, per axis
	Depth       int `json:"depth" msgpack:"d"`
}

// Add accumulates o into st; Depth keeps the maximum
func (st *TickStats) Add(o TickStats) {
	st.Bodies += o.Bodies
	st.Indexed += o.Indexed
	st.Dropped += o.Dropped
	st.Candidates += o.Candidates
	st.Resolved += o.Resolved
	st.Contacts += o.Contacts
	st.Reflections += o.Reflections
	if o.Depth > st.Depth {
		st.Depth = o.Depth
	}
}

type bodyPair struct {
	a, b *Body
}

// Step advances the simulation by one tick:
//
//  1. rebuild the index from current positions over (0, 0, Width, Height)
//  2. for each body in order: advance it, reflect it off the arena walls,
//     query the index with its bounding square, and resolve every candidate
//     pair not yet resolved this tick
//
// The index is built before anything moves and is not updated while bodies
// advance, so a query sees each candidate at its current position but finds
// it through the node it was filed under at rebuild.
func Step(s *State, capacity int) TickStats {
	var stats TickStats
	stats.Bodies = len(s.Bodies)

	s.Tree = NewQuadTree(s.Arena(), capacity)
	for _, b := range s.Bodies {
		if s.Tree.Insert(b) {
			stats.Indexed++
		} else {
			stats.Dropped++
		}
	}
	stats.Depth = s.Tree.Depth()

	checked := make(map[bodyPair]struct{})
	var found []*Body
	for _, b := range s.Bodies {
		b.Advance()
		stats.Reflections += reflect(b, s.Width, s.Height)

		found = s.Tree.Query(b.Bounds(), found[:0])
		for _, other := range found {
			if other == b {
				continue
			}
			stats.Candidates++
			if _, ok := checked[bodyPair{b, other}]; ok {
				continue
			}
			if _, ok := checked[bodyPair{other, b}]; ok {
				continue
			}
			if Overlaps(b, other) {
				stats.Contacts++
			}
			if ResolveCollision(b, other) {
				stats.Resolved++
			}
			checked[bodyPair{b, other}] = struct{}{}
		}
	}
	return stats
}

// reflect clamps b back inside the arena and inverts the velocity component of
// every axis whose edge was crossed. Returns the number of axes reflected.
func reflect(b *Body, width, height float64) int {
	n := 0
	if b.X-b.Radius < 0 {
		b.X = b.Radius
		b.VX = -b.VX
		n++
	} else if b.X+b.Radius > width {
		b.X = width - b.Radius
		b.VX = -b.VX
		n++
	}
	if b.Y-b.Radius < 0 {
		b.Y = b.Radius
		b.VY = -b.VY
		n++
	} else if b.Y+b.Radius > height {
		b.Y = height - b.Radius
		b.VY = -b.VY
		n++
	}
	return n
}
