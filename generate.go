package main

import (
	"fmt"
	"math/rand"
)

const (
	MaxBodies    = 2000
	MaxBodySize  = 200 // radius
	MaxBodySpeed = 100 // per axis, per tick
	MinArenaSide = 40
	MaxArenaSide = 8192
)

// GenerateRequest asks for the body set to be replaced with Count fresh bodies
type GenerateRequest struct {
	Count       int `json:"count"`
	MinRadius   int `json:"minR"`
	MaxRadius   int `json:"maxR"`
	ArenaWidth  int `json:"w"`
	ArenaHeight int `json:"h"`
	MinSpeed    int `json:"minV"`
	MaxSpeed    int `json:"maxV"`
}

// DefaultGenerateRequest returns the settings a fresh arena starts from
func DefaultGenerateRequest(width, height int) GenerateRequest {
	return GenerateRequest{
		Count:       1,
		MinRadius:   5,
		MaxRadius:   15,
		ArenaWidth:  width,
		ArenaHeight: height,
		MinSpeed:    1,
		MaxSpeed:    5,
	}
}

// Validate rejects requests that would put a malformed body into the arena
func (r GenerateRequest) Validate() error {
	if r.Count < 1 || r.Count > MaxBodies {
		return fmt.Errorf("count must be 1-%d", MaxBodies)
	}
	if r.MinRadius < 1 || r.MaxRadius > MaxBodySize {
		return fmt.Errorf("radius must be 1-%d", MaxBodySize)
	}
	if r.MaxRadius < r.MinRadius {
		return fmt.Errorf("max radius must not be below min radius")
	}
	if err := validateArena(r.ArenaWidth, r.ArenaHeight); err != nil {
		return err
	}
	if 2*r.MaxRadius > r.ArenaWidth || 2*r.MaxRadius > r.ArenaHeight {
		return fmt.Errorf("arena too small for radius %d", r.MaxRadius)
	}
	if r.MinSpeed < 1 || r.MaxSpeed > MaxBodySpeed {
		return fmt.Errorf("speed must be 1-%d", MaxBodySpeed)
	}
	if r.MaxSpeed < r.MinSpeed {
		return fmt.Errorf("max speed must not be below min speed")
	}
	return nil
}

func validateArena(w, h int) error {
	if w < MinArenaSide || w > MaxArenaSide || h < MinArenaSide || h > MaxArenaSide {
		return fmt.Errorf("arena sides must be %d-%d", MinArenaSide, MaxArenaSide)
	}
	return nil
}

// GenerateBodies creates r.Count bodies placed fully inside the arena.
// The request must already be valid.
func GenerateBodies(r GenerateRequest, rng *rand.Rand) []*Body {
	w := float64(r.ArenaWidth)
	h := float64(r.ArenaHeight)
	bodies := make([]*Body, 0, r.Count)
	for i := 0; i < r.Count; i++ {
		radius := float64(r.MinRadius + rng.Intn(r.MaxRadius-r.MinRadius+1))
		x := uniform(rng, radius, w-radius)
		y := uniform(rng, radius, h-radius)
		vx := uniform(rng, float64(r.MinSpeed), float64(r.MaxSpeed)) * sign(rng)
		vy := uniform(rng, float64(r.MinSpeed), float64(r.MaxSpeed)) * sign(rng)
		bodies = append(bodies, NewBody(i, x, y, radius, vx, vy))
	}
	return bodies
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func sign(rng *rand.Rand) float64 {
	if rng.Intn(2) == 0 {
		return -1
	}
	return 1
}
