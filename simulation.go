package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTickInterval = 16 * time.Millisecond // ~60 Hz
	BroadcastEvery      = 2                     // ticks per broadcast frame
	statsEvery          = 300                   // ticks per tick_summary event
)

// FrameObserver is told when a tick has completed and a new frame can be read
// via Simulation.Snapshot. It is called from the tick goroutine with no lock held.
type FrameObserver interface {
	FrameReady(tick uint64)
}

// SimConfig holds the fixed parameters of one simulation
type SimConfig struct {
	Width    int
	Height   int
	Capacity int
	Interval time.Duration
	Seed     int64 // 0 = time-based
}

// Simulation owns one arena's State and drives Step at a fixed interval
type Simulation struct {
	mu       sync.RWMutex
	id       string
	state    *State
	capacity int
	interval time.Duration
	rng      *rand.Rand
	runID    string
	tick     uint64
	last     TickStats
	stopped  bool
	stop     chan struct{}

	// stats window, reset every statsEvery ticks
	window     TickStats
	windowDur  time.Duration
	windowMax  time.Duration
	overruns   int
	windowTick int

	obsMu     sync.RWMutex
	observers map[string]FrameObserver

	analytics *Analytics
}

// NewSimulation creates a stopped simulation with an empty arena
func NewSimulation(id string, cfg SimConfig, analytics *Analytics) *Simulation {
	if cfg.Capacity < 1 {
		cfg.Capacity = DefaultNodeCapacity
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	state := NewState(float64(cfg.Width), float64(cfg.Height))
	state.Tree = NewQuadTree(state.Arena(), cfg.Capacity)
	return &Simulation{
		id:        id,
		state:     state,
		capacity:  cfg.Capacity,
		interval:  cfg.Interval,
		rng:       rand.New(rand.NewSource(seed)),
		stop:      make(chan struct{}),
		observers: make(map[string]FrameObserver),
		analytics: analytics,
	}
}

// Run starts the tick loop and blocks until Stop
func (s *Simulation) Run() {
	log.Printf("arena %s: running at %v per tick", s.id, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.update()
		case <-s.stop:
			log.Printf("arena %s: stopped after %d ticks", s.id, s.Tick())
			return
		}
	}
}

// Stop terminates the tick loop. Safe to call more than once, and before Run.
func (s *Simulation) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

// Generate replaces the body set. The request is validated first and nothing
// changes if it is rejected.
func (s *Simulation) Generate(req GenerateRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	bodies := GenerateBodies(req, s.rng)
	s.state.Bodies = bodies
	s.state.Width = float64(req.ArenaWidth)
	s.state.Height = float64(req.ArenaHeight)
	s.state.Tree = NewQuadTree(s.state.Arena(), s.capacity)
	s.runID = uuid.NewString()
	runID := s.runID
	s.mu.Unlock()

	data, _ := json.Marshal(req)
	s.analytics.Track(EvtRunStart, s.id, runID, string(data))
	return runID, nil
}

// Resize changes the arena bounds used from the next tick on.
// Bodies are neither moved nor rescaled, so the new size must still fit the
// largest body's diameter on both axes.
func (s *Simulation) Resize(w, h int) error {
	if err := validateArena(w, h); err != nil {
		return err
	}

	s.mu.Lock()
	var maxR float64
	for _, b := range s.state.Bodies {
		maxR = math.Max(maxR, b.Radius)
	}
	if 2*maxR > float64(w) || 2*maxR > float64(h) {
		s.mu.Unlock()
		return fmt.Errorf("arena too small for radius %g", maxR)
	}
	s.state.Width = float64(w)
	s.state.Height = float64(h)
	runID := s.runID
	s.mu.Unlock()

	data, _ := json.Marshal(ResizeMsg{W: w, H: h})
	s.analytics.Track(EvtResize, s.id, runID, string(data))
	return nil
}

// Observe registers o under key, replacing any previous observer with that key
func (s *Simulation) Observe(key string, o FrameObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers[key] = o
}

// Unobserve removes the observer registered under key
func (s *Simulation) Unobserve(key string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, key)
}

// update runs one tick and notifies observers
func (s *Simulation) update() {
	s.mu.Lock()
	start := time.Now()
	stats := Step(s.state, s.capacity)
	elapsed := time.Since(start)
	s.tick++
	tick := s.tick
	s.last = stats
	summary := s.account(stats, elapsed)
	runID := s.runID
	s.mu.Unlock()

	if summary != nil {
		data, _ := json.Marshal(summary)
		s.analytics.Track(EvtTickSummary, s.id, runID, string(data))
	}

	s.obsMu.RLock()
	observers := make([]FrameObserver, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.FrameReady(tick)
	}
}

// TickSummary is the payload of a tick_summary event
type TickSummary struct {
	Ticks     int       `json:"ticks"`
	Totals    TickStats `json:"totals"`
	AvgTickUS int64     `json:"avg_us"`
	MaxTickUS int64     `json:"max_us"`
	Overruns  int       `json:"overruns"`
}

// account folds one tick into the stats window; caller holds s.mu.
// Returns a summary when the window is full.
func (s *Simulation) account(stats TickStats, elapsed time.Duration) *TickSummary {
	s.window.Add(stats)
	s.windowDur += elapsed
	s.windowTick++
	if elapsed > s.windowMax {
		s.windowMax = elapsed
	}
	if elapsed > s.interval {
		s.overruns++
	}
	if s.windowTick < statsEvery {
		return nil
	}

	summary := &TickSummary{
		Ticks:     s.windowTick,
		Totals:    s.window,
		AvgTickUS: (s.windowDur / time.Duration(s.windowTick)).Microseconds(),
		MaxTickUS: s.windowMax.Microseconds(),
		Overruns:  s.overruns,
	}
	s.window = TickStats{}
	s.windowDur = 0
	s.windowMax = 0
	s.overruns = 0
	s.windowTick = 0
	return summary
}

// Snapshot returns the current frame: body states and index node boundaries
func (s *Simulation) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := Frame{
		ArenaID: s.id,
		Tick:    s.tick,
		W:       s.state.Width,
		H:       s.state.Height,
		Bodies:  make([]BodyState, 0, len(s.state.Bodies)),
		Stats:   s.last,
	}
	for _, b := range s.state.Bodies {
		f.Bodies = append(f.Bodies, b.ToState())
	}
	if s.state.Tree != nil {
		f.Nodes = s.state.Tree.Boundaries(nil)
	}
	return f
}

// Size returns the arena bounds
func (s *Simulation) Size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.state.Width), int(s.state.Height)
}

// BodyCount returns the number of bodies
func (s *Simulation) BodyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Bodies)
}

// Tick returns the number of completed ticks
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// RunID returns the id of the current body set, empty before the first Generate
func (s *Simulation) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// LastStats returns the stats of the most recent tick
func (s *Simulation) LastStats() TickStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
