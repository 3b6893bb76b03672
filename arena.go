package main

import (
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	maxArenas      = 16
	DefaultArenaID = "main"
)

// ArenaIdleTimeout is how long a created arena may sit without viewers
var ArenaIdleTimeout = 5 * time.Minute

// FrameSink receives encoded frames
type FrameSink interface {
	SendBinary(data []byte)
}

// Arena is one named simulation and the clients watching it
type Arena struct {
	ID        string
	Name      string
	Sim       *Simulation
	permanent bool

	mu        sync.RWMutex
	clients   map[string]FrameSink
	idleSince time.Time
	closed    bool
}

// FrameReady encodes the current frame once and fans it out to every client.
// Slow clients drop frames inside SendBinary.
func (a *Arena) FrameReady(tick uint64) {
	if tick%BroadcastEvery != 0 {
		return
	}

	a.mu.RLock()
	sinks := make([]FrameSink, 0, len(a.clients))
	for _, c := range a.clients {
		sinks = append(sinks, c)
	}
	a.mu.RUnlock()
	if len(sinks) == 0 {
		return
	}

	frame := a.Sim.Snapshot()
	data, err := msgpack.Marshal(&frame)
	if err != nil {
		log.Printf("arena %s: frame encode error: %v", a.ID, err)
		return
	}
	for _, s := range sinks {
		s.SendBinary(data)
	}
}

// AddClient starts streaming frames to sink. greet, if not nil, runs before
// the sink is visible to the broadcaster, so whatever it queues precedes the
// first frame. Returns false once the arena has been removed.
func (a *Arena) AddClient(id string, sink FrameSink, greet func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	if greet != nil {
		greet()
	}
	a.clients[id] = sink
	return true
}

// RemoveClient stops streaming to id
func (a *Arena) RemoveClient(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, id)
	if len(a.clients) == 0 {
		a.idleSince = time.Now()
	}
}

// Viewers returns the number of attached clients
func (a *Arena) Viewers() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

func (a *Arena) idleFor(now time.Time) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.clients) > 0 {
		return 0
	}
	return now.Sub(a.idleSince)
}

// closeIfIdle marks the arena closed if it has had no viewers for at least d.
// Once closed, AddClient refuses new clients.
func (a *Arena) closeIfIdle(now time.Time, d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.clients) > 0 || now.Sub(a.idleSince) < d {
		return false
	}
	a.closed = true
	return true
}

func (a *Arena) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// ArenaManager handles creation and lookup of arenas
type ArenaManager struct {
	mu        sync.RWMutex
	arenas    map[string]*Arena
	cfg       SimConfig
	analytics *Analytics
}

// NewArenaManager creates a manager with the default arena already running
func NewArenaManager(cfg SimConfig, analytics *Analytics) *ArenaManager {
	am := &ArenaManager{
		arenas:    make(map[string]*Arena),
		cfg:       cfg,
		analytics: analytics,
	}
	a := am.newArena(DefaultArenaID, "Main")
	a.permanent = true
	am.arenas[a.ID] = a
	analytics.SetArenas(1)
	go a.Sim.Run()
	return am
}

func (am *ArenaManager) newArena(id, name string) *Arena {
	a := &Arena{
		ID:        id,
		Name:      name,
		Sim:       NewSimulation(id, am.cfg, am.analytics),
		clients:   make(map[string]FrameSink),
		idleSince: time.Now(),
	}
	a.Sim.Observe("broadcast", a)
	am.analytics.Track(EvtArenaOpen, id, "", "")
	return a
}

// Create starts a new arena. Returns nil if limit reached.
func (am *ArenaManager) Create(name string) *Arena {
	am.mu.Lock()
	defer am.mu.Unlock()

	if len(am.arenas) >= maxArenas {
		return nil
	}

	a := am.newArena(GenerateID(4), name)
	am.arenas[a.ID] = a
	am.analytics.SetArenas(len(am.arenas))
	go a.Sim.Run()
	return a
}

// Get returns an arena by ID
func (am *ArenaManager) Get(id string) *Arena {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.arenas[id]
}

// Default returns the arena that always exists
func (am *ArenaManager) Default() *Arena {
	return am.Get(DefaultArenaID)
}

// Count returns the number of arenas
func (am *ArenaManager) Count() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.arenas)
}

// List returns info about all arenas
func (am *ArenaManager) List() []ArenaInfo {
	am.mu.RLock()
	defer am.mu.RUnlock()

	list := make([]ArenaInfo, 0, len(am.arenas))
	for _, a := range am.arenas {
		list = append(list, ArenaInfo{
			ID:      a.ID,
			Name:    a.Name,
			Bodies:  a.Sim.BodyCount(),
			Viewers: a.Viewers(),
			Tick:    a.Sim.Tick(),
			Stats:   a.Sim.LastStats(),
		})
	}
	return list
}

// Remove stops and forgets an arena. The default arena cannot be removed.
func (am *ArenaManager) Remove(id string) bool {
	return am.remove(id, func(a *Arena) bool {
		a.close()
		return true
	})
}

// removeIfIdle removes id only if it is still idle for ArenaIdleTimeout at the
// moment of removal. A client that attached since the scan keeps it alive.
func (am *ArenaManager) removeIfIdle(id string, now time.Time) bool {
	return am.remove(id, func(a *Arena) bool {
		return a.closeIfIdle(now, ArenaIdleTimeout)
	})
}

// remove deletes id if closing reports true; closing runs under am.mu
func (am *ArenaManager) remove(id string, closing func(*Arena) bool) bool {
	am.mu.Lock()
	a, ok := am.arenas[id]
	if !ok || a.permanent || !closing(a) {
		am.mu.Unlock()
		return false
	}
	delete(am.arenas, id)
	am.analytics.SetArenas(len(am.arenas))
	am.mu.Unlock()

	a.Sim.Stop()
	am.analytics.Track(EvtArenaClose, id, a.Sim.RunID(), "")
	return true
}

// ReapIdle removes created arenas that have had no viewers for ArenaIdleTimeout
func (am *ArenaManager) ReapIdle(now time.Time) int {
	am.mu.RLock()
	var idle []string
	for id, a := range am.arenas {
		if !a.permanent && a.idleFor(now) >= ArenaIdleTimeout {
			idle = append(idle, id)
		}
	}
	am.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if am.removeIfIdle(id, now) {
			n++
		}
	}
	return n
}

// StopAll stops every arena's tick loop
func (am *ArenaManager) StopAll() {
	am.mu.RLock()
	defer am.mu.RUnlock()
	for _, a := range am.arenas {
		a.Sim.Stop()
	}
}
