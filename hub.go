package main

import (
	"sync"
	"time"
)

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
	reapInterval  = 30 * time.Second
)

// Hub manages all connected clients and attaches them to arenas
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	arenas     *ArenaManager
	auth       *Auth
	analytics  *Analytics
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a new Hub
func NewHub(arenas *ArenaManager, auth *Auth, analytics *Analytics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stop:       make(chan struct{}),
		arenas:     arenas,
		auth:       auth,
		analytics:  analytics,
		ipConns:    make(map[string]int),
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events and reaps idle arenas
func (h *Hub) Run() {
	reap := time.NewTicker(reapInterval)
	defer reap.Stop()

	for {
		select {
		case client := <-h.register:
			// select may serve a disconnect before its register
			if client.gone {
				close(client.send)
				continue
			}
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.analytics.SetViewers(n)

			arena := h.arenas.Get(client.ArenaID())
			if arena == nil || !client.attach(arena) {
				client.attach(h.arenas.Default())
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.detach()
				close(client.send)
			} else {
				client.gone = true
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.analytics.SetViewers(n)

		case now := <-reap.C:
			h.arenas.ReapIdle(now)

		case <-h.stop:
			return
		}
	}
}

// Stop terminates Run
func (h *Hub) Stop() {
	close(h.stop)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
