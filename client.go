package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 30
)

// Client represents a WebSocket connection watching one arena
type Client struct {
	id           string
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	remoteAddr   string
	isController bool
	msgCount     int
	msgResetAt   time.Time

	mu      sync.Mutex
	arenaID string
	arena   *Arena

	gone bool // unregistered before its register was served; owned by Hub.Run
}

// NewClient creates a new Client that will be attached to arenaID on register
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr, arenaID string, controller bool) *Client {
	return &Client{
		id:           GenerateID(4),
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufSize),
		remoteAddr:   remoteAddr,
		isController: controller,
		arenaID:      arenaID,
	}
}

// ArenaID returns the arena the client watches or asked to watch
func (c *Client) ArenaID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arenaID
}

// attach moves the client to arena and greets it with first followed by the
// welcome, queued before the first frame can be. Returns false if the arena
// has been removed.
func (c *Client) attach(arena *Arena, first ...Envelope) bool {
	w, h := arena.Sim.Size()
	welcome := Envelope{T: MsgWelcome, Data: WelcomeMsg{
		ID:         c.id,
		ArenaID:    arena.ID,
		W:          w,
		H:          h,
		Controller: c.isController,
	}}
	ok := arena.AddClient(c.id, c, func() {
		for _, env := range first {
			c.SendJSON(env)
		}
		c.SendJSON(welcome)
	})
	if !ok {
		return false
	}

	c.mu.Lock()
	prev := c.arena
	c.arena = arena
	c.arenaID = arena.ID
	c.mu.Unlock()

	if prev != nil && prev != arena {
		prev.RemoveClient(c.id)
	}
	return true
}

// detach stops frame delivery
func (c *Client) detach() {
	c.mu.Lock()
	arena := c.arena
	c.arena = nil
	c.mu.Unlock()
	if arena != nil {
		arena.RemoveClient(c.id)
	}
}

func (c *Client) currentArena() *Arena {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arena
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgGenerate:
		c.handleGenerate(env.D)
	case MsgResize:
		c.handleResize(env.D)
	}
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgArenas, Data: c.hub.arenas.List()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	if !c.isController {
		c.sendError("not a controller")
		return
	}
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	name := msg.Name
	if name == "" {
		name = "Arena"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	arena := c.hub.arenas.Create(name)
	if arena == nil {
		c.sendError("too many arenas")
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"aid": arena.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	arena := c.hub.arenas.Get(msg.ArenaID)
	if arena == nil {
		c.sendError("arena not found")
		return
	}
	if !c.attach(arena, Envelope{T: MsgJoined, Data: map[string]string{"aid": arena.ID}}) {
		c.sendError("arena not found")
	}
}

func (c *Client) handleGenerate(data json.RawMessage) {
	if !c.isController {
		c.sendError("not a controller")
		return
	}
	arena := c.currentArena()
	if arena == nil {
		return
	}
	var req GenerateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("malformed generate request")
		return
	}
	runID, err := arena.Sim.Generate(req)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgGenerated, Data: GeneratedMsg{RunID: runID, Count: req.Count}})
}

func (c *Client) handleResize(data json.RawMessage) {
	if !c.isController {
		c.sendError("not a controller")
		return
	}
	arena := c.currentArena()
	if arena == nil {
		return
	}
	var msg ResizeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed resize request")
		return
	}
	if err := arena.Sim.Resize(msg.W, msg.H); err != nil {
		c.sendError(err.Error())
		return
	}
	c.SendJSON(Envelope{T: MsgResized, Data: msg})
}
