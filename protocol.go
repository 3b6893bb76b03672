package main

import "encoding/json"

// Client -> Server message types
const (
	MsgList     = "list"     // list arenas
	MsgCreate   = "create"   // create arena (controller)
	MsgJoin     = "join"     // switch to another arena
	MsgGenerate = "generate" // replace the body set (controller)
	MsgResize   = "resize"   // viewer surface changed size (controller)
)

// Server -> Client message types
const (
	MsgWelcome   = "welcome"
	MsgArenas    = "arenas"
	MsgCreated   = "created"
	MsgJoined    = "joined"
	MsgGenerated = "generated"
	MsgResized   = "resized"
	MsgError     = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg is sent by a controller to open a new arena
type CreateMsg struct {
	Name string `json:"name"`
}

// JoinMsg is sent when a viewer wants to watch another arena
type JoinMsg struct {
	ArenaID string `json:"aid"`
}

// ResizeMsg carries the new arena size
type ResizeMsg struct {
	W int `json:"w"`
	H int `json:"h"`
}

// WelcomeMsg is sent once a client is attached to an arena
type WelcomeMsg struct {
	ID         string `json:"id"`
	ArenaID    string `json:"aid"`
	W          int    `json:"w"`
	H          int    `json:"h"`
	Controller bool   `json:"ctrl"`
}

// GeneratedMsg acknowledges an accepted generate request
type GeneratedMsg struct {
	RunID string `json:"run"`
	Count int    `json:"count"`
}

// ArenaInfo is used in the arena list
type ArenaInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Bodies  int       `json:"bodies"`
	Viewers int       `json:"viewers"`
	Tick    uint64    `json:"tick"`
	Stats   TickStats `json:"stats"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// BodyState is broadcast per body each frame
type BodyState struct {
	ID int     `json:"id" msgpack:"id"`
	X  float64 `json:"x" msgpack:"x"`
	Y  float64 `json:"y" msgpack:"y"`
	R  float64 `json:"r" msgpack:"r"`
	VX float64 `json:"vx" msgpack:"vx"`
	VY float64 `json:"vy" msgpack:"vy"`
}

// Frame is what a viewer needs to draw one tick: bodies and index nodes
type Frame struct {
	ArenaID string      `json:"aid" msgpack:"aid"`
	Tick    uint64      `json:"tick" msgpack:"tick"`
	W       float64     `json:"w" msgpack:"w"`
	H       float64     `json:"h" msgpack:"h"`
	Bodies  []BodyState `json:"bodies" msgpack:"b"`
	Nodes   []Rect      `json:"nodes" msgpack:"q"`
	Stats   TickStats   `json:"stats" msgpack:"s"`
}
