// Package types defines the JSON wire protocol between the room server and
// sync clients. Serialization is owned here; everything else treats these
// shapes as opaque.
package types

import (
	"encoding/json"
	"time"

	"github.com/cardfield/cardfield/internal/surface"
)

// Client -> Server message types.
const (
	MsgHello         = "Hello"
	MsgSurfaceUpdate = "SurfaceUpdate"
	MsgBroadcast     = "Broadcast"
	MsgDrawCard      = "DrawCard"
	MsgLeave         = "Leave"
)

// Server -> Client message types.
const (
	MsgWelcome         = "Welcome"
	MsgSurfaceSnapshot = "SurfaceSnapshot"
	MsgPresence        = "Presence"
	MsgRoster          = "Roster"
	MsgCardDrawn       = "CardDrawn"
	MsgError           = "Error"
	// MsgBroadcast is reused server->client when relaying ephemeral payloads.
)

type ClientMessage struct {
	Type          string          `json:"type"`
	RoomCode      string          `json:"room_code,omitempty"`
	ParticipantID string          `json:"participant_id,omitempty"`
	DisplayName   string          `json:"display_name,omitempty"`
	State         *surface.State  `json:"state,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	// Version counts committed surface mutations within the room process.
	Version int `json:"version,omitempty"`
	// UpdatedAtMs is the server-assigned commit time in unix milliseconds,
	// used by clients as the last-writer-wins tiebreak.
	UpdatedAtMs  int64           `json:"updated_at_ms,omitempty"`
	State        *surface.State  `json:"state,omitempty"`
	Participants []Participant   `json:"participants,omitempty"`
	Participant  *Participant    `json:"participant,omitempty"`
	Card         *surface.Entity `json:"card,omitempty"`
	From         string          `json:"from,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Participant is one member of a room's roster.
type Participant struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	IsCreator     bool      `json:"is_creator"`
	IsOnline      bool      `json:"is_online"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}
