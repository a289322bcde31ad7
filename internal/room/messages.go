package room

import (
	"encoding/json"

	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

type Msg interface{ isRoomMsg() }

// Join registers a participant's connection and its outbox for server
// events. The joiner immediately receives a Welcome with the current
// snapshot and roster.
type Join struct {
	Participant types.Participant
	Outbox      chan types.ServerMessage
}

// Disconnect marks a participant offline without removing it from the
// roster (a dropped connection, not an explicit leave).
type Disconnect struct{ ParticipantID string }

// Leave removes the participant from the roster entirely.
type Leave struct{ ParticipantID string }

// UpdateSurface replaces the room's shared surface wholesale with the
// sender's snapshot (last writer wins).
type UpdateSurface struct {
	From  string
	State surface.State
}

// Broadcast relays an ephemeral payload to every other connected
// participant. Never stored, never retried.
type Broadcast struct {
	From    string
	Payload json.RawMessage
}

// DrawCard deals a fresh entity to the requesting participant only.
type DrawCard struct{ ParticipantID string }

// GetState reflects internal state without data races. Test-only.
type GetState struct{ Reply chan View }

type Shutdown struct{}

func (Join) isRoomMsg()          {}
func (Disconnect) isRoomMsg()    {}
func (Leave) isRoomMsg()         {}
func (UpdateSurface) isRoomMsg() {}
func (Broadcast) isRoomMsg()     {}
func (DrawCard) isRoomMsg()      {}
func (GetState) isRoomMsg()      {}
func (Shutdown) isRoomMsg()      {}

type View struct {
	Version      int
	NumClients   int
	Participants []types.Participant
	State        surface.State
}
