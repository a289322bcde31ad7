// Package hub maps room codes to live room loops. One actor goroutine owns
// the registry; callers go through the typed inbox.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/relay"
	"github.com/cardfield/cardfield/internal/room"
	"github.com/cardfield/cardfield/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateRoom struct {
	Code      string
	CreatorID string
	Reply     chan *room.Room
}

type GetRoom struct {
	Code  string
	Reply chan *room.Room
}

// EnsureRoom returns the live room for a code, starting one (seeded from
// the store) if no loop is running yet. Used when a persisted room is
// rejoined after all its participants went away.
type EnsureRoom struct {
	Code      string
	CreatorID string // only used if creation happens
	Reply     chan *room.Room
}

type RemoveRoom struct {
	Code string
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Deps are shared by every room the hub starts.
type Deps struct {
	Store  store.Store
	Relay  relay.Relay
	NodeID string
	Log    *zap.Logger
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  map[string]*room.Room{},
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) startRoom(code, creatorID string) *room.Room {
	h.deps.Log.Info("room started", zap.String("room", code))
	return room.New(h.ctx, code, room.Deps{
		Store:     h.deps.Store,
		Relay:     h.deps.Relay,
		NodeID:    h.deps.NodeID,
		CreatorID: creatorID,
		Log:       h.deps.Log,
	})
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				if rm := h.rooms[msg.Code]; rm != nil {
					msg.Reply <- rm
					break
				}
				rm := h.startRoom(msg.Code, msg.CreatorID)
				h.rooms[msg.Code] = rm
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- h.rooms[msg.Code] // May be nil

			case EnsureRoom:
				if rm := h.rooms[msg.Code]; rm != nil {
					msg.Reply <- rm
					break
				}
				rm := h.startRoom(msg.Code, msg.CreatorID)
				h.rooms[msg.Code] = rm
				msg.Reply <- rm

			case RemoveRoom:
				if rm := h.rooms[msg.Code]; rm != nil {
					rm.Inbox() <- room.Shutdown{}
				}
				delete(h.rooms, msg.Code)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, rm := range h.rooms {
		rm.Inbox() <- room.Shutdown{}
	}
	clear(h.rooms)
	h.cancel()
}
