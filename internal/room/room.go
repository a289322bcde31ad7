// Package room runs one actor loop per live room. The loop is the only
// goroutine touching the room's surface state and roster; everything else
// talks to it through the typed inbox.
package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/relay"
	"github.com/cardfield/cardfield/internal/store"
	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

const saveTimeout = 5 * time.Second

// Deps carries the collaborators a room needs. Store and Relay may be nil
// (dev mode / single node).
type Deps struct {
	Store     store.SnapshotStore
	Relay     relay.Relay
	NodeID    string
	CreatorID string
	Log       *zap.Logger
}

type Room struct {
	code         string
	inbox        chan Msg
	surf         *surface.Manager
	version      int
	updatedAt    time.Time
	participants map[string]*types.Participant
	clients      map[string]chan types.ServerMessage
	deps         Deps
	ctx          context.Context
	cancel       context.CancelFunc
}

// relayEnvelope tags cross-node messages with their origin so a node never
// re-applies its own publish.
type relayEnvelope struct {
	Node string              `json:"node"`
	Msg  types.ServerMessage `json:"msg"`
}

func New(parent context.Context, code string, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	r := &Room{
		code:         code,
		inbox:        make(chan Msg, 64),
		surf:         surface.NewManager(),
		participants: map[string]*types.Participant{},
		clients:      map[string]chan types.ServerMessage{},
		deps:         deps,
		ctx:          ctx,
		cancel:       cancel,
	}
	r.seed()

	var remote <-chan []byte
	if deps.Relay != nil {
		remote = deps.Relay.Subscribe(ctx, code)
	}
	go r.loop(remote)
	return r
}

// Inbox exposes the room's message channel to the ws layer and tests.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// seed loads the persisted snapshot, if any, before the loop starts.
func (r *Room) seed() {
	if r.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, saveTimeout)
	defer cancel()
	snap, err := r.deps.Store.LoadSnapshot(ctx, r.code)
	if err != nil {
		r.deps.Log.Warn("seed snapshot load failed", zap.String("room", r.code), zap.Error(err))
		return
	}
	if snap != nil {
		r.surf.Load(*snap)
		r.surf.NormalizeStackIndices()
	}
}

func (r *Room) loop(remote <-chan []byte) {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case raw, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			r.applyRemote(raw)

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.handleJoin(msg)
			case Disconnect:
				r.setOnline(msg.ParticipantID, false)
				r.releaseClient(msg.ParticipantID)
			case Leave:
				r.releaseClient(msg.ParticipantID)
				if p, ok := r.participants[msg.ParticipantID]; ok {
					delete(r.participants, msg.ParticipantID)
					p.IsOnline = false
					r.broadcastExcept(msg.ParticipantID, types.ServerMessage{Type: types.MsgPresence, Participant: p})
					r.broadcastRoster()
				}
			case UpdateSurface:
				r.commitSurface(msg)
			case Broadcast:
				r.broadcastExcept(msg.From, types.ServerMessage{
					Type: types.MsgBroadcast, From: msg.From, Payload: msg.Payload,
				})
				r.publishRelay(types.ServerMessage{Type: types.MsgBroadcast, From: msg.From, Payload: msg.Payload})
			case DrawCard:
				r.handleDraw(msg.ParticipantID)
			case GetState:
				msg.Reply <- r.view()
			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) handleJoin(msg Join) {
	p := msg.Participant
	existing, known := r.participants[p.ParticipantID]
	if known {
		existing.IsOnline = true
		existing.LastSeenAt = time.Now()
		if p.DisplayName != "" {
			existing.DisplayName = p.DisplayName
		}
		p = *existing
	} else {
		p.IsOnline = true
		p.IsCreator = p.ParticipantID == r.deps.CreatorID
		p.LastSeenAt = time.Now()
		r.participants[p.ParticipantID] = &p
	}
	if old, ok := r.clients[p.ParticipantID]; ok && old != msg.Outbox {
		close(old)
	}
	r.clients[p.ParticipantID] = msg.Outbox

	state := r.surf.Snapshot()
	msg.Outbox <- types.ServerMessage{
		Type:         types.MsgWelcome,
		Version:      r.version,
		UpdatedAtMs:  r.updatedAt.UnixMilli(),
		State:        &state,
		Participants: r.roster(),
	}
	r.broadcastExcept(p.ParticipantID, types.ServerMessage{Type: types.MsgPresence, Participant: &p})
	r.broadcastRoster()
}

func (r *Room) commitSurface(msg UpdateSurface) {
	r.surf.Load(msg.State)
	r.version++
	r.updatedAt = time.Now()
	if p, ok := r.participants[msg.From]; ok {
		p.LastSeenAt = r.updatedAt
	}

	state := r.surf.Snapshot()
	out := types.ServerMessage{
		Type:        types.MsgSurfaceSnapshot,
		Version:     r.version,
		UpdatedAtMs: r.updatedAt.UnixMilli(),
		State:       &state,
	}
	// The sender already holds this state locally.
	r.broadcastExcept(msg.From, out)
	r.publishRelay(out)

	if r.deps.Store != nil {
		// Fire-and-forget: the in-memory state stays authoritative even if
		// durability lags.
		go func(s surface.State, at time.Time) {
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			if err := r.deps.Store.SaveSnapshot(ctx, r.code, s, at); err != nil {
				r.deps.Log.Warn("snapshot save failed", zap.String("room", r.code), zap.Error(err))
			}
		}(state, r.updatedAt)
	}
}

func (r *Room) applyRemote(raw []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.deps.Log.Warn("bad relay payload", zap.String("room", r.code), zap.Error(err))
		return
	}
	if env.Node == r.deps.NodeID {
		return
	}
	switch env.Msg.Type {
	case types.MsgSurfaceSnapshot:
		if env.Msg.State == nil {
			return
		}
		r.surf.Load(*env.Msg.State)
		r.version++
		r.updatedAt = time.UnixMilli(env.Msg.UpdatedAtMs)
		state := r.surf.Snapshot()
		r.broadcastExcept("", types.ServerMessage{
			Type:        types.MsgSurfaceSnapshot,
			Version:     r.version,
			UpdatedAtMs: env.Msg.UpdatedAtMs,
			State:       &state,
		})
	case types.MsgBroadcast:
		r.broadcastExcept(env.Msg.From, env.Msg)
	}
}

func (r *Room) handleDraw(pid string) {
	out, ok := r.clients[pid]
	if !ok {
		return
	}
	card := dealCard()
	select {
	case out <- types.ServerMessage{Type: types.MsgCardDrawn, Card: &card}:
	default:
		r.dropClient(pid)
	}
}

func (r *Room) setOnline(pid string, online bool) {
	p, ok := r.participants[pid]
	if !ok {
		return
	}
	p.IsOnline = online
	p.LastSeenAt = time.Now()
	r.broadcastExcept(pid, types.ServerMessage{Type: types.MsgPresence, Participant: p})
}

func (r *Room) broadcastRoster() {
	r.broadcastExcept("", types.ServerMessage{Type: types.MsgRoster, Participants: r.roster()})
}

// broadcastExcept sends to every connected client but the named one. A full
// outbox drops the client rather than blocking the loop.
func (r *Room) broadcastExcept(except string, msg types.ServerMessage) {
	for pid, ch := range r.clients {
		if pid == except {
			continue
		}
		select {
		case ch <- msg:
		default:
			r.dropClient(pid)
		}
	}
}

// releaseClient closes the participant's outbox so its writer goroutine
// exits, and forgets the channel.
func (r *Room) releaseClient(pid string) {
	if ch, ok := r.clients[pid]; ok {
		close(ch)
		delete(r.clients, pid)
	}
}

func (r *Room) dropClient(pid string) {
	r.releaseClient(pid)
	if p, ok := r.participants[pid]; ok {
		p.IsOnline = false
	}
	r.deps.Log.Info("dropped slow client", zap.String("room", r.code), zap.String("participant", pid))
}

func (r *Room) publishRelay(msg types.ServerMessage) {
	if r.deps.Relay == nil {
		return
	}
	raw, err := json.Marshal(relayEnvelope{Node: r.deps.NodeID, Msg: msg})
	if err != nil {
		return
	}
	if err := r.deps.Relay.Publish(r.ctx, r.code, raw); err != nil {
		r.deps.Log.Warn("relay publish failed", zap.String("room", r.code), zap.Error(err))
	}
}

func (r *Room) roster() []types.Participant {
	out := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

func (r *Room) view() View {
	return View{
		Version:      r.version,
		NumClients:   len(r.clients),
		Participants: r.roster(),
		State:        r.surf.Snapshot(),
	}
}

func (r *Room) shutdown() {
	for pid, ch := range r.clients {
		close(ch)
		delete(r.clients, pid)
	}
	r.cancel()
}
