// Package coordinator is the boundary between local interaction and the
// network. It is the only component that both reads drag results and writes
// the shared surface: drag commits land here, debounced snapshot pushes
// leave from here, and inbound remote snapshots merge here under
// last-writer-wins.
package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cardfield/cardfield/internal/drag"
	"github.com/cardfield/cardfield/internal/realtime"
	"github.com/cardfield/cardfield/internal/store"
	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

// SyncClient is the slice of the realtime client the coordinator needs.
type SyncClient interface {
	Connect(roomCode string, h realtime.Handlers) error
	Disconnect()
	PushSurface(state surface.State) error
	Broadcast(payload json.RawMessage) error
	RequestDraw() error
	State() realtime.ConnectionState
}

const (
	DefaultDebounce = 250 * time.Millisecond
	saveTimeout     = 5 * time.Second
)

type Options struct {
	// Debounce is the quiet window that coalesces rapid local mutations
	// into one snapshot push.
	Debounce time.Duration
	Log      *zap.Logger
}

// View is the read-only state handed to the rendering collaborator.
type View struct {
	Placed       []surface.Placed // back-to-front
	Hand         []surface.Entity
	Participants []types.Participant
	Connection   realtime.ConnectionState
}

type Coordinator struct {
	client SyncClient
	store  store.SnapshotStore // may be nil; durability then rides the server
	log    *zap.Logger
	window time.Duration

	mu           sync.Mutex
	roomCode     string
	surf         *surface.Manager
	drag         *drag.Controller
	hand         []surface.Entity
	catalog      map[string]surface.Entity
	roster       map[string]types.Participant
	lastRemoteAt time.Time
	pushTimer    *time.Timer
}

func New(client SyncClient, st store.SnapshotStore, dragCfg drag.Config, opts Options) *Coordinator {
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Coordinator{
		client:  client,
		store:   st,
		log:     opts.Log,
		window:  opts.Debounce,
		surf:    surface.NewManager(),
		drag:    drag.NewController(dragCfg),
		catalog: map[string]surface.Entity{},
		roster:  map[string]types.Participant{},
	}
}

// Join seeds the surface from the persisted snapshot and opens the room
// channel. Pointer handling never waits on the network; the connection
// progresses in the background.
func (c *Coordinator) Join(ctx context.Context, roomCode string) error {
	c.mu.Lock()
	c.roomCode = roomCode
	c.mu.Unlock()

	if c.store != nil {
		snap, err := c.store.LoadSnapshot(ctx, roomCode)
		if err != nil {
			c.log.Warn("snapshot load failed, starting empty", zap.String("room", roomCode), zap.Error(err))
		} else if snap != nil {
			c.mu.Lock()
			c.surf.Load(*snap)
			c.surf.NormalizeStackIndices()
			c.mu.Unlock()
		}
	}

	return c.client.Connect(roomCode, realtime.Handlers{
		OnSurfaceUpdate: c.OnRemoteSurfaceUpdate,
		OnPresence:      c.OnPresenceChange,
		OnRoster:        c.OnRosterUpdate,
		OnCardDrawn:     c.onCardDrawn,
	})
}

// Leave cancels any pending push and closes the channel.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	if c.pushTimer != nil {
		c.pushTimer.Stop()
		c.pushTimer = nil
	}
	c.mu.Unlock()
	c.client.Disconnect()
}

// BeginDrag starts a drag for an entity in the hand or on the surface.
func (c *Coordinator) BeginDrag(entityID string, source drag.Source, pointer drag.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var original *surface.Placed
	if p, ok := c.surf.Get(entityID); ok {
		original = &p
	}
	return c.drag.Begin(entityID, source, pointer, original) != nil
}

func (c *Coordinator) UpdateDrag(pointer drag.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag.Update(pointer)
}

// DragFrame returns the coalesced top-left for the current frame, if the
// pointer moved since the last frame.
func (c *Coordinator) DragFrame() (drag.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drag.TakeFrame()
}

// ResolveDrag classifies the release and commits the outcome. The returned
// result is nil when no drag was active; IsClick marks a plain activation
// that mutated nothing.
func (c *Coordinator) ResolveDrag(pointer drag.Point) *drag.Result {
	c.mu.Lock()
	res := c.drag.Resolve(pointer)
	if res == nil || res.IsClick() {
		c.mu.Unlock()
		return res
	}
	c.commitLocked(res)
	c.mu.Unlock()
	return res
}

// CancelDrag discards the session and puts the entity back where it
// started. Nothing was pushed yet, so there is no network effect.
func (c *Coordinator) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if restored := c.drag.Cancel(); restored != nil {
		c.surf.Restore(*restored)
	}
}

// commitLocked applies a resolved drop to the surface, the hand, or the
// void, and schedules a push when the shared document changed.
func (c *Coordinator) commitLocked(res *drag.Result) {
	switch res.Zone {
	case drag.ZoneSurface:
		if _, ok := c.surf.Get(res.EntityID); ok {
			if _, err := c.surf.Reposition(res.EntityID, res.FinalPosition.X, res.FinalPosition.Y); err != nil {
				return
			}
		} else {
			c.surf.Place(res.EntityID, res.FinalPosition.X, res.FinalPosition.Y)
		}
		if res.Source == drag.SourceHand {
			c.removeFromHand(res.EntityID)
		}
		c.schedulePushLocked()

	case drag.ZoneHand:
		// Hand contents never ride the shared document; only the removal
		// from the surface is pushed.
		if res.Source == drag.SourceSurface {
			c.surf.Remove(res.EntityID)
			c.hand = append(c.hand, c.entityFor(res.EntityID))
			c.schedulePushLocked()
		}

	case drag.ZoneDiscard:
		if res.Source == drag.SourceSurface {
			c.surf.Remove(res.EntityID)
			c.schedulePushLocked()
		} else {
			c.removeFromHand(res.EntityID)
		}
		delete(c.catalog, res.EntityID)
	}
}

// OnRemoteSurfaceUpdate merges an inbound snapshot: last writer wins
// wholesale, except that an entity under active local drag keeps its local,
// not-yet-committed placement so the card never snaps away from the cursor.
func (c *Coordinator) OnRemoteSurfaceUpdate(remote surface.State, remoteAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !remoteAt.IsZero() && remoteAt.Before(c.lastRemoteAt) {
		return // stale writer lost
	}
	c.lastRemoteAt = remoteAt

	dragged := c.drag.ActiveEntity()
	var local surface.Placed
	hasLocal := false
	if dragged != "" {
		local, hasLocal = c.surf.Get(dragged)
	}

	c.surf.Load(remote)

	if dragged != "" {
		if hasLocal {
			c.surf.Restore(local)
		} else {
			c.surf.Remove(dragged)
		}
	}
}

func (c *Coordinator) OnPresenceChange(p types.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster[p.ParticipantID] = p
}

func (c *Coordinator) OnRosterUpdate(roster []types.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = make(map[string]types.Participant, len(roster))
	for _, p := range roster {
		c.roster[p.ParticipantID] = p
	}
}

// Draw asks the room for a card; it lands in the hand via onCardDrawn.
func (c *Coordinator) Draw() error { return c.client.RequestDraw() }

func (c *Coordinator) onCardDrawn(card surface.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog[card.ID] = card
	c.hand = append(c.hand, card)
}

// AddToHand accepts an entity from the import collaborator.
func (c *Coordinator) AddToHand(e surface.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog[e.ID] = e
	c.hand = append(c.hand, e)
}

// RotatePlaced turns a card on the surface; the change rides the same
// debounced push as moves.
func (c *Coordinator) RotatePlaced(entityID string, degrees int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.surf.Rotate(entityID, degrees); err != nil {
		return err
	}
	c.schedulePushLocked()
	return nil
}

// BringToFront raises a card without moving it.
func (c *Coordinator) BringToFront(entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.surf.BringToFront(entityID); err != nil {
		return err
	}
	c.schedulePushLocked()
	return nil
}

// BroadcastHint sends an ephemeral payload (cursor position, action hint)
// to the other participants. Best-effort; failures are logged, not retried.
func (c *Coordinator) BroadcastHint(payload json.RawMessage) {
	if err := c.client.Broadcast(payload); err != nil {
		c.log.Debug("hint broadcast failed", zap.Error(err))
	}
}

// ViewState snapshots everything the renderer needs.
func (c *Coordinator) ViewState() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.surf.Snapshot()
	placed := make([]surface.Placed, 0, len(state.Placed))
	for _, p := range state.Placed {
		placed = append(placed, p)
	}
	sort.Slice(placed, func(i, j int) bool { return placed[i].StackIndex < placed[j].StackIndex })

	hand := make([]surface.Entity, len(c.hand))
	copy(hand, c.hand)

	roster := make([]types.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		roster = append(roster, p)
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ParticipantID < roster[j].ParticipantID })

	return View{
		Placed:       placed,
		Hand:         hand,
		Participants: roster,
		Connection:   c.client.State(),
	}
}

// schedulePushLocked coalesces bursts of local mutations: one pending timer
// handle, cancelled and rescheduled on every call, firing once after the
// quiet window.
func (c *Coordinator) schedulePushLocked() {
	if c.pushTimer != nil {
		c.pushTimer.Stop()
	}
	c.pushTimer = time.AfterFunc(c.window, c.flush)
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	c.pushTimer = nil
	snapshot := c.surf.Snapshot()
	roomCode := c.roomCode
	c.mu.Unlock()

	if err := c.client.PushSurface(snapshot); err != nil {
		c.log.Warn("surface push failed", zap.String("room", roomCode), zap.Error(err))
	}
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := c.store.SaveSnapshot(ctx, roomCode, snapshot, time.Now()); err != nil {
			// Local state stays authoritative; only durability is delayed.
			c.log.Warn("snapshot save failed", zap.String("room", roomCode), zap.Error(err))
		}
	}
}

func (c *Coordinator) entityFor(id string) surface.Entity {
	if e, ok := c.catalog[id]; ok {
		return e
	}
	return surface.Entity{ID: id}
}

func (c *Coordinator) removeFromHand(id string) {
	for i, e := range c.hand {
		if e.ID == id {
			c.hand = append(c.hand[:i], c.hand[i+1:]...)
			return
		}
	}
}
