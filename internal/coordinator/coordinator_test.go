package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardfield/cardfield/internal/drag"
	"github.com/cardfield/cardfield/internal/realtime"
	"github.com/cardfield/cardfield/internal/store"
	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

type fakeSync struct {
	mu         sync.Mutex
	pushes     []surface.State
	broadcasts []json.RawMessage
	draws      int
	handlers   realtime.Handlers
	connected  bool
}

func (f *fakeSync) Connect(_ string, h realtime.Handlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
	f.connected = true
	return nil
}

func (f *fakeSync) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeSync) PushSurface(state surface.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, state.Clone())
	return nil
}

func (f *fakeSync) Broadcast(payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload)
	return nil
}

func (f *fakeSync) RequestDraw() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draws++
	return nil
}

func (f *fakeSync) State() realtime.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := realtime.StatusDisconnected
	if f.connected {
		status = realtime.StatusConnected
	}
	return realtime.ConnectionState{Status: status}
}

func (f *fakeSync) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeSync) lastPush() surface.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes[len(f.pushes)-1]
}

func dragConfig() drag.Config {
	return drag.Config{
		SurfaceBounds: drag.Rect{MinX: 0, MinY: 0, MaxX: 1200, MaxY: 500},
		HandBounds:    drag.Rect{MinX: 0, MinY: 900, MaxX: 1200, MaxY: 1000},
	}
}

func newTestCoordinator(t *testing.T, sync *fakeSync, debounce time.Duration) *Coordinator {
	t.Helper()
	c := New(sync, store.NewMemoryStore(), dragConfig(), Options{Debounce: debounce})
	require.NoError(t, c.Join(context.Background(), "ABC123"))
	return c
}

// dragTo runs a full begin/update/resolve cycle against the coordinator.
func dragTo(c *Coordinator, entityID string, source drag.Source, from, to drag.Point) *drag.Result {
	c.BeginDrag(entityID, source, from)
	c.UpdateDrag(to)
	return c.ResolveDrag(to)
}

func TestSurfaceDropFromHandPlacesAndPushes(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1", Name: "Aurora Drake"})

	res := dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 300, Y: 250})
	require.NotNil(t, res)
	require.Equal(t, drag.ZoneSurface, res.Zone)

	view := c.ViewState()
	require.Len(t, view.Placed, 1)
	require.Equal(t, "c1", view.Placed[0].EntityID)
	require.Empty(t, view.Hand, "placed card must leave the hand")

	require.Eventually(t, func() bool { return fs.pushCount() == 1 }, time.Second, time.Millisecond)
	require.Contains(t, fs.lastPush().Placed, "c1")
}

func TestDebounceCoalescesRapidMoves(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 30*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})
	dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 100, Y: 100})

	// two more quick moves inside the debounce window
	dragTo(c, "c1", drag.SourceSurface, drag.Point{X: 100, Y: 100}, drag.Point{X: 200, Y: 200})
	dragTo(c, "c1", drag.SourceSurface, drag.Point{X: 200, Y: 200}, drag.Point{X: 300, Y: 300})

	require.Eventually(t, func() bool { return fs.pushCount() > 0 }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, fs.pushCount(), "burst must coalesce into one push")
	require.Equal(t, 300.0, fs.lastPush().Placed["c1"].X, "push carries the last value")
}

func TestLastWriterWins(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)

	base := time.Now()
	r1 := surface.NewState()
	r1.Placed["c1"] = surface.Placed{EntityID: "c1", X: 10, Y: 10, StackIndex: 1}
	r1.NextStackIndex = 2
	r2 := surface.NewState()
	r2.Placed["c1"] = surface.Placed{EntityID: "c1", X: 99, Y: 99, StackIndex: 1}
	r2.Placed["c2"] = surface.Placed{EntityID: "c2", X: 5, Y: 5, StackIndex: 2}
	r2.NextStackIndex = 3

	c.OnRemoteSurfaceUpdate(r1, base)
	c.OnRemoteSurfaceUpdate(r2, base.Add(time.Second))
	afterBoth := c.ViewState()

	c2 := newTestCoordinator(t, &fakeSync{}, 10*time.Millisecond)
	c2.OnRemoteSurfaceUpdate(r2, base.Add(time.Second))
	r2Alone := c2.ViewState()

	require.Equal(t, r2Alone.Placed, afterBoth.Placed)
}

func TestStaleRemoteSnapshotIgnored(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)

	base := time.Now()
	newer := surface.NewState()
	newer.Placed["c1"] = surface.Placed{EntityID: "c1", X: 99, StackIndex: 1}
	older := surface.NewState()
	older.Placed["c1"] = surface.Placed{EntityID: "c1", X: 10, StackIndex: 1}

	c.OnRemoteSurfaceUpdate(newer, base.Add(time.Second))
	c.OnRemoteSurfaceUpdate(older, base)

	view := c.ViewState()
	require.Equal(t, 99.0, view.Placed[0].X, "older write must lose")
}

func TestActiveDragShieldsEntityFromRemote(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})
	dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 100, Y: 100})

	// second drag in progress when the remote snapshot lands
	c.BeginDrag("c1", drag.SourceSurface, drag.Point{X: 100, Y: 100})
	c.UpdateDrag(drag.Point{X: 400, Y: 300})

	remote := surface.NewState()
	remote.Placed["c1"] = surface.Placed{EntityID: "c1", X: 700, Y: 700, StackIndex: 1}
	remote.Placed["c2"] = surface.Placed{EntityID: "c2", X: 50, Y: 50, StackIndex: 2}
	remote.NextStackIndex = 3
	c.OnRemoteSurfaceUpdate(remote, time.Now())

	view := c.ViewState()
	byID := map[string]surface.Placed{}
	for _, p := range view.Placed {
		byID[p.EntityID] = p
	}
	require.Equal(t, 100.0, byID["c1"].X, "dragged entity keeps its local placement")
	require.Equal(t, 50.0, byID["c2"].X, "everything else is overwritten wholesale")

	// once the drag resolves, the local result wins and is pushed
	res := c.ResolveDrag(drag.Point{X: 400, Y: 300})
	require.Equal(t, drag.ZoneSurface, res.Zone)
}

func TestDiscardFromHandIsPermanent(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})

	res := dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 900, Y: 900})
	require.Equal(t, drag.ZoneDiscard, res.Zone)

	view := c.ViewState()
	require.Empty(t, view.Hand)
	require.Empty(t, view.Placed)

	// nothing changed on the shared surface, so nothing is pushed
	time.Sleep(40 * time.Millisecond)
	require.Zero(t, fs.pushCount())
}

func TestHandDropFromSurfaceRemovesAndPushes(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1", Name: "Tide Caller"})
	dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 300, Y: 250})
	require.Eventually(t, func() bool { return fs.pushCount() == 1 }, time.Second, time.Millisecond)

	res := dragTo(c, "c1", drag.SourceSurface, drag.Point{X: 300, Y: 250}, drag.Point{X: 600, Y: 950})
	require.Equal(t, drag.ZoneHand, res.Zone)

	view := c.ViewState()
	require.Empty(t, view.Placed)
	require.Len(t, view.Hand, 1)
	require.Equal(t, "Tide Caller", view.Hand[0].Name, "entity metadata survives the round trip")

	require.Eventually(t, func() bool { return fs.pushCount() == 2 }, time.Second, time.Millisecond)
	require.Empty(t, fs.lastPush().Placed, "removal must reach the shared document")
}

func TestCancelRestoresWithoutNetworkEffect(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})
	dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 300, Y: 250})
	require.Eventually(t, func() bool { return fs.pushCount() == 1 }, time.Second, time.Millisecond)
	before := c.ViewState().Placed[0]

	c.BeginDrag("c1", drag.SourceSurface, drag.Point{X: 310, Y: 260})
	c.UpdateDrag(drag.Point{X: 800, Y: 400})
	c.CancelDrag()

	require.Equal(t, before, c.ViewState().Placed[0])
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, 1, fs.pushCount(), "cancel must not push")
}

func TestClickDoesNotCommit(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})

	res := dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 102, Y: 951})
	require.NotNil(t, res)
	require.True(t, res.IsClick())
	require.Len(t, c.ViewState().Hand, 1, "click must not move the card")
}

func TestRotationRidesDebouncedPush(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)
	c.AddToHand(surface.Entity{ID: "c1"})
	dragTo(c, "c1", drag.SourceHand, drag.Point{X: 100, Y: 950}, drag.Point{X: 300, Y: 250})
	require.Eventually(t, func() bool { return fs.pushCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.RotatePlaced("c1", 450))
	require.Eventually(t, func() bool { return fs.pushCount() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 90, fs.lastPush().Placed["c1"].RotationDegrees)
}

func TestDrawDeliversToHand(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)

	require.NoError(t, c.Draw())
	require.Equal(t, 1, fs.draws)

	// the room answers through the OnCardDrawn handler
	fs.handlers.OnCardDrawn(surface.Entity{ID: "e9", Name: "Moss Golem"})
	view := c.ViewState()
	require.Len(t, view.Hand, 1)
	require.Equal(t, "Moss Golem", view.Hand[0].Name)
}

func TestRosterAndPresence(t *testing.T) {
	fs := &fakeSync{}
	c := newTestCoordinator(t, fs, 10*time.Millisecond)

	c.OnRosterUpdate([]types.Participant{
		{ParticipantID: "p1", DisplayName: "ada", IsOnline: true},
		{ParticipantID: "p2", DisplayName: "grace", IsOnline: true},
	})
	c.OnPresenceChange(types.Participant{ParticipantID: "p2", DisplayName: "grace", IsOnline: false})

	view := c.ViewState()
	require.Len(t, view.Participants, 2)
	require.False(t, view.Participants[1].IsOnline)
}
