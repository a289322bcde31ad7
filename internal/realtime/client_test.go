package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardfield/cardfield/internal/surface"
	"github.com/cardfield/cardfield/pkg/types"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbox:
		return data, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, payload)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []types.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ClientMessage, 0, len(f.writes))
	for _, raw := range f.writes {
		var m types.ClientMessage
		if json.Unmarshal(raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

// fakeDialer fails the first failures dials, then hands out live conns.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testOptions() Options {
	return Options{ReconnectDelay: 5 * time.Millisecond, MaxAttempts: 5}
}

func testIdentity() types.Participant {
	return types.Participant{ParticipantID: "p1", DisplayName: "ada"}
}

func TestReconnectExhaustionReachesErrorAndStops(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30} // never succeeds
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))

	require.Eventually(t, func() bool {
		return c.State().Status == StatusError
	}, time.Second, time.Millisecond)

	require.Equal(t, 5, c.State().ReconnectAttempts)
	require.Equal(t, 5, d.dialCount(), "exactly maxAttempts dials")

	// no further retry timer may be pending
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 5, d.dialCount())
}

func TestReconnectSucceedsAndResetsAttempts(t *testing.T) {
	d := &fakeDialer{failures: 2}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))

	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	st := c.State()
	require.Zero(t, st.ReconnectAttempts)
	require.False(t, st.LastConnectedAt.IsZero())
	require.Equal(t, 3, d.dialCount())

	// presence is re-announced on the successful connection
	conn := d.lastConn()
	require.Eventually(t, func() bool {
		msgs := conn.written()
		return len(msgs) > 0 && msgs[0].Type == types.MsgHello && msgs[0].ParticipantID == "p1"
	}, time.Second, time.Millisecond)
}

func TestConnectWhileActiveIsRejected(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.ErrorIs(t, c.Connect("ABC123", Handlers{}), ErrAlreadyConnected)
}

func TestCloseRetiresClient(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	c.Close()
	require.Equal(t, StatusDisconnected, c.State().Status)
	require.ErrorIs(t, c.Connect("ABC123", Handlers{}), ErrClientClosed)
	c.Close() // idempotent
}

func TestDisconnectAllowsReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	c.Disconnect()
	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}
	c := NewClient(d, testIdentity(), Options{ReconnectDelay: 30 * time.Millisecond, MaxAttempts: 5})

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusReconnecting
	}, time.Second, time.Millisecond)

	c.Disconnect()
	require.Equal(t, StatusDisconnected, c.State().Status)

	dials := d.dialCount()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, dials, d.dialCount(), "retry timer must be cancelled")
}

func TestTransportDropTriggersReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	d.lastConn().Close() // simulate the server dropping us

	require.Eventually(t, func() bool {
		return d.dialCount() >= 2 && c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)
}

func TestInboundDispatch(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	var mu sync.Mutex
	var gotState *surface.State
	var gotFrom string
	var roster []types.Participant

	h := Handlers{
		OnSurfaceUpdate: func(s surface.State, _ time.Time) {
			mu.Lock()
			gotState = &s
			mu.Unlock()
		},
		OnBroadcast: func(from string, _ json.RawMessage) {
			mu.Lock()
			gotFrom = from
			mu.Unlock()
		},
		OnRoster: func(r []types.Participant) {
			mu.Lock()
			roster = r
			mu.Unlock()
		},
	}
	require.NoError(t, c.Connect("ABC123", h))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	state := surface.NewState()
	state.Placed["c1"] = surface.Placed{EntityID: "c1", X: 7, StackIndex: 1}
	conn := d.lastConn()

	push := func(msg types.ServerMessage) {
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		conn.inbox <- raw
	}
	push(types.ServerMessage{Type: types.MsgSurfaceSnapshot, Version: 1, State: &state})
	push(types.ServerMessage{Type: types.MsgBroadcast, From: "p2", Payload: []byte(`{}`)})
	push(types.ServerMessage{Type: types.MsgRoster, Participants: []types.Participant{{ParticipantID: "p2"}}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotState != nil && gotFrom == "p2" && len(roster) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, 7.0, gotState.Placed["c1"].X)
	mu.Unlock()
}

func TestWritesRequireConnection(t *testing.T) {
	d := &fakeDialer{failures: 1 << 30}
	c := NewClient(d, testIdentity(), testOptions())

	require.ErrorIs(t, c.PushSurface(surface.NewState()), ErrNotConnected)
	require.ErrorIs(t, c.Broadcast([]byte(`{}`)), ErrNotConnected)
}

func TestPushSurfaceWritesSnapshot(t *testing.T) {
	d := &fakeDialer{}
	c := NewClient(d, testIdentity(), testOptions())

	require.NoError(t, c.Connect("ABC123", Handlers{}))
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, time.Second, time.Millisecond)

	state := surface.NewState()
	state.Placed["c1"] = surface.Placed{EntityID: "c1", X: 1, Y: 2, StackIndex: 1}
	state.NextStackIndex = 2
	require.NoError(t, c.PushSurface(state))

	conn := d.lastConn()
	require.Eventually(t, func() bool {
		for _, m := range conn.written() {
			if m.Type == types.MsgSurfaceUpdate && m.State != nil && m.State.Placed["c1"].X == 1 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
