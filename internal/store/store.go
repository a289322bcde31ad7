// Package store persists room metadata and surface snapshots. The in-memory
// implementation backs tests and single-node dev mode; the gorm/postgres
// implementation is the durable one.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cardfield/cardfield/internal/surface"
)

var ErrRoomExists = errors.New("room code already taken")

// SnapshotStore is the persistence collaborator consumed by the room loop
// and the client-side coordinator. LoadSnapshot returns (nil, nil) when the
// room has no saved snapshot yet.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, roomCode string) (*surface.State, error)
	SaveSnapshot(ctx context.Context, roomCode string, state surface.State, updatedAt time.Time) error
}

// RoomStore tracks room rows keyed by invite code.
type RoomStore interface {
	CreateRoom(ctx context.Context, roomCode, creatorID string) error
	RoomExists(ctx context.Context, roomCode string) (bool, error)
}

type Store interface {
	SnapshotStore
	RoomStore
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	rooms     map[string]string // code -> creator id
	snapshots map[string]surface.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     map[string]string{},
		snapshots: map[string]surface.State{},
	}
}

func (m *MemoryStore) CreateRoom(_ context.Context, roomCode, creatorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomCode]; ok {
		return ErrRoomExists
	}
	m.rooms[roomCode] = creatorID
	return nil
}

func (m *MemoryStore) RoomExists(_ context.Context, roomCode string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[roomCode]
	return ok, nil
}

func (m *MemoryStore) LoadSnapshot(_ context.Context, roomCode string) (*surface.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[roomCode]
	if !ok {
		return nil, nil
	}
	out := s.Clone()
	return &out, nil
}

func (m *MemoryStore) SaveSnapshot(_ context.Context, roomCode string, state surface.State, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[roomCode] = state.Clone()
	return nil
}
