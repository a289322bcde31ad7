package surface

import (
	"errors"
	"sort"
)

var ErrNotPlaced = errors.New("entity is not on the surface")

// NormalizeCeiling is the safety ceiling for NextStackIndex. Indices are
// never reused while a room is live, so a long session keeps counting up;
// once the counter reaches the ceiling the manager re-densifies.
const NormalizeCeiling = 10_000

// Manager owns the authoritative local mapping of entity id to placement
// and issues monotonically increasing stacking indices.
//
// Manager is not safe for concurrent use; the coordinator serializes all
// access onto one logical event loop.
type Manager struct {
	state State
}

func NewManager() *Manager {
	return &Manager{state: NewState()}
}

// Place puts an entity on the surface at the top of the stack.
func (m *Manager) Place(entityID string, x, y float64) Placed {
	p := Placed{
		EntityID:   entityID,
		X:          x,
		Y:          y,
		StackIndex: m.takeIndex(),
	}
	m.state.Placed[entityID] = p
	return p
}

// Reposition moves an already-placed entity and bumps it to a new top
// stacking index: a user-initiated move signals intent to bring the entity
// forward.
func (m *Manager) Reposition(entityID string, x, y float64) (Placed, error) {
	p, ok := m.state.Placed[entityID]
	if !ok {
		return Placed{}, ErrNotPlaced
	}
	p.X, p.Y = x, y
	p.StackIndex = m.takeIndex()
	m.state.Placed[entityID] = p
	return p, nil
}

// Remove deletes the placement. NextStackIndex is not decremented; indices
// are never reused while the room is live.
func (m *Manager) Remove(entityID string) {
	delete(m.state.Placed, entityID)
}

// BringToFront reassigns only the stacking index.
func (m *Manager) BringToFront(entityID string) (Placed, error) {
	p, ok := m.state.Placed[entityID]
	if !ok {
		return Placed{}, ErrNotPlaced
	}
	p.StackIndex = m.takeIndex()
	m.state.Placed[entityID] = p
	return p, nil
}

// Rotate sets an absolute rotation, normalized to [0, 360).
func (m *Manager) Rotate(entityID string, degrees int) (Placed, error) {
	p, ok := m.state.Placed[entityID]
	if !ok {
		return Placed{}, ErrNotPlaced
	}
	p.RotationDegrees = NormalizeRotation(degrees)
	m.state.Placed[entityID] = p
	return p, nil
}

// Restore writes a placement back verbatim, e.g. when a cancelled drag
// returns an entity to where it started. NextStackIndex is raised if the
// restored index would violate the invariant.
func (m *Manager) Restore(p Placed) {
	m.state.Placed[p.EntityID] = p
	if p.StackIndex >= m.state.NextStackIndex {
		m.state.NextStackIndex = p.StackIndex + 1
	}
}

// NormalizeStackIndices reassigns dense 1..N indices in the existing stack
// order and resets NextStackIndex to N+1. Relative order never changes.
func (m *Manager) NormalizeStackIndices() {
	ids := make([]string, 0, len(m.state.Placed))
	for id := range m.state.Placed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.state.Placed[ids[i]].StackIndex < m.state.Placed[ids[j]].StackIndex
	})
	for i, id := range ids {
		p := m.state.Placed[id]
		p.StackIndex = i + 1
		m.state.Placed[id] = p
	}
	m.state.NextStackIndex = len(ids) + 1
}

// Load replaces local state wholesale. A snapshot missing an explicit
// NextStackIndex gets one derived as max(StackIndex)+1, 1 when empty.
func (m *Manager) Load(snapshot State) {
	s := snapshot.Clone()
	if s.Placed == nil {
		s.Placed = map[string]Placed{}
	}
	max := 0
	for _, p := range s.Placed {
		if p.StackIndex > max {
			max = p.StackIndex
		}
	}
	if s.NextStackIndex <= max {
		s.NextStackIndex = max + 1
	}
	m.state = s
}

// Get returns the placement for an entity, if any.
func (m *Manager) Get(entityID string) (Placed, bool) {
	p, ok := m.state.Placed[entityID]
	return p, ok
}

// Snapshot returns a deep copy safe to hand across the network boundary.
func (m *Manager) Snapshot() State {
	return m.state.Clone()
}

func (m *Manager) Len() int { return len(m.state.Placed) }

func (m *Manager) takeIndex() int {
	if m.state.NextStackIndex >= NormalizeCeiling {
		m.NormalizeStackIndices()
	}
	idx := m.state.NextStackIndex
	m.state.NextStackIndex++
	return idx
}
