package surface

// Entity is a card-like object with stable identity. Entities are created
// when drawn or imported and never mutated in place.
type Entity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageRef string `json:"image_ref"`
}

// Placed is an entity's placement while it sits on the shared surface.
type Placed struct {
	EntityID        string  `json:"entity_id"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	StackIndex      int     `json:"stack_index"`
	RotationDegrees int     `json:"rotation_degrees"`
}

// State is the single shared document synchronized across participants.
// NextStackIndex is always greater than every StackIndex in Placed.
type State struct {
	Placed         map[string]Placed `json:"placed"`
	NextStackIndex int               `json:"next_stack_index,omitempty"`
}

func NewState() State {
	return State{Placed: map[string]Placed{}, NextStackIndex: 1}
}

// Clone deep-copies the state so the live view and a pushed snapshot never
// alias the same map.
func (s State) Clone() State {
	out := State{Placed: make(map[string]Placed, len(s.Placed)), NextStackIndex: s.NextStackIndex}
	for id, p := range s.Placed {
		out.Placed[id] = p
	}
	return out
}

// NormalizeRotation maps an arbitrary degree value into [0, 360).
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
