// Package drag turns raw pointer events into a drag lifecycle
// (idle -> armed -> dragging -> resolved/cancelled) and classifies the
// release point into a drop zone. It never mutates surface state itself;
// the coordinator commits results after Resolve.
package drag

import (
	"math"
	"time"

	"github.com/cardfield/cardfield/internal/surface"
)

type Source string

const (
	SourceHand    Source = "hand"
	SourceSurface Source = "surface"
)

type Zone string

const (
	ZoneSurface Zone = "surface"
	ZoneHand    Zone = "hand"
	ZoneDiscard Zone = "discard"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rect struct {
	MinX, MinY, MaxX, MaxY float64
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// Interior reports whether p lies strictly inside the rectangle. A point on
// the edge itself is outside.
func (r Rect) Interior(p Point) bool {
	return p.X > r.MinX && p.X < r.MaxX && p.Y > r.MinY && p.Y < r.MaxY
}

func (r Rect) Inflate(by float64) Rect {
	return Rect{MinX: r.MinX - by, MinY: r.MinY - by, MaxX: r.MaxX + by, MaxY: r.MaxY + by}
}

// Session is the local, ephemeral record of one in-progress drag. It is
// never persisted and never visible to other participants.
type Session struct {
	EntityID          string
	Source            Source
	StartPointer      Point
	CurrentPointer    Point
	PointerOffset     Point
	OriginalPlacement *surface.Placed
	StartedAt         time.Time
}

// Result is a resolved drag. Zone is empty when the release was a plain
// click (pointer never travelled past the drag threshold).
type Result struct {
	EntityID      string
	Source        Source
	Zone          Zone
	FinalPosition Point
}

func (r *Result) IsClick() bool { return r.Zone == "" }

const (
	DefaultDragThreshold = 5.0
	DefaultEdgeThreshold = 50.0
)

type Config struct {
	SurfaceBounds Rect
	HandBounds    Rect
	// EdgeThreshold forgives near-miss drops just outside the surface
	// rectangle. It applies to the surface boundary only; the hand
	// boundary is exact.
	EdgeThreshold float64
	// DragThreshold is the click-vs-drag discriminator in pointer units.
	DragThreshold float64
}

func (c Config) withDefaults() Config {
	if c.EdgeThreshold == 0 {
		c.EdgeThreshold = DefaultEdgeThreshold
	}
	if c.DragThreshold == 0 {
		c.DragThreshold = DefaultDragThreshold
	}
	return c
}

// Controller holds at most one active Session. Invalid calls (update or
// resolve with no session, begin while one is active) are no-ops.
type Controller struct {
	cfg     Config
	session *Session
	dirty   bool
}

func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg.withDefaults()}
}

// Begin starts a drag session. The offset between the pointer and the
// entity's top-left is recorded so the entity tracks the cursor instead of
// snapping to it. No-op when a session is already active.
func (c *Controller) Begin(entityID string, source Source, pointer Point, original *surface.Placed) *Session {
	if c.session != nil {
		return nil
	}
	s := &Session{
		EntityID:       entityID,
		Source:         source,
		StartPointer:   pointer,
		CurrentPointer: pointer,
		StartedAt:      time.Now(),
	}
	if original != nil {
		cp := *original
		s.OriginalPlacement = &cp
		s.PointerOffset = Point{X: pointer.X - original.X, Y: pointer.Y - original.Y}
	}
	c.session = s
	c.dirty = false
	return s
}

// Update records the latest pointer position. It does O(1) work so it is
// safe at raw pointer-move frequency; rendering pulls the coalesced value
// through TakeFrame once per frame.
func (c *Controller) Update(pointer Point) (Point, bool) {
	if c.session == nil {
		return Point{}, false
	}
	c.session.CurrentPointer = pointer
	c.dirty = true
	return pointer, true
}

// TakeFrame returns the entity top-left for the latest pointer position if
// one arrived since the last call. Consecutive Updates within a frame
// coalesce into a single result.
func (c *Controller) TakeFrame() (Point, bool) {
	if c.session == nil || !c.dirty {
		return Point{}, false
	}
	c.dirty = false
	return c.session.topLeft(), true
}

// IsDragValid reports whether the pointer has travelled far enough from the
// start for the gesture to count as a drag rather than a click.
func (c *Controller) IsDragValid() bool {
	if c.session == nil {
		return false
	}
	dx := c.session.CurrentPointer.X - c.session.StartPointer.X
	dy := c.session.CurrentPointer.Y - c.session.StartPointer.Y
	return math.Hypot(dx, dy) >= c.cfg.DragThreshold
}

// Resolve classifies the release point and clears the session. It returns
// nil when no session is active; a release inside the drag threshold yields
// a Result with an empty Zone (a plain activation, not a drop).
func (c *Controller) Resolve(pointer Point) *Result {
	s := c.session
	if s == nil {
		return nil
	}
	s.CurrentPointer = pointer
	valid := c.IsDragValid()
	c.session = nil
	c.dirty = false

	res := &Result{EntityID: s.EntityID, Source: s.Source}
	if !valid {
		return res
	}
	res.Zone = c.classify(pointer)
	res.FinalPosition = s.topLeft()
	return res
}

// Cancel discards the session and returns the placement the caller should
// restore, if the drag started from the surface.
func (c *Controller) Cancel() *surface.Placed {
	s := c.session
	c.session = nil
	c.dirty = false
	if s == nil {
		return nil
	}
	return s.OriginalPlacement
}

func (c *Controller) Active() bool { return c.session != nil }

// ActiveEntity returns the id under drag, or "" when idle.
func (c *Controller) ActiveEntity() string {
	if c.session == nil {
		return ""
	}
	return c.session.EntityID
}

// classify checks the hand with strict bounds and the surface with the
// forgiving edge threshold. A release on the hand's edge is not a hand drop.
// Anything outside both zones is a discard. The hand/surface asymmetry is
// deliberate.
func (c *Controller) classify(p Point) Zone {
	if c.cfg.HandBounds.Interior(p) {
		return ZoneHand
	}
	if c.cfg.SurfaceBounds.Inflate(c.cfg.EdgeThreshold).Contains(p) {
		return ZoneSurface
	}
	return ZoneDiscard
}

func (s *Session) topLeft() Point {
	return Point{X: s.CurrentPointer.X - s.PointerOffset.X, Y: s.CurrentPointer.Y - s.PointerOffset.Y}
}
