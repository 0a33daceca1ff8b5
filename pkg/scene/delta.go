package scene

import "math"

// lastState is the last-broadcast position and rotation for one node.
type lastState struct {
	position [3]float64
	rotation [4]float64
}

// Tracker remembers the last-broadcast transform per node id and decides
// which nodes changed enough to be worth another broadcast. It is owned by
// the sync engine and touched only on the owner goroutine.
type Tracker struct {
	threshold float64
	last      map[string]lastState
}

// NewTracker creates a tracker. threshold is both the positional distance
// bound (world units) and the rotational bound (degrees).
func NewTracker(threshold float64) *Tracker {
	return &Tracker{
		threshold: threshold,
		last:      make(map[string]lastState),
	}
}

// Changed reports whether the node needs broadcasting: it is new to the
// tracker, has moved further than the threshold, or has rotated by more than
// the threshold in degrees.
func (t *Tracker) Changed(id string, position [3]float64, rotation [4]float64) bool {
	prev, ok := t.last[id]
	if !ok {
		return true
	}
	if distance(prev.position, position) > t.threshold {
		return true
	}
	return angleBetween(prev.rotation, rotation) > t.threshold
}

// Commit records the broadcast state for a node. Call it for every node
// included in an outgoing batch.
func (t *Tracker) Commit(id string, position [3]float64, rotation [4]float64) {
	t.last[id] = lastState{position: position, rotation: rotation}
}

// Forget drops the node's last-known state so the next tick re-broadcasts
// it. Used when a node is unregistered or mutated through a command.
func (t *Tracker) Forget(id string) {
	delete(t.last, id)
}

// Has reports whether the tracker holds state for id.
func (t *Tracker) Has(id string) bool {
	_, ok := t.last[id]
	return ok
}

// Tracked returns the ids the tracker currently holds state for. The sweep
// uses it to find nodes destroyed out-of-band.
func (t *Tracker) Tracked() []string {
	out := make([]string, 0, len(t.last))
	for id := range t.last {
		out = append(out, id)
	}
	return out
}

// distance is the Euclidean distance between two points.
func distance(a, b [3]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	dz := a[2] - b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// angleBetween returns the angular difference between two unit quaternions
// in degrees.
func angleBetween(a, b [4]float64) float64 {
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2] + a[3]*b[3]
	if dot < 0 {
		dot = -dot
	}
	if dot > 1 {
		dot = 1
	}
	return 2 * math.Acos(dot) * 180 / math.Pi
}
