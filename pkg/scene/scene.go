// Package scene defines the contract between the sync engine and the host
// application's object graph, along with the delta tracker that decides
// which nodes a sync tick must carry.
//
// The engine never owns nodes. It holds string ids (12 hex characters,
// stable for the life of the process) that map to opaque handles supplied by
// a Provider. Handles can go stale at any moment because the host may
// destroy nodes out-of-band, so every resolution returns an explicit
// not-found and callers treat it as a normal outcome.
package scene

import (
	"errors"
	"fmt"
)

// Provider errors. Implementations wrap these so callers can classify
// failures while the message still carries specifics.
var (
	ErrNotFound      = errors.New("object not found")
	ErrUnknownPrefab = errors.New("prefab not registered")
)

// Handle is an opaque reference to a node owned by the host application.
// It may be stale; only the Provider can tell.
type Handle any

// Snapshot is a point-in-time copy of one node's observable state.
type Snapshot struct {
	Name     string
	Active   bool
	Layer    int
	Tag      string
	Position [3]float64
	Rotation [4]float64 // unit quaternion, x y z w
	Scale    [3]float64
}

// Object is the wire-level view of a node, as carried in scene dumps and
// sync batches.
type Object struct {
	UUID       string     `json:"uuid"`
	Name       string     `json:"name"`
	Active     bool       `json:"active"`
	Layer      int        `json:"layer"`
	Tag        string     `json:"tag,omitempty"`
	Position   [3]float64 `json:"position"`
	Rotation   [4]float64 `json:"rotation"`
	Scale      [3]float64 `json:"scale"`
	ParentUUID string     `json:"parent_uuid,omitempty"`
	Children   []string   `json:"children,omitempty"`
}

// SpawnRequest carries the parameters of a spawn operation. Optional fields
// are pointers; nil means "prefab default".
type SpawnRequest struct {
	PrefabKey string
	ID        string // explicit id; empty means assign
	Name      string
	Position  *[3]float64
	Rotation  *[4]float64
	Scale     *[3]float64
	ParentID  string
}

// TransformRequest carries a partial transform update. Nil fields are left
// untouched. Local interprets the values relative to the parent.
type TransformRequest struct {
	Position *[3]float64
	Rotation *[4]float64
	Scale    *[3]float64
	Local    bool
}

// Provider is the narrow interface through which the engine observes and
// mutates the host's object graph. All methods are called on the owner
// goroutine only.
type Provider interface {
	// SceneName returns the display name of the active scene.
	SceneName() string

	// EnumerateRoots returns the root node handles in order. When
	// includeInactive is false, inactive roots are omitted.
	EnumerateRoots(includeInactive bool) []Handle

	// Children returns the ordered child handles of h.
	Children(h Handle) []Handle

	// Resolve maps an id back to a handle. ok is false if the node is gone.
	Resolve(id string) (h Handle, ok bool)

	// GetOrAssignID returns the stable id for h, assigning one on first
	// observation. Idempotent.
	GetOrAssignID(h Handle) string

	// Snapshot copies the node's current state. ok is false if the handle
	// is stale.
	Snapshot(h Handle) (s Snapshot, ok bool)

	// Spawn instantiates a prefab and returns the new node's id and handle.
	Spawn(req SpawnRequest) (string, Handle, error)

	// Transform applies a partial transform update to the node with id.
	Transform(id string, req TransformRequest) error

	// Delete destroys the node with id and its subtree.
	Delete(id string) error

	// Rename changes the node's name.
	Rename(id, name string) error

	// SetParent reparents the node. parentID == "" moves it to the root.
	// When preserveWorld is set the node keeps its world transform.
	SetParent(id, parentID string, preserveWorld bool) error

	// SetActive toggles the node's active flag.
	SetActive(id string, active bool) error

	// SpawnableKeys lists the registered prefab keys.
	SpawnableKeys() []string
}

// Collect walks the graph and returns the wire view of every visible node in
// depth-first order. Visibility means active-in-hierarchy unless
// includeInactive is set, in which case everything is returned.
func Collect(p Provider, includeInactive bool) []Object {
	var out []Object
	for _, root := range p.EnumerateRoots(includeInactive) {
		collectInto(p, root, "", includeInactive, &out)
	}
	return out
}

func collectInto(p Provider, h Handle, parentID string, includeInactive bool, out *[]Object) {
	snap, ok := p.Snapshot(h)
	if !ok {
		return
	}
	if !snap.Active && !includeInactive {
		// Inactive subtrees are invisible in their entirety.
		return
	}

	id := p.GetOrAssignID(h)
	obj := Object{
		UUID:       id,
		Name:       snap.Name,
		Active:     snap.Active,
		Layer:      snap.Layer,
		Tag:        snap.Tag,
		Position:   snap.Position,
		Rotation:   snap.Rotation,
		Scale:      snap.Scale,
		ParentUUID: parentID,
	}

	children := p.Children(h)
	for _, child := range children {
		if cs, ok := p.Snapshot(child); ok && (cs.Active || includeInactive) {
			obj.Children = append(obj.Children, p.GetOrAssignID(child))
		}
	}

	*out = append(*out, obj)

	for _, child := range children {
		collectInto(p, child, id, includeInactive, out)
	}
}

// NotFoundError builds the canonical not-found error for an id.
func NotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// UnknownPrefabError builds the canonical error for an unregistered prefab
// key. The message always names the key.
func UnknownPrefabError(key string) error {
	return fmt.Errorf("%w: %q", ErrUnknownPrefab, key)
}
