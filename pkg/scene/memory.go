package scene

import (
	"fmt"
	"sort"
	"sync"
)

// Prefab is a template for spawnable nodes in the in-memory provider.
type Prefab struct {
	Name  string
	Layer int
	Tag   string
	Scale [3]float64
}

// node is one element of the in-memory graph.
type node struct {
	id       string
	name     string
	active   bool
	layer    int
	tag      string
	position [3]float64
	rotation [4]float64
	scale    [3]float64
	parent   *node
	children []*node
}

// MemoryProvider is a self-contained Provider backed by an in-memory tree.
// It serves tests and the standalone server; a real host wires its own
// engine behind the Provider interface instead.
type MemoryProvider struct {
	mu sync.Mutex

	sceneName string
	roots     []*node
	index     map[string]*node
	prefabs   map[string]Prefab
}

// NewMemoryProvider creates an empty scene with the given name.
func NewMemoryProvider(sceneName string) *MemoryProvider {
	return &MemoryProvider{
		sceneName: sceneName,
		index:     make(map[string]*node),
		prefabs:   make(map[string]Prefab),
	}
}

// RegisterPrefab makes key spawnable. A zero scale is normalized to one.
func (m *MemoryProvider) RegisterPrefab(key string, p Prefab) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Name == "" {
		p.Name = key
	}
	if p.Scale == ([3]float64{}) {
		p.Scale = [3]float64{1, 1, 1}
	}
	m.prefabs[key] = p
}

// DefaultPrefabs registers the standard primitive set used by the demo
// server.
func (m *MemoryProvider) DefaultPrefabs() {
	for _, key := range []string{"Cube", "Sphere", "Cylinder", "Capsule", "Plane", "Quad"} {
		m.RegisterPrefab(key, Prefab{Name: key})
	}
	m.RegisterPrefab("Light", Prefab{Name: "Light", Layer: 1})
	m.RegisterPrefab("Camera", Prefab{Name: "Camera", Layer: 1})
	m.RegisterPrefab("Empty", Prefab{Name: "GameObject"})
}

func (m *MemoryProvider) SceneName() string { return m.sceneName }

func (m *MemoryProvider) EnumerateRoots(includeInactive bool) []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Handle, 0, len(m.roots))
	for _, n := range m.roots {
		if !n.active && !includeInactive {
			continue
		}
		out = append(out, n)
	}
	return out
}

func (m *MemoryProvider) Children(h Handle) []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := h.(*node)
	if !ok {
		return nil
	}
	out := make([]Handle, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (m *MemoryProvider) Resolve(id string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return n, true
}

func (m *MemoryProvider) GetOrAssignID(h Handle) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := h.(*node)
	if !ok {
		return ""
	}
	if n.id == "" {
		n.id = NewID()
		m.index[n.id] = n
	}
	return n.id
}

func (m *MemoryProvider) Snapshot(h Handle) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := h.(*node)
	if !ok {
		return Snapshot{}, false
	}
	if n.id != "" {
		if _, live := m.index[n.id]; !live {
			return Snapshot{}, false
		}
	}
	return Snapshot{
		Name:     n.name,
		Active:   n.active,
		Layer:    n.layer,
		Tag:      n.tag,
		Position: n.position,
		Rotation: n.rotation,
		Scale:    n.scale,
	}, true
}

func (m *MemoryProvider) Spawn(req SpawnRequest) (string, Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefab, ok := m.prefabs[req.PrefabKey]
	if !ok {
		return "", nil, UnknownPrefabError(req.PrefabKey)
	}

	var parent *node
	if req.ParentID != "" {
		parent, ok = m.index[req.ParentID]
		if !ok {
			return "", nil, fmt.Errorf("parent %w: %s", ErrNotFound, req.ParentID)
		}
	}

	id := req.ID
	if id == "" {
		id = NewID()
	}

	n := &node{
		id:       id,
		name:     prefab.Name,
		active:   true,
		layer:    prefab.Layer,
		tag:      prefab.Tag,
		rotation: [4]float64{0, 0, 0, 1},
		scale:    prefab.Scale,
		parent:   parent,
	}
	if req.Name != "" {
		n.name = req.Name
	}
	if req.Position != nil {
		n.position = *req.Position
	}
	if req.Rotation != nil {
		n.rotation = *req.Rotation
	}
	if req.Scale != nil {
		n.scale = *req.Scale
	}

	// Explicit id collisions are not deduplicated: the new node takes over
	// the index slot and the previous occupant keeps existing untracked.
	m.index[id] = n
	if parent != nil {
		parent.children = append(parent.children, n)
	} else {
		m.roots = append(m.roots, n)
	}
	return id, n, nil
}

func (m *MemoryProvider) Transform(id string, req TransformRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return NotFoundError(id)
	}

	if req.Position != nil {
		p := *req.Position
		if req.Local && n.parent != nil {
			p = add3(n.parent.position, p)
		}
		n.position = p
	}
	if req.Rotation != nil {
		r := *req.Rotation
		if req.Local && n.parent != nil {
			r = quatMul(n.parent.rotation, r)
		}
		n.rotation = r
	}
	if req.Scale != nil {
		s := *req.Scale
		if req.Local && n.parent != nil {
			s = mul3(n.parent.scale, s)
		}
		n.scale = s
	}
	return nil
}

func (m *MemoryProvider) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return NotFoundError(id)
	}

	m.detach(n)
	m.unindex(n)
	return nil
}

func (m *MemoryProvider) Rename(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return NotFoundError(id)
	}
	n.name = name
	return nil
}

func (m *MemoryProvider) SetParent(id, parentID string, preserveWorld bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return NotFoundError(id)
	}

	var parent *node
	if parentID != "" {
		parent, ok = m.index[parentID]
		if !ok {
			return fmt.Errorf("parent %w: %s", ErrNotFound, parentID)
		}
		for p := parent; p != nil; p = p.parent {
			if p == n {
				return fmt.Errorf("cannot parent %s under its own descendant %s", id, parentID)
			}
		}
	}

	m.detach(n)
	n.parent = parent
	if parent != nil {
		parent.children = append(parent.children, n)
		if !preserveWorld {
			// The current transform becomes local to the new parent.
			n.position = add3(parent.position, n.position)
			n.rotation = quatMul(parent.rotation, n.rotation)
		}
	} else {
		m.roots = append(m.roots, n)
	}
	return nil
}

func (m *MemoryProvider) SetActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return NotFoundError(id)
	}
	n.active = active
	return nil
}

func (m *MemoryProvider) SpawnableKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.prefabs))
	for k := range m.prefabs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DestroyOutOfBand removes a node the way an external system would: without
// going through Delete's error contract. Tests and hosts use it to simulate
// nodes vanishing under the engine.
func (m *MemoryProvider) DestroyOutOfBand(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.index[id]
	if !ok {
		return
	}
	m.detach(n)
	m.unindex(n)
}

// detach removes n from its parent's child list or the root list. Caller
// holds the lock.
func (m *MemoryProvider) detach(n *node) {
	if n.parent != nil {
		n.parent.children = removeNode(n.parent.children, n)
		return
	}
	m.roots = removeNode(m.roots, n)
}

// unindex drops n and its whole subtree from the id index. Caller holds the
// lock.
func (m *MemoryProvider) unindex(n *node) {
	if n.id != "" {
		delete(m.index, n.id)
	}
	for _, c := range n.children {
		m.unindex(c)
	}
}

func removeNode(list []*node, n *node) []*node {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func add3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func mul3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// quatMul returns a*b (apply b, then a), both as x y z w.
func quatMul(a, b [4]float64) [4]float64 {
	ax, ay, az, aw := a[0], a[1], a[2], a[3]
	bx, by, bz, bw := b[0], b[1], b[2], b[3]
	return [4]float64{
		aw*bx + ax*bw + ay*bz - az*by,
		aw*by - ax*bz + ay*bw + az*bx,
		aw*bz + ax*by - ay*bx + az*bw,
		aw*bw - ax*bx - ay*by - az*bz,
	}
}
