package server

import (
	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
)

// Ops is the single mutation surface behind both protocols. Command handlers
// and the RPC bridge call through here, so a spawn is a spawn no matter which
// wire it arrived on: same validation, same broadcasts, same tracker
// bookkeeping. Every method runs on the owner goroutine.
type Ops struct {
	s *Server
}

func (o *Ops) SceneName() string {
	return o.s.provider.SceneName()
}

func (o *Ops) ListObjects(includeInactive bool) []scene.Object {
	return scene.Collect(o.s.provider, includeInactive)
}

func (o *Ops) GetObject(id string) (scene.Object, bool) {
	if _, ok := o.s.provider.Resolve(id); !ok {
		return scene.Object{}, false
	}
	for _, obj := range scene.Collect(o.s.provider, true) {
		if obj.UUID == id {
			return obj, true
		}
	}
	return scene.Object{}, false
}

func (o *Ops) SpawnableKeys() []string {
	return o.s.provider.SpawnableKeys()
}

// Spawn instantiates a prefab, seeds the tracker with the spawn transform so
// the next sync tick stays quiet unless the node moves, and notifies all
// peers.
func (o *Ops) Spawn(req scene.SpawnRequest) (scene.Object, error) {
	id, _, err := o.s.provider.Spawn(req)
	if err != nil {
		return scene.Object{}, err
	}
	obj, ok := o.GetObject(id)
	if !ok {
		return scene.Object{}, scene.NotFoundError(id)
	}
	o.s.tracker.Commit(id, obj.Position, obj.Rotation)
	o.s.broadcast(protocol.NewObjectSpawned(id, req.PrefabKey, obj))
	return obj, nil
}

// Transform applies a partial transform. The tracker forgets the node so the
// next tick broadcasts the result regardless of the threshold.
func (o *Ops) Transform(id string, req scene.TransformRequest) error {
	if err := o.s.provider.Transform(id, req); err != nil {
		return err
	}
	o.s.tracker.Forget(id)
	return nil
}

// Delete destroys the node and its subtree and notifies all peers. Tracked
// descendants are picked up by the next reconciliation sweep.
func (o *Ops) Delete(id string) error {
	if err := o.s.provider.Delete(id); err != nil {
		return err
	}
	o.s.tracker.Forget(id)
	o.s.broadcast(protocol.NewObjectDestroyed(id))
	return nil
}

func (o *Ops) Rename(id, name string) error {
	if err := o.s.provider.Rename(id, name); err != nil {
		return err
	}
	o.s.tracker.Forget(id)
	return nil
}

func (o *Ops) SetParent(id, parentID string, preserveWorld bool) error {
	if err := o.s.provider.SetParent(id, parentID, preserveWorld); err != nil {
		return err
	}
	o.s.tracker.Forget(id)
	return nil
}

func (o *Ops) SetActive(id string, active bool) error {
	if err := o.s.provider.SetActive(id, active); err != nil {
		return err
	}
	o.s.tracker.Forget(id)
	return nil
}
