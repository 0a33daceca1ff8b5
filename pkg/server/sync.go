package server

import (
	"github.com/livelink-dev/livelink/pkg/protocol"
	"github.com/livelink-dev/livelink/pkg/scene"
)

// syncTick runs one state broadcast on the owner goroutine. In delta mode
// only nodes that crossed the change threshold since their last broadcast
// are included, and a tick with nothing to say sends nothing.
func (s *Server) syncTick() {
	objects := scene.Collect(s.provider, s.config.IncludeInactive)

	if s.config.FullSync {
		for _, obj := range objects {
			s.tracker.Commit(obj.UUID, obj.Position, obj.Rotation)
		}
		s.broadcast(protocol.NewSync(false, objects))
		s.metrics.syncBatchesTotal.WithLabelValues("full").Inc()
		s.metrics.syncObjectsTotal.Add(float64(len(objects)))
		return
	}

	changed := objects[:0:0]
	for _, obj := range objects {
		if s.tracker.Changed(obj.UUID, obj.Position, obj.Rotation) {
			changed = append(changed, obj)
		}
	}
	if len(changed) == 0 {
		return
	}

	// Only broadcast nodes advance their last-known state; a node hovering
	// under the threshold keeps accumulating drift against its last
	// broadcast, not against the previous tick.
	for _, obj := range changed {
		s.tracker.Commit(obj.UUID, obj.Position, obj.Rotation)
	}
	s.broadcast(protocol.NewSync(true, changed))
	s.metrics.syncBatchesTotal.WithLabelValues("delta").Inc()
	s.metrics.syncObjectsTotal.Add(float64(len(changed)))
}

// SyncNow schedules an immediate sync tick, independent of the periodic
// schedule. Safe from any goroutine.
func (s *Server) SyncNow() {
	s.queue.Enqueue(s.syncTick)
}

// sweep reconciles the tracker against the live graph. Ids whose nodes were
// destroyed out-of-band are dropped and announced, so peers learn about
// deletions that never went through a command.
func (s *Server) sweep() {
	for _, id := range s.tracker.Tracked() {
		if _, ok := s.provider.Resolve(id); ok {
			continue
		}
		s.tracker.Forget(id)
		s.broadcast(protocol.NewObjectDestroyed(id))
		s.logger.Debug("swept destroyed node", "uuid", id)
	}
}
