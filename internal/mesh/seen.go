package mesh

import "container/list"

// DefaultSeenCapacity bounds the router's seen-set. Eviction is LRU;
// the capacity must comfortably exceed the packet volume of one mesh
// round-trip window so novelty semantics hold in practice.
const DefaultSeenCapacity = 16384

// seenSet is a size-capped LRU set of packet IDs.
type seenSet struct {
	capacity int
	order    *list.List // front = most recent
	index    map[[PacketIDSize]byte]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &seenSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[[PacketIDSize]byte]*list.Element, capacity),
	}
}

// insert adds id and reports whether it was novel. A repeated id is
// refreshed to most-recent.
func (s *seenSet) insert(id [PacketIDSize]byte) bool {
	if el, ok := s.index[id]; ok {
		s.order.MoveToFront(el)
		return false
	}
	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.([PacketIDSize]byte))
	}
	return true
}

func (s *seenSet) len() int {
	return s.order.Len()
}
