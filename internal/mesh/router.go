package mesh

import (
	"log/slog"
	"sync"
)

// Router dedups and forwards packets across a set of transports.
type Router struct {
	transports []Transport

	mu   sync.Mutex
	seen *seenSet

	log *slog.Logger
}

// NewRouter creates a router over the given transports with the
// default seen-set capacity.
func NewRouter(transports []Transport, log *slog.Logger) *Router {
	return NewRouterWithCapacity(transports, DefaultSeenCapacity, log)
}

// NewRouterWithCapacity creates a router with an explicit seen-set cap.
func NewRouterWithCapacity(transports []Transport, seenCapacity int, log *slog.Logger) *Router {
	return &Router{
		transports: transports,
		seen:       newSeenSet(seenCapacity),
		log:        log.With("component", "router"),
	}
}

// Route processes one packet:
//   - Drops silently if the packet ID was already seen.
//   - Calls onNew exactly once for a novel packet (persistence hook).
//   - Forwards with decremented TTL to every available transport while
//     ttl > 0. Send failures are logged and do not abort the fan-out
//     nor unwind the seen-set entry.
func (r *Router) Route(p *Packet, onNew func(*Packet)) {
	r.mu.Lock()
	novel := r.seen.insert(p.PacketID)
	r.mu.Unlock()
	if !novel {
		return
	}

	if onNew != nil {
		onNew(p)
	}

	if p.TTL == 0 {
		// Delivered locally, hop budget exhausted.
		return
	}

	fwd := p.Clone()
	fwd.TTL--
	for _, t := range r.transports {
		if !t.IsAvailable() {
			continue
		}
		if err := t.Send(fwd); err != nil {
			r.log.Warn("transport send failed", "transport", t.Name(), "packet", fwd.String(), "err", err)
		}
	}
}

// SeenCount returns the current seen-set size.
func (r *Router) SeenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen.len()
}

// Transports returns the router's transport list.
func (r *Router) Transports() []Transport {
	return r.transports
}
