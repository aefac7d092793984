package mesh

import "sync"

// Transport is the capability a physical adapter (BLE, Wi-Fi Direct,
// TCP) implements. Transports are shared by reference across the router
// and must be safe for concurrent calls.
type Transport interface {
	Send(p *Packet) error
	IsAvailable() bool
	Name() string
}

// LoopbackTransport is an in-process transport used for tests and local
// development: sent packets queue up until drained.
type LoopbackTransport struct {
	mu      sync.Mutex
	packets []*Packet
}

// NewLoopbackTransport creates an empty loopback transport.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{}
}

// Send queues a copy of the packet.
func (l *LoopbackTransport) Send(p *Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p.Clone())
	return nil
}

// IsAvailable always reports true.
func (l *LoopbackTransport) IsAvailable() bool { return true }

// Name identifies the transport in logs.
func (l *LoopbackTransport) Name() string { return "loopback" }

// Drain returns all queued packets and clears the queue.
func (l *LoopbackTransport) Drain() []*Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.packets
	l.packets = nil
	return out
}
