//go:generate mockgen -source=signal_iface.go -destination=mocks/signal_mock.go -package=mocks

package core

// Frame is a raw signaling payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking; a full queue is reported as an error.
	TrySend(Frame) error
	Close()
}
