package interfaces

// Observer receives well-defined lifecycle hooks from the session core
// (§9 design notes: "the core receives an optional Observer handle").
// Implementations must not block the caller for long; the session invokes
// hooks synchronously on its send/receive goroutines.
type Observer interface {
	HandshakeStart(mechanism string, role string)
	HandshakeEnd(mechanism string, role string, bytesTX, bytesRX int, err error)
	RekeyStart(reason string)
	RekeyEnd(err error)
	RecordSealed(seq, counter uint32)
	RecordOpened(seq, counter uint32)
	Error(kind string, err error)
}

// NoopObserver implements Observer with no-ops. It is the zero value used
// when a caller does not supply one.
type NoopObserver struct{}

func (NoopObserver) HandshakeStart(string, string)             {}
func (NoopObserver) HandshakeEnd(string, string, int, int, error) {}
func (NoopObserver) RekeyStart(string)                          {}
func (NoopObserver) RekeyEnd(error)                             {}
func (NoopObserver) RecordSealed(uint32, uint32)                {}
func (NoopObserver) RecordOpened(uint32, uint32)                {}
func (NoopObserver) Error(string, error)                        {}

var _ Observer = NoopObserver{}
