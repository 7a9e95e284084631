package interfaces

import (
	"io"
	"time"
)

// Transport is the opaque bidirectional, ordered, reliable byte stream a
// session runs over (spec.md §1). It is a subset of net.Conn so that any
// net.Conn (a TCP connection, a TLS-wrapped one, a test net.Pipe half)
// satisfies it directly. The session's send and receive goroutines use
// disjoint halves of it (Write vs. Read) per the concurrency model in
// §5, which is safe on every standard net.Conn implementation.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}
