// Package observer provides the default structured-logging Observer
// implementation, backed by log/slog (§9 design notes: "the core
// receives an optional Observer handle").
package observer

import (
	"log/slog"

	"securestream/internal/domain"
)

// SlogObserver logs every lifecycle hook at a level appropriate to its
// severity: handshake/rekey start at Info, record-level hooks at Debug
// (they fire once per frame and would flood a default log at Info), and
// Error always at Error.
type SlogObserver struct {
	log *slog.Logger
}

// New wraps log, or slog.Default() if log is nil.
func New(log *slog.Logger) *SlogObserver {
	if log == nil {
		log = slog.Default()
	}
	return &SlogObserver{log: log}
}

func (o *SlogObserver) HandshakeStart(mechanism, role string) {
	o.log.Info("handshake start", "mechanism", mechanism, "role", role)
}

func (o *SlogObserver) HandshakeEnd(mechanism, role string, bytesTX, bytesRX int, err error) {
	if err != nil {
		o.log.Error("handshake failed", "mechanism", mechanism, "role", role, "err", err)
		return
	}
	o.log.Info("handshake complete", "mechanism", mechanism, "role", role, "bytes_tx", bytesTX, "bytes_rx", bytesRX)
}

func (o *SlogObserver) RekeyStart(reason string) {
	o.log.Info("rekey start", "reason", reason)
}

func (o *SlogObserver) RekeyEnd(err error) {
	if err != nil {
		o.log.Error("rekey failed", "err", err)
		return
	}
	o.log.Info("rekey complete")
}

func (o *SlogObserver) RecordSealed(seq, counter uint32) {
	o.log.Debug("record sealed", "seq", seq, "counter", counter)
}

func (o *SlogObserver) RecordOpened(seq, counter uint32) {
	o.log.Debug("record opened", "seq", seq, "counter", counter)
}

func (o *SlogObserver) Error(kind string, err error) {
	o.log.Error("session error", "kind", kind, "err", err)
}

var _ domain.Observer = (*SlogObserver)(nil)
