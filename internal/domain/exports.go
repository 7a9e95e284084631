// Package domain re-exports the plain types and interfaces from its
// types/interfaces subpackages under one compact import, the way the
// teacher's own internal/domain/exports.go does.
package domain

import (
	interfaces "securestream/internal/domain/interfaces"
	types "securestream/internal/domain/types"
)

type (
	Mechanism       = types.Mechanism
	Role            = types.Role
	SessionState    = types.SessionState
	RecordType      = types.RecordType
	Member          = types.Member
	FrameHeader     = types.FrameHeader
	AccessUnit      = types.AccessUnit
	DirectionalKeys = types.DirectionalKeys
	KeySchedule     = types.KeySchedule
	SharedSecret    = types.SharedSecret
)

const (
	MechanismKeyTransport = types.MechanismKeyTransport
	MechanismKeyAgreement = types.MechanismKeyAgreement
	MechanismGroup        = types.MechanismGroup

	RoleInitiator = types.RoleInitiator
	RoleListener  = types.RoleListener
	RoleLeader    = types.RoleLeader
	RoleMember    = types.RoleMember
	RoleRelay     = types.RoleRelay

	StateInit        = types.StateInit
	StateHandshaking = types.StateHandshaking
	StateEstablished = types.StateEstablished
	StateRekeying    = types.StateRekeying
	StateClosed      = types.StateClosed
	StateFailed      = types.StateFailed

	RecordData       = types.RecordData
	RecordConfirm    = types.RecordConfirm
	RecordRekeyHello = types.RecordRekeyHello
	RecordRekeyAck   = types.RecordRekeyAck
	RecordGoodbye    = types.RecordGoodbye
	RecordGroupSecret = types.RecordGroupSecret
	RecordGroupReady  = types.RecordGroupReady

	AEADKeySize        = types.AEADKeySize
	NonceBaseSize      = types.NonceBaseSize
	HandshakeSaltSize  = types.HandshakeSaltSize
	FrameHeaderSize    = types.FrameHeaderSize
)

type (
	FrameProducer = interfaces.FrameProducer
	FrameConsumer = interfaces.FrameConsumer
	Transport     = interfaces.Transport
	Observer      = interfaces.Observer
)

var NewNoopObserver = func() Observer { return interfaces.NoopObserver{} }

var ParseFrameHeader = types.ParseFrameHeader
